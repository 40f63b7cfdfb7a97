package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxDocumentBytes bounds a single fetched document.
const maxDocumentBytes = 256 << 20

// HTTPSource fetches documents relative to a base URL, such as a public
// storage bucket.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates an HTTPSource. A zero timeout means no timeout.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch issues a GET for baseURL/path.
func (s *HTTPSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	url := s.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		// Public buckets answer 403 for objects that do not exist.
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
}

// FileSource reads documents from a local directory laid out like the
// bucket.
type FileSource struct {
	dir string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Fetch reads dir/path.
func (s *FileSource) Fetch(_ context.Context, path string) ([]byte, error) {
	clean := filepath.Clean("/" + path)
	data, err := os.ReadFile(filepath.Join(s.dir, clean))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, err
}

// Compile-time interface checks.
var (
	_ Source = (*HTTPSource)(nil)
	_ Source = (*FileSource)(nil)
	_ Source = (*S3Source)(nil)
)
