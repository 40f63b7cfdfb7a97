package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"tickwise/internal/runstate"
)

// Stream tuning.
const (
	streamBuffer       = 4
	streamWriteTimeout = 10 * time.Second
)

// StreamMessage is one frame of the run stream.
type StreamMessage struct {
	// Type is "snapshot" for the latest run sent on connect, then "run".
	Type string       `json:"type"`
	Run  runstate.Run `json:"run"`
}

// handleRunStream upgrades to a WebSocket that receives the latest
// committed run and then every newly committed run. Slow clients miss
// runs rather than block the commit.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.CORSOrigins,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	id, runs := s.deps.Runs.Subscribe(streamBuffer)
	defer s.deps.Runs.Unsubscribe(id)

	// Client messages are ignored; the read side only detects disconnects.
	ctx := conn.CloseRead(r.Context())

	if run, ok := s.deps.Runs.Latest(); ok {
		if err := writeFrame(ctx, conn, StreamMessage{Type: "snapshot", Run: run}); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case run, ok := <-runs:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeFrame(ctx, conn, StreamMessage{Type: "run", Run: run}); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Debug().Err(err).Msg("stream write failed")
				}
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
