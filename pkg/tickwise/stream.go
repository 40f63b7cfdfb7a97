package tickwise

import (
	"context"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// StreamMessage is one frame of the run stream: a "snapshot" of the latest
// run on connect, then a "run" for every newly committed run.
type StreamMessage struct {
	Type string `json:"type"`
	Run  Run    `json:"run"`
}

// Stream receives committed runs from the server.
type Stream struct {
	conn *websocket.Conn
}

// Stream connects to the run stream.
func (c *Client) Stream(ctx context.Context) (*Stream, error) {
	u := c.baseURL + "/api/backtest/stream"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(16 << 20)
	return &Stream{conn: conn}, nil
}

// Next blocks for the next frame.
func (s *Stream) Next(ctx context.Context) (StreamMessage, error) {
	var msg StreamMessage
	err := wsjson.Read(ctx, s.conn, &msg)
	return msg, err
}

// Close closes the connection.
func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
