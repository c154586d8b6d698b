package transport

import (
	"context"
	"sync"
	"time"

	"github.com/casualjim/tagcast/messages"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Stream writes messages onto an open WebSocket stream.
type Stream struct {
	conn      *websocket.Conn
	timeout   time.Duration
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewStream(conn *websocket.Conn, timeout time.Duration) *Stream {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Stream{conn: conn, timeout: timeout}
}

func (s *Stream) Send(ctx context.Context, msg messages.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return Wrap("stream", err)
	}
	return s.WriteFrame(ctx, data)
}

// WriteFrame writes one text frame. gorilla/websocket allows a single
// concurrent writer, hence the mutex.
func (s *Stream) WriteFrame(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return Wrap("stream", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return Wrap("stream", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return Wrap("stream", err)
	}
	return nil
}

// Close sends a close frame and tears down the connection. WriteControl may
// run concurrently with a pending WriteMessage.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
