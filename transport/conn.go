package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/casualjim/tagcast/messages"
	json "github.com/goccy/go-json"
)

// DefaultWriteTimeout bounds a single write when the context has no deadline.
const DefaultWriteTimeout = 5 * time.Second

// Conn pushes messages over a long-lived connection held by the broker, one
// JSON frame per line.
type Conn struct {
	conn      net.Conn
	timeout   time.Duration
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewConn(conn net.Conn, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Conn{conn: conn, timeout: timeout}
}

func (c *Conn) Send(ctx context.Context, msg messages.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return Wrap("conn", err)
	}
	return c.WriteFrame(ctx, data)
}

// WriteFrame writes one raw frame followed by a newline. Frames from different
// goroutines never interleave.
func (c *Conn) WriteFrame(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return Wrap("conn", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return Wrap("conn", err)
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	if _, err := c.conn.Write(buf); err != nil {
		return Wrap("conn", err)
	}
	return nil
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
