package transport

import (
	"context"
	"io"
	"sync"

	"github.com/casualjim/tagcast/messages"
)

// Gate holds deliveries back until Open is called. Servers use it to write a
// subscribe acknowledgement before the first replayed message.
type Gate struct {
	next Sender
	open chan struct{}
	once sync.Once
}

func NewGate(next Sender) *Gate {
	return &Gate{next: next, open: make(chan struct{})}
}

func (g *Gate) Open() {
	g.once.Do(func() { close(g.open) })
}

func (g *Gate) Send(ctx context.Context, msg messages.Message) error {
	select {
	case <-g.open:
	case <-ctx.Done():
		return Wrap("gate", ctx.Err())
	}
	return Wrap("gate", g.next.Send(ctx, msg))
}

// Close closes the wrapped sender when it is an io.Closer.
func (g *Gate) Close() error {
	if c, ok := g.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
