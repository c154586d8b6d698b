package transport

import (
	"context"
	"sync"

	"github.com/casualjim/tagcast/messages"
)

// Chan is an in-process Sender that hands messages to a consumer goroutine
// over a buffered channel. Send blocks while the buffer is full.
type Chan struct {
	ch        chan messages.Message
	done      chan struct{}
	closeOnce sync.Once
}

func NewChan(buffer int) *Chan {
	return &Chan{
		ch:   make(chan messages.Message, buffer),
		done: make(chan struct{}),
	}
}

// C returns the channel messages are delivered on. It is never closed; watch
// Done to learn when the adapter was closed.
func (c *Chan) C() <-chan messages.Message {
	return c.ch
}

func (c *Chan) Done() <-chan struct{} {
	return c.done
}

func (c *Chan) Send(ctx context.Context, msg messages.Message) error {
	select {
	case <-c.done:
		return Wrap("chan", ErrClosed)
	default:
	}

	select {
	case <-c.done:
		return Wrap("chan", ErrClosed)
	case <-ctx.Done():
		return Wrap("chan", ctx.Err())
	case c.ch <- msg:
		return nil
	}
}

func (c *Chan) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
