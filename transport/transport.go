package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/casualjim/tagcast/messages"
)

// ErrClosed is returned by adapters whose underlying channel was closed.
var ErrClosed = errors.New("transport closed")

// Sender delivers a message to one subscriber. Implementations must be safe
// for use by one delivering goroutine while other goroutines close them, and
// must return an *Error when the message could not be delivered.
type Sender interface {
	Send(ctx context.Context, msg messages.Message) error
}

// Error is a delivery failure reported by a transport adapter.
type Error struct {
	Transport string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Transport, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap turns err into an *Error for the named transport. Nil stays nil and an
// existing *Error is returned unchanged.
func Wrap(transport string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Transport: transport, Err: err}
}

// Func adapts a function to the Sender interface.
type Func func(ctx context.Context, msg messages.Message) error

func (f Func) Send(ctx context.Context, msg messages.Message) error {
	return Wrap("func", f(ctx, msg))
}
