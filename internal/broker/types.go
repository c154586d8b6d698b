package broker

import (
	"context"

	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/tags"
	"github.com/casualjim/tagcast/transport"
)

type Broker interface {
	// Publish records msg in the history log and fans it out to every
	// subscriber whose interest matches. It returns the recorded message once
	// the fan-out has been started; delivery itself is asynchronous.
	Publish(context.Context, messages.Message) (messages.Message, error)
	// Subscribe registers (or replaces) a subscriber, replays the matching
	// history to it and keeps it registered for live messages. The
	// subscription ends when ctx is cancelled.
	Subscribe(context.Context, Subscriber) (Subscription, error)
	// Unsubscribe removes a subscriber by identity. Unknown identities are ignored.
	Unsubscribe(id string)
	Subscribers() []messages.SubscriberInfo
	History(interest tags.Set) []messages.Message
	// Message looks up a published message by sequence number.
	Message(seq uint64) (messages.Message, bool)
	// LastSeq is the sequence number of the newest message, zero before the
	// first publish.
	LastSeq() uint64
	Close(context.Context) error
}

// Subscriber describes a subscription request.
type Subscriber struct {
	// ID identifies the subscriber; an empty ID gets a generated one.
	ID       string
	Interest tags.Set
	Sender   transport.Sender
	// Since limits the replay to messages with a greater sequence number.
	Since uint64
}

type Subscription interface {
	ID() string
	Interest() tags.Set
	State() State
	// Done is closed when the subscription is disconnected.
	Done() <-chan struct{}
	// Err reports why the subscription was disconnected.
	Err() error
	Unsubscribe()
}

type State int32

const (
	StatePending State = iota
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
