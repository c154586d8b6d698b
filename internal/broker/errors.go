package broker

import (
	"errors"

	"github.com/casualjim/tagcast/internal/registry"
	"github.com/casualjim/tagcast/messages"
)

var (
	ErrInvalidMessage     = messages.ErrInvalidMessage
	ErrInvalidInterestSet = registry.ErrInvalidInterestSet
	ErrClosed             = errors.New("broker closed")
	ErrSenderRequired     = errors.New("sender is required")

	// reasons a subscription ends
	ErrUnsubscribed   = errors.New("unsubscribed")
	ErrReplaced       = errors.New("replaced by a newer subscription with the same id")
	ErrSlowSubscriber = errors.New("subscriber mailbox is full")
)

// InfoTagsRequired is the reply info for a publish or subscribe without tags.
const InfoTagsRequired = "Tags are required."

// IsBadRequest reports whether err was caused by the caller's input rather
// than by the broker.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrInvalidMessage) || errors.Is(err, ErrInvalidInterestSet) || errors.Is(err, ErrSenderRequired)
}

// Failure builds the reply for a rejected request.
func Failure(err error) messages.Reply {
	if errors.Is(err, ErrInvalidMessage) || errors.Is(err, ErrInvalidInterestSet) {
		return messages.Reply{Info: InfoTagsRequired}
	}
	return messages.Reply{Info: err.Error()}
}
