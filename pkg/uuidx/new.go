package uuidx

import "github.com/google/uuid"

// New generates a time-ordered version 7 UUID. It panics if the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns New as a string.
func NewString() string {
	return New().String()
}

// WithPrefix returns a subscriber identity such as "tcp-<uuid>", so ids minted
// by different transports can be told apart in logs and listings.
func WithPrefix(prefix string) string {
	if prefix == "" {
		return NewString()
	}
	return prefix + "-" + NewString()
}
