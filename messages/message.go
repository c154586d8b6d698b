package messages

import (
	"errors"
	"fmt"
	"time"

	"github.com/casualjim/tagcast/tags"
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidMessage is returned for a message without any tag.
var ErrInvalidMessage = errors.New("invalid message: at least one tag is required")

var messageJSON = []byte(`{"type":"message"}`)

// Message is a published message. Seq and Timestamp are assigned when the
// message is recorded in the history log.
type Message struct {
	Seq       uint64
	Sender    string
	Tags      tags.Set
	Content   string
	Timestamp strfmt.DateTime
}

// New creates an unpublished message.
func New(sender string, tagSet tags.Set, content string) Message {
	return Message{
		Sender:  sender,
		Tags:    tagSet,
		Content: content,
	}
}

// Normalize returns a copy of the message with its tag set normalized.
func (m Message) Normalize() Message {
	m.Tags = tags.New(m.Tags...)
	return m
}

// Validate checks the message invariants.
func (m Message) Validate() error {
	if tags.New(m.Tags...).Empty() {
		return ErrInvalidMessage
	}
	return nil
}

// Restrict returns a copy of the message carrying only the tags the interest
// set matched.
func (m Message) Restrict(interest tags.Set) Message {
	m.Tags = tags.Intersect(m.Tags, interest)
	return m
}

// Stamp sets the sequence number and, when unset, the timestamp.
func (m Message) Stamp(seq uint64, now time.Time) Message {
	m.Seq = seq
	if m.Timestamp.IsZero() {
		m.Timestamp = strfmt.DateTime(now.UTC())
	}
	return m
}

// MarshalJSON implements custom JSON marshaling for Message
func (m Message) MarshalJSON() ([]byte, error) {
	result := messageJSON

	var err error
	if m.Seq > 0 {
		result, err = sjson.SetBytes(result, "seq", m.Seq)
		if err != nil {
			return nil, err
		}
	}

	result, err = sjson.SetBytes(result, "sender", m.Sender)
	if err != nil {
		return nil, err
	}

	tagsBytes, err := json.Marshal([]string(m.Tags))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	if m.Tags == nil {
		tagsBytes = []byte("[]")
	}
	result, err = sjson.SetRawBytes(result, "tags", tagsBytes)
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "content", m.Content)
	if err != nil {
		return nil, err
	}

	if !m.Timestamp.IsZero() {
		result, err = sjson.SetBytes(result, "timestamp", m.Timestamp.String())
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Message. A message
// whose tags can't be read decodes with an empty tag set; Validate rejects it.
func (m *Message) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return fmt.Errorf("invalid message: expected a json object")
	}

	*m = Message{
		Seq:     root.Get("seq").Uint(),
		Sender:  first(root, "sender", "Sender").String(),
		Content: first(root, "content", "Content").String(),
		Tags:    decodeTags(root),
	}

	if ts := root.Get("timestamp"); ts.Exists() && ts.String() != "" {
		dt, err := strfmt.ParseDateTime(ts.String())
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		m.Timestamp = dt
	}
	return nil
}

// Decode parses and validates an inbound message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := m.UnmarshalJSON(data); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	m = m.Normalize()
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func decodeTags(root gjson.Result) tags.Set {
	raw := first(root, "tags", "Tags")
	switch {
	case raw.IsArray():
		labels := make([]string, 0, len(raw.Array()))
		for _, v := range raw.Array() {
			if v.Type == gjson.String {
				labels = append(labels, v.String())
			}
		}
		return tags.New(labels...)
	case raw.Type == gjson.String:
		return tags.Parse(raw.String())
	}

	// single-tag shape: {"Type":"Alert","Content":"..."}
	if legacy := root.Get("Type"); legacy.Type == gjson.String {
		return tags.Parse(legacy.String())
	}
	return tags.Set{}
}

func first(root gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
