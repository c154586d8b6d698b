package messages

import "github.com/casualjim/tagcast/tags"

// PublishRequest is the documented inbound shape of a published message.
// Decoding goes through Message.UnmarshalJSON, which also accepts the lenient
// forms; this type exists for schema generation and typed clients.
type PublishRequest struct {
	Sender  string   `json:"sender,omitempty" jsonschema:"description=Identity of the publisher"`
	Tags    []string `json:"tags" jsonschema:"minItems=1,description=Topic tags (case-insensitive)"`
	Content string   `json:"content" jsonschema:"description=Opaque message body"`
}

// Message converts the request into an unpublished message.
func (r PublishRequest) Message() Message {
	return New(r.Sender, tags.New(r.Tags...), r.Content)
}

// SubscribeRequest asks the broker to register a subscriber. Deliver is the
// transport-specific delivery address (a NATS subject for the push transport;
// ignored by connection-bound transports). Since resumes replay after the given
// sequence number; zero replays the whole matching history.
type SubscribeRequest struct {
	ID      string   `json:"id,omitempty" jsonschema:"description=Subscriber identity; generated when empty"`
	Tags    []string `json:"tags" jsonschema:"minItems=1,description=Interest set"`
	Deliver string   `json:"deliver,omitempty" jsonschema:"description=Transport specific delivery address"`
	Since   uint64   `json:"since,omitempty" jsonschema:"description=Replay only messages with a greater sequence number"`
}

// Interest returns the normalized interest set of the request.
func (r SubscribeRequest) Interest() tags.Set {
	return tags.New(r.Tags...)
}

// UnsubscribeRequest removes a subscriber by identity.
type UnsubscribeRequest struct {
	ID string `json:"id" jsonschema:"description=Subscriber identity"`
}

// Reply is the answer to any inbound request.
type Reply struct {
	Success bool   `json:"success"`
	Info    string `json:"info,omitempty"`
	ID      string `json:"id,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
}

// SubscriberInfo describes an active subscriber.
type SubscriberInfo struct {
	ID       string   `json:"id"`
	Interest []string `json:"interest"`
	State    string   `json:"state"`
}
