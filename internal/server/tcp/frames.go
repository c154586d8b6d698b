package tcp

import (
	"bytes"
	"strings"

	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/tags"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	OpPublish     = "publish"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"

	subscribeCommand   = "SUBSCRIBE:"
	unsubscribeCommand = "UNSUBSCRIBE"
)

var (
	ackTemplate   = []byte(`{"type":"ack"}`)
	errorTemplate = []byte(`{"type":"error"}`)
)

// request is one parsed inbound frame.
type request struct {
	op      string
	raw     []byte // publish: the full frame, decoded as a message
	id      string
	tags    tags.Set
	since   uint64
	invalid string
}

// parseFrame recognises the text commands, JSON requests carrying an "op"
// field, and bare JSON messages, which are publishes.
func parseFrame(line []byte) request {
	trimmed := bytes.TrimSpace(line)
	text := string(trimmed)

	switch {
	case len(text) >= len(subscribeCommand) && strings.EqualFold(text[:len(subscribeCommand)], subscribeCommand):
		return request{op: OpSubscribe, tags: tags.Parse(text[len(subscribeCommand):])}
	case strings.EqualFold(text, unsubscribeCommand):
		return request{op: OpUnsubscribe}
	case !gjson.ValidBytes(trimmed) || !gjson.ParseBytes(trimmed).IsObject():
		return request{invalid: "unrecognized command"}
	}

	root := gjson.ParseBytes(trimmed)
	op := strings.ToLower(root.Get("op").String())
	switch op {
	case "", OpPublish:
		return request{op: OpPublish, raw: trimmed}
	case OpSubscribe:
		return request{
			op:    OpSubscribe,
			id:    root.Get("id").String(),
			tags:  interestOf(root.Get("tags")),
			since: root.Get("since").Uint(),
		}
	case OpUnsubscribe:
		return request{op: OpUnsubscribe, id: root.Get("id").String()}
	default:
		return request{op: op, invalid: "unknown op " + op}
	}
}

func interestOf(v gjson.Result) tags.Set {
	if v.IsArray() {
		var labels []string
		for _, item := range v.Array() {
			labels = append(labels, item.String())
		}
		return tags.New(labels...)
	}
	return tags.Parse(v.String())
}

func ackFrame(op string, reply messages.Reply, interest tags.Set) []byte {
	frame, _ := sjson.SetBytes(ackTemplate, "op", op)
	if reply.ID != "" {
		frame, _ = sjson.SetBytes(frame, "id", reply.ID)
	}
	if reply.Seq > 0 {
		frame, _ = sjson.SetBytes(frame, "seq", reply.Seq)
	}
	if len(interest) > 0 {
		frame, _ = sjson.SetBytes(frame, "tags", []string(interest))
	}
	if reply.Info != "" {
		frame, _ = sjson.SetBytes(frame, "info", reply.Info)
	}
	return frame
}

func errorFrame(op, info string) []byte {
	frame := errorTemplate
	if op != "" {
		frame, _ = sjson.SetBytes(frame, "op", op)
	}
	frame, _ = sjson.SetBytes(frame, "error", info)
	return frame
}
