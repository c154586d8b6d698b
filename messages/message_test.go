package messages

import (
	"testing"
	"time"

	"github.com/casualjim/tagcast/tags"
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestMessage_Validate(t *testing.T) {
	assert.NoError(t, New("s", tags.New("Alert"), "fire").Validate())
	assert.ErrorIs(t, New("s", tags.New(), "fire").Validate(), ErrInvalidMessage)
	assert.ErrorIs(t, New("s", tags.Set{" ", ""}, "fire").Validate(), ErrInvalidMessage)
}

func TestMessage_Restrict(t *testing.T) {
	msg := New("s", tags.New("Info", "Alert", "Debug"), "x")
	restricted := msg.Restrict(tags.New("alert", "debug"))

	assert.Equal(t, tags.Set{"Alert", "Debug"}, restricted.Tags)
	assert.Equal(t, tags.Set{"Info", "Alert", "Debug"}, msg.Tags, "original is untouched")
}

func TestMessage_Stamp(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	stamped := New("s", tags.New("a"), "x").Stamp(7, now)
	assert.Equal(t, uint64(7), stamped.Seq)
	assert.Equal(t, strfmt.DateTime(now), stamped.Timestamp)

	preset := strfmt.DateTime(now.Add(-time.Hour))
	msg := New("s", tags.New("a"), "x")
	msg.Timestamp = preset
	assert.Equal(t, preset, msg.Stamp(8, now).Timestamp, "existing timestamp is kept")
}

func TestMessage_MarshalJSON(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := New("sensor", tags.New("Alert", "Info"), "fire").Stamp(3, now)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	assert.Equal(t, "message", gjson.GetBytes(data, "type").String())
	assert.Equal(t, uint64(3), gjson.GetBytes(data, "seq").Uint())
	assert.Equal(t, "sensor", gjson.GetBytes(data, "sender").String())
	assert.Equal(t, "fire", gjson.GetBytes(data, "content").String())
	assert.Equal(t, `["Alert","Info"]`, gjson.GetBytes(data, "tags").Raw)
	assert.True(t, gjson.GetBytes(data, "timestamp").Exists())

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, msg.Seq, back.Seq)
	assert.Equal(t, msg.Tags, back.Tags)
	assert.Equal(t, msg.Content, back.Content)
	assert.Equal(t, time.Time(msg.Timestamp).UnixMilli(), time.Time(back.Timestamp).UnixMilli())
}

func TestMessage_MarshalJSON_Unpublished(t *testing.T) {
	data, err := json.Marshal(Message{Content: "x"})
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(data, "seq").Exists())
	assert.False(t, gjson.GetBytes(data, "timestamp").Exists())
	assert.Equal(t, "[]", gjson.GetBytes(data, "tags").Raw)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    tags.Set
		content string
		sender  string
		err     bool
	}{
		{"tags array", `{"sender":"a","tags":["Info","Alert"],"content":"ok"}`, tags.Set{"Info", "Alert"}, "ok", "a", false},
		{"tags csv", `{"tags":"Info, Alert","content":"ok"}`, tags.Set{"Info", "Alert"}, "ok", "", false},
		{"single-tag shape", `{ "Type": "Alert", "Content": "fire" }`, tags.Set{"Alert"}, "fire", "", false},
		{"capitalized fields", `{"Sender":"b","Tags":["x"],"Content":"y"}`, tags.Set{"x"}, "y", "b", false},
		{"duplicate tags collapse", `{"tags":["info","INFO"],"content":"ok"}`, tags.Set{"info"}, "ok", "", false},
		{"empty tags", `{"tags":[],"content":"ok"}`, nil, "", "", true},
		{"missing tags", `{"content":"ok"}`, nil, "", "", true},
		{"non-string tags ignored", `{"tags":[1,2],"content":"ok"}`, nil, "", "", true},
		{"invalid json", `{"tags":`, nil, "", "", true},
		{"not an object", `["a"]`, nil, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Tags)
			assert.Equal(t, tt.content, msg.Content)
			assert.Equal(t, tt.sender, msg.Sender)
		})
	}
}

func TestPublishRequest_Message(t *testing.T) {
	msg := PublishRequest{Sender: "s", Tags: []string{"a", "A", "b"}, Content: "c"}.Message()
	assert.Equal(t, tags.Set{"a", "b"}, msg.Tags)
	assert.Equal(t, "s", msg.Sender)
}
