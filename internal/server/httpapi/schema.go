package httpapi

import (
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/casualjim/tagcast/messages"
	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"
)

// deliveredMessage documents the frame subscribers receive. Message encodes
// itself by hand, so reflection needs this mirror.
type deliveredMessage struct {
	Type      string   `json:"type" jsonschema:"enum=message"`
	Seq       uint64   `json:"seq" jsonschema:"minimum=1,description=History sequence number"`
	Sender    string   `json:"sender,omitempty"`
	Tags      []string `json:"tags" jsonschema:"minItems=1,description=The message tags the subscriber's interest matched"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp,omitempty" jsonschema:"format=date-time"`
}

var schemaReflector = jsonschema.Reflector{
	DoNotReference: true,
}

var schemaTypes = map[string]reflect.Type{
	"message":     reflect.TypeFor[deliveredMessage](),
	"publish":     reflect.TypeFor[messages.PublishRequest](),
	"subscribe":   reflect.TypeFor[messages.SubscribeRequest](),
	"unsubscribe": reflect.TypeFor[messages.UnsubscribeRequest](),
	"reply":       reflect.TypeFor[messages.Reply](),
	"subscriber":  reflect.TypeFor[messages.SubscriberInfo](),
}

// SchemaNames lists the wire shapes served under /v1/schema.
func SchemaNames() []string {
	names := make([]string, 0, len(schemaTypes))
	for name := range schemaTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the JSON Schema of a wire shape.
func Schema(name string) (*jsonschema.Schema, bool) {
	typ, ok := schemaTypes[name]
	if !ok {
		return nil, false
	}
	schema := schemaReflector.ReflectFromType(typ)
	schema.Title = name
	return schema, true
}

func (s *Server) schema(w http.ResponseWriter, r *http.Request) {
	schema, ok := Schema(chi.URLParam(r, "name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, messages.Reply{Info: "unknown schema, expected one of " + strings.Join(SchemaNames(), ", ")})
		return
	}
	writeJSON(w, http.StatusOK, schema)
}
