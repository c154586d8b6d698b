package uuidx

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	id := New()
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())
	assert.NotEqual(t, id, New())
}

func TestNewString(t *testing.T) {
	idStr := NewString()
	assert.Regexp(t, "^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$", idStr)
	assert.NotEqual(t, idStr, NewString())
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("ws")
	require.True(t, strings.HasPrefix(id, "ws-"))

	parsed, err := uuid.Parse(strings.TrimPrefix(id, "ws-"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	_, err = uuid.Parse(WithPrefix(""))
	assert.NoError(t, err)
}
