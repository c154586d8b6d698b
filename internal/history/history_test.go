package history

import (
	"fmt"
	"sync"
	"testing"

	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contents(msgs []messages.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestLog_Append(t *testing.T) {
	l := New()
	first := l.Append(messages.New("s", tags.New("Alert"), "fire"))
	second := l.Append(messages.New("s", tags.New("Info"), "ok"))

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, uint64(2), l.Last())

	got, ok := l.Get(1)
	require.True(t, ok)
	assert.Equal(t, "fire", got.Content)
}

func TestLog_ReplayFor(t *testing.T) {
	l := New()
	l.Append(messages.New("s", tags.New("Alert"), "1"))
	l.Append(messages.New("s", tags.New("Info"), "2"))
	l.Append(messages.New("s", tags.New("alert", "Debug"), "3"))
	l.Append(messages.New("s", tags.New("Error"), "4"))

	t.Run("returns matching subsequence in publish order", func(t *testing.T) {
		assert.Equal(t, []string{"1", "3"}, contents(l.ReplayFor(tags.New("ALERT"))))
		assert.Equal(t, []string{"1", "2", "3"}, contents(l.ReplayFor(tags.New("Alert", "Info"))))
	})

	t.Run("returns nothing when nothing matches", func(t *testing.T) {
		assert.Empty(t, l.ReplayFor(tags.New("Warn")))
	})

	t.Run("is a snapshot", func(t *testing.T) {
		replay := l.ReplayFor(tags.New("Error"))
		l.Append(messages.New("s", tags.New("Error"), "5"))
		assert.Equal(t, []string{"4"}, contents(replay))
	})
}

func TestLog_ReplaySince(t *testing.T) {
	l := New()
	for i := 1; i <= 5; i++ {
		l.Append(messages.New("s", tags.New("Info"), fmt.Sprint(i)))
	}

	assert.Equal(t, []string{"4", "5"}, contents(l.ReplaySince(tags.New("Info"), 3)))
	assert.Empty(t, l.ReplaySince(tags.New("Info"), 5))
	assert.Empty(t, l.ReplaySince(tags.New("Info"), 50))
	assert.Len(t, l.ReplaySince(tags.New("Info"), 0), 5)
}

func TestLog_Empty(t *testing.T) {
	l := New()
	assert.Empty(t, l.ReplayFor(tags.New("Info")))
	assert.Equal(t, uint64(0), l.Last())
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Append(messages.New("s", tags.New("Info"), "x"))
				_ = l.ReplayFor(tags.New("Info"))
			}
		}()
	}
	wg.Wait()

	replay := l.ReplayFor(tags.New("Info"))
	require.Len(t, replay, 1000)
	for i, m := range replay {
		assert.Equal(t, uint64(i+1), m.Seq)
	}
}
