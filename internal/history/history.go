// Package history keeps the ordered record of every published message so new
// subscribers can be brought up to date.
//
// The log is append-only and grows without bound: the broker keeps no
// retention policy and nothing is persisted across restarts.
package history

import (
	"sync"
	"time"

	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/tags"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Log is an append-only, publish-ordered message log keyed by sequence number.
type Log struct {
	mu      sync.RWMutex
	entries *orderedmap.OrderedMap[uint64, messages.Message]
	last    uint64
	now     func() time.Time
}

func New() *Log {
	return &Log{
		entries: orderedmap.New[uint64, messages.Message](),
		now:     time.Now,
	}
}

// Append records msg at the end of the log and returns it with its sequence
// number and timestamp assigned.
func (l *Log) Append(msg messages.Message) messages.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.last++
	msg = msg.Stamp(l.last, l.now())
	l.entries.Set(msg.Seq, msg)
	return msg
}

// ReplayFor returns, in publish order, every recorded message matching interest.
func (l *Log) ReplayFor(interest tags.Set) []messages.Message {
	return l.ReplaySince(interest, 0)
}

// ReplaySince is ReplayFor limited to messages with a sequence number greater
// than after.
func (l *Log) ReplaySince(interest tags.Set, after uint64) []messages.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if after >= l.last {
		return nil
	}
	// sequence numbers are contiguous from 1, so the first candidate is after+1
	var out []messages.Message
	for pair := l.entries.GetPair(after + 1); pair != nil; pair = pair.Next() {
		if tags.Matches(pair.Value.Tags, interest) {
			out = append(out, pair.Value)
		}
	}
	return out
}

func (l *Log) Get(seq uint64) (messages.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.Get(seq)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.Len()
}

// Last returns the sequence number of the newest message, zero when empty.
func (l *Log) Last() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}
