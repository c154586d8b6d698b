package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/tagcast/internal/history"
	"github.com/casualjim/tagcast/internal/metrics"
	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/tags"
	"github.com/casualjim/tagcast/transport"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestLocal_PublishValidation(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.Publish(context.Background(), messages.New("s", tags.New(" ", ""), "nothing"))
	require.ErrorIs(t, err, ErrInvalidMessage)
	assert.Empty(t, b.History(tags.New("anything")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Publish(ctx, messages.New("s", tags.New("Info"), "late"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocal_SubscribeRequiresSender(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.Subscribe(context.Background(), Subscriber{ID: "R1", Interest: tags.New("Info")})
	assert.ErrorIs(t, err, ErrSenderRequired)
}

func TestLocal_GeneratesSubscriberID(t *testing.T) {
	b := newTestBroker(t)
	inbox := transport.NewChan(1)

	sub, err := b.Subscribe(context.Background(), Subscriber{Interest: tags.New("Info"), Sender: inbox})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, []string{sub.ID()}, subscriberIDs(b))
}

func TestLocal_ReplaySince(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := b.Publish(ctx, messages.New("s", tags.New("Info"), fmt.Sprint(i)))
		require.NoError(t, err)
	}

	inbox := transport.NewChan(8)
	sub, err := b.Subscribe(ctx, Subscriber{ID: "R1", Interest: tags.New("info"), Sender: inbox, Since: 2})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	got := receive(t, inbox.C(), 1)
	assert.Equal(t, uint64(3), got[0].Seq)
	assertNothing(t, inbox.C())
}

func TestLocal_ReplayPrecedesLive(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, messages.New("s", tags.New("Info"), "old"))
	require.NoError(t, err)

	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	sender := transport.Func(func(ctx context.Context, msg messages.Message) error {
		<-release
		mu.Lock()
		seen = append(seen, msg.Content)
		mu.Unlock()
		return nil
	})
	sub, err := b.Subscribe(ctx, Subscriber{ID: "R1", Interest: tags.New("Info"), Sender: sender})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = b.Publish(ctx, messages.New("s", tags.New("Info"), "new"))
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"old", "new"}, seen)
}

func TestLocal_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := Local(WithMailboxSize(4096))
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	ctx := context.Background()

	const publishers, perPublisher = 4, 100
	inbox := transport.NewChan(publishers * perPublisher)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			<-start
			for i := 0; i < perPublisher; i++ {
				_, err := b.Publish(ctx, messages.New(fmt.Sprint(p), tags.New("Info"), fmt.Sprint(i)))
				assert.NoError(t, err)
			}
		}(p)
	}

	close(start)
	sub, err := b.Subscribe(ctx, Subscriber{ID: "late", Interest: tags.New("Info"), Sender: inbox})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	wg.Wait()

	got := receive(t, inbox.C(), publishers*perPublisher)
	seen := make(map[uint64]bool, len(got))
	for i, msg := range got {
		assert.False(t, seen[msg.Seq], "seq %d delivered twice", msg.Seq)
		seen[msg.Seq] = true
		if i > 0 {
			assert.Greater(t, msg.Seq, got[i-1].Seq)
		}
	}
	assertNothing(t, inbox.C())
}

func TestLocal_HistoryGaugeUnderConcurrentPublish(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	const publishers, perPublisher = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				_, err := b.Publish(ctx, messages.New("s", tags.New("Info"), fmt.Sprint(i)))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(publishers*perPublisher), promtest.ToFloat64(metrics.HistoryMessages))
}

func TestLocal_MessageLookup(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	assert.Zero(t, b.LastSeq())

	_, err := b.Publish(ctx, messages.New("s", tags.New("Info"), "one"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, messages.New("s", tags.New("Alert"), "two"))
	require.NoError(t, err)

	assert.Equal(t, uint64(2), b.LastSeq())
	msg, ok := b.Message(2)
	require.True(t, ok)
	assert.Equal(t, "two", msg.Content)
	assert.Equal(t, tags.Set{"Alert"}, msg.Tags)

	_, ok = b.Message(3)
	assert.False(t, ok)
}

func TestLocal_EvictsSlowSubscriber(t *testing.T) {
	b := Local(WithMailboxSize(1), WithSendTimeout(200*time.Millisecond))
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	ctx := context.Background()

	stuck := transport.Func(func(ctx context.Context, msg messages.Message) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sub, err := b.Subscribe(ctx, Subscriber{ID: "slow", Interest: tags.New("Info"), Sender: stuck})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := b.Publish(ctx, messages.New("s", tags.New("Info"), fmt.Sprint(i)))
		require.NoError(t, err)
	}

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow subscriber was not evicted")
	}
	assert.ErrorIs(t, sub.Err(), ErrSlowSubscriber)
	assert.Empty(t, b.Subscribers())
}

func TestLocal_ContextCancelEndsSubscription(t *testing.T) {
	b := newTestBroker(t)
	inbox := transport.NewChan(1)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, Subscriber{ID: "R1", Interest: tags.New("Info"), Sender: inbox})
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription outlived its context")
	}
	assert.ErrorIs(t, sub.Err(), context.Canceled)
	assert.Empty(t, b.Subscribers())
}

func TestLocal_SharedHistory(t *testing.T) {
	log := history.New()
	b := Local(WithHistory(log))
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	_, err := b.Publish(context.Background(), messages.New("s", tags.New("Info"), "kept"))
	require.NoError(t, err)
	assert.Equal(t, 1, log.Len())
	assert.Equal(t, uint64(1), log.Last())
}

func TestLocal_Close(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := Local()
	ctx := context.Background()

	var subs []Subscription
	for i := 0; i < 3; i++ {
		sub, err := b.Subscribe(ctx, Subscriber{
			ID:       fmt.Sprint("R", i),
			Interest: tags.New("Info"),
			Sender:   transport.NewChan(16),
		})
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	_, err := b.Publish(ctx, messages.New("s", tags.New("Info"), "bye"))
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, b.Close(closeCtx))
	assert.ErrorIs(t, b.Close(closeCtx), ErrClosed)

	for _, sub := range subs {
		<-sub.Done()
		assert.ErrorIs(t, sub.Err(), ErrClosed)
		assert.Equal(t, StateDisconnected, sub.State())
	}
	assert.Empty(t, b.Subscribers())

	_, err = b.Publish(ctx, messages.New("s", tags.New("Info"), "late"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.Subscribe(ctx, Subscriber{ID: "late", Interest: tags.New("Info"), Sender: transport.NewChan(1)})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
}
