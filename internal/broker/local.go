package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casualjim/tagcast/internal/history"
	"github.com/casualjim/tagcast/internal/metrics"
	"github.com/casualjim/tagcast/internal/registry"
	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/pkg/slogx"
	"github.com/casualjim/tagcast/pkg/uuidx"
	"github.com/casualjim/tagcast/tags"
	"github.com/casualjim/tagcast/transport"
	"github.com/fogfish/opts"
)

const (
	defaultMailboxSize = 256
	defaultSendTimeout = 5 * time.Second
)

var (
	// WithMailboxSize sets how many live messages may wait for a subscriber
	// before it is evicted as too slow.
	WithMailboxSize = opts.ForName[localBroker, int]("mailboxSize")
	// WithSendTimeout bounds a single delivery.
	WithSendTimeout = opts.ForName[localBroker, time.Duration]("sendTimeout")
	WithLogger      = opts.ForName[localBroker, *slog.Logger]("logger")
	WithHistory     = opts.ForName[localBroker, *history.Log]("history")
)

type localBroker struct {
	history     *history.Log
	subscribers *registry.Registry[*subscription]
	mailboxSize int
	sendTimeout time.Duration
	logger      *slog.Logger

	// mu orders history appends and their fan-out against registrations and
	// their replay snapshot. It only guards in-memory work, never a Send.
	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Local creates an in-process broker.
func Local(options ...opts.Option[localBroker]) Broker {
	b := &localBroker{
		subscribers: registry.New[*subscription](),
		mailboxSize: defaultMailboxSize,
		sendTimeout: defaultSendTimeout,
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	if b.history == nil {
		b.history = history.New()
	}
	if b.mailboxSize <= 0 {
		b.mailboxSize = defaultMailboxSize
	}
	if b.sendTimeout <= 0 {
		b.sendTimeout = defaultSendTimeout
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With(slogx.LoggerName("broker"))
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b
}

func (b *localBroker) Publish(ctx context.Context, msg messages.Message) (messages.Message, error) {
	if err := ctx.Err(); err != nil {
		return messages.Message{}, err
	}
	msg = msg.Normalize()
	if err := msg.Validate(); err != nil {
		metrics.IncRejected("invalid_message")
		return messages.Message{}, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return messages.Message{}, ErrClosed
	}
	recorded := b.history.Append(msg)
	recipients := 0
	for _, sub := range b.subscribers.Snapshot() {
		if !tags.Matches(recorded.Tags, sub.interest) {
			continue
		}
		if sub.enqueue(recorded.Restrict(sub.interest)) {
			recipients++
		}
	}
	metrics.HistoryMessages.Set(float64(b.history.Len()))
	b.mu.Unlock()

	metrics.PublishedTotal.Inc()
	b.logger.Debug("message published",
		slog.Uint64("seq", recorded.Seq),
		slog.String("sender", recorded.Sender),
		slogx.Stringer("tags", recorded.Tags),
		slog.Int("recipients", recipients),
	)
	return recorded, nil
}

func (b *localBroker) Subscribe(ctx context.Context, req Subscriber) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Sender == nil {
		return nil, ErrSenderRequired
	}
	interest := tags.New(req.Interest...)
	if interest.Empty() {
		metrics.IncRejected("invalid_interest")
		return nil, ErrInvalidInterestSet
	}

	id := req.ID
	if id == "" {
		id = uuidx.NewString()
	}
	sub := &subscription{
		id:       id,
		interest: interest,
		sender:   req.Sender,
		broker:   b,
		mailbox:  make(chan messages.Message, b.mailboxSize),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	prev, replaced, err := b.subscribers.Add(sub)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	// Taken under the same lock as Publish's append+fan-out: every message is
	// either in this replay or enqueued live, never both.
	replay := b.history.ReplaySince(interest, req.Since)
	sub.state.Store(int32(StateActive))
	b.wg.Add(1)
	b.mu.Unlock()

	for i := range replay {
		replay[i] = replay[i].Restrict(interest)
	}
	if replaced {
		prev.stop(ErrReplaced)
	}
	metrics.ActiveSubscribers.Set(float64(b.subscribers.Len()))

	sub.bindContext(ctx)
	go sub.run(b.ctx, replay)

	b.logger.Info("subscriber registered",
		slog.String("subscriber", id),
		slogx.Stringer("interest", interest),
		slog.Int("replay", len(replay)),
		slog.Bool("replaced", replaced),
	)
	return sub, nil
}

func (b *localBroker) Unsubscribe(id string) {
	sub, ok := b.subscribers.Remove(id)
	if !ok {
		return
	}
	sub.stop(ErrUnsubscribed)
	metrics.ActiveSubscribers.Set(float64(b.subscribers.Len()))
	b.logger.Info("subscriber unsubscribed", slog.String("subscriber", id))
}

func (b *localBroker) Subscribers() []messages.SubscriberInfo {
	snapshot := b.subscribers.Snapshot()
	out := make([]messages.SubscriberInfo, 0, len(snapshot))
	for _, sub := range snapshot {
		out = append(out, messages.SubscriberInfo{
			ID:       sub.id,
			Interest: []string(sub.interest),
			State:    sub.State().String(),
		})
	}
	slices.SortFunc(out, func(a, b messages.SubscriberInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (b *localBroker) History(interest tags.Set) []messages.Message {
	return b.history.ReplayFor(interest)
}

func (b *localBroker) Message(seq uint64) (messages.Message, bool) {
	return b.history.Get(seq)
}

func (b *localBroker) LastSeq() uint64 {
	return b.history.Last()
}

// Close disconnects every subscriber and waits for their delivery goroutines
// to finish, or for ctx to expire.
func (b *localBroker) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	subs := b.subscribers.Snapshot()
	b.mu.Unlock()

	for _, sub := range subs {
		b.subscribers.RemoveIf(sub.id, sub)
		sub.stop(ErrClosed)
	}
	b.cancel()
	metrics.ActiveSubscribers.Set(float64(b.subscribers.Len()))

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *localBroker) remove(sub *subscription, reason error) {
	removed := b.subscribers.RemoveIf(sub.id, sub)
	sub.stop(reason)
	if !removed {
		return
	}
	metrics.ActiveSubscribers.Set(float64(b.subscribers.Len()))

	if errors.Is(reason, ErrUnsubscribed) || errors.Is(reason, context.Canceled) {
		b.logger.Info("subscriber unsubscribed", slog.String("subscriber", sub.id))
		return
	}
	metrics.IncEvicted(evictionReason(reason))
	b.logger.Warn("subscriber evicted",
		slog.String("subscriber", sub.id),
		slogx.Error(reason),
	)
}

func evictionReason(err error) string {
	var te *transport.Error
	switch {
	case errors.Is(err, ErrSlowSubscriber):
		return "slow"
	case errors.As(err, &te):
		return "transport"
	default:
		return "other"
	}
}

type subscription struct {
	id       string
	interest tags.Set
	sender   transport.Sender
	broker   *localBroker
	mailbox  chan messages.Message
	done     chan struct{}
	state    atomic.Int32
	stopOnce sync.Once

	mu      sync.Mutex
	err     error
	release func() bool
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Interest() tags.Set {
	return s.interest
}

func (s *subscription) State() State {
	return State(s.state.Load())
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Unsubscribe() {
	s.broker.remove(s, ErrUnsubscribed)
}

// bindContext ends the subscription when ctx is cancelled.
func (s *subscription) bindContext(ctx context.Context) {
	release := context.AfterFunc(ctx, func() {
		s.broker.remove(s, context.Cause(ctx))
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		release()
	default:
		s.release = release
	}
}

// enqueue hands a live message to the delivery goroutine without blocking.
// A full mailbox evicts the subscriber.
func (s *subscription) enqueue(msg messages.Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.mailbox <- msg:
		return true
	default:
		s.broker.remove(s, ErrSlowSubscriber)
		return false
	}
}

func (s *subscription) stop(reason error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.err = reason
		release := s.release
		s.release = nil
		s.state.Store(int32(StateDisconnected))
		close(s.done)
		s.mu.Unlock()

		if release != nil {
			release()
		}
	})
}

// run delivers the replay batch, then live messages, until the subscription
// stops or a delivery fails.
func (s *subscription) run(ctx context.Context, replay []messages.Message) {
	defer s.broker.wg.Done()
	defer s.closeSenderOnFailure()

	for _, msg := range replay {
		if !s.deliver(ctx, msg, "replay") {
			return
		}
	}
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.mailbox:
			if !s.deliver(ctx, msg, "live") {
				return
			}
		}
	}
}

func (s *subscription) deliver(ctx context.Context, msg messages.Message, kind string) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.broker.sendTimeout)
	err := s.sender.Send(sendCtx, msg)
	cancel()
	metrics.ObserveDelivery(kind, err)
	if err == nil {
		return true
	}

	if ctx.Err() != nil {
		// broker is shutting down
		s.broker.remove(s, ErrClosed)
		return false
	}
	s.broker.remove(s, transport.Wrap("unknown", err))
	return false
}

func (s *subscription) closeSenderOnFailure() {
	err := s.Err()
	var te *transport.Error
	if !errors.Is(err, ErrSlowSubscriber) && !errors.As(err, &te) {
		return
	}
	if c, ok := s.sender.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			s.broker.logger.Debug("closing sender failed",
				slog.String("subscriber", s.id),
				slogx.Error(cerr),
			)
		}
	}
}
