// Package broker implements the tag-based publish/subscribe dispatcher. It
// records every published message in a history log, matches it against the
// interest set of each registered subscriber and fans it out through the
// subscriber's transport adapter.
//
// Design decisions:
//   - Context-first: Publish and Subscribe accept context.Context; a
//     subscription ends when the context it was created with is cancelled
//   - One dispatcher: every transport (TCP, WebSocket, NATS) plugs in through
//     transport.Sender, routing logic is never duplicated per transport
//   - Fire-and-forget publish: Publish returns once the message is recorded and
//     queued for every matching subscriber; delivery is asynchronous
//   - Failure isolation: each subscriber has its own mailbox and delivery
//     goroutine, so a slow or broken subscriber never delays the others or the
//     publisher. A failed Send or a full mailbox evicts that subscriber only
//   - Exactly-once at the subscribe boundary: registration plus the replay
//     snapshot, and history append plus live fan-out, run under one short
//     critical section, so a message published while a subscriber joins is
//     delivered either by replay or live, and replay always comes first
//
// Subscription lifecycle:
//
//	Pending ──Subscribe──▶ Active ──Unsubscribe / Send failure / Close──▶ Disconnected
//
// A disconnected subscription never becomes active again; subscribing with the
// same ID creates a new subscription and retires the previous one.
//
// Example usage:
//
//	b := broker.Local(broker.WithMailboxSize(512))
//	defer b.Close(ctx)
//
//	inbox := transport.NewChan(16)
//	sub, err := b.Subscribe(ctx, broker.Subscriber{
//	    ID:       "r1",
//	    Interest: tags.New("Alert", "Info"),
//	    Sender:   inbox,
//	})
//	if err != nil {
//	    return err
//	}
//	defer sub.Unsubscribe()
//
//	if _, err := b.Publish(ctx, messages.New("sensor", tags.New("alert"), "fire")); err != nil {
//	    return err
//	}
//	msg := <-inbox.C()
package broker
