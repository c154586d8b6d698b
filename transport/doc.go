// Package transport defines how a message physically reaches a subscriber.
//
// The broker only knows the Sender interface. Each delivery strategy is one
// adapter:
//   - Conn: a long-lived connection held by the broker (newline-delimited
//     JSON frames over a net.Conn).
//   - NATSPush: a push to a subject the subscriber advertised, acknowledged
//     with request/reply.
//   - Stream: a write onto an open WebSocket stream.
//   - Chan and Func: in-process delivery for embedding and tests.
//
// A failed Send returns an *Error. The broker reacts by evicting the
// subscriber and, when the adapter implements io.Closer, closing it. Adapters
// serialize their own writes, so the frames a server writes (acknowledgements,
// errors) never interleave with deliveries.
package transport
