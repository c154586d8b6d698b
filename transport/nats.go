package transport

import (
	"context"
	"time"

	"github.com/casualjim/tagcast/messages"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// NATSPush delivers to a subject the subscriber advertised when it subscribed.
// Every message is a request; the receiver acknowledges by replying. A missing
// responder or a timeout counts as a delivery failure, so a receiver that went
// away is evicted on the next message.
type NATSPush struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

func NewNATSPush(conn *nats.Conn, subject string, timeout time.Duration) *NATSPush {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &NATSPush{conn: conn, subject: subject, timeout: timeout}
}

func (p *NATSPush) Subject() string {
	return p.subject
}

func (p *NATSPush) Send(ctx context.Context, msg messages.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return Wrap("nats", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.conn.RequestWithContext(ctx, p.subject, data); err != nil {
		return Wrap("nats", err)
	}
	return nil
}
