package tcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/casualjim/tagcast/internal/broker"
	"github.com/casualjim/tagcast/internal/metrics"
	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/pkg/slogx"
	"github.com/casualjim/tagcast/pkg/uuidx"
	"github.com/casualjim/tagcast/transport"
)

// session is one client connection. It owns at most one subscription.
type session struct {
	server    *Server
	raw       net.Conn
	conn      *transport.Conn
	remote    string
	defaultID string
	logger    *slog.Logger

	mu  sync.Mutex
	sub broker.Subscription
}

func newSession(s *Server, raw net.Conn) *session {
	remote := raw.RemoteAddr().String()
	return &session{
		server:    s,
		raw:       raw,
		conn:      transport.NewConn(raw, s.writeTimeout),
		remote:    remote,
		defaultID: uuidx.WithPrefix("tcp"),
		logger:    s.logger.With(slog.String("remote", remote)),
	}
}

func (c *session) serve(ctx context.Context) {
	c.logger.Debug("connection opened")

	err := c.server.read(ctx, c)
	c.dropSubscription()
	_ = c.conn.Close()

	if err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Warn("connection read failed", slogx.Error(err))
	}
	c.logger.Debug("connection closed")
}

func (c *session) handle(ctx context.Context, line []byte) {
	req := parseFrame(line)
	countInbound(req.op)

	if req.invalid != "" {
		metrics.IncRejected("invalid_frame")
		c.logger.Debug("invalid frame", slogx.ByteString("frame", line))
		c.write(ctx, errorFrame(req.op, req.invalid))
		return
	}

	switch req.op {
	case OpPublish:
		c.publish(ctx, req)
	case OpSubscribe:
		c.subscribe(ctx, req)
	case OpUnsubscribe:
		c.unsubscribe(ctx, req)
	}
}

func (c *session) publish(ctx context.Context, req request) {
	msg, err := messages.Decode(req.raw)
	if err == nil {
		if msg.Sender == "" {
			msg.Sender = c.remote
		}
		msg, err = c.server.broker.Publish(ctx, msg)
	}
	if err != nil {
		c.fail(ctx, OpPublish, err)
		return
	}
	c.write(ctx, ackFrame(OpPublish, messages.Reply{Success: true, Seq: msg.Seq}, nil))
}

func (c *session) subscribe(ctx context.Context, req request) {
	id := req.id
	if id == "" {
		id = c.defaultID
	}

	if req.tags.Empty() {
		c.fail(ctx, OpSubscribe, broker.ErrInvalidInterestSet)
		return
	}

	sender := transport.NewGate(c.conn)
	sub, err := c.server.broker.Subscribe(ctx, broker.Subscriber{
		ID:       id,
		Interest: req.tags,
		Sender:   sender,
		Since:    req.since,
	})
	if err != nil {
		c.fail(ctx, OpSubscribe, err)
		return
	}

	c.mu.Lock()
	prev := c.sub
	c.sub = sub
	c.mu.Unlock()
	// the connection keeps a single subscription
	if prev != nil && prev.ID() != id {
		prev.Unsubscribe()
	}

	// the ack goes out before any replayed message
	c.write(ctx, ackFrame(OpSubscribe, messages.Reply{Success: true, ID: id}, sub.Interest()))
	sender.Open()
}

func (c *session) unsubscribe(ctx context.Context, req request) {
	c.mu.Lock()
	own := c.sub
	c.mu.Unlock()

	switch {
	case req.id == "" || (own != nil && own.ID() == req.id):
		c.dropSubscription()
	default:
		c.server.broker.Unsubscribe(req.id)
	}
	c.write(ctx, ackFrame(OpUnsubscribe, messages.Reply{Success: true, ID: req.id}, nil))
}

func (c *session) dropSubscription() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (c *session) fail(ctx context.Context, op string, err error) {
	if broker.IsBadRequest(err) {
		metrics.IncRejected("bad_request")
	}
	c.logger.Debug("request rejected", slog.String("op", op), slogx.Error(err))
	c.write(ctx, errorFrame(op, broker.Failure(err).Info))
}

func (c *session) write(ctx context.Context, frame []byte) {
	if err := c.conn.WriteFrame(ctx, frame); err != nil {
		c.logger.Debug("write failed, closing connection", slogx.Error(err))
		_ = c.conn.Close()
	}
}
