// Package natsapi serves the broker over NATS request/reply.
//
// Requests arrive on three subjects under a prefix (default "tagcast"):
//
//	<prefix>.publish      a message; reply {success, info, seq}
//	<prefix>.subscribe    {tags, deliver, id?, since?}; reply {success, info, id}
//	<prefix>.unsubscribe  {id}; reply {success}
//
// A subscriber names a deliver subject. Messages are pushed there as
// requests and must be acknowledged with any reply; a subscriber that stops
// answering is evicted.
package natsapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/casualjim/tagcast/internal/broker"
	"github.com/casualjim/tagcast/internal/metrics"
	"github.com/casualjim/tagcast/internal/workerpool"
	"github.com/casualjim/tagcast/messages"
	"github.com/casualjim/tagcast/pkg/slogx"
	"github.com/casualjim/tagcast/transport"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// ErrDeliverRequired rejects a subscribe request without a deliver subject.
var ErrDeliverRequired = errors.New("deliver subject is required")

// InfoBusy is the reply info when the worker queue has no free slot.
const InfoBusy = "Server busy, try again later."

var (
	WithLogger      = opts.ForName[Server, *slog.Logger]("logger")
	WithPrefix      = opts.ForName[Server, string]("prefix")
	WithQueueGroup  = opts.ForName[Server, string]("queueGroup")
	WithSendTimeout = opts.ForName[Server, time.Duration]("sendTimeout")
)

type Server struct {
	broker      broker.Broker
	pool        *workerpool.Pool
	conn        *nats.Conn
	logger      *slog.Logger
	prefix      string
	queueGroup  string
	sendTimeout time.Duration
}

func New(b broker.Broker, pool *workerpool.Pool, nc *nats.Conn, options ...opts.Option[Server]) *Server {
	s := &Server{
		broker:      b,
		pool:        pool,
		conn:        nc,
		prefix:      "tagcast",
		queueGroup:  "tagcast",
		sendTimeout: transport.DefaultWriteTimeout,
	}
	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	s.logger = slogx.Component(s.logger, "nats")
	return s
}

func (s *Server) Subject(op string) string {
	return s.prefix + "." + op
}

// Serve subscribes to the request subjects and handles requests until ctx is
// cancelled, then drains the subscriptions.
func (s *Server) Serve(ctx context.Context) error {
	handlers := map[string]func(context.Context, *nats.Msg){
		"publish":     s.publish,
		"subscribe":   s.subscribe,
		"unsubscribe": s.unsubscribe,
	}

	var subs []*nats.Subscription
	defer func() {
		for _, sub := range subs {
			_ = sub.Drain()
		}
	}()

	for op, handle := range handlers {
		sub, err := s.conn.QueueSubscribe(s.Subject(op), s.queueGroup, func(m *nats.Msg) {
			metrics.IncInbound("nats", op)
			// never block the connection's dispatcher on a full queue
			err := s.pool.TrySubmit(func(context.Context) { handle(ctx, m) })
			switch {
			case errors.Is(err, workerpool.ErrQueueFull):
				metrics.IncRejected("busy")
				s.respond(m, messages.Reply{Info: InfoBusy})
			case err != nil:
				s.respond(m, broker.Failure(err))
			}
		})
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}
	if err := s.conn.Flush(); err != nil {
		return err
	}

	s.logger.Info("nats server listening", slog.String("prefix", s.prefix))
	<-ctx.Done()
	s.logger.Info("nats server stopped")
	return nil
}

func (s *Server) publish(ctx context.Context, m *nats.Msg) {
	msg, err := messages.Decode(m.Data)
	if err == nil {
		msg, err = s.broker.Publish(ctx, msg)
	}
	if err != nil {
		s.fail(m, "publish", err)
		return
	}
	s.respond(m, messages.Reply{Success: true, Seq: msg.Seq})
}

func (s *Server) subscribe(ctx context.Context, m *nats.Msg) {
	var req messages.SubscribeRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		s.fail(m, "subscribe", broker.ErrInvalidInterestSet)
		return
	}
	if req.Deliver == "" {
		s.fail(m, "subscribe", ErrDeliverRequired)
		return
	}
	id := req.ID
	if id == "" {
		id = req.Deliver
	}

	gate := transport.NewGate(transport.NewNATSPush(s.conn, req.Deliver, s.sendTimeout))
	sub, err := s.broker.Subscribe(ctx, broker.Subscriber{
		ID:       id,
		Interest: req.Interest(),
		Sender:   gate,
		Since:    req.Since,
	})
	if err != nil {
		s.fail(m, "subscribe", err)
		return
	}
	s.respond(m, messages.Reply{Success: true, ID: sub.ID()})
	gate.Open()
}

func (s *Server) unsubscribe(_ context.Context, m *nats.Msg) {
	var req messages.UnsubscribeRequest
	if err := json.Unmarshal(m.Data, &req); err != nil || req.ID == "" {
		s.respond(m, messages.Reply{Info: "id is required."})
		return
	}
	s.broker.Unsubscribe(req.ID)
	s.respond(m, messages.Reply{Success: true, ID: req.ID})
}

func (s *Server) fail(m *nats.Msg, op string, err error) {
	if broker.IsBadRequest(err) || errors.Is(err, ErrDeliverRequired) {
		metrics.IncRejected("bad_request")
	}
	s.logger.Debug("request rejected", slog.String("op", op), slogx.Error(err))
	s.respond(m, broker.Failure(err))
}

func (s *Server) respond(m *nats.Msg, reply messages.Reply) {
	if m.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("encoding reply failed", slogx.Error(err))
		return
	}
	if err := m.Respond(data); err != nil {
		s.logger.Debug("reply failed", slog.String("subject", m.Subject), slogx.Error(err))
	}
}
