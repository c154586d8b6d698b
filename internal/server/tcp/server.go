// Package tcp serves the broker over a newline delimited TCP protocol.
//
// Every line a client sends is one frame:
//
//	SUBSCRIBE:alert,info                     subscribe this connection
//	UNSUBSCRIBE                              drop this connection's subscription
//	{"op":"subscribe","tags":["alert"],"since":3}
//	{"op":"unsubscribe","id":"..."}
//	{"sender":"s","tags":["alert"],"content":"fire"}   publish (op optional)
//
// The server answers each request with an ack or error frame. A subscribed
// connection then receives message frames. Frames are read by one goroutine
// per connection and handled on the shared worker pool, in order.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/casualjim/tagcast/internal/broker"
	"github.com/casualjim/tagcast/internal/metrics"
	"github.com/casualjim/tagcast/internal/workerpool"
	"github.com/casualjim/tagcast/pkg/slogx"
	"github.com/fogfish/opts"
)

const defaultMaxFrameBytes = 1 << 20

var (
	WithLogger        = opts.ForName[Server, *slog.Logger]("logger")
	WithWriteTimeout  = opts.ForName[Server, time.Duration]("writeTimeout")
	WithMaxFrameBytes = opts.ForName[Server, int]("maxFrameBytes")
)

type Server struct {
	broker        broker.Broker
	pool          *workerpool.Pool
	logger        *slog.Logger
	writeTimeout  time.Duration
	maxFrameBytes int

	mu       sync.Mutex
	listener net.Listener
	sessions map[*session]struct{}
	wg       sync.WaitGroup
	ready    chan struct{}
}

func New(b broker.Broker, pool *workerpool.Pool, options ...opts.Option[Server]) *Server {
	s := &Server{
		broker:        b,
		pool:          pool,
		maxFrameBytes: defaultMaxFrameBytes,
		sessions:      make(map[*session]struct{}),
		ready:         make(chan struct{}),
	}
	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	if s.maxFrameBytes <= 0 {
		s.maxFrameBytes = defaultMaxFrameBytes
	}
	s.logger = slogx.Component(s.logger, "tcp")
	return s
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// open connection and waits for their sessions to end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("tcp server listening", slog.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var err error
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil && !errors.Is(aerr, net.ErrClosed) {
				err = aerr
			}
			break
		}
		sess := newSession(s, conn)
		s.track(sess, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(sess, false)
			sess.serve(ctx)
		}()
	}

	s.mu.Lock()
	for sess := range s.sessions {
		_ = sess.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.logger.Info("tcp server stopped")
	return err
}

// Addr blocks until Serve has been called and returns the listener address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr()
}

func (s *Server) track(sess *session, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.sessions[sess] = struct{}{}
		return
	}
	delete(s.sessions, sess)
}

func (s *Server) read(ctx context.Context, sess *session) error {
	scanner := bufio.NewScanner(sess.raw)
	scanner.Buffer(make([]byte, 0, 4096), s.maxFrameBytes)

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		line := append([]byte(nil), scanner.Bytes()...)
		// handlers run under the connection's context, not the pool's
		if err := s.pool.Do(ctx, func(context.Context) { sess.handle(ctx, line) }); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// metricsOp keeps the op label bounded.
func metricsOp(op string) string {
	switch op {
	case OpPublish, OpSubscribe, OpUnsubscribe:
		return op
	default:
		return "invalid"
	}
}

func countInbound(op string) {
	metrics.IncInbound("tcp", metricsOp(op))
}
