// Package httpapi serves the broker over HTTP. Messages are published with
// POST, history is previewed with GET, and live subscriptions are WebSocket
// streams.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/casualjim/tagcast/internal/broker"
	"github.com/casualjim/tagcast/internal/workerpool"
	"github.com/casualjim/tagcast/pkg/slogx"
	"github.com/fogfish/opts"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

var (
	WithLogger = opts.ForName[Server, *slog.Logger]("logger")
	// WithPublishRate limits POST /v1/messages per client IP per minute. Zero disables the limit.
	WithPublishRate     = opts.ForName[Server, int]("publishRate")
	WithWriteTimeout    = opts.ForName[Server, time.Duration]("writeTimeout")
	WithShutdownTimeout = opts.ForName[Server, time.Duration]("shutdownTimeout")
)

type Server struct {
	broker          broker.Broker
	pool            *workerpool.Pool
	logger          *slog.Logger
	publishRate     int
	writeTimeout    time.Duration
	shutdownTimeout time.Duration

	upgrader websocket.Upgrader
	router   chi.Router
}

func New(b broker.Broker, pool *workerpool.Pool, options ...opts.Option[Server]) *Server {
	s := &Server{
		broker:          b,
		pool:            pool,
		writeTimeout:    5 * time.Second,
		shutdownTimeout: 10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	s.logger = slogx.Component(s.logger, "http")
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(publishLimit(s.publishRate)).Post("/messages", s.publish)
		r.Get("/messages", s.history)
		r.Get("/messages/{seq}", s.message)
		r.Get("/subscribe", s.subscribe)
		r.Get("/subscriptions", s.subscriptions)
		r.Delete("/subscriptions/{id}", s.unsubscribe)
		r.Get("/schema/{name}", s.schema)
	})
	return r
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		// hijacked WebSocket connections are not tracked by Shutdown
		_ = srv.Close()
	}
	<-errc
	s.logger.Info("http server stopped")
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
