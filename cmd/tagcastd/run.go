package main

import (
	"context"
	"log/slog"

	"github.com/casualjim/tagcast/internal/broker"
	"github.com/casualjim/tagcast/internal/config"
	"github.com/casualjim/tagcast/internal/server/httpapi"
	"github.com/casualjim/tagcast/internal/server/natsapi"
	"github.com/casualjim/tagcast/internal/server/tcp"
	"github.com/casualjim/tagcast/internal/workerpool"
	"github.com/casualjim/tagcast/pkg/natsx"
	"github.com/casualjim/tagcast/pkg/slogx"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// run wires the broker to every enabled front end and blocks until ctx is
// cancelled or one of them fails.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	b := broker.Local(
		broker.WithMailboxSize(cfg.MailboxSize),
		broker.WithSendTimeout(cfg.SendTimeout),
		broker.WithLogger(logger),
	)
	pool := workerpool.New(
		workerpool.WithWorkers(cfg.Workers),
		workerpool.WithQueueSize(cfg.QueueSize),
		workerpool.WithLogger(logger),
	)

	var nc *nats.Conn
	if cfg.NATSEnabled() {
		var err error
		if nc, err = natsx.NewClient(cfg.NATSURL, logger); err != nil {
			return err
		}
		defer nc.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })

	if cfg.TCPAddr != "" {
		srv := tcp.New(b, pool,
			tcp.WithLogger(logger),
			tcp.WithWriteTimeout(cfg.SendTimeout),
		)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.TCPAddr) })
	}

	if cfg.HTTPAddr != "" {
		srv := httpapi.New(b, pool,
			httpapi.WithLogger(logger),
			httpapi.WithPublishRate(cfg.PublishRate),
			httpapi.WithWriteTimeout(cfg.SendTimeout),
			httpapi.WithShutdownTimeout(cfg.ShutdownTimeout),
		)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.HTTPAddr) })
	}

	if nc != nil {
		srv := natsapi.New(b, pool, nc,
			natsapi.WithLogger(logger),
			natsapi.WithPrefix(cfg.NATSPrefix),
			natsapi.WithSendTimeout(cfg.SendTimeout),
		)
		g.Go(func() error { return srv.Serve(gctx) })
	}

	logger.Info("tagcastd started",
		slog.String("tcp", cfg.TCPAddr),
		slog.String("http", cfg.HTTPAddr),
		slog.Bool("nats", cfg.NATSEnabled()),
		slog.Int("workers", cfg.Workers),
	)
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if cerr := b.Close(shutdownCtx); cerr != nil {
		logger.Warn("broker did not shut down cleanly", slogx.Error(cerr))
	}
	logger.Info("tagcastd stopped")
	return err
}
