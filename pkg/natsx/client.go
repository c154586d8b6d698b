package natsx

import (
	"log/slog"
	"os"
	"time"

	"github.com/casualjim/tagcast/pkg/slogx"
	"github.com/nats-io/nats.go"
)

// ClientName is the connection name reported to the NATS server.
const ClientName = "tagcast"

// NewClient connects to url, or to NATS_URL when url is empty. Without extra
// options the connection is named "tagcast", compressed, and retries forever
// while logging disconnects through logger.
func NewClient(url string, logger *slog.Logger, opts ...nats.Option) (*nats.Conn, error) {
	if url == "" {
		url = os.Getenv("NATS_URL")
	}
	if len(opts) == 0 {
		opts = DefaultOptions(logger)
	}
	return nats.Connect(url, opts...)
}

// DefaultOptions returns the connection options used by the tagcast daemon.
func DefaultOptions(logger *slog.Logger) []nats.Option {
	logger = slogx.Component(logger, "nats")
	return []nats.Option{
		nats.Name(ClientName),
		nats.Compression(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slogx.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
}
