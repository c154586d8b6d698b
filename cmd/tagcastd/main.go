// Command tagcastd runs the tag based publish/subscribe broker with its TCP,
// HTTP/WebSocket and (optionally) NATS front ends.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/casualjim/tagcast/internal/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	configFile string
	tcpAddr    string
	httpAddr   string
	natsURL    string
	natsPrefix string
	workers    int
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "tagcastd",
		Short:         "Tag based publish/subscribe broker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = run(ctx, cfg, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configFile, "config", "c", "", "YAML config file (env: "+config.EnvConfigFile+")")
	pf.StringVar(&f.tcpAddr, "tcp-addr", "", "TCP line protocol listen address, empty to disable")
	pf.StringVar(&f.httpAddr, "http-addr", "", "HTTP listen address, empty to disable")
	pf.StringVar(&f.natsURL, "nats-url", "", "NATS server URL, empty to disable")
	pf.StringVar(&f.natsPrefix, "nats-prefix", "", "subject prefix for NATS requests")
	pf.IntVar(&f.workers, "workers", 0, "request worker count")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&f.logFormat, "log-format", "", "console or json")

	root.AddCommand(newConfigCmd(&f))
	return root
}

// load reads the configuration and applies the flags the user set explicitly.
func (f *flags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("tcp-addr") {
		cfg.TCPAddr = f.tcpAddr
	}
	if changed("http-addr") {
		cfg.HTTPAddr = f.httpAddr
	}
	if changed("nats-url") {
		cfg.NATSURL = f.natsURL
	}
	if changed("nats-prefix") {
		cfg.NATSPrefix = f.natsPrefix
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	return cfg, cfg.Validate()
}

func newConfigCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}
