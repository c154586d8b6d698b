// Package config loads the daemon configuration.
//
// Precedence is environment > YAML file > defaults. The file is optional and
// parsed strictly: unknown keys are an error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile      = "TAGCAST_CONFIG"
	EnvTCPAddr         = "TAGCAST_TCP_ADDR"
	EnvHTTPAddr        = "TAGCAST_HTTP_ADDR"
	EnvNATSURL         = "NATS_URL"
	EnvNATSPrefix      = "TAGCAST_NATS_PREFIX"
	EnvWorkers         = "TAGCAST_WORKERS"
	EnvQueueSize       = "TAGCAST_QUEUE_SIZE"
	EnvMailboxSize     = "TAGCAST_MAILBOX_SIZE"
	EnvSendTimeout     = "TAGCAST_SEND_TIMEOUT"
	EnvShutdownTimeout = "TAGCAST_SHUTDOWN_TIMEOUT"
	EnvPublishRate     = "TAGCAST_PUBLISH_RATE"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	TCPAddr  string `yaml:"tcpAddr" json:"tcpAddr"`
	HTTPAddr string `yaml:"httpAddr" json:"httpAddr"`

	// NATSURL empty disables the NATS front end.
	NATSURL    string `yaml:"natsUrl" json:"natsUrl"`
	NATSPrefix string `yaml:"natsPrefix" json:"natsPrefix"`

	Workers     int           `yaml:"workers" json:"workers"`
	QueueSize   int           `yaml:"queueSize" json:"queueSize"`
	MailboxSize int           `yaml:"mailboxSize" json:"mailboxSize"`
	SendTimeout time.Duration `yaml:"sendTimeout" json:"sendTimeout"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	// PublishRate is the HTTP publish limit per client IP per minute; 0 disables it.
	PublishRate int `yaml:"publishRate" json:"publishRate"`

	LogLevel  string `yaml:"logLevel" json:"logLevel"`
	LogFormat string `yaml:"logFormat" json:"logFormat"`
}

func Default() Config {
	return Config{
		TCPAddr:         ":5001",
		HTTPAddr:        ":5000",
		NATSPrefix:      "tagcast",
		Workers:         32,
		QueueSize:       1024,
		MailboxSize:     256,
		SendTimeout:     5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load builds the configuration from defaults, the file named by path (or by
// TAGCAST_CONFIG when path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := mergeEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func mergeEnv(cfg *Config) error {
	var errs []error
	envString(EnvTCPAddr, &cfg.TCPAddr)
	envString(EnvHTTPAddr, &cfg.HTTPAddr)
	envString(EnvNATSURL, &cfg.NATSURL)
	envString(EnvNATSPrefix, &cfg.NATSPrefix)
	envString(EnvLogLevel, &cfg.LogLevel)
	envString(EnvLogFormat, &cfg.LogFormat)
	errs = append(errs,
		envInt(EnvWorkers, &cfg.Workers),
		envInt(EnvQueueSize, &cfg.QueueSize),
		envInt(EnvMailboxSize, &cfg.MailboxSize),
		envInt(EnvPublishRate, &cfg.PublishRate),
		envDuration(EnvSendTimeout, &cfg.SendTimeout),
		envDuration(EnvShutdownTimeout, &cfg.ShutdownTimeout),
	)
	return errors.Join(errs...)
}

// envString overrides dst when key is set. An empty value counts as set so
// NATS_URL= can switch NATS off.
func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, v)
	}
	*dst = d
	return nil
}

// NATSEnabled reports whether the NATS front end should run.
func (c Config) NATSEnabled() bool {
	return c.NATSURL != ""
}

func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.TCPAddr != "" || c.HTTPAddr != "" || c.NATSEnabled(), "at least one of tcpAddr, httpAddr or natsUrl is required")
	check(!c.NATSEnabled() || c.NATSPrefix != "", "natsPrefix is required when NATS is enabled")
	check(c.Workers > 0, "workers must be positive, got %d", c.Workers)
	check(c.QueueSize >= 0, "queueSize must not be negative, got %d", c.QueueSize)
	check(c.MailboxSize > 0, "mailboxSize must be positive, got %d", c.MailboxSize)
	check(c.SendTimeout > 0, "sendTimeout must be positive, got %s", c.SendTimeout)
	check(c.ShutdownTimeout > 0, "shutdownTimeout must be positive, got %s", c.ShutdownTimeout)
	check(c.PublishRate >= 0, "publishRate must not be negative, got %d", c.PublishRate)

	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		check(false, "logFormat must be console or json, got %q", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		check(false, "unknown logLevel %q", c.LogLevel)
	}
	return errors.Join(errs...)
}
