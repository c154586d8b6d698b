package slogx

import (
	"fmt"
	"log/slog"
	"strings"
)

// KeyLoggerName is the attribute key carrying the component that logged.
const KeyLoggerName = "logger"

// Error returns an "error" attribute holding the error's message.
// A nil error is rendered as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// ByteString logs a byte slice, typically a raw wire frame, as a string.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}

// Stringer logs the String() form of value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// Tags logs a list of tag labels as one comma separated value.
func Tags(key string, labels []string) slog.Attr {
	return slog.String(key, strings.Join(labels, ","))
}

// LoggerName names the component a logger belongs to.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Component derives a child logger for the named component, falling back to
// slog.Default when logger is nil.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(LoggerName(name))
}
