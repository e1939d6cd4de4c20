// Package logger configures slog for the service and carries per-request
// fields (request id, account address) through the context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	accountKey   contextKey = "account"
)

// Init installs the default logger from LOG_FORMAT ("json" or "text", default json)
// and LOG_LEVEL (DEBUG, INFO, WARN, ERROR; default INFO), writing to stdout.
func Init() error {
	l, err := New(os.Stdout, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	return nil
}

// New builds a logger writing to w. Empty format and level select the defaults.
func New(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl := slog.LevelInfo
	if level != "" {
		switch strings.ToUpper(level) {
		case "DEBUG", "INFO", "WARN", "ERROR":
			if err := lvl.UnmarshalText([]byte(level)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("invalid LOG_LEVEL: %s (must be DEBUG, INFO, WARN, or ERROR)", level)
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", format)
	}
}

// WithRequestID tags ctx with the id of the HTTP request being served.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request id in ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithAccount tags ctx with the smart account address an action operates on.
func WithAccount(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, accountKey, address)
}

// GetAccount returns the account address in ctx, or "".
func GetAccount(ctx context.Context) string {
	addr, _ := ctx.Value(accountKey).(string)
	return addr
}

// FromContext returns the default logger with the context's request id and
// account attached.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := GetRequestID(ctx); id != "" {
		l = l.With(string(requestIDKey), id)
	}
	if addr := GetAccount(ctx); addr != "" {
		l = l.With(string(accountKey), addr)
	}
	return l
}

func Info(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Info(msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Error(msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warn(msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debug(msg, args...)
}
