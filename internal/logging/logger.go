// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the replay logger. It writes to stderr so stdout only
// carries the run report.
//
// env=prod logs JSON, anything else logs text with source locations.
// LOG_LEVEL selects debug/info/warn/error and defaults to info. Every record
// carries the service name.
func NewLogger(env, service string) *slog.Logger {
	return newLogger(os.Stderr, env, os.Getenv("LOG_LEVEL")).With("service", service)
}

func newLogger(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: utcTimes,
	}

	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return slog.New(slog.NewJSONHandler(w, opts))
	default:
		opts.AddSource = true
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

// utcTimes renders time attributes in UTC. Visit timestamps come out of the
// dump in UTC and are easier to match against it that way.
func utcTimes(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindTime {
		a.Value = slog.TimeValue(a.Value.Time().UTC())
	}
	return a
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
