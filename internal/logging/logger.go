// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/adiadia/triage-runtime/internal/redact"
)

// NewLogger returns a project-standard slog logger.
// - env=dev: text handler with source locations
// - env=prod: JSON handler without source locations
// LOG_LEVEL controls the level (debug/info/warn/error), default info.
// String and error attributes pass through the PII redactor.
func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env, parseLevel(os.Getenv("LOG_LEVEL")))
}

func newLogger(w io.Writer, env string, level slog.Level) *slog.Logger {
	r := redact.New()

	if strings.EqualFold(strings.TrimSpace(env), "prod") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			AddSource:   false,
			ReplaceAttr: redactAttr(r),
		}))
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		AddSource:   true,
		ReplaceAttr: redactAttr(r),
	}))
}

func redactAttr(r *redact.Redactor) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		switch a.Value.Kind() {
		case slog.KindString:
			if s := a.Value.String(); r.Contains(s) {
				a.Value = slog.StringValue(r.Redact(s))
			}
		case slog.KindAny:
			if err, ok := a.Value.Any().(error); ok && err != nil {
				if s := err.Error(); r.Contains(s) {
					a.Value = slog.StringValue(r.Redact(s))
				}
			}
		}
		return a
	}
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
