package logger

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// levelNames renders the custom TRACE level instead of slog's "DEBUG-4".
var levelNames = map[slog.Level]string{
	traceLevelValue: "TRACE",
}

// timezoneReplacer converts record timestamps to tz and names custom levels.
func timezoneReplacer(tz *time.Location) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			if tz != nil {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.Time(slog.TimeKey, t.In(tz))
				}
			}
		case slog.LevelKey:
			if lvl, ok := a.Value.Any().(slog.Level); ok {
				if name, found := levelNames[lvl]; found {
					return slog.String(slog.LevelKey, name)
				}
			}
		}
		return a
	}
}

// newTextHandler creates the human-readable console handler.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: timezoneReplacer(tz),
	})
}

// NewSlogLogger returns a Logger writing text records to w.
// A nil writer falls back to stdout and a nil timezone to UTC. Intended for
// tests and for code paths that run before configuration is loaded.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stdout
	}
	if tz == nil {
		tz = time.UTC
	}
	lvl := parseSlogLevel(level)
	return &moduleLogger{
		logger:   slog.New(newTextHandler(w, lvl, tz)),
		level:    lvl,
		timezone: tz,
	}
}
