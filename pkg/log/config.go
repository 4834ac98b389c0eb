package log

import (
	"fmt"
	"strings"
)

// Config declares a logger in terms of level/format strings, typically
// sourced from flags or WORKBOX_LOG_* environment variables.
type Config struct {
	Level  string
	Format string
}

// ParseLevel converts a level name into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from a Config. Empty fields fall back to
// info/text.
func ApplyConfig(cfg *Config) (Logger, error) {
	level := InfoLevel
	if cfg.Level != "" {
		l, err := ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}
	var formatter Formatter
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}
	return NewLogger(
		WithLevel(level),
		WithFormatter(formatter),
		WithOutput(NewConsoleOutput()),
	), nil
}
