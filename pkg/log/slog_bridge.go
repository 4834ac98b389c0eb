package log

import (
	"context"
	stdlog "log"
	"log/slog"
)

// bridgeHandler is a slog.Handler that routes records through the logger's
// formatter/output pipeline so slog-aware dependencies share our sink.
type bridgeHandler struct {
	logger *BaseLogger
	attrs  []slog.Attr
	group  string
}

func newBridgeHandler(logger *BaseLogger) *bridgeHandler {
	return &bridgeHandler{logger: logger}
}

// Enabled gates by the BaseLogger level.
func (h *bridgeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.level <= fromSlogLevel(level)
}

// Handle converts the slog record to an Entry and writes it.
func (h *bridgeHandler) Handle(_ context.Context, r slog.Record) error {
	fields := Fields{}
	for i := range h.attrs {
		a := h.attrs[i]
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})

	entry := &Entry{
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Fields:    fields,
		Timestamp: r.Time,
	}
	formatted, err := h.logger.formatter.Format(entry)
	if err != nil {
		return err
	}
	for _, out := range h.logger.outputs {
		_ = out.Write(entry, formatted)
	}
	return nil
}

// WithAttrs returns a copy of the handler with additional base attributes.
func (h *bridgeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	if len(attrs) > 0 {
		nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	}
	return &nh
}

// WithGroup returns a copy of the handler; grouping is stored but otherwise
// not used by the pipeline.
func (h *bridgeHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.group = name
	return &nh
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level <= slog.LevelDebug:
		return DebugLevel
	case level == slog.LevelInfo:
		return InfoLevel
	case level == slog.LevelWarn:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

// stdLogBridge adapts Logger into an io.Writer for the standard library log
// package. Pebble and other stdlib-logging dependencies end up here.
type stdLogBridge struct {
	logger Logger
}

func (b stdLogBridge) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	b.logger.Debug(msg, Component("stdlog"))
	return len(p), nil
}

// RedirectStdLog routes standard library log output through the given Logger.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdLogBridge{logger: logger})
}
