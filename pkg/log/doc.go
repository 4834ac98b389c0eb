// Package log provides workbox's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Entries are written directly
// through the logger's formatter/output pipeline. Each logger also builds a
// slog handler over the same pipeline; the package does not export it, so
// slog-aware libraries are not routed through this sink.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("queue"), log.Str("queue", "api-posts"))
//	l.Info("replay finished", log.Int("replayed", 12))
//
// # Configuration
//
// Use ApplyConfig to build a logger from level/format strings (typically
// sourced from WORKBOX_LOG_LEVEL / WORKBOX_LOG_FORMAT). RedirectStdLog
// routes standard library log output (used by Pebble) through a Logger.
package log
