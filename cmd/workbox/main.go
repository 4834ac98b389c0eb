package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	serverrun "github.com/zizaeric/workbox/internal/cmd/server"
	cfgpkg "github.com/zizaeric/workbox/internal/config"
	pebblestore "github.com/zizaeric/workbox/internal/storage/pebble"
	logpkg "github.com/zizaeric/workbox/pkg/log"
)

func main() {
	// best-effort .env for local development
	_ = godotenv.Load()

	level := os.Getenv("WORKBOX_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "workbox",
		Short: "Workbox background-sync runtime",
		Long:  "Workbox queues failed outbound requests durably and replays them when connectivity returns.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the workbox daemon (admin HTTP + connectivity watcher)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			configPath, _ := cmd.Flags().GetString("config")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)

			if logLevel != "" {
				_ = os.Setenv("WORKBOX_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("WORKBOX_LOG_FORMAT", logFormat)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (default: OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "Admin HTTP listen address (default from config, :8080)")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms")
	serverStartCmd.Flags().String("config", os.Getenv("WORKBOX_CONFIG"), "Path to JSON config file")
	serverStartCmd.Flags().String("log-level", os.Getenv("WORKBOX_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("WORKBOX_LOG_FORMAT"), "Log format: text|json")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// queue operations against a running daemon
	queueCmd := &cobra.Command{Use: "queue", Short: "Queue operations"}

	queueListCmd := &cobra.Command{
		Use:   "list",
		Short: "List queues and entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(apiURL() + "/v1/queues")
		},
	}
	queueCmd.AddCommand(queueListCmd)

	queueStatsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-queue entry counts and head/tail enqueue times",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON(apiURL() + "/v1/queues/stats")
		},
	}
	queueCmd.AddCommand(queueStatsCmd)

	queueEntriesCmd := &cobra.Command{
		Use:   "entries <queue>",
		Short: "List a queue's entries, optionally filtered with a CEL expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			u := apiURL() + "/v1/queues/" + url.PathEscape(args[0]) + "/entries"
			if filter != "" {
				u += "?filter=" + url.QueryEscape(filter)
			}
			return getJSON(u)
		},
	}
	queueEntriesCmd.Flags().String("filter", "", `CEL filter, e.g. 'method == "POST" && age_ms > 60000'`)
	queueCmd.AddCommand(queueEntriesCmd)

	queuePushCmd := &cobra.Command{
		Use:   "push <queue> <url>",
		Short: "Queue a request for background replay",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, _ := cmd.Flags().GetString("method")
			payload, _ := cmd.Flags().GetString("body")
			body := map[string]any{"url": args[1], "method": method}
			if payload != "" {
				body["body"] = payload
			}
			b, _ := json.Marshal(body)
			resp, err := http.Post(apiURL()+"/v1/queues/"+url.PathEscape(args[0])+"/push",
				"application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			fmt.Println("status:", resp.Status)
			return nil
		},
	}
	queuePushCmd.Flags().String("method", "GET", "Request method")
	queuePushCmd.Flags().String("body", "", "Request body")
	queueCmd.AddCommand(queuePushCmd)

	queueDrainCmd := &cobra.Command{
		Use:   "drain <queue>",
		Short: "Replay a queue now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(apiURL()+"/v1/queues/"+url.PathEscape(args[0])+"/drain",
				"application/json", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			io.Copy(os.Stdout, resp.Body)
			return nil
		},
	}
	queueCmd.AddCommand(queueDrainCmd)
	rootCmd.AddCommand(queueCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getJSON(u string) error {
	resp, err := http.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func apiURL() string {
	if v := os.Getenv("WORKBOX_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
