package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays WORKBOX_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("WORKBOX_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("WORKBOX_PROBE_URL"); v != "" {
		cfg.ProbeURL = v
	}
	if v := os.Getenv("WORKBOX_PROBE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProbeIntervalSeconds = n
		}
	}
	if v := os.Getenv("WORKBOX_MAX_RETENTION_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetentionMinutes = n
		}
	}
	if v := os.Getenv("WORKBOX_QUEUES"); v != "" {
		parts := strings.Split(v, ",")
		cfg.Queues = nil
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Queues = append(cfg.Queues, p)
			}
		}
	}
}
