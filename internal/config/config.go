package config

import (
	"encoding/json"
	"os"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// HTTPAddr is the admin API listen address.
	HTTPAddr string `json:"httpAddr"`
	// ProbeURL is requested with HEAD to detect connectivity.
	ProbeURL string `json:"probeURL"`
	// ProbeIntervalSeconds is the connectivity probe cadence.
	ProbeIntervalSeconds int `json:"probeIntervalSeconds"`
	// MaxRetentionMinutes bounds entry age before expiry-on-read.
	MaxRetentionMinutes int `json:"maxRetentionMinutes"`
	// Queues are opened at startup so their entries drain without a push.
	Queues []string `json:"queues"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:             ":8080",
		ProbeURL:             "https://connectivitycheck.gstatic.com/generate_204",
		ProbeIntervalSeconds: 30,
		MaxRetentionMinutes:  7 * 24 * 60,
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
