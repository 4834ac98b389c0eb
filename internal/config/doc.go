// Package config loads runtime configuration from a JSON file with
// WORKBOX_* environment overrides, and resolves the default data directory
// per host OS.
package config
