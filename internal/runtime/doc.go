// Package runtime wires storage, the entry store, the connectivity watcher,
// metrics, and queue construction for a single-node instance. It is the
// composition root used by the CLI and the admin server.
package runtime
