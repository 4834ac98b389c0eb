// Package serverrun boots the daemon: storage, watcher, configured queues,
// and the admin HTTP server, blocking until shutdown.
package serverrun
