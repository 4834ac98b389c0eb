// Package queuesvc is the admin-facing service over the entry store: queue
// listing, entry inspection with CEL filters, one-shot drains, and entry
// deletion. Both the HTTP server and the CLI sit on top of it.
package queuesvc
