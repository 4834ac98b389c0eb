// Package httpserver serves the admin API: queue listings, entry inspection
// and deletion, push, one-shot drains, health, and Prometheus metrics.
package httpserver
