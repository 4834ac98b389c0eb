// Package transport provides an http.RoundTripper that queues requests
// which fail with a network error, so they replay when connectivity
// returns.
//
// The transport forwards to its base round tripper. On a transport-level
// failure (connection refused, DNS, timeout) the request is serialized into
// the owning queue and the caller receives a synthesized 503 response with
// Retry-After, carrying the capture id in X-Workbox-Queued. HTTP error
// statuses from the upstream are returned untouched; only failures to reach
// the upstream queue.
//
// A circuit breaker fronts the network attempt: after repeated consecutive
// failures the breaker opens and requests go straight to the queue without
// burning a connection timeout each.
package transport
