// Package request converts live HTTP requests into fully in-memory records
// suitable for durable storage, and back.
//
// A live *http.Request carries a one-shot body stream; Capture drains it into
// a byte buffer so the record can be stored, cloned, and re-issued any number
// of times. Rebuild produces a fresh *http.Request from a record, attaching a
// new body reader per call. The round trip preserves URL, method, headers,
// body bytes, and the fetch-style option fields (mode, credentials, cache,
// redirect, referrer, integrity) verbatim.
package request
