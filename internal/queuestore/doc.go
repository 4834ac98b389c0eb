// Package queuestore implements the durable entry store backing request
// queues.
//
// Entries live in a single Pebble keyspace shared by every queue in the
// process. The primary key is a signed 64-bit id whose big-endian,
// sign-flipped encoding preserves numeric order, so an iterator over the
// entry prefix walks entries in insertion order. A per-queue secondary index
// keyed by queue name serves head/tail reads without scanning other queues'
// entries.
//
// # Keyspace
//
//	wb/meta                          - schema version | last assigned id
//	wb/entry/{orderKey(id)}          - entry record (codec below)
//	wb/qidx/{queueName}/{orderKey(id)} - queue-name index, empty value
//
// # Record codec
//
// varint headerLen | header | payload | crc32c(header|payload), where header
// is the 8-byte big-endian enqueue timestamp followed by the queue name and
// payload is the JSON entry body. A failed checksum surfaces as
// ErrCorruptRecord rather than a silently skipped entry.
//
// # Id assignment
//
// AddLast assigns last+1 from a persisted counter, so ids stay strictly
// increasing across restarts even after tail deletions. AddFirst assigns
// min(existing)-1, which may go negative; head inserts therefore order ahead
// of every live entry without rewriting them.
//
// Every operation commits exactly one batch. Pop reads and deletes in the
// same batch, so an entry is either still stored or fully handed out, never
// half-removed.
package queuestore
