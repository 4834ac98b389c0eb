// Package queue implements the durable per-name FIFO of failed requests and
// its replay state machine.
//
// A Queue serializes live *http.Request values into the shared entry store
// and re-issues them in enqueue order when its sync tag fires (or eagerly at
// construction on hosts without a trigger). Replay pops the head, skips
// entries older than the retention window, and stops on the first network
// failure after re-inserting the failed entry at the head, so a dead
// endpoint never burns through the rest of the queue.
//
// Queue names are process-unique: constructing a second Queue with a name
// already in use fails. Entries for a name written by a previous process
// incarnation are picked up by the first replay of the new incarnation.
//
// Delivery semantics: an entry popped for replay whose fetch never completes
// is lost with the process (at most once); an entry whose fetch completed
// but whose process died before the loop advanced is replayed again (at
// least once). Callers tolerate both.
package queue
