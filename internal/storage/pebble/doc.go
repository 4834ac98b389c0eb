// Package pebblestore provides a thin wrapper around Pebble with fsync
// policy, batches, range deletes, and a minimal metrics hook.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	// Atomic updates with batches
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
//
// The queue store keeps every public operation inside a single committed
// batch, so a crash never leaves a half-applied operation behind.
package pebblestore
