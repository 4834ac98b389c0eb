package queuestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/zizaeric/workbox/internal/storage/pebble"
)

// SchemaVersion is the current on-disk layout version.
const SchemaVersion = 2

// ErrSchemaVersion is returned when the store was written by a newer layout.
var ErrSchemaVersion = errors.New("queuestore: unsupported schema version")

// StoreError wraps an underlying storage failure with the operation name.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("queuestore: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error { return &StoreError{Op: op, Err: err} }

// Store persists queue entries in a shared Pebble keyspace.
type Store struct {
	db *pebblestore.DB

	mu     sync.Mutex
	lastID int64
}

// Open prepares the store, migrating older layouts. A version-1 keyspace is
// dropped and recreated empty; its entries are abandoned.
func Open(db *pebblestore.DB) (*Store, error) {
	s := &Store{db: db}

	meta, err := db.Get(metaKey())
	switch {
	case errors.Is(err, pebblestore.ErrNotFound):
		if err := s.writeMeta(0); err != nil {
			return nil, storeErr("init", err)
		}
		return s, nil
	case err != nil:
		return nil, storeErr("open", err)
	}

	if len(meta) < 4 {
		return nil, ErrCorruptRecord
	}
	version := binary.BigEndian.Uint32(meta[:4])
	switch {
	case version == SchemaVersion:
		if len(meta) >= 12 {
			s.lastID = int64(binary.BigEndian.Uint64(meta[4:12]))
		}
		return s, nil
	case version < SchemaVersion:
		if err := s.dropAll(context.Background()); err != nil {
			return nil, storeErr("migrate", err)
		}
		if err := s.writeMeta(0); err != nil {
			return nil, storeErr("migrate", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: found %d, supports %d", ErrSchemaVersion, version, SchemaVersion)
	}
}

func (s *Store) writeMeta(lastID int64) error {
	var meta [12]byte
	binary.BigEndian.PutUint32(meta[:4], SchemaVersion)
	binary.BigEndian.PutUint64(meta[4:12], uint64(lastID))
	return s.db.Set(metaKey(), meta[:])
}

func (s *Store) dropAll(ctx context.Context) error {
	lo, hi := entryPrefixRange()
	if err := s.db.DeleteRange(ctx, lo, hi); err != nil {
		return err
	}
	lo, hi = keyRange(prefixQIdx)
	return s.db.DeleteRange(ctx, lo, hi)
}

// AddLast appends an entry, assigning an id strictly greater than any id the
// store has ever assigned. Returns the id.
func (s *Store) AddLast(ctx context.Context, e *Entry) (int64, error) {
	if e == nil || e.QueueName == "" {
		return 0, errors.New("queuestore: entry with queue name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.lastID + 1
	if err := s.insert(ctx, e, id, true); err != nil {
		return 0, err
	}
	s.lastID = id
	e.ID = id
	return id, nil
}

// AddFirst inserts an entry ahead of every live entry by assigning one less
// than the current minimum id. Ids may go negative. On an empty store this
// degenerates to AddLast.
func (s *Store) AddFirst(ctx context.Context, e *Entry) (int64, error) {
	if e == nil || e.QueueName == "" {
		return 0, errors.New("queuestore: entry with queue name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	min, found, err := s.minID()
	if err != nil {
		return 0, err
	}
	if !found {
		id := s.lastID + 1
		if err := s.insert(ctx, e, id, true); err != nil {
			return 0, err
		}
		s.lastID = id
		e.ID = id
		return id, nil
	}
	id := min - 1
	if err := s.insert(ctx, e, id, false); err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

// insert writes the record, its queue index and (when the counter moved) the
// metadata in one committed batch.
func (s *Store) insert(ctx context.Context, e *Entry, id int64, bumpCounter bool) error {
	stored := *e
	stored.ID = id
	val, err := encodeEntry(&stored)
	if err != nil {
		return storeErr("encode", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(entryKey(id), val, nil); err != nil {
		return storeErr("insert", err)
	}
	if err := b.Set(queueIdxKey(e.QueueName, id), nil, nil); err != nil {
		return storeErr("insert", err)
	}
	if bumpCounter {
		var meta [12]byte
		binary.BigEndian.PutUint32(meta[:4], SchemaVersion)
		binary.BigEndian.PutUint64(meta[4:12], uint64(id))
		if err := b.Set(metaKey(), meta[:], nil); err != nil {
			return storeErr("insert", err)
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return storeErr("insert", err)
	}
	return nil
}

// minID returns the smallest id across all queues.
func (s *Store) minID() (int64, bool, error) {
	lo, hi := entryPrefixRange()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, false, storeErr("scan", err)
	}
	defer iter.Close()
	if !iter.First() {
		return 0, false, nil
	}
	k := iter.Key()
	return idFromOrderKey(k[len(k)-8:]), true, nil
}

// edgeID returns the smallest (first=true) or largest id in a queue.
func (s *Store) edgeID(queueName string, first bool) (int64, bool, error) {
	lo, hi := queueIdxRange(queueName)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, false, storeErr("scan", err)
	}
	defer iter.Close()
	var ok bool
	if first {
		ok = iter.First()
	} else {
		ok = iter.Last()
	}
	if !ok {
		return 0, false, nil
	}
	return idFromQueueIdxKey(iter.Key()), true, nil
}

// getByID loads and decodes one entry.
func (s *Store) getByID(id int64) (*Entry, error) {
	val, err := s.db.Get(entryKey(id))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, nil
		}
		return nil, storeErr("get", err)
	}
	return decodeEntry(id, val)
}

// GetFirst returns the entry with the smallest id in the queue, or nil.
func (s *Store) GetFirst(ctx context.Context, queueName string) (*Entry, error) {
	return s.getEdge(ctx, queueName, true)
}

// GetLast returns the entry with the largest id in the queue, or nil.
func (s *Store) GetLast(ctx context.Context, queueName string) (*Entry, error) {
	return s.getEdge(ctx, queueName, false)
}

func (s *Store) getEdge(_ context.Context, queueName string, first bool) (*Entry, error) {
	id, found, err := s.edgeID(queueName, first)
	if err != nil || !found {
		return nil, err
	}
	return s.getByID(id)
}

// PopFirst returns and removes the head entry of the queue, or nil when
// empty. The read and the delete commit in the same batch.
func (s *Store) PopFirst(ctx context.Context, queueName string) (*Entry, error) {
	return s.popEdge(ctx, queueName, true)
}

// PopLast returns and removes the tail entry of the queue, or nil when empty.
func (s *Store) PopLast(ctx context.Context, queueName string) (*Entry, error) {
	return s.popEdge(ctx, queueName, false)
}

func (s *Store) popEdge(ctx context.Context, queueName string, first bool) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, found, err := s.edgeID(queueName, first)
	if err != nil || !found {
		return nil, err
	}
	e, err := s.getByID(id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(entryKey(id), nil); err != nil {
		return nil, storeErr("pop", err)
	}
	if err := b.Delete(queueIdxKey(queueName, id), nil); err != nil {
		return nil, storeErr("pop", err)
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return nil, storeErr("pop", err)
	}
	return e, nil
}

// GetAll returns the queue's entries ordered by id ascending.
func (s *Store) GetAll(ctx context.Context, queueName string) ([]*Entry, error) {
	lo, hi := queueIdxRange(queueName)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, storeErr("scan", err)
	}
	defer iter.Close()

	var out []*Entry
	for ok := iter.First(); ok; ok = iter.Next() {
		id := idFromQueueIdxKey(iter.Key())
		e, err := s.getByID(id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			// index without record; skip the orphan
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// All returns every entry in the store ordered by id ascending, across all
// queues. Used by the admin surface and by drain-all.
func (s *Store) All(ctx context.Context) ([]*Entry, error) {
	lo, hi := entryPrefixRange()
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, storeErr("scan", err)
	}
	defer iter.Close()

	var out []*Entry
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		id := idFromOrderKey(k[len(k)-8:])
		e, err := decodeEntry(id, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Count returns the number of entries in the queue.
func (s *Store) Count(ctx context.Context, queueName string) (int, error) {
	lo, hi := queueIdxRange(queueName)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, storeErr("scan", err)
	}
	defer iter.Close()
	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	return n, nil
}

// QueueNames returns the distinct queue names present in the store.
func (s *Store) QueueNames(ctx context.Context) ([]string, error) {
	lo, hi := keyRange(prefixQIdx)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, storeErr("scan", err)
	}
	defer iter.Close()

	var names []string
	seen := map[string]bool{}
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		rest := k[len(prefixQIdx) : len(k)-8-1] // strip prefix, trailing "/" + orderKey
		name := string(rest)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

// DeleteByID removes one entry. Reports whether an entry was removed.
func (s *Store) DeleteByID(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getByID(id)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(entryKey(id), nil); err != nil {
		return false, storeErr("delete", err)
	}
	if err := b.Delete(queueIdxKey(e.QueueName, id), nil); err != nil {
		return false, storeErr("delete", err)
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return false, storeErr("delete", err)
	}
	return true, nil
}
