package queuestore

import "encoding/binary"

// Key prefixes for the entry store.
const (
	prefixMeta  = "wb/meta"
	prefixEntry = "wb/entry/"
	prefixQIdx  = "wb/qidx/"
)

// orderKey encodes a signed id so that byte order equals numeric order:
// flip the sign bit and write big-endian. Negative ids sort first.
func orderKey(id int64) [8]byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(id)^(1<<63))
	return k
}

// idFromOrderKey reverses orderKey.
func idFromOrderKey(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k) ^ (1 << 63))
}

// metaKey returns the store metadata key.
func metaKey() []byte { return []byte(prefixMeta) }

// entryKey returns the record key for an id.
// Format: wb/entry/{orderKey(id)}
func entryKey(id int64) []byte {
	ok := orderKey(id)
	key := make([]byte, len(prefixEntry)+8)
	copy(key, prefixEntry)
	copy(key[len(prefixEntry):], ok[:])
	return key
}

// entryPrefixRange returns the [lo, hi) bounds covering all entry records.
func entryPrefixRange() ([]byte, []byte) {
	return keyRange(prefixEntry)
}

// queueIdxKey returns the secondary index key for an entry.
// Format: wb/qidx/{queueName}/{orderKey(id)}
func queueIdxKey(queueName string, id int64) []byte {
	ok := orderKey(id)
	prefix := prefixQIdx + queueName + "/"
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	copy(key[len(prefix):], ok[:])
	return key
}

// queueIdxRange returns the [lo, hi) bounds covering one queue's index.
func queueIdxRange(queueName string) ([]byte, []byte) {
	return keyRange(prefixQIdx + queueName + "/")
}

// idFromQueueIdxKey extracts the entry id from an index key.
func idFromQueueIdxKey(key []byte) int64 {
	return idFromOrderKey(key[len(key)-8:])
}

// keyRange returns start and end keys for scanning with a prefix.
// The end key is exclusive (prefix + 0xFF suffix).
func keyRange(prefix string) ([]byte, []byte) {
	start := []byte(prefix)
	end := make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = 0xFF
	return start, end
}
