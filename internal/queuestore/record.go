package queuestore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"

	"github.com/zizaeric/workbox/internal/request"
)

// Record value layout: uvarint headerLen | header | payload | crc32c, where
// header = ts_ms (8B BE) | queueName bytes and payload is the JSON entry
// body. The checksum covers header and payload.

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptRecord is returned when a stored record fails its checksum or
// cannot be decoded.
var ErrCorruptRecord = errors.New("queuestore: corrupt record")

// Entry is one stored queue element.
type Entry struct {
	// ID is assigned by the store on insert and defines total order across
	// all queues sharing the store.
	ID int64
	// QueueName names the owning queue.
	QueueName string
	// Request is the serialized request to replay.
	Request *request.Data
	// TimestampMs is the enqueue time in milliseconds since epoch. Callers
	// may override it on insert.
	TimestampMs int64
	// Metadata is caller-supplied and preserved verbatim.
	Metadata map[string]string
}

// entryBody is the JSON payload portion of a record.
type entryBody struct {
	Request  *request.Data     `json:"requestData"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// encodeEntry serializes an entry into its record value.
func encodeEntry(e *Entry) ([]byte, error) {
	payload, err := json.Marshal(entryBody{Request: e.Request, Metadata: e.Metadata})
	if err != nil {
		return nil, err
	}

	header := make([]byte, 8+len(e.QueueName))
	binary.BigEndian.PutUint64(header[:8], uint64(e.TimestampMs))
	copy(header[8:], e.QueueName)

	var lenBuf [binary.MaxVarintLen64]byte
	lenN := binary.PutUvarint(lenBuf[:], uint64(len(header)))

	out := make([]byte, 0, lenN+len(header)+len(payload)+4)
	out = append(out, lenBuf[:lenN]...)
	out = append(out, header...)
	out = append(out, payload...)

	sum := crc32.Update(0, crcTable, header)
	sum = crc32.Update(sum, crcTable, payload)
	out = binary.BigEndian.AppendUint32(out, sum)
	return out, nil
}

// decodeEntry reconstructs an entry from its id and record value.
func decodeEntry(id int64, value []byte) (*Entry, error) {
	hlen, lenN := binary.Uvarint(value)
	if lenN <= 0 || lenN+int(hlen)+4 > len(value) {
		return nil, ErrCorruptRecord
	}
	header := value[lenN : lenN+int(hlen)]
	payload := value[lenN+int(hlen) : len(value)-4]

	sum := crc32.Update(0, crcTable, header)
	sum = crc32.Update(sum, crcTable, payload)
	if sum != binary.BigEndian.Uint32(value[len(value)-4:]) {
		return nil, ErrCorruptRecord
	}
	if len(header) < 8 {
		return nil, ErrCorruptRecord
	}

	var body entryBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, ErrCorruptRecord
	}
	return &Entry{
		ID:          id,
		QueueName:   string(header[8:]),
		Request:     body.Request,
		TimestampMs: int64(binary.BigEndian.Uint64(header[:8])),
		Metadata:    body.Metadata,
	}, nil
}
