// Package contentstore implements Put/Get content-addressed storage per
// spec section 4.7, composing an appendonly.AppendOnly log with an
// index.Index keyed by a keyed checksum of the content digest.
package contentstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/calvinalkan/landfill/appendonly"
	"github.com/calvinalkan/landfill/digest"
	"github.com/calvinalkan/landfill/index"
	"github.com/calvinalkan/landfill/keyedhash"
)

// headerSize is the on-disk record header: an 8-byte little-endian
// payload length followed by a 32-byte digest.
const headerSize = 8 + 32

// ErrNotFound is returned by Get when offset does not name a stored
// record.
var ErrNotFound = errors.New("contentstore: record not found")

// ErrCorrupt is returned by Get when the stored digest does not match
// the digest recomputed from the stored bytes.
var ErrCorrupt = errors.New("contentstore: digest mismatch")

// ContentStore deduplicates blobs by content digest: two Put calls with
// equal content return the same offset without writing the content
// twice.
type ContentStore struct {
	log    *appendonly.AppendOnly
	idx    *index.Index
	key    keyedhash.Key
	digest digest.Func

	// putMu serializes Put so that concurrent calls with equal content
	// cannot both miss the index and append twice.
	putMu sync.Mutex
}

// Open wires a ContentStore over an append-only log and an index, both
// already open, keyed by key for index checksums and digest for content
// addressing.
func Open(log *appendonly.AppendOnly, idx *index.Index, key keyedhash.Key, digestFunc digest.Func) *ContentStore {
	return &ContentStore{log: log, idx: idx, key: key, digest: digestFunc}
}

// Put stores data if it is not already present, returning the offset of
// its record. If content with the same digest is already stored, Put
// returns its existing offset without appending anything.
func (cs *ContentStore) Put(data []byte) (uint64, error) {
	cs.putMu.Lock()
	defer cs.putMu.Unlock()

	d := cs.digest(data)
	checksum := index.Key(cs.key, d[:])

	existing, found, err := cs.idx.Find(checksum, func(payload uint64) (bool, error) {
		return cs.recordDigestEquals(payload, d)
	})
	if err != nil {
		return 0, fmt.Errorf("contentstore: find: %w", err)
	}

	if found {
		return existing, nil
	}

	record := encodeRecord(d, data)

	offset, _, err := cs.log.Append(record)
	if err != nil {
		return 0, fmt.Errorf("contentstore: append: %w", err)
	}

	if err := cs.idx.Insert(checksum, offset); err != nil {
		return 0, fmt.Errorf("contentstore: index insert: %w", err)
	}

	return offset, nil
}

// IndexStat exposes the underlying index's bucket/slot counters for
// observability (see landfill.Store.Stat).
func (cs *ContentStore) IndexStat() (bucketCount int, totalSlots uint64) {
	return cs.idx.Stat()
}

// Get returns the content and digest stored at offset, recomputing the
// digest from the stored bytes and comparing it to the stored header
// digest. A mismatch, which only a corrupted on-disk record can produce,
// returns ErrCorrupt rather than silently handing back bad bytes.
func (cs *ContentStore) Get(offset uint64) ([]byte, [32]byte, error) {
	var zero [32]byte

	header, err := cs.log.Get(offset, headerSize)
	if err != nil {
		return nil, zero, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	length := binary.LittleEndian.Uint64(header[0:8])

	var d [32]byte
	copy(d[:], header[8:40])

	data, err := cs.log.Get(offset+headerSize, length)
	if err != nil {
		return nil, zero, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if got := cs.digest(data); got != d {
		return nil, zero, fmt.Errorf("%w: offset %d", ErrCorrupt, offset)
	}

	return data, d, nil
}

func (cs *ContentStore) recordDigestEquals(offset uint64, want [32]byte) (bool, error) {
	header, err := cs.log.Get(offset, headerSize)
	if err != nil {
		return false, fmt.Errorf("contentstore: read header at %d: %w", offset, err)
	}

	var got [32]byte
	copy(got[:], header[8:40])

	return got == want, nil
}

func encodeRecord(d [32]byte, data []byte) []byte {
	buf := make([]byte, headerSize+len(data))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(data)))
	copy(buf[8:40], d[:])
	copy(buf[40:], data)

	return buf
}
