// Package index implements the non-resizing, doubling-bucket
// open-addressed hash index described in spec section 4.6.
//
// Unlike a conventional hash map, an Index never rehashes: growth adds a
// new, larger bucket instead of moving existing entries. Every (checksum,
// payload) pair keeps its bucket and slot for the lifetime of the store,
// so a borrow returned by a lookup never dangles because of a later
// insert.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/landfill/keyedhash"
	"github.com/calvinalkan/landfill/rawbytes"
	"github.com/calvinalkan/landfill/writeonce"
)

// BaseExponent is the slot count exponent of bucket 0: bucket 0 holds
// 2^BaseExponent slots, bucket i holds 2^(BaseExponent+i) slots.
const BaseExponent = 10

// entrySize is the on-disk size of one (checksum, payload) slot.
const entrySize = 16

// ErrNoRoom names the condition of a bucket's full linear probe sequence
// being exhausted without an empty slot. No function in this package
// returns it: Insert reacts to that condition by growing a new bucket, and
// Find reports the checksum as absent.
var ErrNoRoom = errors.New("index: bucket probe exhausted")

type entry struct {
	checksum uint64
	payload  uint64
}

func entryCodec() writeonce.Codec[entry] {
	return writeonce.Codec[entry]{
		Size: entrySize,
		Encode: func(e entry) []byte {
			buf := make([]byte, entrySize)
			binary.LittleEndian.PutUint64(buf[0:8], e.checksum)
			binary.LittleEndian.PutUint64(buf[8:16], e.payload)

			return buf
		},
		Decode: func(b []byte) entry {
			return entry{
				checksum: binary.LittleEndian.Uint64(b[0:8]),
				payload:  binary.LittleEndian.Uint64(b[8:16]),
			}
		},
	}
}

// bucketCap returns the slot count of bucket i.
func bucketCap(i int) uint64 {
	return uint64(1) << (BaseExponent + i)
}

// bucketK0 returns the RawBytes base exponent that makes bucket i's
// backing region exactly one segment sized to hold bucketCap(i) entries,
// so a bucket's region never grows again once created.
func bucketK0(i int) uint {
	return BaseExponent + uint(i) + 4 // entrySize == 2^4
}

func bucketRegionName(name string, i int) string {
	return fmt.Sprintf("%s.bucket%d", name, i)
}

type bucket struct {
	arr *writeonce.WriteOnceArray[entry]
	cap uint64
}

// Index is a content-addressed lookup structure keyed by a 64-bit keyed
// checksum. Checksum collisions are possible; callers are expected to
// verify a candidate payload against the real key before trusting a Find
// result (the index itself only discriminates on the checksum).
type Index struct {
	dir, name string

	growMu  sync.Mutex
	buckets atomic.Pointer[[]bucket]
}

// Open enumerates existing bucket region files under dir and maps each,
// or starts empty if name has never been used.
func Open(dir, name string) (*Index, error) {
	ix := &Index{dir: dir, name: name}

	var buckets []bucket

	for i := 0; ; i++ {
		regionName := bucketRegionName(name, i)
		probe := fmt.Sprintf("%s/raw.%s.0", dir, regionName)

		if _, err := os.Stat(probe); errors.Is(err, os.ErrNotExist) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("index: stat %q: %w", probe, err)
		}

		b, err := openBucket(dir, name, i)
		if err != nil {
			return nil, err
		}

		buckets = append(buckets, b)
	}

	ix.buckets.Store(&buckets)

	return ix, nil
}

func openBucket(dir, name string, i int) (bucket, error) {
	raw, err := rawbytes.Open(dir, bucketRegionName(name, i), bucketK0(i))
	if err != nil {
		return bucket{}, fmt.Errorf("index: open bucket %d: %w", i, err)
	}

	cap := bucketCap(i)

	if err := raw.GrowTo(int64(cap) * entrySize); err != nil {
		return bucket{}, fmt.Errorf("index: grow bucket %d: %w", i, err)
	}

	arr := writeonce.Open(raw, entryCodec())

	return bucket{arr: arr, cap: cap}, nil
}

// Stat reports the number of buckets currently mapped, for observability.
func (ix *Index) Stat() (bucketCount int, totalSlots uint64) {
	buckets := *ix.buckets.Load()

	for _, b := range buckets {
		totalSlots += b.cap
	}

	return len(buckets), totalSlots
}

// Find probes every existing bucket for checksum, calling accept on each
// candidate payload until accept returns true (a real match, as
// determined by the caller comparing full key bytes) or the probe space
// is exhausted. It returns the accepted payload and true, or false if no
// candidate is accepted.
func (ix *Index) Find(checksum uint64, accept func(payload uint64) (bool, error)) (uint64, bool, error) {
	buckets := *ix.buckets.Load()

	for _, b := range buckets {
		slot := checksum % b.cap

		for probed := uint64(0); probed < b.cap; probed++ {
			i := (slot + probed) % b.cap

			e, ok, err := b.arr.Get(i)
			if err != nil {
				return 0, false, fmt.Errorf("index: find: %w", err)
			}

			if !ok {
				break // empty slot: checksum is absent from this bucket
			}

			if e.checksum != checksum {
				continue
			}

			matched, err := accept(e.payload)
			if err != nil {
				return 0, false, err
			}

			if matched {
				return e.payload, true, nil
			}
		}
	}

	return 0, false, nil
}

// Insert records (checksum, payload) in the first empty slot found along
// checksum's probe sequence, growing a new bucket if every existing
// bucket's probe sequence is full. It does not check whether checksum is
// already present; callers that need at-most-once insertion should Find
// first.
func (ix *Index) Insert(checksum, payload uint64) error {
	for {
		buckets := *ix.buckets.Load()

		inserted, err := tryInsert(buckets, checksum, payload)
		if err != nil {
			return err
		}

		if inserted {
			return nil
		}

		if err := ix.grow(len(buckets)); err != nil {
			return err
		}
	}
}

func tryInsert(buckets []bucket, checksum, payload uint64) (bool, error) {
	e := entry{checksum: checksum, payload: payload}

	for _, b := range buckets {
		slot := checksum % b.cap

		for probed := uint64(0); probed < b.cap; probed++ {
			i := (slot + probed) % b.cap

			err := b.arr.WithEmptyMut(i, func(v *entry) { *v = e })
			if err == nil {
				return true, nil
			}

			if !errors.Is(err, writeonce.ErrAlreadyWritten) {
				return false, fmt.Errorf("index: insert: %w", err)
			}
			// Slot was occupied (by this or another key): keep probing.
		}
	}

	return false, nil
}

// grow appends a new, larger bucket. It is a no-op if another goroutine
// already grew past the bucket count it observed.
func (ix *Index) grow(observed int) error {
	ix.growMu.Lock()
	defer ix.growMu.Unlock()

	cur := *ix.buckets.Load()
	if len(cur) > observed {
		return nil
	}

	b, err := openBucket(ix.dir, ix.name, len(cur))
	if err != nil {
		return err
	}

	next := make([]bucket, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, b)

	ix.buckets.Store(&next)

	return nil
}

// zeroChecksumReplacement is substituted for a checksum that hashes to
// exactly zero. An entry is empty iff both its checksum and payload words
// are zero, so a genuine zero checksum paired with payload 0 (the first
// record ever stored, at offset 0) would otherwise be indistinguishable
// from an empty slot.
const zeroChecksumReplacement = 1

// Key derives the keyed checksum of raw key bytes under a store's
// keyedhash.Key, the function callers use to compute the checksum passed
// to Find and Insert. The result is never zero.
func Key(k keyedhash.Key, data []byte) uint64 {
	c := k.Sum64(data)
	if c == 0 {
		return zeroChecksumReplacement
	}

	return c
}
