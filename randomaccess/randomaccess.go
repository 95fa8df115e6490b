// Package randomaccess implements RandomAccess[T], the fixed-size slot
// array with multiple-writer capability described in spec section 4.5.
//
// Unlike writeonce.WriteOnceArray, slots may be mutated repeatedly. The
// all-zero value is reserved to denote absence.
package randomaccess

import (
	"fmt"
	"sync"

	"github.com/calvinalkan/landfill/rawbytes"
)

// NumStripes is the number of read-write lock stripes guarding slots.
const NumStripes = 1024

// Codec describes how to encode/decode a fixed-size POD type T.
type Codec[T any] struct {
	Size   int
	Encode func(T) []byte
	Decode func([]byte) T
}

// RandomAccess is a RawBytes view as a sequence of fixed-size,
// repeatedly-mutable slots, guarded by one of NumStripes striped
// read-write locks chosen by index mod NumStripes.
type RandomAccess[T any] struct {
	raw    *rawbytes.RawBytes
	codec  Codec[T]
	stripe [NumStripes]sync.RWMutex
}

// Open creates a RandomAccess view over raw using codec.
func Open[T any](raw *rawbytes.RawBytes, codec Codec[T]) *RandomAccess[T] {
	if codec.Size <= 0 {
		panic("randomaccess: codec.Size must be positive")
	}

	return &RandomAccess[T]{raw: raw, codec: codec}
}

// Len returns the current mapped slot count.
func (r *RandomAccess[T]) Len() uint64 {
	return uint64(r.raw.Cap()) / uint64(r.codec.Size)
}

// EnsureLen grows the backing RawBytes so that at least n slots are
// addressable.
func (r *RandomAccess[T]) EnsureLen(n uint64) error {
	return r.raw.GrowTo(int64(n) * int64(r.codec.Size))
}

func (r *RandomAccess[T]) offset(i uint64) int64 {
	return int64(i) * int64(r.codec.Size)
}

// Get acquires read lock (i mod NumStripes) and returns the value at slot
// i and true if it is non-zero, else the zero value and false.
func (r *RandomAccess[T]) Get(i uint64) (T, bool, error) {
	lock := &r.stripe[i%NumStripes]
	lock.RLock()
	defer lock.RUnlock()

	var zero T

	data, err := r.raw.Get(r.offset(i), int64(r.codec.Size))
	if err != nil {
		return zero, false, fmt.Errorf("randomaccess: get slot %d: %w", i, err)
	}

	if isAllZero(data) {
		return zero, false, nil
	}

	return r.codec.Decode(data), true, nil
}

// WithMut acquires write lock (i mod NumStripes) and invokes f with a
// pointer to the slot's current value (zero value if absent), then
// persists whatever f leaves behind.
//
// The closure form is deliberate: it forbids the caller from holding
// another write guard for a different index whose stripe might collide,
// ruling out deadlock by construction (spec section 4.5).
func (r *RandomAccess[T]) WithMut(i uint64, f func(*T)) error {
	lock := &r.stripe[i%NumStripes]
	lock.Lock()
	defer lock.Unlock()

	data, err := r.raw.Get(r.offset(i), int64(r.codec.Size))
	if err != nil {
		return fmt.Errorf("randomaccess: read slot %d: %w", i, err)
	}

	var v T
	if !isAllZero(data) {
		v = r.codec.Decode(data)
	}

	f(&v)

	encoded := r.codec.Encode(v)
	if len(encoded) != r.codec.Size {
		panic(fmt.Sprintf("randomaccess: codec encoded %d bytes, want %d", len(encoded), r.codec.Size))
	}

	if err := r.raw.WriteUnchecked(r.offset(i), encoded); err != nil {
		return fmt.Errorf("randomaccess: write slot %d: %w", i, err)
	}

	return nil
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}

	return true
}
