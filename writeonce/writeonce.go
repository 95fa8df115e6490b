// Package writeonce implements WriteOnceArray[T], the typed once-writable
// slot array described in spec section 4.4.
//
// A slot is empty iff its backing bytes are all zero; once written, a slot
// never transitions back to empty. This ties slot emptiness to byte
// content and forbids storing a genuine all-zero value of T, per spec
// section 9.
package writeonce

import (
	"errors"
	"fmt"
	"sync"

	"github.com/calvinalkan/landfill/rawbytes"
)

// NumStripes is the number of mutex stripes guarding slot mutation.
const NumStripes = 1024

// ErrAlreadyWritten is returned by WithEmptyMut when the slot is not empty.
var ErrAlreadyWritten = errors.New("writeonce: slot already written")

// ErrZeroValue is returned when a mutation would store an all-zero
// encoding, which is indistinguishable from emptiness and therefore
// forbidden by the write-once contract.
var ErrZeroValue = errors.New("writeonce: cannot store all-zero value")

// Codec describes how to encode/decode a fixed-size POD type T to and from
// its on-disk slot representation. Size must equal len(Encode(v)) for every
// v, and Decode must be the left inverse of Encode.
//
// WriteOnceArray has no dependency on unsafe: T is addressed only through
// this capability, following spec section 9's recommendation for hosts
// without a borrow checker.
type Codec[T any] struct {
	Size   int
	Encode func(T) []byte
	Decode func([]byte) T
}

// WriteOnceArray is a RawBytes view as a sequence of fixed-size slots, each
// writable at most once.
type WriteOnceArray[T any] struct {
	raw    *rawbytes.RawBytes
	codec  Codec[T]
	stripe [NumStripes]sync.Mutex
}

// Open creates a WriteOnceArray view over raw using codec.
func Open[T any](raw *rawbytes.RawBytes, codec Codec[T]) *WriteOnceArray[T] {
	if codec.Size <= 0 {
		panic("writeonce: codec.Size must be positive")
	}

	return &WriteOnceArray[T]{raw: raw, codec: codec}
}

// Len returns the current mapped slot count.
func (w *WriteOnceArray[T]) Len() uint64 {
	return uint64(w.raw.Cap()) / uint64(w.codec.Size)
}

// EnsureLen grows the backing RawBytes so that at least n slots are
// addressable.
func (w *WriteOnceArray[T]) EnsureLen(n uint64) error {
	return w.raw.GrowTo(int64(n) * int64(w.codec.Size))
}

func (w *WriteOnceArray[T]) offset(i uint64) int64 {
	return int64(i) * int64(w.codec.Size)
}

// Get returns the value at slot i and true if the slot is written, or the
// zero value and false if the slot is empty.
func (w *WriteOnceArray[T]) Get(i uint64) (T, bool, error) {
	var zero T

	data, err := w.raw.Get(w.offset(i), int64(w.codec.Size))
	if err != nil {
		return zero, false, fmt.Errorf("writeonce: get slot %d: %w", i, err)
	}

	if isAllZero(data) {
		return zero, false, nil
	}

	return w.codec.Decode(data), true, nil
}

// WithEmptyMut acquires exclusive access to slot i. If the slot is empty,
// it passes a pointer to a zero value of T to f to populate, encodes the
// result, and writes it. If the slot already holds a
// non-zero value, it returns ErrAlreadyWritten without invoking f.
//
// Two concurrent WithEmptyMut(i, ...) calls are serialized by the striped
// lock; the loser observes the winner's write and returns ErrAlreadyWritten.
func (w *WriteOnceArray[T]) WithEmptyMut(i uint64, f func(*T)) error {
	lock := &w.stripe[i%NumStripes]
	lock.Lock()
	defer lock.Unlock()

	data, err := w.raw.Get(w.offset(i), int64(w.codec.Size))
	if err != nil {
		return fmt.Errorf("writeonce: read slot %d: %w", i, err)
	}

	if !isAllZero(data) {
		return fmt.Errorf("%w: slot %d", ErrAlreadyWritten, i)
	}

	var v T

	f(&v)

	encoded := w.codec.Encode(v)
	if len(encoded) != w.codec.Size {
		panic(fmt.Sprintf("writeonce: codec encoded %d bytes, want %d", len(encoded), w.codec.Size))
	}

	if isAllZero(encoded) {
		return fmt.Errorf("%w: slot %d", ErrZeroValue, i)
	}

	if err := w.raw.WriteUnchecked(w.offset(i), encoded); err != nil {
		return fmt.Errorf("writeonce: write slot %d: %w", i, err)
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
