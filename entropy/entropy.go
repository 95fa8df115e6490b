// Package entropy manages the 256-byte Entropy file that keys every
// checksum in a landfill store (spec section "Entropy").
//
// The file is written once at store creation and read once at open; it is
// never mutated again for the lifetime of the store.
package entropy

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/calvinalkan/landfill/keyedhash"
	"github.com/natefinch/atomic"
)

// Size is the fixed on-disk size of the entropy file.
const Size = 256

// wordsSize is the number of leading bytes that carry the four u64 words.
const wordsSize = 32

// ErrShort is returned when an entropy file is smaller than Size bytes.
var ErrShort = errors.New("entropy: file too short")

// Entropy holds the four random 64-bit words that key a store's checksums.
type Entropy struct {
	Key keyedhash.Key
}

// Create generates fresh entropy and writes it atomically to path.
//
// Create fails with an error satisfying os.IsExist if the file already
// exists, because re-keying an existing store would silently corrupt
// every checksum written under the old key.
func Create(path string) (Entropy, error) {
	if _, err := os.Stat(path); err == nil {
		return Entropy{}, &os.PathError{Op: "entropy: create", Path: path, Err: os.ErrExist}
	}

	var words [4]uint64

	buf := make([]byte, wordsSize)
	if _, err := rand.Read(buf); err != nil {
		return Entropy{}, fmt.Errorf("entropy: generate: %w", err)
	}

	for i := range words {
		words[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}

	encoded := make([]byte, Size)
	copy(encoded, buf)

	if err := atomic.WriteFile(path, bytes.NewReader(encoded)); err != nil {
		return Entropy{}, fmt.Errorf("entropy: write %q: %w", path, err)
	}

	return Entropy{Key: keyedhash.Key(words)}, nil
}

// Open reads the entropy file at path.
func Open(path string) (Entropy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled store directory
	if err != nil {
		return Entropy{}, fmt.Errorf("entropy: read %q: %w", path, err)
	}

	if len(data) < Size {
		return Entropy{}, fmt.Errorf("%w: %q has %d bytes, want %d", ErrShort, path, len(data), Size)
	}

	var words [4]uint64
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[i*8 : i*8+8])
	}

	return Entropy{Key: keyedhash.Key(words)}, nil
}

// OpenOrCreate opens the entropy file at path, creating it if absent.
func OpenOrCreate(path string) (Entropy, error) {
	e, err := Open(path)
	if err == nil {
		return e, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return Entropy{}, err
	}

	return Create(path)
}
