// Package journal implements the crash-safe monotonic counter described in
// spec section 4.1. A Journal persists a single uint64 counter in a ring of
// fixed-size slots so that at least one slot always carries a verifiable
// value, even if a crash interrupts a write mid-slot.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/calvinalkan/landfill/keyedhash"
)

// SlotCount is the recommended ring size from spec section 3.
const SlotCount = 16

// slotSize is the on-disk size of one (counter, checksum) pair.
const slotSize = 16

// fileSize is the fixed size of a journal file.
const fileSize = SlotCount * slotSize

// ErrCorrupt is returned by Open when no slot's checksum verifies.
var ErrCorrupt = errors.New("journal: corrupt, no slot verifies")

// Journal persists a single counter with crash-safe monotonic updates.
//
// Bump is serialized by an internal mutex. Read takes the same mutex, so a
// Read issued while a Bump is writing and syncing its slot waits for that
// Bump to finish.
// A Journal is safe for concurrent use by multiple goroutines within one
// process; cross-process coordination is the caller's responsibility.
type Journal struct {
	file *os.File
	key  keyedhash.Key

	mu              sync.Mutex
	counter         uint64
	lastWrittenSlot int
}

// Open opens or creates the journal file at path, keyed by key.
//
// If the file doesn't exist, it is created with all slots initialized to
// (0, checksum(0)). If it exists, Open recovers the counter by scanning all
// slots and selecting the maximum counter among those whose checksum
// verifies. If no slot verifies, Open returns ErrCorrupt.
func Open(path string, key keyedhash.Key) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // path is caller-controlled store dir
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("journal: stat %q: %w", path, err)
	}

	j := &Journal{file: f, key: key, lastWrittenSlot: SlotCount - 1}

	if info.Size() == 0 {
		if err := j.initFresh(); err != nil {
			_ = f.Close()

			return nil, err
		}

		return j, nil
	}

	if info.Size() != fileSize {
		_ = f.Close()

		return nil, fmt.Errorf("%w: %q has size %d, want %d", ErrCorrupt, path, info.Size(), fileSize)
	}

	if err := j.recover(); err != nil {
		_ = f.Close()

		return nil, err
	}

	return j, nil
}

// Close closes the underlying file. It does not flush pending writes
// beyond what Bump has already durably committed.
func (j *Journal) Close() error {
	return j.file.Close()
}

// Read returns the current counter value.
func (j *Journal) Read() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.counter
}

// Bump atomically advances the counter by delta, persists the new value,
// and returns it.
//
// The write protocol (spec section 4.1):
//  1. Compute the new counter value and pick the next ring slot.
//  2. Write counter, then checksum, then barrier (fsync) the page range.
//  3. Only after the barrier returns, update the in-memory counter and
//     slot cursor.
//
// At any point of interruption, at least one previously written slot still
// carries a valid checksum, so recovery yields either the old or the new
// value, never a torn intermediate one.
func (j *Journal) Bump(delta uint64) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	next := j.counter + delta
	slot := (j.lastWrittenSlot + 1) % SlotCount

	if err := j.writeSlot(slot, next); err != nil {
		return 0, err
	}

	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("journal: sync: %w", err)
	}

	j.counter = next
	j.lastWrittenSlot = slot

	return j.counter, nil
}

func (j *Journal) initFresh() error {
	buf := make([]byte, fileSize)

	checksum := j.key.Sum64Uint64(0)

	for slot := 0; slot < SlotCount; slot++ {
		off := slot * slotSize
		binary.LittleEndian.PutUint64(buf[off:off+8], 0)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], checksum)
	}

	if _, err := j.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("journal: init write: %w", err)
	}

	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("journal: init sync: %w", err)
	}

	j.counter = 0
	j.lastWrittenSlot = SlotCount - 1

	return nil
}

func (j *Journal) writeSlot(slot int, counter uint64) error {
	var buf [slotSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], counter)
	binary.LittleEndian.PutUint64(buf[8:16], j.key.Sum64Uint64(counter))

	if _, err := j.file.WriteAt(buf[:], int64(slot*slotSize)); err != nil {
		return fmt.Errorf("journal: write slot %d: %w", slot, err)
	}

	return nil
}

func (j *Journal) recover() error {
	buf := make([]byte, fileSize)

	if _, err := j.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("journal: read: %w", err)
	}

	found := false

	for slot := 0; slot < SlotCount; slot++ {
		off := slot * slotSize
		counter := binary.LittleEndian.Uint64(buf[off : off+8])
		checksum := binary.LittleEndian.Uint64(buf[off+8 : off+16])

		if checksum != j.key.Sum64Uint64(counter) {
			continue
		}

		if !found || counter > j.counter {
			j.counter = counter
			j.lastWrittenSlot = slot
			found = true
		}
	}

	if !found {
		return ErrCorrupt
	}

	return nil
}
