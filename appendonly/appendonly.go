// Package appendonly implements AppendOnly, the journal-guarded append
// cursor over RawBytes described in spec section 4.3.
package appendonly

import (
	"errors"
	"fmt"
	"sync"

	"github.com/calvinalkan/landfill/journal"
	"github.com/calvinalkan/landfill/rawbytes"
)

// ErrOutOfRange is returned by Get when the requested range extends past
// the current write head.
var ErrOutOfRange = errors.New("appendonly: range extends past head")

// AppendOnly is a monotonically growing sequence of byte slices. Every
// slice returned by Append or Get keeps its address for the lifetime of
// the RawBytes it is backed by (see rawbytes.RawBytes.Get for the one
// exception: ranges spanning a segment boundary are copies).
type AppendOnly struct {
	raw     *rawbytes.RawBytes
	journal *journal.Journal

	mu sync.Mutex
}

// Open wires an AppendOnly over raw, using journal as its write head.
func Open(raw *rawbytes.RawBytes, j *journal.Journal) *AppendOnly {
	return &AppendOnly{raw: raw, journal: j}
}

// Head returns the current write head: the byte offset up to which data is
// durably committed.
func (a *AppendOnly) Head() uint64 {
	return a.journal.Read()
}

// Append reserves [head, head+len(data)), growing the backing RawBytes if
// needed, copies data into place, barriers the written pages, and only
// then advances the journal head. It returns the offset the data was
// written at and a stable borrow of the written bytes.
//
// The data barrier must precede the journal bump: otherwise a crash could
// leave the recovered head pointing at bytes that were never durably
// written. Append is serialized by an internal mutex; concurrent callers
// each get a distinct, non-overlapping offset range.
func (a *AppendOnly) Append(data []byte) (uint64, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	head := a.journal.Read()
	needed := int64(head) + int64(len(data))

	if err := a.raw.GrowTo(needed); err != nil {
		return 0, nil, fmt.Errorf("appendonly: grow: %w", err)
	}

	if err := a.raw.WriteUnchecked(int64(head), data); err != nil {
		return 0, nil, fmt.Errorf("appendonly: write: %w", err)
	}

	if err := a.raw.SyncRange(int64(head), int64(len(data))); err != nil {
		return 0, nil, fmt.Errorf("appendonly: barrier: %w", err)
	}

	if _, err := a.journal.Bump(uint64(len(data))); err != nil {
		return 0, nil, fmt.Errorf("appendonly: bump head: %w", err)
	}

	borrow, err := a.raw.Get(int64(head), int64(len(data)))
	if err != nil {
		return 0, nil, fmt.Errorf("appendonly: reborrow written range: %w", err)
	}

	return head, borrow, nil
}

// Get returns a borrow of the n bytes starting at offset, provided
// offset+n <= Head(). Get does not take the Append mutex: RawBytes.Get is
// safe for concurrent use, and the journal head it compares against is
// read through Journal.Read, which waits only for an in-progress Bump.
func (a *AppendOnly) Get(offset, n uint64) ([]byte, error) {
	head := a.journal.Read()
	if offset+n > head {
		return nil, fmt.Errorf("%w: [%d,%d) head=%d", ErrOutOfRange, offset, offset+n, head)
	}

	data, err := a.raw.Get(int64(offset), int64(n))
	if err != nil {
		return nil, fmt.Errorf("appendonly: get: %w", err)
	}

	return data, nil
}
