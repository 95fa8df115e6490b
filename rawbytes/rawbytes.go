// Package rawbytes implements the growable, never-moving memory-mapped
// byte region described in spec section 4.2.
//
// A RawBytes exposes a logical byte array whose capacity grows by mapping
// additional backing segments whose sizes double. Once a segment is mapped,
// its address is stable for the lifetime of the RawBytes: growth never
// unmaps or remaps an existing segment.
package rawbytes

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrIO marks failures of the underlying segment files.
var ErrIO = errors.New("rawbytes: io error")

// ErrMapFailed marks failures to mmap a segment.
var ErrMapFailed = errors.New("rawbytes: map failed")

// ErrOutOfBounds is returned when a requested range exceeds mapped capacity.
var ErrOutOfBounds = errors.New("rawbytes: offset out of bounds")

type segment struct {
	file *os.File
	data []byte
}

// RawBytes is a logical byte array of length cap = 2^k0 * (2^K - 1) for a
// base exponent k0 and a number of mapped segments K, backed by K files of
// sizes 2^k0, 2^(k0+1), ....
type RawBytes struct {
	dir  string
	name string
	k0   uint

	growMu sync.Mutex
	table  atomic.Pointer[[]segment]
}

func segSize(k0 uint, i int) int64 {
	return int64(1) << (k0 + uint(i))
}

// segStart returns the logical offset at which segment i begins, which
// equals the total capacity contributed by segments [0, i).
func segStart(k0 uint, i int) int64 {
	return (int64(1) << k0) * ((int64(1) << uint(i)) - 1)
}

func segPath(dir, name string, i int) string {
	return fmt.Sprintf("%s/raw.%s.%d", dir, name, i)
}

// Open enumerates segment files present on disk for name under dir, maps
// each at its existing length, and returns a RawBytes with the resulting
// mapped capacity. A partially-extended trailing segment (left behind by an
// interrupted GrowTo) is not mapped; GrowTo repairs it on the next call.
func Open(dir, name string, k0 uint) (*RawBytes, error) {
	r := &RawBytes{dir: dir, name: name, k0: k0}
	r.table.Store(&[]segment{})

	var segs []segment

	for i := 0; ; i++ {
		path := segPath(dir, name, i)

		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			break
		}

		if err != nil {
			closeAll(segs)

			return nil, fmt.Errorf("%w: stat %q: %w", ErrIO, path, err)
		}

		want := segSize(k0, i)
		if info.Size() != want {
			// Leftover from an interrupted grow; stop here, GrowTo will
			// finish or redo this segment on the next call.
			break
		}

		f, err := os.OpenFile(path, os.O_RDWR, 0o644) //nolint:gosec
		if err != nil {
			closeAll(segs)

			return nil, fmt.Errorf("%w: open %q: %w", ErrIO, path, err)
		}

		data, err := unix.Mmap(int(f.Fd()), 0, int(want), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			_ = f.Close()
			closeAll(segs)

			return nil, fmt.Errorf("%w: mmap %q: %w", ErrMapFailed, path, err)
		}

		segs = append(segs, segment{file: f, data: data})
	}

	r.table.Store(&segs)

	return r, nil
}

// Close unmaps and closes every segment. It does not delete the backing
// files.
func (r *RawBytes) Close() error {
	segs := *r.table.Load()

	return closeAll(segs)
}

func closeAll(segs []segment) error {
	var errs []error

	for _, s := range segs {
		if err := unix.Munmap(s.data); err != nil {
			errs = append(errs, fmt.Errorf("%w: munmap: %w", ErrIO, err))
		}

		if err := s.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: close: %w", ErrIO, err))
		}
	}

	return errors.Join(errs...)
}

// Cap returns the current mapped capacity in bytes.
func (r *RawBytes) Cap() int64 {
	segs := *r.table.Load()

	return segStart(r.k0, len(segs))
}

// Get returns a borrow of length n starting at logical offset.
//
// When the requested range lies within a single segment, the returned
// slice is a zero-copy view into that segment's mapping and is valid for
// the lifetime of the RawBytes. When the range spans a segment boundary
// (possible because segments are independently mmap'd regions that are not
// guaranteed to be contiguous in the process address space), Get returns a
// freshly allocated copy instead; callers that need the stable-address
// guarantee should avoid values that straddle a segment boundary, or treat
// the boundary-spanning case as copy-on-read.
func (r *RawBytes) Get(offset, n int64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}

	segs := *r.table.Load()

	if offset < 0 || n < 0 || offset+n > segStart(r.k0, len(segs)) {
		return nil, fmt.Errorf("%w: offset=%d len=%d cap=%d", ErrOutOfBounds, offset, n, segStart(r.k0, len(segs)))
	}

	startIdx := segmentIndexFor(r.k0, segs, offset)
	startInSeg := offset - segStart(r.k0, startIdx)
	endInSeg := startInSeg + n

	if endInSeg <= int64(len(segs[startIdx].data)) {
		return segs[startIdx].data[startInSeg:endInSeg], nil
	}

	// Spans into subsequent segments: copy piece by piece.
	out := make([]byte, n)
	written := int64(0)

	for idx := startIdx; written < n; idx++ {
		seg := segs[idx].data
		from := int64(0)

		if idx == startIdx {
			from = startInSeg
		}

		avail := int64(len(seg)) - from
		need := n - written

		take := avail
		if take > need {
			take = need
		}

		copy(out[written:written+take], seg[from:from+take])
		written += take
	}

	return out, nil
}

func segmentIndexFor(k0 uint, segs []segment, offset int64) int {
	for i := range segs {
		if offset < segStart(k0, i+1) {
			return i
		}
	}

	return len(segs) - 1
}

// GrowTo ensures mapped capacity is at least newCap, mapping additional
// segments as needed. Growth is serialized by an internal mutex; existing
// mappings are never unmapped or moved, so concurrent readers holding
// borrows into earlier segments are unaffected.
func (r *RawBytes) GrowTo(newCap int64) error {
	r.growMu.Lock()
	defer r.growMu.Unlock()

	cur := *r.table.Load()
	if segStart(r.k0, len(cur)) >= newCap {
		return nil
	}

	next := make([]segment, len(cur))
	copy(next, cur)

	i := len(next)
	for segStart(r.k0, i) < newCap {
		seg, err := openOrRepairSegment(r.dir, r.name, r.k0, i)
		if err != nil {
			return err
		}

		next = append(next, seg)
		i++
	}

	r.table.Store(&next)

	return nil
}

func openOrRepairSegment(dir, name string, k0 uint, i int) (segment, error) {
	path := segPath(dir, name, i)
	want := segSize(k0, i)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec
	if err != nil {
		return segment{}, fmt.Errorf("%w: create %q: %w", ErrIO, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return segment{}, fmt.Errorf("%w: stat %q: %w", ErrIO, path, err)
	}

	if info.Size() != want {
		if err := f.Truncate(want); err != nil {
			_ = f.Close()

			return segment{}, fmt.Errorf("%w: truncate %q: %w", ErrIO, path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(want), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()

		return segment{}, fmt.Errorf("%w: mmap %q: %w", ErrMapFailed, path, err)
	}

	return segment{file: f, data: data}, nil
}

// WriteUnchecked copies data into the mapped region starting at offset.
//
// It performs no bounds overlap checking beyond a capacity check: callers
// (AppendOnly, WriteOnceArray, RandomAccess) are responsible for ensuring
// non-aliasing writes by construction, per spec section 4.2.
func (r *RawBytes) WriteUnchecked(offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	segs := *r.table.Load()

	n := int64(len(data))
	if offset < 0 || offset+n > segStart(r.k0, len(segs)) {
		return fmt.Errorf("%w: offset=%d len=%d cap=%d", ErrOutOfBounds, offset, n, segStart(r.k0, len(segs)))
	}

	written := int64(0)
	idx := segmentIndexFor(r.k0, segs, offset)

	for written < n {
		seg := segs[idx].data
		from := offset + written - segStart(r.k0, idx)
		avail := int64(len(seg)) - from
		need := n - written

		take := avail
		if take > need {
			take = need
		}

		copy(seg[from:from+take], data[written:written+take])
		written += take
		idx++
	}

	return nil
}

// Sync flushes dirty pages across every mapped segment to durable storage.
func (r *RawBytes) Sync() error {
	segs := *r.table.Load()

	var errs []error

	for _, s := range segs {
		if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
			errs = append(errs, fmt.Errorf("%w: msync: %w", ErrIO, err))
		}
	}

	return errors.Join(errs...)
}

// pageSize is used to align SyncRange's msync calls: Linux's msync(2)
// returns EINVAL when addr is not a multiple of the system page size.
var pageSize = int64(os.Getpagesize())

// SyncRange flushes the dirty pages backing [offset, offset+n) to durable
// storage without syncing unrelated segments, used by AppendOnly to
// barrier only the bytes it just wrote.
func (r *RawBytes) SyncRange(offset, n int64) error {
	if n == 0 {
		return nil
	}

	segs := *r.table.Load()

	idx := segmentIndexFor(r.k0, segs, offset)
	remaining := n
	cur := offset

	var errs []error

	for remaining > 0 && idx < len(segs) {
		seg := segs[idx].data
		from := cur - segStart(r.k0, idx)
		avail := int64(len(seg)) - from

		take := avail
		if take > remaining {
			take = remaining
		}

		// msync requires a page-aligned address; round from down to the
		// containing page and extend take to still cover [from, from+take).
		alignedFrom := from &^ (pageSize - 1)
		alignedTake := take + (from - alignedFrom)

		if alignedFrom+alignedTake > int64(len(seg)) {
			alignedTake = int64(len(seg)) - alignedFrom
		}

		if err := unix.Msync(seg[alignedFrom:alignedFrom+alignedTake], unix.MS_SYNC); err != nil {
			errs = append(errs, fmt.Errorf("%w: msync range: %w", ErrIO, err))
		}

		cur += take
		remaining -= take
		idx++
	}

	return errors.Join(errs...)
}
