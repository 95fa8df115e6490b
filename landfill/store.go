// Package landfill wires the component packages (entropy, journal,
// rawbytes, appendonly, index, contentstore) into the on-disk directory
// layout of spec.md section 6: Store is the common-case entry point an
// embedding application opens once per directory.
//
// Applications that need bespoke wiring — multiple named AppendOnly
// regions, a WriteOnceArray of fixed records, a RandomAccess table — use
// the component packages directly instead of Store.
package landfill

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/landfill/appendonly"
	"github.com/calvinalkan/landfill/contentstore"
	"github.com/calvinalkan/landfill/digest"
	"github.com/calvinalkan/landfill/entropy"
	"github.com/calvinalkan/landfill/index"
	"github.com/calvinalkan/landfill/journal"
	"github.com/calvinalkan/landfill/rawbytes"
	"github.com/calvinalkan/landfill/storefs"
)

// blobK0 is the base segment exponent of the default "blob" AppendOnly
// region: a 64KiB first segment.
const blobK0 = 16

// ErrInvariant is the sentinel reserved for internal assertion failures:
// states the code believes are unreachable. No function in this module
// returns it or panics with it.
var ErrInvariant = errors.New("landfill: internal invariant violated")

// Options configures Open. The zero value selects every default.
type Options struct {
	// Digest overrides the content-addressing digest function. Defaults
	// to digest.SHA256.
	Digest digest.Func

	// FS overrides the filesystem used for the store's header and writer
	// lock file. Defaults to storefs.NewReal(). The lock file's
	// File.Fd must be a real OS descriptor, because the writer lock is
	// taken with flock on it.
	FS storefs.FS
}

// Store is the directory-level façade: one Entropy file, one header, one
// Journal-guarded AppendOnly region named "blob", and one Index named
// "blob", composed into a ContentStore.
type Store struct {
	dir string

	lock *writerLock
	raw  *rawbytes.RawBytes
	j    *journal.Journal
	cs   *contentstore.ContentStore
}

// Open creates dir (if needed) and opens a Store over it, or opens an
// existing one. Only one process may hold a Store open on a given
// directory at a time; a second Open on the same directory returns
// ErrLocked.
func Open(dir string, opts Options) (*Store, error) {
	if opts.Digest == nil {
		opts.Digest = digest.SHA256
	}

	if opts.FS == nil {
		opts.FS = storefs.NewReal()
	}

	if err := opts.FS.MkdirAll(dir, 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("landfill: mkdir %q: %w", dir, err)
	}

	lock, err := acquireWriterLock(opts.FS, dir+"/blob.lock")
	if err != nil {
		return nil, err
	}

	s, err := open(dir, opts)
	if err != nil {
		_ = lock.release()

		return nil, err
	}

	s.lock = lock

	return s, nil
}

func open(dir string, opts Options) (*Store, error) {
	ent, err := entropy.OpenOrCreate(dir + "/entropy")
	if err != nil {
		return nil, fmt.Errorf("landfill: entropy: %w", err)
	}

	if err := openOrCreateHeader(opts.FS, dir+"/header", ent); err != nil {
		return nil, err
	}

	raw, err := rawbytes.Open(dir, "blob", blobK0)
	if err != nil {
		return nil, fmt.Errorf("landfill: rawbytes: %w", err)
	}

	j, err := journal.Open(dir+"/journal.blob", ent.Key)
	if err != nil {
		_ = raw.Close()

		return nil, fmt.Errorf("landfill: journal: %w", err)
	}

	log := appendonly.Open(raw, j)

	idx, err := index.Open(dir, "blob")
	if err != nil {
		_ = j.Close()
		_ = raw.Close()

		return nil, fmt.Errorf("landfill: index: %w", err)
	}

	cs := contentstore.Open(log, idx, ent.Key, opts.Digest)

	return &Store{dir: dir, raw: raw, j: j, cs: cs}, nil
}

// Put stores data, deduplicated by content digest, and returns its
// offset.
func (s *Store) Put(data []byte) (uint64, error) {
	return s.cs.Put(data)
}

// Get returns the content and digest stored at offset.
func (s *Store) Get(offset uint64) ([]byte, [32]byte, error) {
	return s.cs.Get(offset)
}

// Stats reports aggregate counters for observability (supplemented
// feature: spec.md has no equivalent operation).
type Stats struct {
	HeadOffset     uint64
	MappedCapacity int64
	IndexBuckets   int
	IndexSlots     uint64
}

// Stat returns the Store's current aggregate counters.
func (s *Store) Stat() Stats {
	buckets, slots := s.cs.IndexStat()

	return Stats{
		HeadOffset:     s.j.Read(),
		MappedCapacity: s.raw.Cap(),
		IndexBuckets:   buckets,
		IndexSlots:     slots,
	}
}

// Close releases the store's resources and writer lock. It does not
// delete the directory.
func (s *Store) Close() error {
	var errs []error

	if err := s.j.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal: %w", err))
	}

	if err := s.raw.Close(); err != nil {
		errs = append(errs, fmt.Errorf("rawbytes: %w", err))
	}

	if s.lock != nil {
		if err := s.lock.release(); err != nil {
			errs = append(errs, fmt.Errorf("lock: %w", err))
		}
	}

	return errors.Join(errs...)
}
