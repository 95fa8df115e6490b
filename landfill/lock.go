package landfill

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/landfill/storefs"
)

// ErrLocked is returned by Open when another process already holds the
// store's writer lock.
var ErrLocked = errors.New("landfill: store already locked by another process")

// writerLock is an advisory flock held for the lifetime of a Store,
// enforcing the single-writer-per-store assumption spec.md assumes
// throughout (section 9, "Reference lifetimes").
type writerLock struct {
	file storefs.File
}

func acquireWriterLock(fs storefs.FS, path string) (*writerLock, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("landfill: open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrLocked
		}

		return nil, fmt.Errorf("landfill: flock: %w", err)
	}

	return &writerLock{file: f}, nil
}

func (l *writerLock) release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()

		return fmt.Errorf("landfill: unlock: %w", err)
	}

	return l.file.Close()
}
