package landfill

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/calvinalkan/landfill/entropy"
	"github.com/calvinalkan/landfill/keyedhash"
	"github.com/calvinalkan/landfill/storefs"
)

const headerSize = 256

var magic = [4]byte{'l', 'n', 'f', 'l'}

const headerVersion = 1

// ErrVersionMismatch is returned when a store directory's header carries
// a magic or version this build does not understand, or keys that don't
// match the directory's entropy file.
var ErrVersionMismatch = errors.New("landfill: header version mismatch")

// openOrCreateHeader creates D/header on first Open (magic + version +
// a copy of ent's keys, padded to headerSize) or verifies it on
// subsequent opens.
func openOrCreateHeader(fs storefs.FS, path string, ent entropy.Entropy) error {
	data, err := fs.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return createHeader(fs, path, ent)
	}

	if err != nil {
		return fmt.Errorf("landfill: read header: %w", err)
	}

	return verifyHeader(data, ent)
}

func createHeader(fs storefs.FS, path string, ent entropy.Entropy) error {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], headerVersion)
	encodeKey(buf[8:40], ent.Key)

	w := storefs.NewAtomicWriter(fs)
	if err := w.WriteWithDefaults(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("landfill: write header: %w", err)
	}

	return nil
}

func verifyHeader(data []byte, ent entropy.Entropy) error {
	if len(data) < 40 {
		return fmt.Errorf("%w: header too short (%d bytes)", ErrVersionMismatch, len(data))
	}

	if !bytes.Equal(data[0:4], magic[:]) {
		return fmt.Errorf("%w: bad magic", ErrVersionMismatch)
	}

	version := binary.LittleEndian.Uint32(data[4:8])
	if version != headerVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrVersionMismatch, version, headerVersion)
	}

	want := make([]byte, 32)
	encodeKey(want, ent.Key)

	if !bytes.Equal(data[8:40], want) {
		return fmt.Errorf("%w: keys do not match entropy file", ErrVersionMismatch)
	}

	return nil
}

func encodeKey(dst []byte, k keyedhash.Key) {
	for i, word := range k {
		binary.LittleEndian.PutUint64(dst[i*8:i*8+8], word)
	}
}
