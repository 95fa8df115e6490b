package rawbytes_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/landfill/rawbytes"
	"github.com/stretchr/testify/require"
)

const testK0 = 10 // 1 KiB first segment, small enough for fast tests.

func TestOpen_EmptyDir_HasZeroCapacity(t *testing.T) {
	t.Parallel()

	rb, err := rawbytes.Open(t.TempDir(), "blob", testK0)
	require.NoError(t, err)
	defer rb.Close()

	require.Equal(t, int64(0), rb.Cap())
}

func TestGrowTo_ExpandsCapacityGeometrically(t *testing.T) {
	t.Parallel()

	rb, err := rawbytes.Open(t.TempDir(), "blob", testK0)
	require.NoError(t, err)
	defer rb.Close()

	require.NoError(t, rb.GrowTo(1))
	require.Equal(t, int64(1<<testK0), rb.Cap())

	require.NoError(t, rb.GrowTo(int64(1<<testK0)+1))
	require.Equal(t, int64(1<<testK0)+int64(1<<(testK0+1)), rb.Cap())
}

func TestWriteUnchecked_ThenGet_RoundTrips(t *testing.T) {
	t.Parallel()

	rb, err := rawbytes.Open(t.TempDir(), "blob", testK0)
	require.NoError(t, err)
	defer rb.Close()

	require.NoError(t, rb.GrowTo(64))

	payload := []byte("hello, raw bytes")
	require.NoError(t, rb.WriteUnchecked(10, payload))

	got, err := rb.Get(10, int64(len(payload)))
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

func TestGet_OutOfBounds_Errors(t *testing.T) {
	t.Parallel()

	rb, err := rawbytes.Open(t.TempDir(), "blob", testK0)
	require.NoError(t, err)
	defer rb.Close()

	require.NoError(t, rb.GrowTo(16))

	_, err = rb.Get(10, 100)
	require.ErrorIs(t, err, rawbytes.ErrOutOfBounds)
}

// Regression for spec section 8 scenario 2: a sequence of small appends
// leaves each subsequent write head unaligned to the page size, and
// SyncRange must not fail with EINVAL from a misaligned msync address.
func TestSyncRange_UnalignedOffset_Succeeds(t *testing.T) {
	t.Parallel()

	rb, err := rawbytes.Open(t.TempDir(), "blob", testK0)
	require.NoError(t, err)
	defer rb.Close()

	require.NoError(t, rb.GrowTo(64))

	require.NoError(t, rb.WriteUnchecked(0, []byte("abc")))
	require.NoError(t, rb.SyncRange(0, 3))

	require.NoError(t, rb.WriteUnchecked(3, []byte("defg")))
	require.NoError(t, rb.SyncRange(3, 4))

	require.NoError(t, rb.WriteUnchecked(7, []byte("h")))
	require.NoError(t, rb.SyncRange(7, 1))
}

func TestGet_SpanningSegmentBoundary_ReturnsFullContent(t *testing.T) {
	t.Parallel()

	rb, err := rawbytes.Open(t.TempDir(), "blob", testK0)
	require.NoError(t, err)
	defer rb.Close()

	seg0 := int64(1 << testK0)

	require.NoError(t, rb.GrowTo(seg0+64))

	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	// Offset chosen so the write straddles the segment-0/segment-1 boundary.
	offset := seg0 - 16

	require.NoError(t, rb.WriteUnchecked(offset, payload))

	got, err := rb.Get(offset, int64(len(payload)))
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

func TestOpen_AfterGrow_RemapsExistingSegmentsWithSameContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	rb, err := rawbytes.Open(dir, "blob", testK0)
	require.NoError(t, err)

	require.NoError(t, rb.GrowTo(1<<testK0))

	payload := []byte("stable bytes")
	require.NoError(t, rb.WriteUnchecked(0, payload))
	require.NoError(t, rb.Sync())
	require.NoError(t, rb.Close())

	reopened, err := rawbytes.Open(dir, "blob", testK0)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, int64(1<<testK0), reopened.Cap())

	got, err := reopened.Get(0, int64(len(payload)))
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))
}

func TestOpen_IgnoresPartiallyExtendedTrailingSegment(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	rb, err := rawbytes.Open(dir, "blob", testK0)
	require.NoError(t, err)
	require.NoError(t, rb.GrowTo(1<<testK0))
	require.NoError(t, rb.Close())

	// Simulate a crash mid-grow: segment 1's file exists but is short.
	short := make([]byte, 5)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw.blob.1"), short, 0o644))

	reopened, err := rawbytes.Open(dir, "blob", testK0)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, int64(1<<testK0), reopened.Cap())

	// GrowTo repairs the short segment in place.
	require.NoError(t, reopened.GrowTo(int64(1<<testK0)+int64(1<<(testK0+1))))
	require.Equal(t, int64(1<<testK0)+int64(1<<(testK0+1)), reopened.Cap())
}

// FuzzOpen_ArbitrarySegmentZeroSize throws arbitrary on-disk sizes for
// segment 0 at Open's size-matching decode. The property: Open never
// panics, and maps the segment (Cap equal to the full 2^k0 segment size)
// exactly when the on-disk size matches what the geometry expects, never
// otherwise.
func FuzzOpen_ArbitrarySegmentZeroSize(f *testing.F) {
	f.Add(0)
	f.Add(1)
	f.Add(1 << testK0)
	f.Add((1 << testK0) - 1)
	f.Add((1 << testK0) + 1)

	f.Fuzz(func(t *testing.T, size int) {
		if size < 0 || size > 1<<20 {
			t.Skip()
		}

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "raw.blob.0"), make([]byte, size), 0o644))

		rb, err := rawbytes.Open(dir, "blob", testK0)
		require.NoError(t, err)
		defer rb.Close()

		if size == 1<<testK0 {
			require.Equal(t, int64(1<<testK0), rb.Cap())
		} else {
			require.Equal(t, int64(0), rb.Cap())
		}
	})
}
