package appendonly_test

import (
	"testing"

	"github.com/calvinalkan/landfill/appendonly"
	"github.com/calvinalkan/landfill/journal"
	"github.com/calvinalkan/landfill/keyedhash"
	"github.com/calvinalkan/landfill/rawbytes"
	"github.com/stretchr/testify/require"
)

func testKey() keyedhash.Key {
	return keyedhash.Key{1, 2, 3, 4}
}

func newAppendOnly(t *testing.T) *appendonly.AppendOnly {
	t.Helper()

	dir := t.TempDir()

	raw, err := rawbytes.Open(dir, "blob", 12)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	j, err := journal.Open(dir+"/blob.head", testKey())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return appendonly.Open(raw, j)
}

func TestHead_StartsAtZero(t *testing.T) {
	t.Parallel()

	a := newAppendOnly(t)

	require.Equal(t, uint64(0), a.Head())
}

func TestAppend_ReturnsOffsetAndBorrowedContent(t *testing.T) {
	t.Parallel()

	a := newAppendOnly(t)

	off, borrow, err := a.Append([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)
	require.Equal(t, []byte("hello"), borrow)
	require.Equal(t, uint64(5), a.Head())
}

func TestAppend_SecondCallStartsAtPriorHead(t *testing.T) {
	t.Parallel()

	a := newAppendOnly(t)

	off1, _, err := a.Append([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off1)

	off2, borrow2, err := a.Append([]byte("defg"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), off2)
	require.Equal(t, []byte("defg"), borrow2)
	require.Equal(t, uint64(7), a.Head())
}

func TestGet_ReturnsPreviouslyAppendedRange(t *testing.T) {
	t.Parallel()

	a := newAppendOnly(t)

	_, _, err := a.Append([]byte("0123456789"))
	require.NoError(t, err)

	got, err := a.Get(3, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("3456"), got)
}

func TestGet_PastHead_Errors(t *testing.T) {
	t.Parallel()

	a := newAppendOnly(t)

	_, _, err := a.Append([]byte("short"))
	require.NoError(t, err)

	_, err = a.Get(0, 100)
	require.ErrorIs(t, err, appendonly.ErrOutOfRange)
}

func TestAppend_AcrossSegmentBoundary_RoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	const k0 = 6 // first segment is 64 bytes

	raw, err := rawbytes.Open(dir, "blob", k0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	j, err := journal.Open(dir+"/blob.head", testKey())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	a := appendonly.Open(raw, j)

	filler := make([]byte, 60)
	for i := range filler {
		filler[i] = byte(i)
	}

	_, _, err = a.Append(filler)
	require.NoError(t, err)

	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(0xA0 + i)
	}

	off, borrow, err := a.Append(payload)
	require.NoError(t, err)
	require.Equal(t, uint64(60), off)
	require.Equal(t, payload, borrow)

	got, err := a.Get(off, uint64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestAppend_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	raw1, err := rawbytes.Open(dir, "blob", 12)
	require.NoError(t, err)

	j1, err := journal.Open(dir+"/blob.head", testKey())
	require.NoError(t, err)

	a1 := appendonly.Open(raw1, j1)

	_, _, err = a1.Append([]byte("persisted"))
	require.NoError(t, err)

	require.NoError(t, raw1.Close())
	require.NoError(t, j1.Close())

	raw2, err := rawbytes.Open(dir, "blob", 12)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw2.Close() })

	j2, err := journal.Open(dir+"/blob.head", testKey())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j2.Close() })

	a2 := appendonly.Open(raw2, j2)

	require.Equal(t, uint64(9), a2.Head())

	got, err := a2.Get(0, 9)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), got)
}
