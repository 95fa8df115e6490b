package keyedhash_test

import (
	"testing"

	"github.com/calvinalkan/landfill/keyedhash"
	"github.com/stretchr/testify/require"
)

func TestSum64_DeterministicForSameKeyAndInput(t *testing.T) {
	t.Parallel()

	key := keyedhash.Key{1, 2, 3, 4}
	data := []byte("hello, landfill")

	a := key.Sum64(data)
	b := key.Sum64(data)

	require.Equal(t, a, b)
}

func TestSum64_DifferentKeysProduceDifferentSums(t *testing.T) {
	t.Parallel()

	data := []byte("the quick brown fox")

	a := keyedhash.Key{1, 2, 3, 4}.Sum64(data)
	b := keyedhash.Key{5, 6, 7, 8}.Sum64(data)

	require.NotEqual(t, a, b)
}

func TestSum64_DifferentInputsProduceDifferentSums(t *testing.T) {
	t.Parallel()

	key := keyedhash.Key{42, 42, 42, 42}

	a := key.Sum64([]byte("input one"))
	b := key.Sum64([]byte("input two"))

	require.NotEqual(t, a, b)
}

func TestSum64_HandlesAllLengthsUpToTwoBlocks(t *testing.T) {
	t.Parallel()

	key := keyedhash.Key{9, 8, 7, 6}

	for n := 0; n <= 17; n++ {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}

		// Must not panic and must be stable across repeated calls.
		require.Equal(t, key.Sum64(data), key.Sum64(data), "length %d", n)
	}
}

func TestSum64Uint64_MatchesManualEncoding(t *testing.T) {
	t.Parallel()

	key := keyedhash.Key{11, 22, 33, 44}

	got := key.Sum64Uint64(0x0102030405060708)
	want := key.Sum64([]byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01})

	require.Equal(t, want, got)
}

func FuzzSum64_NeverPanics(f *testing.F) {
	f.Add([]byte(""))
	f.Add([]byte("a"))
	f.Add([]byte("0123456789abcdef0123456789abcdef"))

	key := keyedhash.Key{1, 2, 3, 4}

	f.Fuzz(func(t *testing.T, data []byte) {
		_ = key.Sum64(data)
	})
}
