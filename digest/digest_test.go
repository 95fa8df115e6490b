package digest_test

import (
	"crypto/sha256"
	"testing"

	"github.com/calvinalkan/landfill/digest"
	"github.com/stretchr/testify/require"
)

func TestSHA256_MatchesStdlib(t *testing.T) {
	t.Parallel()

	data := []byte("content to digest")

	want := sha256.Sum256(data)
	got := digest.SHA256(data)

	require.Equal(t, want, got)
}

func TestSHA256_DifferentInputsProduceDifferentDigests(t *testing.T) {
	t.Parallel()

	a := digest.SHA256([]byte("a"))
	b := digest.SHA256([]byte("b"))

	require.NotEqual(t, a, b)
}
