package kmer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, seq := range []string{"A", "ACGT", "acgtACGT", "GATTACA"} {
		k, err := Encode([]byte(seq))
		require.NoError(t, err)
		got := Decode(k, uint(2*len(seq)))
		require.Equal(t, []byte(strUpper(seq)), got)
	}
}

func strUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestEncodeRejectsInvalidBase(t *testing.T) {
	_, err := Encode([]byte("ACGN"))
	require.Error(t, err)
}

func TestEncodeRejectsOverlongSequence(t *testing.T) {
	seq := make([]byte, 33)
	for i := range seq {
		seq[i] = 'A'
	}
	_, err := Encode(seq)
	require.ErrorIs(t, err, ErrSequenceTooLong)
}

func TestReverseComplement(t *testing.T) {
	k, err := Encode([]byte("ACGT"))
	require.NoError(t, err)

	rc, err := ReverseComplement(k, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("ACGT"), Decode(rc, 8)) // ACGT's revcomp is itself

	k2, err := Encode([]byte("AAAC"))
	require.NoError(t, err)
	rc2, err := ReverseComplement(k2, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("GTTT"), Decode(rc2, 8))
}

func TestReverseComplementRejectsOddKeyBits(t *testing.T) {
	_, err := ReverseComplement(0, 7)
	require.ErrorIs(t, err, ErrOddKeyBits)
}

func TestReverseComplementInvolution(t *testing.T) {
	k, err := Encode([]byte("GATTACACATTAG"))
	require.NoError(t, err)
	kb := uint(2 * 13)

	rc, err := ReverseComplement(k, kb)
	require.NoError(t, err)
	rcrc, err := ReverseComplement(rc, kb)
	require.NoError(t, err)
	require.Equal(t, k, rcrc)
}

func TestCanonicalPicksSmaller(t *testing.T) {
	k, err := Encode([]byte("AAAC"))
	require.NoError(t, err)
	rc, err := ReverseComplement(k, 8)
	require.NoError(t, err)

	canon, err := Canonical(k, 8)
	require.NoError(t, err)
	require.Equal(t, canon, min(k, rc))

	canonFromRC, err := Canonical(rc, 8)
	require.NoError(t, err)
	require.Equal(t, canon, canonFromRC)
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
