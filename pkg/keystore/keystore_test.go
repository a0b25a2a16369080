package keystore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsWrongWrappingKeySize(t *testing.T) {
	_, err := New(nil, make([]byte, 16))
	require.ErrorIs(t, err, ErrWrappingKeySize)
}

func TestSealUnsealRoundTrip(t *testing.T) {
	s, err := New(nil, make([]byte, 32))
	require.NoError(t, err)

	plaintext := []byte("raw-private-key-bytes")
	sealed, err := s.seal(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	recovered, err := s.unseal(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, recovered)
}

func TestUnsealRejectsTamperedBlob(t *testing.T) {
	s, err := New(nil, make([]byte, 32))
	require.NoError(t, err)

	sealed, err := s.seal([]byte("secret"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = s.unseal(sealed)
	require.Error(t, err)
}
