package quantum

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKEMRoundTrip(t *testing.T) {
	ek, dk, err := GenerateKeyPair()
	require.NoError(t, err)

	ct, ss, err := Encapsulate(ek)
	require.NoError(t, err)
	require.Len(t, ct, CiphertextSize)
	require.Len(t, ss, SharedKeySize)

	ss2, err := Decapsulate(dk, ct)
	require.NoError(t, err)
	require.Equal(t, ss, ss2)
}

func TestUnmarshalPublicKeyRejectsWrongLength(t *testing.T) {
	_, err := UnmarshalPublicKey(make([]byte, PublicKeySize-1))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestDecapsulateRejectsWrongLengthCiphertext(t *testing.T) {
	_, dk, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = Decapsulate(dk, make([]byte, CiphertextSize-1))
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestKdfContextSeparation(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}

	k1, err := DeriveKey(secret, ContextBridgeTx, 32)
	require.NoError(t, err)
	k2, err := DeriveKey(secret, ContextCrossChainAuth, 32)
	require.NoError(t, err)

	require.NotEqual(t, k1, k2)
}

func TestDeriveKeyRejectsUnknownContext(t *testing.T) {
	_, err := DeriveKey(make([]byte, 32), "not-a-registered-context", 32)
	require.ErrorIs(t, err, ErrKdfContextMissing)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ek, dk, err := GenerateKeyPair()
	require.NoError(t, err)

	plaintext := []byte("swap-payload")
	aad := []byte("swap-id|lock|bridge.tx.v1")

	env, err := Encrypt(ek, plaintext, aad, ContextBridgeTx, nil)
	require.NoError(t, err)

	out, err := Decrypt(dk, env, aad, ContextBridgeTx)
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestEnvelopeTamperDetection(t *testing.T) {
	ek, dk, err := GenerateKeyPair()
	require.NoError(t, err)

	aad := []byte("aad")
	env, err := Encrypt(ek, []byte("secret"), aad, ContextBridgeTx, nil)
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*HybridEnvelope)
	}{
		{"kem_ct", func(e *HybridEnvelope) { e.KemCiphertext[0] ^= 0xFF }},
		{"nonce", func(e *HybridEnvelope) { e.Nonce[0] ^= 0xFF }},
		{"aead_ct", func(e *HybridEnvelope) { e.AeadCiphertext[0] ^= 0xFF }},
		{"mac", func(e *HybridEnvelope) { e.MAC[0] ^= 0xFF }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tampered := *env
			tampered.KemCiphertext = append([]byte(nil), env.KemCiphertext...)
			tampered.Nonce = append([]byte(nil), env.Nonce...)
			tampered.AeadCiphertext = append([]byte(nil), env.AeadCiphertext...)
			tampered.MAC = append([]byte(nil), env.MAC...)
			tc.mutate(&tampered)

			_, err := Decrypt(dk, &tampered, aad, ContextBridgeTx)
			require.ErrorIs(t, err, ErrAuth)
		})
	}

	// Tampering with AAD itself must also be rejected.
	_, err = Decrypt(dk, env, []byte("different-aad"), ContextBridgeTx)
	require.ErrorIs(t, err, ErrAuth)
}

func TestReplayGuardRejectsDuplicateAndExpired(t *testing.T) {
	macKey := make([]byte, 32)
	now := time.Now()

	msg, err := NewAuthenticatedMessage(macKey, []byte("payload"), now, 60*time.Second, "evm-sepolia", "near-testnet")
	require.NoError(t, err)

	guard := NewReplayGuard(16)

	require.NoError(t, guard.Check(macKey, msg, now.Add(time.Second), "evm-sepolia", "near-testnet"))
	require.ErrorIs(t, guard.Check(macKey, msg, now.Add(2*time.Second), "evm-sepolia", "near-testnet"), ErrReplay)

	expired, err := NewAuthenticatedMessage(macKey, []byte("payload"), now, 60*time.Second, "evm-sepolia", "near-testnet")
	require.NoError(t, err)
	require.ErrorIs(t, guard.Check(macKey, expired, now.Add(time.Hour), "evm-sepolia", "near-testnet"), ErrMessageExpired)
}
