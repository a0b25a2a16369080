// Package quantum implements the hybrid post-quantum protection layer (C3):
// ML-KEM-1024 KEM, HKDF-SHA256 KDF, AES-256-GCM AEAD, HMAC-SHA256 MAC, and the
// HybridEnvelope composite (spec §4.1).
package quantum

import (
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
)

// Expected wire sizes for ML-KEM-1024 (NIST FIPS 203); any input of a
// different length is rejected rather than passed to circl (spec §4.1
// "reject any input of wrong length").
const (
	PublicKeySize  = mlkem1024.PublicKeySize
	CiphertextSize = mlkem1024.CiphertextSize
	SharedKeySize  = mlkem1024.SharedKeySize
)

var scheme = mlkem1024.Scheme()

// EncapsulationKey is the public key a sender encapsulates against.
type EncapsulationKey = kem.PublicKey

// DecapsulationKey is the private key a recipient decapsulates with.
type DecapsulationKey = kem.PrivateKey

// GenerateKeyPair produces a fresh ML-KEM-1024 keypair.
func GenerateKeyPair() (EncapsulationKey, DecapsulationKey, error) {
	ek, dk, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, ErrInvalidKey
	}
	return ek, dk, nil
}

// MarshalPublicKey renders an encapsulation key as its fixed-size wire form.
func MarshalPublicKey(ek EncapsulationKey) ([]byte, error) {
	b, err := ek.MarshalBinary()
	if err != nil {
		return nil, ErrInvalidKey
	}
	return b, nil
}

// UnmarshalPublicKey parses a wire-form encapsulation key, rejecting any
// input whose length does not match PublicKeySize.
func UnmarshalPublicKey(raw []byte) (EncapsulationKey, error) {
	if len(raw) != PublicKeySize {
		return nil, ErrInvalidKey
	}
	ek, err := scheme.UnmarshalBinaryPublicKey(raw)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return ek, nil
}

// MarshalPrivateKey renders a decapsulation key as its fixed-size wire form.
// Callers must seal this under the process wrapping key before persisting it
// (see pkg/keystore) — it is never written to storage in the clear.
func MarshalPrivateKey(dk DecapsulationKey) ([]byte, error) {
	b, err := dk.MarshalBinary()
	if err != nil {
		return nil, ErrInvalidKey
	}
	return b, nil
}

// UnmarshalPrivateKey parses a wire-form decapsulation key.
func UnmarshalPrivateKey(raw []byte) (DecapsulationKey, error) {
	dk, err := scheme.UnmarshalBinaryPrivateKey(raw)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return dk, nil
}

// Encapsulate derives a fresh shared secret and its ciphertext against ek.
// |ct| = CiphertextSize, |ss| = SharedKeySize (spec §4.1).
func Encapsulate(ek EncapsulationKey) (ct, ss []byte, err error) {
	ct, ss, err = scheme.Encapsulate(ek)
	if err != nil {
		return nil, nil, ErrInvalidKey
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from ct using dk. Rejects any
// ciphertext of the wrong length before calling into circl.
func Decapsulate(dk DecapsulationKey, ct []byte) ([]byte, error) {
	if len(ct) != CiphertextSize {
		return nil, ErrInvalidCiphertext
	}
	ss, err := scheme.Decapsulate(dk, ct)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return ss, nil
}
