package quantum

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"sync"
)

// NonceSize is the AES-256-GCM nonce length (spec §4.1 "12-byte random
// nonces").
const NonceSize = 12

// MaxOperationsPerKey bounds nonce reuse risk under random selection; once
// reached the key is considered exhausted and must be rotated (spec §4.1
// "enforced by uniform random choice plus a per-key counter check up to
// 2^32 operations").
const MaxOperationsPerKey = uint64(1) << 32

// NonceCounter tracks AEAD operation counts per key so NonceExhaustion can be
// raised deterministically instead of relying solely on random collision.
type NonceCounter struct {
	mu    sync.Mutex
	count uint64
}

// Next increments the counter, returning NonceExhaustion once the spec's
// operation budget for a single key is reached.
func (c *NonceCounter) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count >= MaxOperationsPerKey {
		return ErrNonceExhaustion
	}
	c.count++
	return nil
}

// SealAEAD encrypts plaintext under key (32 bytes) with a fresh random nonce,
// binding aad as associated data (spec §4.1 "AAD carries {swap_id,
// operation_kind, context_tag}"). counter may be nil to skip exhaustion
// tracking (e.g. test-only single-shot calls).
func SealAEAD(key, plaintext, aad []byte, counter *NonceCounter) (nonce, ciphertext []byte, err error) {
	if len(key) != 32 {
		return nil, nil, ErrInvalidKey
	}
	if counter != nil {
		if err := counter.Next(); err != nil {
			return nil, nil, err
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, ErrInvalidKey
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, ErrInvalidKey
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

// OpenAEAD decrypts ciphertext under key, verifying nonce/aad/tag. Any
// failure returns the single opaque ErrAuth — callers must not branch on the
// underlying cipher error (spec §4.1 "no oracle leakage").
func OpenAEAD(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != 32 || len(nonce) != NonceSize {
		return nil, ErrAuth
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrAuth
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrAuth
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuth
	}
	return plaintext, nil
}

// MAC computes HMAC-SHA256 over data under key.
func MAC(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// VerifyMAC checks tag against a freshly computed HMAC-SHA256, in constant
// time. Returns ErrAuth rather than a boolean so callers cannot accidentally
// ignore failure.
func VerifyMAC(key, data, tag []byte) error {
	expected := MAC(key, data)
	if !hmac.Equal(expected, tag) {
		return ErrAuth
	}
	return nil
}
