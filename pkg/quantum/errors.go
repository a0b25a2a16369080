package quantum

import "errors"

// Sentinel errors for the quantum crypto module (spec §4.1 "Failure modes").
// All are fatal to the current operation; none are retried inside this
// package.
var (
	ErrInvalidKey        = errors.New("quantum: invalid key")
	ErrInvalidCiphertext = errors.New("quantum: invalid ciphertext")
	ErrAuth              = errors.New("quantum: authentication failed")
	ErrNonceExhaustion   = errors.New("quantum: nonce space exhausted")
	ErrKdfContextMissing = errors.New("quantum: unknown kdf context")
	ErrMessageExpired    = errors.New("quantum: message outside freshness window")
	ErrChainMismatch     = errors.New("quantum: chain_from/chain_to mismatch")
	ErrReplay            = errors.New("quantum: replayed message")
)
