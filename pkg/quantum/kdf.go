package quantum

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Context tags for HKDF-SHA256 derivation (spec §4.1 "Required contexts").
// Different contexts MUST produce independent keys from the same input
// secret — callers never reuse a context tag across operation kinds.
const (
	ContextBridgeTx       = "bridge.tx.v1"
	ContextCrossChainAuth = "bridge.xchain-auth.v1"
	ContextStateSync      = "bridge.state-sync.v1"
	ContextEvent          = "bridge.event.v1"
)

var knownContexts = map[string]bool{
	ContextBridgeTx:       true,
	ContextCrossChainAuth: true,
	ContextStateSync:      true,
	ContextEvent:          true,
}

// DeriveKey runs HKDF-SHA256 over secret with the given info context,
// producing n bytes of independent key material. Returns KdfContextMissing
// if info is not one of the spec's registered contexts — the KDF never
// derives against an unregistered purpose string.
func DeriveKey(secret []byte, info string, n int) ([]byte, error) {
	if !knownContexts[info] {
		return nil, ErrKdfContextMissing
	}
	return deriveRaw(secret, info, n)
}

// deriveRaw performs the HKDF-Extract-and-Expand without the registered-context
// check, for internal composite uses (e.g. appending "mac" to a context tag
// per spec §4.1 HybridEnvelope MAC-key derivation).
func deriveRaw(secret []byte, info string, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveNonce computes the deterministic idempotence nonce
// `HKDF(swap_id, "bridge.tx.v1", step_name)[..16]` used by adapters to
// dedupe resubmissions (spec §4.5 "Idempotence").
func DeriveNonce(swapID []byte, stepName string) ([]byte, error) {
	r := hkdf.New(sha256.New, swapID, nil, []byte(ContextBridgeTx+"/"+stepName))
	out := make([]byte, 16)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
