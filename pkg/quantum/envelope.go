package quantum

// HybridEnvelope is the composite construction of spec §4.1: a KEM-wrapped
// shared secret protecting an AEAD-encrypted payload, with a detached MAC
// computed under an independently-derived key.
type HybridEnvelope struct {
	KemCiphertext []byte
	Nonce         []byte
	AeadCiphertext []byte
	MAC           []byte
}

// Encrypt seals plaintext for recipientEK under contextTag, producing a
// HybridEnvelope (spec §4.1 "Composite — HybridEnvelope"). aad is bound into
// both the AEAD tag and carried alongside the envelope for the MAC.
func Encrypt(recipientEK EncapsulationKey, plaintext, aad []byte, contextTag string, counter *NonceCounter) (*HybridEnvelope, error) {
	ct, ss, err := Encapsulate(recipientEK)
	if err != nil {
		return nil, err
	}

	aeadKey, err := deriveRaw(ss, contextTag, 32)
	if err != nil {
		return nil, err
	}
	macKey, err := deriveRaw(ss, contextTag+"mac", 32)
	if err != nil {
		return nil, err
	}

	nonce, aeadCt, err := SealAEAD(aeadKey, plaintext, aad, counter)
	if err != nil {
		return nil, err
	}

	mac := MAC(macKey, envelopeMacInput(ct, nonce, aeadCt, aad))

	return &HybridEnvelope{
		KemCiphertext:  ct,
		Nonce:          nonce,
		AeadCiphertext: aeadCt,
		MAC:            mac,
	}, nil
}

// Decrypt opens env for recipientDK under contextTag. Verifies the MAC
// before attempting AEAD open, and returns the single opaque ErrAuth on any
// failure — MAC mismatch and AEAD tag mismatch are indistinguishable to the
// caller (spec §4.1 "no oracle leakage between MAC and AEAD failures", §8
// property 2).
func Decrypt(recipientDK DecapsulationKey, env *HybridEnvelope, aad []byte, contextTag string) ([]byte, error) {
	if env == nil || len(env.KemCiphertext) != CiphertextSize {
		return nil, ErrAuth
	}

	ss, err := Decapsulate(recipientDK, env.KemCiphertext)
	if err != nil {
		return nil, ErrAuth
	}

	aeadKey, err := deriveRaw(ss, contextTag, 32)
	if err != nil {
		return nil, ErrAuth
	}
	macKey, err := deriveRaw(ss, contextTag+"mac", 32)
	if err != nil {
		return nil, ErrAuth
	}

	macInput := envelopeMacInput(env.KemCiphertext, env.Nonce, env.AeadCiphertext, aad)
	if err := VerifyMAC(macKey, macInput, env.MAC); err != nil {
		return nil, ErrAuth
	}

	plaintext, err := OpenAEAD(aeadKey, env.Nonce, env.AeadCiphertext, aad)
	if err != nil {
		return nil, ErrAuth
	}

	return plaintext, nil
}

// envelopeMacInput builds the canonical byte string the MAC is computed over:
// kem_ct || nonce || aead_ct || aad, length-prefixed so no field boundary is
// ambiguous (spec §8 property 2: modifying any single byte of any field must
// invalidate the MAC).
func envelopeMacInput(kemCt, nonce, aeadCt, aad []byte) []byte {
	buf := make([]byte, 0, len(kemCt)+len(nonce)+len(aeadCt)+len(aad)+16)
	buf = appendLenPrefixed(buf, kemCt)
	buf = appendLenPrefixed(buf, nonce)
	buf = appendLenPrefixed(buf, aeadCt)
	buf = appendLenPrefixed(buf, aad)
	return buf
}

func appendLenPrefixed(buf, field []byte) []byte {
	n := len(field)
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(buf, field...)
}
