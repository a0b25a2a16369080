// Package keystore implements the per-user quantum key lifecycle (C4, spec
// §4.2): creation, sealing, resolution, and rotation of ML-KEM-1024 keys.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/certen/quantum-bridge/pkg/database"
	"github.com/certen/quantum-bridge/pkg/quantum"
)

// ErrWrappingKeySize is returned when the process wrapping key is not 32
// bytes (AES-256).
var ErrWrappingKeySize = errors.New("keystore: wrapping key must be 32 bytes")

// Store manages quantum key lifecycle for users, sealing private key bytes
// under a process-provided wrapping key (spec §4.2).
type Store struct {
	repo        *database.QuantumKeyRepository
	wrappingKey []byte

	// perUserLocks serializes rotation with key issuance per user (spec §5
	// "The Key Store uses a per-user advisory lock to serialize rotation
	// with key issuance").
	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex

	logger *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store. wrappingKey must be exactly 32 bytes.
func New(repo *database.QuantumKeyRepository, wrappingKey []byte, opts ...Option) (*Store, error) {
	if len(wrappingKey) != 32 {
		return nil, ErrWrappingKeySize
	}
	s := &Store{
		repo:        repo,
		wrappingKey: wrappingKey,
		locks:       make(map[uuid.UUID]*sync.Mutex),
		logger:      log.New(log.Writer(), "[KeyStore] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) lockFor(userID uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// seal wraps raw private key bytes with the process wrapping key using
// AES-GCM with a fresh nonce (spec §4.2 "produced by wrapping the raw
// private bytes with the process wrapping key using AES-GCM with a fresh
// nonce").
func (s *Store) seal(raw []byte) ([]byte, error) {
	nonce, ct, err := quantum.SealAEAD(s.wrappingKey, raw, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to seal private key: %w", err)
	}
	return append(nonce, ct...), nil
}

// unseal recovers raw private key bytes from a sealed blob.
func (s *Store) unseal(sealed []byte) ([]byte, error) {
	if len(sealed) < quantum.NonceSize {
		return nil, quantum.ErrAuth
	}
	nonce, ct := sealed[:quantum.NonceSize], sealed[quantum.NonceSize:]
	raw, err := quantum.OpenAEAD(s.wrappingKey, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal private key: %w", err)
	}
	return raw, nil
}

// CreateActiveKey generates a new ML-KEM-1024 keypair and stores it as the
// active key for (user, purpose) (spec §4.2 "create_active_key").
func (s *Store) CreateActiveKey(ctx context.Context, userID uuid.UUID, purpose database.QuantumKeyPurpose) (*database.QuantumKey, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	ek, dk, err := quantum.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	pubBytes, err := quantum.MarshalPublicKey(ek)
	if err != nil {
		return nil, err
	}
	privBytes, err := quantum.MarshalPrivateKey(dk)
	if err != nil {
		return nil, err
	}
	sealed, err := s.seal(privBytes)
	if err != nil {
		return nil, err
	}

	row := &database.QuantumKey{
		UserID:           userID,
		Algorithm:        "ML-KEM-1024",
		Purpose:          purpose,
		PublicKey:        pubBytes,
		PrivateKeySealed: sealed,
		Metadata:         []byte("{}"),
		Active:           true,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return nil, err
	}
	s.logger.Printf("🔐 created active key %s for user %s", row.ID, userID)
	return row, nil
}

// GetActiveKey returns the current active key for (user, purpose) (spec §4.2
// "get_active_key").
func (s *Store) GetActiveKey(ctx context.Context, userID uuid.UUID, purpose database.QuantumKeyPurpose) (*database.QuantumKey, error) {
	return s.repo.GetActive(ctx, userID, purpose)
}

// ResolveByID fetches a key regardless of active state (spec §4.2
// "resolve_by_id").
func (s *Store) ResolveByID(ctx context.Context, keyID uuid.UUID) (*database.QuantumKey, error) {
	return s.repo.Resolve(ctx, keyID)
}

// DecapsulationKeyFor reconstitutes the live decapsulation key for a stored
// row by unsealing its private bytes. The returned key exists only in the
// caller's stack frame for the duration of a single operation; callers must
// not retain it (spec §5 "live only in zeroizing buffers scoped to a single
// operation").
func (s *Store) DecapsulationKeyFor(row *database.QuantumKey) (quantum.DecapsulationKey, error) {
	raw, err := s.unseal(row.PrivateKeySealed)
	if err != nil {
		return nil, err
	}
	defer zero(raw)
	return quantum.UnmarshalPrivateKey(raw)
}

// EncapsulationKeyFor parses the stored public key bytes.
func (s *Store) EncapsulationKeyFor(row *database.QuantumKey) (quantum.EncapsulationKey, error) {
	return quantum.UnmarshalPublicKey(row.PublicKey)
}

// Rotate creates a new active key and deactivates the previous one in a
// single transaction (spec §4.2 "Rotation steps"). The old key is retained
// until ReferenceCount reports zero open swaps against it.
func (s *Store) Rotate(ctx context.Context, userID uuid.UUID, purpose database.QuantumKeyPurpose) (*database.QuantumKey, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	old, err := s.repo.GetActive(ctx, userID, purpose)
	if err != nil && !errors.Is(err, database.ErrQuantumKeyNotFound) {
		return nil, err
	}

	ek, dk, err := quantum.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	pubBytes, err := quantum.MarshalPublicKey(ek)
	if err != nil {
		return nil, err
	}
	privBytes, err := quantum.MarshalPrivateKey(dk)
	if err != nil {
		return nil, err
	}
	sealed, err := s.seal(privBytes)
	if err != nil {
		return nil, err
	}

	newKey := &database.QuantumKey{
		UserID:           userID,
		Algorithm:        "ML-KEM-1024",
		Purpose:          purpose,
		PublicKey:        pubBytes,
		PrivateKeySealed: sealed,
		Metadata:         []byte("{}"),
	}

	if old == nil {
		if err := s.repo.Create(ctx, newKey); err != nil {
			return nil, err
		}
		return newKey, nil
	}

	if err := s.repo.Rotate(ctx, old.ID, newKey); err != nil {
		return nil, err
	}
	s.logger.Printf("🔄 rotated key for user %s: %s -> %s", userID, old.ID, newKey.ID)
	return newKey, nil
}

// ExpireAndDeactivate deactivates a key whose expires_at has passed and is no
// longer referenced by an open swap (spec §4.2 "expire_and_deactivate").
func (s *Store) ExpireAndDeactivate(ctx context.Context, keyID uuid.UUID) error {
	refs, err := s.repo.ReferenceCount(ctx, keyID)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("keystore: key %s still referenced by %d open swap(s)", keyID, refs)
	}
	row, err := s.repo.Resolve(ctx, keyID)
	if err != nil {
		return err
	}
	if !row.Active {
		return nil
	}
	_, err = s.repo.Rotate(ctx, row.ID, &database.QuantumKey{
		UserID:           row.UserID,
		Algorithm:        row.Algorithm,
		Purpose:          row.Purpose,
		PublicKey:        row.PublicKey,
		PrivateKeySealed: row.PrivateKeySealed,
		Metadata:         row.Metadata,
		ExpiresAt:        row.ExpiresAt,
	})
	return err
}

// zero overwrites a byte slice in place; best-effort zeroization for
// transient plaintext key material (spec §5 "Memory").
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
