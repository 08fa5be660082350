// Package secrets stores per-owner secrets (bot tokens first of all)
// encrypted at rest.
package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/kv/typed"
)

const (
	// MaxSecretLen bounds one secret's plaintext size.
	MaxSecretLen = 10 * 1024
	// DefaultSecretsPerOwner is the per-owner quota.
	DefaultSecretsPerOwner = 10

	storePrefix = "telebot-constructor"
)

var (
	ErrSecretTooLong  = errors.New("secret exceeds maximum allowed length")
	ErrQuotaExceeded  = errors.New("secrets quota exceeded for owner")
	ErrEmptySecret    = errors.New("secret must not be empty")
	ErrBadCiphertext  = errors.New("stored secret is corrupt or key mismatch")
	ErrEmptyKey       = errors.New("encryption key must not be empty")
	errNonceTooShort  = errors.New("stored secret shorter than nonce")
)

// Store is the secret storage abstraction consumed by the construction
// pipeline. Authentication backends may provide their own implementation.
type Store interface {
	SaveSecret(ctx context.Context, ownerID, name string, value []byte) error
	GetSecret(ctx context.Context, ownerID, name string) (string, bool, error)
	RemoveSecret(ctx context.Context, ownerID, name string) (bool, error)
	ListSecrets(ctx context.Context, ownerID string) ([]string, error)
}

// KVSecretStore keeps secretbox-encrypted secrets in the KV substrate.
type KVSecretStore struct {
	values          *typed.KeyValue[[]byte]
	key             [32]byte
	secretsPerOwner int
}

var _ Store = (*KVSecretStore)(nil)

// NewKVSecretStore derives a 32-byte secretbox key from encryptionKey.
func NewKVSecretStore(backend kv.Store, encryptionKey string, secretsPerOwner int) (*KVSecretStore, error) {
	if encryptionKey == "" {
		return nil, ErrEmptyKey
	}
	if secretsPerOwner <= 0 {
		secretsPerOwner = DefaultSecretsPerOwner
	}
	s := &KVSecretStore{
		values: typed.NewKeyValue[[]byte](typed.Options{
			Name:    "secrets",
			Prefix:  storePrefix,
			Backend: backend,
			TTL:     time.Duration(0),
		}),
		key:             sha256.Sum256([]byte(encryptionKey)),
		secretsPerOwner: secretsPerOwner,
	}
	return s, nil
}

func secretKey(ownerID, name string) string {
	return ownerID + "/" + name
}

func (s *KVSecretStore) SaveSecret(ctx context.Context, ownerID, name string, value []byte) error {
	if len(value) == 0 {
		return ErrEmptySecret
	}
	if len(value) > MaxSecretLen {
		return ErrSecretTooLong
	}
	existing, err := s.ListSecrets(ctx, ownerID)
	if err != nil {
		return err
	}
	known := false
	for _, n := range existing {
		if n == name {
			known = true
			break
		}
	}
	if !known && len(existing) >= s.secretsPerOwner {
		return ErrQuotaExceeded
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], value, &nonce, &s.key)
	return s.values.Save(ctx, secretKey(ownerID, name), sealed)
}

func (s *KVSecretStore) GetSecret(ctx context.Context, ownerID, name string) (string, bool, error) {
	sealed, ok, err := s.values.Load(ctx, secretKey(ownerID, name))
	if err != nil || !ok {
		return "", false, err
	}
	if len(sealed) < 24 {
		return "", false, errNonceTooShort
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return "", false, ErrBadCiphertext
	}
	return string(plain), true, nil
}

func (s *KVSecretStore) RemoveSecret(ctx context.Context, ownerID, name string) (bool, error) {
	return s.values.Drop(ctx, secretKey(ownerID, name))
}

func (s *KVSecretStore) ListSecrets(ctx context.Context, ownerID string) ([]string, error) {
	keys, err := s.values.FindKeys(ctx, ownerID+"/")
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k[len(ownerID)+1:]
	}
	return names, nil
}
