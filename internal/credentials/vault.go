package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/agentgraph/pkg/schema"
)

// SecretStore is the persistence the vault writes ciphertext to.
// Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// VaultConfig configures key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 iterations, default 100_000
}

// Vault keeps per-user credentials encrypted with AES-256-GCM.
// Entries are stored under "<provider>/<userID>".
type Vault struct {
	store SecretStore
	aead  cipher.AEAD
}

// NewVault creates a vault over s.
func NewVault(s SecretStore, cfg VaultConfig) (*Vault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Vault{store: s, aead: aead}, nil
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "either master key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

func vaultKey(provider, userID string) string {
	if provider == "" {
		provider = DefaultProvider
	}
	return provider + "/" + userID
}

// Put encrypts and stores creds for userID.
func (v *Vault) Put(ctx context.Context, userID, provider string, creds Credentials) error {
	if userID == "" {
		return schema.NewError(schema.ErrCodeValidation, "user id is required")
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return v.store.StoreSecret(ctx, vaultKey(provider, userID), v.aead.Seal(nonce, nonce, plain, nil))
}

// ActiveCredentials implements Provider. A missing entry yields nil, nil.
func (v *Vault) ActiveCredentials(ctx context.Context, userID, provider string) (*Credentials, error) {
	sealed, err := v.store.GetSecret(ctx, vaultKey(provider, userID))
	if err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			return nil, nil
		}
		return nil, err
	}

	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	plain, err := v.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decode credentials: %s", err.Error()).WithCause(err)
	}
	return &creds, nil
}

// Remove deletes the credentials for userID.
func (v *Vault) Remove(ctx context.Context, userID, provider string) error {
	return v.store.DeleteSecret(ctx, vaultKey(provider, userID))
}

// Users lists user IDs with credentials stored for provider, sorted.
func (v *Vault) Users(ctx context.Context, provider string) ([]string, error) {
	keys, err := v.store.ListSecrets(ctx)
	if err != nil {
		return nil, err
	}
	prefix := vaultKey(provider, "")
	var users []string
	for _, k := range keys {
		if user, ok := strings.CutPrefix(k, prefix); ok && user != "" {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users, nil
}
