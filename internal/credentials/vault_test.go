package credentials

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentgraph/pkg/schema"
)

// mapStore is a simple in-memory SecretStore for vault tests.
type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = bytes.Clone(value)
	return nil
}

func (m *mapStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (m *mapStore) DeleteSecret(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(m.data, key)
	return nil
}

func (m *mapStore) ListSecrets(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

type brokenStore struct{ *mapStore }

func (b *brokenStore) GetSecret(_ context.Context, _ string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func testVault(t *testing.T) (*Vault, *mapStore) {
	t.Helper()
	s := newMapStore()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	v, err := NewVault(s, VaultConfig{MasterKey: key})
	require.NoError(t, err)
	return v, s
}

func TestVault_PutAndActiveCredentials(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "user-1", "", Credentials{APIKey: "sk-123", Model: "gpt-4o"}))

	creds, err := v.ActiveCredentials(ctx, "user-1", DefaultProvider)
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "sk-123", creds.APIKey)
	assert.Equal(t, "gpt-4o", creds.Model)
}

func TestVault_EncryptedAtRest(t *testing.T) {
	v, s := testVault(t)
	require.NoError(t, v.Put(context.Background(), "user-1", "openai", Credentials{APIKey: "sk-plaintext"}))

	raw := s.data["openai/user-1"]
	require.NotEmpty(t, raw)
	assert.False(t, bytes.Contains(raw, []byte("sk-plaintext")))
}

func TestVault_MissingIsNone(t *testing.T) {
	v, _ := testVault(t)
	creds, err := v.ActiveCredentials(context.Background(), "nobody", "openai")
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestVault_StoreErrorPropagates(t *testing.T) {
	v, err := NewVault(&brokenStore{mapStore: newMapStore()}, VaultConfig{MasterKey: make([]byte, 32)})
	require.NoError(t, err)
	_, err = v.ActiveCredentials(context.Background(), "u", "openai")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestVault_WrongKeyCannotDecrypt(t *testing.T) {
	s := newMapStore()
	ctx := context.Background()

	key2 := make([]byte, 32)
	key2[0] = 0xFF

	v1, _ := NewVault(s, VaultConfig{MasterKey: make([]byte, 32)})
	require.NoError(t, v1.Put(ctx, "u", "openai", Credentials{APIKey: "hidden"}))

	v2, _ := NewVault(s, VaultConfig{MasterKey: key2})
	_, err := v2.ActiveCredentials(ctx, "u", "openai")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeVault))
}

func TestVault_PassphraseDerivation(t *testing.T) {
	v, err := NewVault(newMapStore(), VaultConfig{
		Passphrase: "my-secure-passphrase",
		Salt:       []byte("test-salt-16byte"),
		Iterations: 1000,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "u", "openai", Credentials{APIKey: "k"}))
	creds, err := v.ActiveCredentials(ctx, "u", "openai")
	require.NoError(t, err)
	assert.Equal(t, "k", creds.APIKey)
}

func TestVault_RemoveAndUsers(t *testing.T) {
	v, _ := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "bob", "openai", Credentials{APIKey: "1"}))
	require.NoError(t, v.Put(ctx, "alice", "openai", Credentials{APIKey: "2"}))
	require.NoError(t, v.Put(ctx, "carol", "anthropic", Credentials{APIKey: "3"}))

	users, err := v.Users(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	require.NoError(t, v.Remove(ctx, "bob", "openai"))
	users, err = v.Users(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	err = v.Remove(ctx, "bob", "openai")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestVault_UniqueNonces(t *testing.T) {
	v, s := testVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "a", "openai", Credentials{APIKey: "same"}))
	require.NoError(t, v.Put(ctx, "b", "openai", Credentials{APIKey: "same"}))
	assert.False(t, bytes.Equal(s.data["openai/a"], s.data["openai/b"]))
}

func TestVault_PutRequiresUser(t *testing.T) {
	v, _ := testVault(t)
	err := v.Put(context.Background(), "", "openai", Credentials{APIKey: "x"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestNewVault_KeyErrors(t *testing.T) {
	_, err := NewVault(newMapStore(), VaultConfig{MasterKey: []byte("too-short")})
	assert.True(t, schema.HasCode(err, schema.ErrCodeVault))

	_, err = NewVault(newMapStore(), VaultConfig{})
	assert.Error(t, err)

	_, err = NewVault(newMapStore(), VaultConfig{Passphrase: "pass"})
	assert.Error(t, err)
}
