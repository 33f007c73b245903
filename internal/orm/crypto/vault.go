// Package crypto provides the field-encryption providers used by the record
// seal pipeline. A Vault derives per-record keys from a master secret and the
// record's key field with argon2id, then encrypts with a named provider.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrUnknownProvider is returned for a provider id that is not registered
	ErrUnknownProvider = errors.New("unknown encryption provider")

	// ErrDecrypt is returned when ciphertext fails authentication
	ErrDecrypt = errors.New("decryption failed")

	// ErrNoMasterKey is returned when a vault is created without a secret
	ErrNoMasterKey = errors.New("master key is required")
)

// SaltSize is the size of generated key-field salts in bytes
const SaltSize = 16

// Provider seals data with a 32-byte key
type Provider interface {
	Seal(key *[32]byte, plaintext []byte) ([]byte, error)
	Open(key *[32]byte, ciphertext []byte) ([]byte, error)
}

// KDFParams controls argon2id key derivation
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultKDFParams are the argon2id parameters used when none are given
var DefaultKDFParams = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

// Vault implements record.Cipher over a set of named providers
type Vault struct {
	master    []byte
	params    KDFParams
	providers map[string]Provider

	// derived keys are cached per (master, salt)
	keys map[string]*[32]byte
	mu   sync.RWMutex
}

// VaultOption configures a Vault
type VaultOption func(*Vault)

// WithKDFParams overrides the argon2id parameters
func WithKDFParams(p KDFParams) VaultOption {
	return func(v *Vault) {
		v.params = p
	}
}

// WithProvider registers an additional provider under id
func WithProvider(id string, p Provider) VaultOption {
	return func(v *Vault) {
		v.providers[id] = p
	}
}

// NewVault creates a vault with the secretbox and xchacha20poly1305 providers
func NewVault(master []byte, opts ...VaultOption) (*Vault, error) {
	if len(master) == 0 {
		return nil, ErrNoMasterKey
	}
	v := &Vault{
		master: append([]byte{}, master...),
		params: DefaultKDFParams,
		providers: map[string]Provider{
			ProviderSecretbox: SecretboxProvider{},
			ProviderXChaCha:   XChaChaProvider{},
		},
		keys: make(map[string]*[32]byte),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Providers returns the registered provider ids, sorted
func (v *Vault) Providers() []string {
	out := make([]string, 0, len(v.providers))
	for id := range v.providers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NewSalt returns random salt bytes for a key field
func (v *Vault) NewSalt(provider string) ([]byte, error) {
	if _, err := v.provider(provider); err != nil {
		return nil, err
	}
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext with a key derived from the master secret and salt
func (v *Vault) Encrypt(provider string, salt, plaintext []byte) ([]byte, error) {
	p, err := v.provider(provider)
	if err != nil {
		return nil, err
	}
	return p.Seal(v.derive(salt), plaintext)
}

// Decrypt opens ciphertext produced by Encrypt with the same salt
func (v *Vault) Decrypt(provider string, salt, ciphertext []byte) ([]byte, error) {
	p, err := v.provider(provider)
	if err != nil {
		return nil, err
	}
	return p.Open(v.derive(salt), ciphertext)
}

func (v *Vault) provider(id string) (Provider, error) {
	p, ok := v.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

func (v *Vault) derive(salt []byte) *[32]byte {
	if len(salt) == 0 {
		// fields without a key field share a master-derived key
		salt = []byte("strata/default")
	}
	cacheKey := string(salt)

	v.mu.RLock()
	key, ok := v.keys[cacheKey]
	v.mu.RUnlock()
	if ok {
		return key
	}

	derived := argon2.IDKey(v.master, salt, v.params.Time, v.params.Memory, v.params.Threads, 32)
	key = new([32]byte)
	copy(key[:], derived)

	v.mu.Lock()
	v.keys[cacheKey] = key
	v.mu.Unlock()
	return key
}
