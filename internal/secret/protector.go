package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// Prefix marks protected values inside persisted options
	Prefix = "enc:v1:"

	keySize = chacha20poly1305.KeySize

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// static salt: the passphrase only ever derives the one local key
var passphraseSalt = []byte("certagent/secret/v1")

// ErrNotProtected is returned by Reveal for values without the Prefix
var ErrNotProtected = errors.New("value is not protected")

// Protector encrypts secrets (API tokens, keys) stored inside renewal options
type Protector struct {
	key []byte
}

// NewProtector uses a raw 32 byte key
func NewProtector(key []byte) (*Protector, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", keySize, len(key))
	}
	return &Protector{key: key}, nil
}

// NewProtectorFromPassphrase derives the key with Argon2id
func NewProtectorFromPassphrase(passphrase string) *Protector {
	return &Protector{key: argon2.IDKey([]byte(passphrase), passphraseSalt, argonTime, argonMemory, argonThreads, keySize)}
}

// NewProtectorFromKeyFile loads the key file, generating it on first use
func NewProtectorFromKeyFile(keyPath string) (*Protector, error) {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		key := make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		encoded := base64.StdEncoding.EncodeToString(key)
		if err := os.WriteFile(keyPath, []byte(encoded), 0600); err != nil {
			return nil, fmt.Errorf("failed to save key: %w", err)
		}
		return &Protector{key: key}, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	return NewProtector(key)
}

// IsProtected reports whether value carries the Prefix
func IsProtected(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Protect encrypts plaintext; empty and already protected values are returned unchanged
func (p *Protector) Protect(plaintext string) (string, error) {
	if plaintext == "" || IsProtected(plaintext) {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Reveal decrypts a protected value
func (p *Protector) Reveal(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !IsProtected(value) {
		return "", ErrNotProtected
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode secret: %w", err)
	}
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("secret is truncated")
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plain), nil
}

// RevealOrPlain decrypts protected values and passes plain ones through
func (p *Protector) RevealOrPlain(value string) (string, error) {
	if !IsProtected(value) {
		return value, nil
	}
	return p.Reveal(value)
}
