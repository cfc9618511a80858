package acme

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go_certagent/internal/fsutil"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/registration"
)

// Account is the locally stored ACME account
type Account struct {
	Email           string `json:"email"`
	DirectoryURL    string `json:"directoryUrl"`
	RegistrationURI string `json:"registrationUri,omitempty"`
	KeyPEM          string `json:"keyPem"`
}

// Registered reports whether the account already has a registration URI
func (a *Account) Registered() bool {
	return a.RegistrationURI != ""
}

// PrivateKey parses the account key
func (a *Account) PrivateKey() (crypto.PrivateKey, error) {
	if a.KeyPEM == "" {
		return nil, errors.New("account has no key")
	}
	key, err := certcrypto.ParsePEMPrivateKey([]byte(a.KeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse account key: %w", err)
	}
	return key, nil
}

// LoadAccount reads the account file; a missing file yields an empty account
func LoadAccount(path string) (*Account, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Account{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account file: %w", err)
	}
	var acc Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("failed to parse account file: %w", err)
	}
	return &acc, nil
}

// SaveAccount writes the account file with owner-only permissions
func SaveAccount(path string, acc *Account) error {
	data, err := json.MarshalIndent(acc, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write account file: %w", err)
	}
	return nil
}

// User implements registration.User interface for lego
type User struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *User) GetEmail() string {
	return u.Email
}

func (u *User) GetRegistration() *registration.Resource {
	return u.Registration
}

func (u *User) GetPrivateKey() crypto.PrivateKey {
	return u.key
}
