// Package keyringstore binds the token store to the operating system's
// keychain (Keychain, Secret Service, Credential Manager) via
// zalando/go-keyring.
package keyringstore

import (
	keyringlib "github.com/zalando/go-keyring"

	"github.com/civickit/go-civic-client/token"
)

const defaultService = "go-civic-client"

var _ token.Keyring = (*Keyring)(nil)

// Keyring scopes all entries under a single keychain service name.
type Keyring struct {
	service string
}

func New() *Keyring {
	return NewWithService(defaultService)
}

func NewWithService(service string) *Keyring {
	return &Keyring{service: service}
}

func (k *Keyring) Get(key string) (string, error) {
	return keyringlib.Get(k.service, key)
}

func (k *Keyring) Set(key, value string) error {
	return keyringlib.Set(k.service, key, value)
}

func (k *Keyring) Delete(key string) error {
	err := keyringlib.Delete(k.service, key)
	if err == keyringlib.ErrNotFound {
		return nil
	}
	return err
}
