package storefake

import (
	"errors"
	"sync"

	"github.com/civickit/go-civic-client/token"
)

var _ token.Keyring = (*FakeKeyring)(nil)

var errNotFound = errors.New("not found")

// FakeKeyring is an in-memory secure-storage backend for tests. Failures can
// be injected per key and per operation.
type FakeKeyring struct {
	values map[string]string
	lock   sync.RWMutex

	SetErrs    map[string]error
	GetErrs    map[string]error
	DeleteErrs map[string]error
}

func NewFakeKeyring() *FakeKeyring {
	return &FakeKeyring{
		values:     make(map[string]string),
		SetErrs:    make(map[string]error),
		GetErrs:    make(map[string]error),
		DeleteErrs: make(map[string]error),
	}
}

func (k *FakeKeyring) Get(key string) (string, error) {
	k.lock.RLock()
	defer k.lock.RUnlock()

	if err, ok := k.GetErrs[key]; ok {
		return "", err
	}
	value, ok := k.values[key]
	if !ok {
		return "", errNotFound
	}
	return value, nil
}

func (k *FakeKeyring) Set(key, value string) error {
	k.lock.Lock()
	defer k.lock.Unlock()

	if err, ok := k.SetErrs[key]; ok {
		return err
	}
	k.values[key] = value
	return nil
}

func (k *FakeKeyring) Delete(key string) error {
	k.lock.Lock()
	defer k.lock.Unlock()

	if err, ok := k.DeleteErrs[key]; ok {
		return err
	}
	delete(k.values, key)
	return nil
}

// Len reports how many entries are currently stored.
func (k *FakeKeyring) Len() int {
	k.lock.RLock()
	defer k.lock.RUnlock()
	return len(k.values)
}
