package secret

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const keyringBackend = "keyring"

// KeyringStore stores secrets in the OS credential store (macOS Keychain,
// Secret Service on Linux, Credential Manager on Windows) through
// go-keyring. Each secret is one entry scoped by (service, key).
type KeyringStore struct {
	service string
}

var _ SecretStore = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for service.
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (k *KeyringStore) Get(key string) (string, bool, error) {
	value, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, k.wrap("get", key, err)
	}
	return value, true, nil
}

func (k *KeyringStore) Set(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return k.wrap("set", key, err)
	}
	return nil
}

func (k *KeyringStore) Delete(key string) error {
	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return k.wrap("delete", key, err)
	}
	return nil
}

func (k *KeyringStore) wrap(op, key string, err error) error {
	return newError(KindIO, keyringBackend, op, key, err)
}
