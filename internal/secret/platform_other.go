//go:build !windows

package secret

import "errors"

// NewPlatformStore returns the default backend for this build: the OS
// keyring.
func NewPlatformStore(service string) (SecretStore, error) {
	return NewKeyringStore(service), nil
}

func platformBackend() string {
	return BackendKeyring
}

func newWinCredStore(string) (SecretStore, error) {
	return nil, newError(KindUnavailable, BackendWinCred, "open", "", errors.New("windows credential manager is only available on windows builds"))
}
