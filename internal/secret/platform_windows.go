//go:build windows

package secret

// NewPlatformStore returns the default backend for this build: the Windows
// Credential Manager.
func NewPlatformStore(service string) (SecretStore, error) {
	return newWinCredStore(service)
}

func platformBackend() string {
	return BackendWinCred
}

func newWinCredStore(service string) (SecretStore, error) {
	s, err := NewWinCredStore(service)
	if err != nil {
		return nil, err
	}
	return s, nil
}
