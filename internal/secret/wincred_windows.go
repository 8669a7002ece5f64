//go:build windows

package secret

import (
	"errors"
	"fmt"
	"runtime"
	"unicode/utf8"
	"unsafe"

	"golang.org/x/sys/windows"
)

const winCredBackend = "wincred"

const (
	credTypeGeneric          = 1
	credPersistLocalMachine  = 2
	credMaxGenericBlobLength = 5 * 512
)

var (
	modadvapi32     = windows.NewLazySystemDLL("advapi32.dll")
	procCredReadW   = modadvapi32.NewProc("CredReadW")
	procCredWriteW  = modadvapi32.NewProc("CredWriteW")
	procCredDeleteW = modadvapi32.NewProc("CredDeleteW")
	procCredFree    = modadvapi32.NewProc("CredFree")
)

// credential mirrors CREDENTIALW from wincred.h.
type credential struct {
	Flags              uint32
	Type               uint32
	TargetName         *uint16
	Comment            *uint16
	LastWritten        windows.Filetime
	CredentialBlobSize uint32
	CredentialBlob     *byte
	Persist            uint32
	AttributeCount     uint32
	Attributes         uintptr
	TargetAlias        *uint16
	UserName           *uint16
}

// WinCredStore talks to the Windows Credential Manager directly. Each secret
// is a generic credential whose target name is "<service>:<key>" and whose
// blob is the UTF-8 value.
type WinCredStore struct {
	service string
}

var _ SecretStore = (*WinCredStore)(nil)

// NewWinCredStore creates a WinCredStore for service. It fails with
// KindUnavailable when advapi32 does not export the credential API.
func NewWinCredStore(service string) (*WinCredStore, error) {
	for _, p := range []*windows.LazyProc{procCredReadW, procCredWriteW, procCredDeleteW, procCredFree} {
		if err := p.Find(); err != nil {
			return nil, newError(KindUnavailable, winCredBackend, "open", "", err)
		}
	}
	return &WinCredStore{service: service}, nil
}

func (w *WinCredStore) target(key string) (*uint16, error) {
	return windows.UTF16PtrFromString(w.service + ":" + key)
}

func (w *WinCredStore) Get(key string) (string, bool, error) {
	target, err := w.target(key)
	if err != nil {
		return "", false, newError(KindMalformed, winCredBackend, "get", key, err)
	}

	var pcred *credential
	r1, _, callErr := procCredReadW.Call(
		uintptr(unsafe.Pointer(target)),
		credTypeGeneric,
		0,
		uintptr(unsafe.Pointer(&pcred)),
	)
	if r1 == 0 {
		if errors.Is(callErr, windows.ERROR_NOT_FOUND) {
			return "", false, nil
		}
		return "", false, newError(KindIO, winCredBackend, "get", key, callErr)
	}
	if pcred == nil {
		return "", false, newError(KindIO, winCredBackend, "get", key, errors.New("credential API returned a null record"))
	}
	value, err := copyBlob(pcred)
	procCredFree.Call(uintptr(unsafe.Pointer(pcred)))
	if err != nil {
		return "", false, newError(KindMalformed, winCredBackend, "get", key, err)
	}
	return value, true, nil
}

// copyBlob copies the credential blob into Go memory. The caller frees the
// record afterwards whatever the outcome.
func copyBlob(cred *credential) (string, error) {
	size := int(cred.CredentialBlobSize)
	if size == 0 {
		return "", nil
	}
	if cred.CredentialBlob == nil {
		return "", errors.New("credential API returned a null blob for a non-empty credential")
	}
	buf := make([]byte, size)
	copy(buf, unsafe.Slice(cred.CredentialBlob, size))
	if !utf8.Valid(buf) {
		return "", errors.New("stored credential is not valid UTF-8")
	}
	return string(buf), nil
}

func (w *WinCredStore) Set(key, value string) error {
	target, err := w.target(key)
	if err != nil {
		return newError(KindMalformed, winCredBackend, "set", key, err)
	}
	if len(value) > credMaxGenericBlobLength {
		return newError(KindIO, winCredBackend, "set", key, fmt.Errorf("value exceeds %d bytes", credMaxGenericBlobLength))
	}

	blob := []byte(value)
	cred := credential{
		Type:               credTypeGeneric,
		TargetName:         target,
		CredentialBlobSize: uint32(len(blob)),
		Persist:            credPersistLocalMachine,
	}
	if len(blob) > 0 {
		cred.CredentialBlob = &blob[0]
	}

	r1, _, callErr := procCredWriteW.Call(uintptr(unsafe.Pointer(&cred)), 0)
	runtime.KeepAlive(blob)
	runtime.KeepAlive(target)
	if r1 == 0 {
		return newError(KindIO, winCredBackend, "set", key, callErr)
	}
	return nil
}

func (w *WinCredStore) Delete(key string) error {
	target, err := w.target(key)
	if err != nil {
		return newError(KindMalformed, winCredBackend, "delete", key, err)
	}
	r1, _, callErr := procCredDeleteW.Call(uintptr(unsafe.Pointer(target)), credTypeGeneric, 0)
	if r1 == 0 && !errors.Is(callErr, windows.ERROR_NOT_FOUND) {
		return newError(KindIO, winCredBackend, "delete", key, callErr)
	}
	return nil
}
