package secret

// SecretStore keeps small secret strings (API keys and the like) out of the
// general-purpose database. Implementations are safe for concurrent use and
// own whatever locking they need.
type SecretStore interface {
	// Get returns the value stored under key. A missing key is not an
	// error: ok is false and err is nil.
	Get(key string) (value string, ok bool, err error)

	// Set stores value under key, overwriting any previous value. The write
	// is durable once Set returns.
	Set(key, value string) error

	// Delete removes the value stored under key. Deleting a missing key
	// succeeds.
	Delete(key string) error
}

// Backend names accepted by Open.
const (
	BackendAuto    = "auto"
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendWinCred = "wincred"
)
