package secret

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Options selects and configures the backend behind a Vault.
type Options struct {
	// Service namespaces every key. Vaults with different services never
	// share entries or cache state.
	Service string
	// Backend is one of BackendAuto, BackendKeyring, BackendFile or
	// BackendWinCred. Empty means BackendAuto.
	Backend string
	// DataDir holds <Service>.json for the file backend.
	DataDir string
	// WatchFile purges the cache when the file backend's file changes on
	// disk outside this process.
	WatchFile bool
	Logger    *zap.Logger
}

// Vault is the process-wide secret store: one backend behind a cache.
type Vault struct {
	*CachedStore
	service string
	backend string
	watcher *FileWatcher
}

// Open picks the backend named in opts, wraps it in a cache and returns the
// result. BackendAuto resolves to the compiled target's default.
func Open(opts Options) (*Vault, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Service == "" {
		return nil, newError(KindUnavailable, "vault", "open", "", errors.New("service name is required"))
	}

	name := opts.Backend
	if name == "" || name == BackendAuto {
		name = platformBackend()
	}

	var (
		backend SecretStore
		file    *FileStore
		err     error
	)
	switch name {
	case BackendKeyring:
		backend = NewKeyringStore(opts.Service)
	case BackendWinCred:
		backend, err = newWinCredStore(opts.Service)
	case BackendFile:
		file, err = NewFileStore(opts.Service, opts.DataDir)
		backend = file
	default:
		return nil, newError(KindUnavailable, "vault", "open", "", fmt.Errorf("unknown backend %q", name))
	}
	if err != nil {
		return nil, err
	}

	v := &Vault{
		CachedStore: NewCachedStore(backend),
		service:     opts.Service,
		backend:     name,
	}

	if file != nil && opts.WatchFile {
		w, err := WatchFile(file.Path(), func() {
			if err := v.Purge(); err != nil {
				log.Warn("purge secret cache", zap.Error(err))
			}
		}, log)
		if err != nil {
			// Non-fatal: only edits made by other programs go unnoticed.
			log.Warn("secrets file watcher disabled", zap.String("path", file.Path()), zap.Error(err))
		} else {
			v.watcher = w
		}
	}

	log.Info("secret vault opened", zap.String("service", opts.Service), zap.String("backend", name))
	return v, nil
}

// Service returns the namespace this vault was opened with.
func (v *Vault) Service() string {
	return v.service
}

// BackendName returns the resolved backend name.
func (v *Vault) BackendName() string {
	return v.backend
}

// Close releases the file watcher, if any.
func (v *Vault) Close() error {
	if v.watcher != nil {
		return v.watcher.Close()
	}
	return nil
}
