package secret

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const fileBackend = "file"

// renameFile is os.Rename; tests swap it to simulate filesystems that refuse
// to replace an existing file.
var renameFile = os.Rename

// FileStore keeps every secret of one service in a single JSON object at
// <dataDir>/<service>.json. It relies on file permissions for protection and
// replaces the file atomically on every write.
type FileStore struct {
	service string
	path    string
	lock    poisonLock
}

var _ SecretStore = (*FileStore)(nil)

// NewFileStore creates a FileStore for service under dataDir, creating the
// directory if needed.
func NewFileStore(service, dataDir string) (*FileStore, error) {
	if service == "" || strings.ContainsAny(service, `/\`) || service == "." || service == ".." {
		return nil, newError(KindUnavailable, fileBackend, "open", "", fmt.Errorf("invalid service name %q", service))
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, newError(KindUnavailable, fileBackend, "open", "", fmt.Errorf("create data directory: %w", err))
	}
	return &FileStore{
		service: service,
		path:    filepath.Join(dataDir, service+".json"),
		lock:    poisonLock{owner: fileBackend},
	}, nil
}

// Path returns the location of the secrets file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) tempPath() string {
	return s.path + ".tmp"
}

func (s *FileStore) Get(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := s.lock.write("get", key, func() error {
		secrets, err := s.load("get", key)
		if err != nil {
			return err
		}
		value, ok = secrets[key]
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	return s.lock.write("set", key, func() error {
		secrets, err := s.load("set", key)
		if err != nil {
			return err
		}
		secrets[key] = value
		return s.save("set", key, secrets)
	})
}

func (s *FileStore) Delete(key string) error {
	return s.lock.write("delete", key, func() error {
		secrets, err := s.load("delete", key)
		if err != nil {
			return err
		}
		delete(secrets, key)
		return s.save("delete", key, secrets)
	})
}

// load reads the whole map. A missing or empty file is an empty map; a file
// that does not parse is an error.
func (s *FileStore) load(op, key string) (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.recoverTemp(), nil
	}
	if err != nil {
		return nil, newError(KindIO, fileBackend, op, key, fmt.Errorf("read secrets file: %w", err))
	}
	return s.decode(data, op, key)
}

func (s *FileStore) decode(data []byte, op, key string) (map[string]string, error) {
	secrets := make(map[string]string)
	if len(bytes.TrimSpace(data)) == 0 {
		return secrets, nil
	}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, newError(KindMalformed, fileBackend, op, key, fmt.Errorf("parse secrets file: %w", err))
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	return secrets, nil
}

// recoverTemp handles a crash between removing the old file and renaming the
// new one into place: the temp file is complete at that point, so it is used
// if it parses. Anything else means there was no committed data.
func (s *FileStore) recoverTemp() map[string]string {
	data, err := os.ReadFile(s.tempPath())
	if err != nil {
		return make(map[string]string)
	}
	secrets, err := s.decode(data, "", "")
	if err != nil {
		return make(map[string]string)
	}
	return secrets
}

// save writes the complete map to a sibling temp file, syncs it, and renames
// it over the real file.
func (s *FileStore) save(op, key string, secrets map[string]string) error {
	data, err := json.Marshal(secrets)
	if err != nil {
		return newError(KindIO, fileBackend, op, key, fmt.Errorf("serialize secrets: %w", err))
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return newError(KindIO, fileBackend, op, key, fmt.Errorf("create secrets directory: %w", err))
	}

	tmp := s.tempPath()
	if err := writeFileSync(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return newError(KindIO, fileBackend, op, key, fmt.Errorf("write temporary secrets file: %w", err))
	}

	if err := renameFile(tmp, s.path); err != nil {
		// Some filesystems refuse to rename over an existing file. Clear the
		// destination and retry; recoverTemp covers a crash in between.
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			_ = os.Remove(tmp)
			return newError(KindIO, fileBackend, op, key, fmt.Errorf("clear existing secrets file: %w", rmErr))
		}
		if err := renameFile(tmp, s.path); err != nil {
			// A failed write must not surface later through recoverTemp.
			_ = os.Remove(tmp)
			return newError(KindIO, fileBackend, op, key, fmt.Errorf("replace secrets file: %w", err))
		}
	}
	syncDir(filepath.Dir(s.path))
	return nil
}

func writeFileSync(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir flushes the rename to disk where the platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
