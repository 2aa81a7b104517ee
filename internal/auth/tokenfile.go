package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// StoredToken is the on-disk form of a device authorization. Nothing but the
// two tokens is persisted.
type StoredToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenFile persists StoredToken. Reads and writes hold a lock on a sibling
// "<path>.lock" file so cooperating processes never observe a partial write.
type TokenFile struct {
	Path string
}

func (f TokenFile) lock() *flock.Flock {
	return flock.New(f.Path + ".lock")
}

func (f TokenFile) Load() (StoredToken, error) {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return StoredToken{}, err
	}
	lock := f.lock()
	if err := lock.RLock(); err != nil {
		return StoredToken{}, fmt.Errorf("lock token file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return StoredToken{}, err
	}
	stored := StoredToken{}
	if err := json.Unmarshal(data, &stored); err != nil {
		return StoredToken{}, fmt.Errorf("decode token file %s: %w", f.Path, err)
	}
	if strings.TrimSpace(stored.AccessToken) == "" && strings.TrimSpace(stored.RefreshToken) == "" {
		return StoredToken{}, errors.New("token file holds no tokens")
	}
	return stored, nil
}

// Save replaces the file contents atomically with mode 0600.
func (f TokenFile) Save(stored StoredToken) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	lock := f.lock()
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock token file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		cleanup()
		return err
	}
	return nil
}
