//go:build !windows

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

// instanceLock is an advisory lock next to the token file. The file holds
// the pid of the relay that owns it.
type instanceLock struct {
	flock *flock.Flock
}

func instanceLockPath(tokenFile string) string {
	return tokenFile + ".instance.lock"
}

// acquireInstanceLock allows one relay per token file, so two processes never
// race to refresh the same credential. It reports true when another process
// holds the lock.
func acquireInstanceLock(tokenFile string) (*instanceLock, bool, error) {
	path := instanceLockPath(tokenFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("create lock directory: %w", err)
	}
	fl := flock.New(path, flock.SetFlag(os.O_CREATE|os.O_RDWR), flock.SetPermissions(0o600))
	locked, err := fl.TryLock()
	switch {
	case err != nil:
		return nil, false, fmt.Errorf("acquire instance lock %s: %w", path, err)
	case !locked:
		return nil, true, nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		_ = fl.Unlock()
		return nil, false, fmt.Errorf("record instance pid: %w", err)
	}
	return &instanceLock{flock: fl}, false, nil
}

func (l *instanceLock) Release() error {
	if l == nil || l.flock == nil || !l.flock.Locked() {
		return nil
	}
	path := l.flock.Path()
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release instance lock %s: %w", path, err)
	}
	return nil
}
