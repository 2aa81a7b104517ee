//go:build !windows

package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireInstanceLock_OnePerTokenFile(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "relay", "token.json")

	first, lockedByOther, err := acquireInstanceLock(tokenFile)
	if err != nil || lockedByOther {
		t.Fatalf("acquireInstanceLock() = %v, %v, want lock", lockedByOther, err)
	}
	data, err := os.ReadFile(instanceLockPath(tokenFile))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock file holds %q, want our pid", got)
	}

	if _, lockedByOther, err := acquireInstanceLock(tokenFile); err != nil || !lockedByOther {
		t.Fatalf("second acquireInstanceLock() = %v, %v, want held by other", lockedByOther, err)
	}
	other, lockedByOther, err := acquireInstanceLock(filepath.Join(t.TempDir(), "token.json"))
	if err != nil || lockedByOther {
		t.Fatalf("acquireInstanceLock(other token) = %v, %v, want lock", lockedByOther, err)
	}
	defer other.Release()

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	again, lockedByOther, err := acquireInstanceLock(tokenFile)
	if err != nil || lockedByOther {
		t.Fatalf("acquireInstanceLock() after release = %v, %v, want lock", lockedByOther, err)
	}
	if err := again.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}
