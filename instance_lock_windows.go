//go:build windows

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

type instanceLock struct {
	handle windows.Handle
}

func (l *instanceLock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("close instance mutex handle: %w", err)
	}
	return nil
}

func instanceMutexName(tokenFile string) string {
	path, err := filepath.Abs(tokenFile)
	if err != nil {
		path = tokenFile
	}
	sum := sha256.Sum256([]byte(strings.ToLower(path)))
	return `Local\EventSubRelay-` + hex.EncodeToString(sum[:8])
}

func acquireInstanceLock(tokenFile string) (*instanceLock, bool, error) {
	name, err := windows.UTF16PtrFromString(instanceMutexName(tokenFile))
	if err != nil {
		return nil, false, fmt.Errorf("encode mutex name: %w", err)
	}
	handle, err := windows.CreateMutex(nil, false, name)
	if err != nil {
		return nil, false, fmt.Errorf("create instance mutex: %w", err)
	}
	if windows.GetLastError() == windows.ERROR_ALREADY_EXISTS {
		_ = windows.CloseHandle(handle)
		return nil, true, nil
	}
	return &instanceLock{handle: handle}, false, nil
}
