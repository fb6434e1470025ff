//go:build !windows

package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FileLock is an exclusive cross-process advisory lock. It lives on a
// companion path next to the guarded file so readers never contend on a
// half-written data file.
type FileLock struct {
	path string
	file *os.File
}

// AcquireLock blocks until the exclusive lock on path is held.
func AcquireLock(path string) (*FileLock, error) {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &FileLock{path: path, file: file}, nil
}

// Release drops the lock. Safe to call more than once.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, unlockErr)
	}
	return closeErr
}
