//go:build windows

package scheduler

import (
	"errors"
	"os"
	"strconv"
)

// fileLock is a non-blocking cross-process lock. On Windows the lock is the
// exclusive creation of the file itself, so it is always removed on release.
type fileLock struct {
	path string
	held bool
}

func newFileLock(path string, _ bool) *fileLock {
	return &fileLock{path: path}
}

func (l *fileLock) acquire() error {
	if l.held {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrLocked
		}
		return err
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return err
	}
	l.held = true
	return nil
}

func (l *fileLock) release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
