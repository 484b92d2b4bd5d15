//go:build !windows

package scheduler

import (
	"errors"
	"os"
	"strconv"
	"syscall"
)

// fileLock is a non-blocking cross-process lock. The lock file holds the
// owner's PID. A persistent lock file survives release, so waiters that
// already opened it never lock a stale inode.
type fileLock struct {
	path       string
	persistent bool
	file       *os.File
}

func newFileLock(path string, persistent bool) *fileLock {
	return &fileLock{path: path, persistent: persistent}
}

// acquire takes the lock without blocking, returning ErrLocked when another
// process owns it.
func (l *fileLock) acquire() error {
	if l.file != nil {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrLocked
		}
		return err
	}
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	l.file = f
	return nil
}

// release drops the lock and removes the file.
func (l *fileLock) release() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if !l.persistent {
		_ = os.Remove(l.path)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
