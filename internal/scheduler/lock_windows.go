//go:build windows

package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// staleLockAge is how old a lock file may get before it is treated as left
// behind by a crashed worker. Ticks run far more often than this.
const staleLockAge = 10 * time.Minute

// FileLock is an exclusive-create lock file holding the owner's pid.
// Windows has no flock(2), so a crashed owner leaves the file behind; files
// older than staleLockAge are reclaimed.
type FileLock struct {
	path   string
	locked bool
}

// NewFileLock creates a FileLock for the given path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock reports whether the lock was acquired. It never blocks.
func (l *FileLock) TryLock() (bool, error) {
	if l.locked {
		return false, errors.New("lock already held by this process")
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return false, err
	}
	ok, err := l.create()
	if err != nil || ok {
		return ok, err
	}
	info, err := os.Stat(l.path)
	if err != nil || time.Since(info.ModTime()) < staleLockAge {
		return false, nil
	}
	slog.Warn("Reclaiming stale scheduler lock", "path", l.path, "age", time.Since(info.ModTime()).Round(time.Second))
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return l.create()
}

func (l *FileLock) create() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := errors.Join(werr, f.Close()); err != nil {
		_ = os.Remove(l.path)
		return false, err
	}
	l.locked = true
	return true, nil
}

// Unlock removes the lock file.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
