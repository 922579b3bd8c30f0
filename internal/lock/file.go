//go:build unix

package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	logx "schedkit/pkg/logx"
)

// FileLock is an flock(2) lock on a file. The kernel drops it when the
// process dies, so a crashed holder never blocks the others.
type FileLock struct {
	path  string
	owner string
	log   logx.Logger

	mu sync.Mutex
	f  *os.File
}

func NewFileLock(path, owner string, log logx.Logger) (*FileLock, error) {
	if path == "" {
		return nil, errors.New("lock: file backend needs a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("lock: mkdir: %w", err)
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FileLock{path: path, owner: owner, log: log}, nil
}

func (l *FileLock) Path() string { return l.path }

func (l *FileLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return false, fmt.Errorf("lock: open %s: %w", l.path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("lock: flock %s: %w", l.path, err)
	}

	if err := writeOwner(f, Owner{PID: os.Getpid(), Scheduler: l.owner, At: time.Now()}); err != nil {
		l.log.Warn("lock metadata not written", logx.String("path", l.path), logx.Err(err))
	}
	l.f = f
	l.log.Debug("file lock acquired", logx.String("path", l.path))
	return true, nil
}

// Unlock releases the lock. The file stays, since removing it would race
// with an instance that opened it but has not locked it yet.
func (l *FileLock) Unlock(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	_ = f.Truncate(0)
	uerr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	cerr := f.Close()
	if err := errors.Join(uerr, cerr); err != nil {
		return fmt.Errorf("lock: release %s: %w", l.path, err)
	}
	l.log.Debug("file lock released", logx.String("path", l.path))
	return nil
}

func (l *FileLock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f != nil
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(o.encode(), 0); err != nil {
		return err
	}
	return f.Sync()
}
