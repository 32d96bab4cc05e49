package storage

import (
	"os"
	"sync"
	"syscall"
	"time"
)

// FileLock provides file-based locking for concurrent access. Beyond the
// raw flock discipline it tracks who holds the lock and for how long, so
// callers coordinating edits across sessions (internal/tool's edit/write
// tools) can attribute contention to an owner and reclaim locks abandoned
// past their expiry instead of waiting on them forever.
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex

	// Owner identifies who last acquired the lock (a session ID, typically).
	Owner string
	// ExpiresAt is the point past which a held lock is considered
	// abandoned and eligible for Reap. The zero value means no expiry.
	ExpiresAt time.Time
}

// NewFileLock creates a new file lock.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires an exclusive lock on the file.
func (l *FileLock) Lock() error {
	return l.LockWithOwner("", 0)
}

// LockWithOwner acquires the lock and records owner and an optional ttl
// after which the lock is considered abandoned. A zero ttl means the lock
// never expires on its own.
func (l *FileLock) LockWithOwner(owner string, ttl time.Duration) error {
	l.mu.Lock()

	var err error
	l.file, err = os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	// Use flock for exclusive lock
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX); err != nil {
		l.file.Close()
		l.mu.Unlock()
		return err
	}

	l.Owner = owner
	if ttl > 0 {
		l.ExpiresAt = time.Now().Add(ttl)
	} else {
		l.ExpiresAt = time.Time{}
	}

	return nil
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}

	var err error
	l.file, err = os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return false
	}

	// Use flock with LOCK_NB for non-blocking
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		l.file.Close()
		l.mu.Unlock()
		return false
	}

	return true
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	// Release flock
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)

	// Close and remove lock file
	l.file.Close()
	os.Remove(l.path + ".lock")

	l.file = nil
	l.Owner = ""
	l.ExpiresAt = time.Time{}
	l.mu.Unlock()

	return nil
}

// IsExpired reports whether the lock carries an expiry that has passed.
// Callers are expected to be the same owner driving Lock/Unlock for this
// FileLock, not an arbitrary concurrent goroutine, since mu stays held for
// the full locked duration.
func (l *FileLock) IsExpired() bool {
	return !l.ExpiresAt.IsZero() && time.Now().After(l.ExpiresAt)
}

// Reap releases the lock if it is held and past its expiry, reclaiming it
// for a new owner. It reports whether a lock was actually reaped.
func (l *FileLock) Reap() bool {
	if l.file == nil || !l.IsExpired() {
		return false
	}
	_ = l.Unlock()
	return true
}
