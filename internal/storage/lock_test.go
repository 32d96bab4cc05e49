package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFileLockOwnerAndExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owned")
	lock := NewFileLock(path)

	if err := lock.LockWithOwner("session-1", 50*time.Millisecond); err != nil {
		t.Fatalf("LockWithOwner failed: %v", err)
	}
	defer lock.Unlock()

	if lock.Owner != "session-1" {
		t.Fatalf("expected owner session-1, got %q", lock.Owner)
	}
	if lock.ExpiresAt.IsZero() {
		t.Fatal("expected ExpiresAt to be set")
	}
	if lock.IsExpired() {
		t.Fatal("lock should not be expired immediately after acquire")
	}
}

func TestFileLockReapReclaimsExpiredLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reap")
	lock := NewFileLock(path)

	if err := lock.LockWithOwner("session-1", time.Millisecond); err != nil {
		t.Fatalf("LockWithOwner failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if !lock.IsExpired() {
		t.Fatal("expected lock to be expired")
	}
	if !lock.Reap() {
		t.Fatal("expected Reap to reclaim the expired lock")
	}
	if lock.Owner != "" {
		t.Fatalf("expected owner cleared after reap, got %q", lock.Owner)
	}

	// A new owner should now be able to acquire cleanly.
	if err := lock.LockWithOwner("session-2", 0); err != nil {
		t.Fatalf("expected reacquire to succeed, got %v", err)
	}
	defer lock.Unlock()
	if lock.Owner != "session-2" {
		t.Fatalf("expected owner session-2, got %q", lock.Owner)
	}
}

func TestFileLockReapNoopWhenNotHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idle")
	lock := NewFileLock(path)

	if lock.Reap() {
		t.Fatal("expected Reap to be a no-op on an unheld lock")
	}
}

func TestFileLockNoExpiryNeverReaped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perpetual")
	lock := NewFileLock(path)

	if err := lock.LockWithOwner("session-1", 0); err != nil {
		t.Fatalf("LockWithOwner failed: %v", err)
	}
	defer lock.Unlock()

	if lock.IsExpired() {
		t.Fatal("a lock with no ttl should never report expired")
	}
	if lock.Reap() {
		t.Fatal("Reap should not reclaim a lock with no expiry")
	}
}
