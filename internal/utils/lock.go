package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DBLock is an advisory lock next to the database file. The daemon holds it
// for its whole life; one-shot commands hold it while they write.
type DBLock struct {
	lock *flock.Flock
	path string
}

// NewDBLock returns the lock guarding the database at dbPath. Nothing is
// acquired yet.
func NewDBLock(dbPath string) (*DBLock, error) {
	abs, err := GetAbsDBPath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}
	p := abs + ".lock"
	return &DBLock{lock: flock.New(p), path: p}, nil
}

// Lock blocks until the lock is held.
func (l *DBLock) Lock() error {
	ok, err := l.TryLock()
	if err != nil || ok {
		return err
	}
	Log.Warn("Another policywatch process holds the database, waiting for it to finish...")
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	return nil
}

// TryLock takes the lock if it is free and reports whether it did.
func (l *DBLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(l.path), err)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.path, err)
	}
	return ok, nil
}

// Unlock releases the lock. Releasing a lock whose file is gone is not an error.
func (l *DBLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return nil
}

// GetAbsDBPath returns dbPath made absolute, or the default location under
// ~/.config/policywatch when it is empty.
func GetAbsDBPath(dbPath string) (string, error) {
	if dbPath != "" {
		return filepath.Abs(dbPath)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "policywatch", "policywatch.sqlite"), nil
}
