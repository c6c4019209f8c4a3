package store

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFile is the advisory lock taken in the data directory when
// Options.SingleWriter is set.
const LockFile = ".fansite.lock"

// acquireDirLock takes an exclusive, non-blocking lock on dir's lock file.
// The lock is released when the process exits or Unlock is called.
func acquireDirLock(dir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dir, LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return lock, nil
}
