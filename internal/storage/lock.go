package storage

import (
	"fmt"

	"github.com/gofrs/flock"
)

// acquireLock takes the exclusive store lock without blocking. A lock held
// by another process (or another Open in this one) is ErrLocked.
func acquireLock(path string) (*flock.Flock, error) {
	lk := flock.New(path)
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
	}
	return lk, nil
}
