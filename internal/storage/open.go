package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	logx "autopost/pkg/logx"
)

// Open initializes the configured store and takes the process-exclusive
// lock that makes this process the single writer.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "file"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store path is required")
	}
	cfg.Path = path

	var lockPath string
	switch driver {
	case "file":
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		lockPath = filepath.Join(path, ".lock")
	case "sqlite", "sqlite3":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		lockPath = path + ".lock"
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}

	lk, err := acquireLock(lockPath)
	if err != nil {
		return nil, err
	}

	var st Store
	switch driver {
	case "file":
		st, err = openFile(cfg, log)
	default:
		st, err = openSQLite(cfg, log)
	}
	if err != nil {
		_ = lk.Unlock()
		return nil, err
	}
	return &lockedStore{Store: st, lock: lk}, nil
}

type lockedStore struct {
	Store
	lock *flock.Flock
}

func (s *lockedStore) Close() error {
	err := s.Store.Close()
	if lerr := s.lock.Unlock(); err == nil {
		err = lerr
	}
	return err
}
