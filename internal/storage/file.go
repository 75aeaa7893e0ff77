package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	logx "autopost/pkg/logx"
)

// fileStore keeps one file per document:
//   - <dir>/<name>.json      canonical content
//   - <dir>/<name>.*.tmp     in-flight write (removed on open if a crash left it behind)
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool

	// beforeRename is a test hook run after the temp file is durable and
	// before it replaces the canonical file.
	beforeRename func(tmp string) error
}

var reDocName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := cfg.Path
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	st := &fileStore{log: log, dir: dir}
	if n := st.removeStaleTemps(); n > 0 {
		log.Warn("removed interrupted writes", logx.String("dir", dir), logx.Int("files", n))
	}
	return st, nil
}

func (s *fileStore) path(name string) (string, error) {
	if !reDocName.MatchString(name) {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

func (s *fileStore) Read(ctx context.Context, name string) ([]byte, error) {
	_ = ctx
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotExist
	}
	return b, err
}

func (s *fileStore) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	f, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if s.beforeRename != nil {
		if err := s.beforeRename(tmp); err != nil {
			cleanup()
			return err
		}
	}
	if err := os.Rename(tmp, p); err != nil {
		cleanup()
		return err
	}
	// Persist the rename itself. Best-effort: some filesystems refuse dir fsync.
	if d, err := os.Open(s.dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) removeStaleTemps() int {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			n++
		}
	}
	return n
}
