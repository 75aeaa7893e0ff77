// Package accounts is the durable account store: accounts, job history,
// schedule snapshots and affiliate products, partitioned by provider.
//
// Each provider is one document in the underlying storage. A mutation clones
// the committed document, applies the change, writes the whole document and
// only then publishes it, so readers always see the last committed state and
// a failed write changes nothing.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"autopost/internal/errs"
	"autopost/internal/model"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

const docVersion = 1

type document struct {
	Version  int                   `json:"version"`
	Accounts []model.Account       `json:"accounts"`
	Schedule []model.ScheduleEntry `json:"schedule"`
	History  []model.JobRecord     `json:"history"`
	Products []model.Product       `json:"products,omitempty"`
}

func emptyDocument() *document {
	return &document{
		Version:  docVersion,
		Accounts: []model.Account{},
		Schedule: []model.ScheduleEntry{},
		History:  []model.JobRecord{},
	}
}

// clone copies the slices so the published snapshot is never mutated.
func (d *document) clone() *document {
	return &document{
		Version:  d.Version,
		Accounts: cloneOf(d.Accounts),
		Schedule: cloneOf(d.Schedule),
		History:  cloneOf(d.History),
		Products: cloneOf(d.Products),
	}
}

func cloneOf[T any](s []T) []T { return append(make([]T, 0, len(s)), s...) }

func (d *document) indexOf(id string) int {
	for i := range d.Accounts {
		if d.Accounts[i].ID == id {
			return i
		}
	}
	return -1
}

type Option func(*Store)

func WithLogger(l logx.Logger) Option { return func(s *Store) { s.log = l } }

// WithClock overrides time.Now for created_at stamps.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithIDGenerator overrides the account id generator.
func WithIDGenerator(gen func() string) Option { return func(s *Store) { s.newID = gen } }

// Store is safe for concurrent use. Readers never block on writers.
type Store struct {
	log   logx.Logger
	st    storage.Store
	now   func() time.Time
	newID func() string

	// mu serializes writers. docs is populated once in Open and only the
	// pointers inside it change afterwards.
	mu     sync.Mutex
	docs   map[model.Provider]*atomic.Pointer[document]
	closed atomic.Bool
}

// Open loads every provider document. A missing document starts empty; an
// unreadable or corrupted one is a persistence error.
func Open(ctx context.Context, st storage.Store, opts ...Option) (*Store, error) {
	if st == nil {
		return nil, errs.Validation("accounts.open", "storage is required")
	}
	s := &Store{
		st:    st,
		now:   time.Now,
		newID: uuid.NewString,
		docs:  make(map[model.Provider]*atomic.Pointer[document], len(model.Providers())),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	for _, p := range model.Providers() {
		doc, err := s.load(ctx, p)
		if err != nil {
			return nil, err
		}
		ptr := &atomic.Pointer[document]{}
		ptr.Store(doc)
		s.docs[p] = ptr
	}
	return s, nil
}

func (s *Store) load(ctx context.Context, p model.Provider) (*document, error) {
	raw, err := s.st.Read(ctx, string(p))
	if errors.Is(err, storage.ErrNotExist) {
		return emptyDocument(), nil
	}
	if err != nil {
		return nil, errs.Persistence("accounts.open", fmt.Errorf("read %s: %w", p, err))
	}
	doc := emptyDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, errs.Persistence("accounts.open", fmt.Errorf("decode %s: %w", p, err))
	}
	if doc.Version > docVersion {
		return nil, errs.Persistence("accounts.open",
			fmt.Errorf("%s document version %d is newer than supported %d", p, doc.Version, docVersion))
	}
	doc.Version = docVersion
	return doc, nil
}

// Close releases the underlying storage. Later calls fail with PersistenceError.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Close()
}

func (s *Store) snapshot(p model.Provider) *document {
	return s.docs[p].Load()
}

// mutate runs fn on a private copy of p's document and commits it. fn may
// return an error to abort without writing.
func (s *Store) mutate(ctx context.Context, op string, p model.Provider, fn func(d *document) error) error {
	if !p.Valid() {
		return errs.Validation(op, "unknown provider %q", p)
	}
	if s.closed.Load() {
		return errs.Persistence(op, storage.ErrClosed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot(p).clone()
	if err := fn(next); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return errs.Persistence(op, err)
	}
	if err := s.st.Write(ctx, string(p), raw); err != nil {
		s.log.Error("store write failed", logx.String("op", op), logx.String("provider", string(p)), logx.Err(err))
		return errs.Persistence(op, err)
	}
	s.docs[p].Store(next)
	return nil
}
