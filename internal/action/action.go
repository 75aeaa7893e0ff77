// Package action defines the boundary to platform collaborators: the code
// that actually uploads a video or posts a tweet.
package action

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"autopost/internal/errs"
	"autopost/internal/model"
)

// Result is what a successful action hands back. Metadata is opaque to the
// scheduler and stored verbatim in the job record.
type Result struct {
	Metadata json.RawMessage
}

// Action performs one platform operation for one account. It must honor
// ctx; an action that ignores cancellation is abandoned at its timeout.
type Action interface {
	Execute(ctx context.Context, acc model.Account) (Result, error)
}

// Func adapts a plain function to Action.
type Func func(ctx context.Context, acc model.Account) (Result, error)

func (f Func) Execute(ctx context.Context, acc model.Account) (Result, error) { return f(ctx, acc) }

// Registry maps platform names to actions. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register binds a to platform. A second registration for the same platform
// is a conflict; use Set to replace.
func (r *Registry) Register(platform string, a Action) error {
	p, err := model.NormalizePlatform(platform)
	if err != nil {
		return errs.Validation("action.register", "%v", err)
	}
	if a == nil {
		return errs.Validation("action.register", "nil action for %s", p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[p]; ok {
		return errs.Conflict("action.register", "platform %s already has an action", p)
	}
	r.actions[p] = a
	return nil
}

// Set binds or replaces the action for platform; a nil action unbinds it.
func (r *Registry) Set(platform string, a Action) {
	p := strings.ToLower(strings.TrimSpace(platform))
	r.mu.Lock()
	defer r.mu.Unlock()
	if a == nil {
		delete(r.actions, p)
		return
	}
	r.actions[p] = a
}

func (r *Registry) Get(platform string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[strings.ToLower(strings.TrimSpace(platform))]
	return a, ok
}

// Platforms lists registered platforms, sorted.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.actions))
	for p := range r.actions {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
