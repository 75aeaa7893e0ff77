package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopost/internal/action"
	"autopost/internal/config"
	"autopost/internal/errs"
	"autopost/internal/model"
)

func newManager(t *testing.T, cfg map[string]any) *config.ConfigManager {
	t.Helper()
	dir := t.TempDir()
	if _, ok := cfg["store_path"]; !ok {
		cfg["store_path"] = filepath.Join(dir, "store")
	}
	cfg["logging"] = map[string]any{"console": false}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "autopost.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))

	m := config.NewConfigManager(path)
	m.SetEnvLookup(func(string) (string, bool) { return "", false })
	_, err = m.Load()
	require.NoError(t, err)
	return m
}

func TestOpenBindsConfiguredAndBuiltinActions(t *testing.T) {
	t.Parallel()
	m := newManager(t, map[string]any{
		"platforms": map[string]any{
			"twitter": map[string]any{"command": []string{"true"}},
			"youtube": map[string]any{"rate_per_hour": 2},
		},
	})
	builtin := action.Func(func(context.Context, model.Account) (action.Result, error) { return action.Result{}, nil })
	a, err := Open(context.Background(), m, WithAction("outreach", builtin))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"outreach", "twitter"}, a.Actions().Platforms(), "platforms without a command stay unbound")

	next := *m.Get()
	next.Platforms = map[string]config.PlatformConfig{"affiliate": {Command: []string{"true"}}}
	a.apply(context.Background(), m.Get(), &next)
	assert.Equal(t, []string{"affiliate", "outreach"}, a.Actions().Platforms())
}

func TestSecondOpenIsPersistenceError(t *testing.T) {
	t.Parallel()
	m := newManager(t, map[string]any{})
	a, err := Open(context.Background(), m)
	require.NoError(t, err)
	defer a.Close()

	_, err = Open(context.Background(), m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrPersistence), "%v", err)
}

func TestDaemonRunsDueEntriesAndStops(t *testing.T) {
	t.Parallel()
	m := newManager(t, map[string]any{
		"tick_interval_seconds":  1,
		"shutdown_grace_seconds": 1,
	})
	ran := make(chan string, 4)
	act := action.Func(func(_ context.Context, acc model.Account) (action.Result, error) {
		ran <- acc.ID
		return action.Result{Metadata: json.RawMessage(`{"ok":true}`)}, nil
	})
	a, err := Open(context.Background(), m, WithAction("twitter", act))
	require.NoError(t, err)

	ctx := context.Background()
	acc, err := a.Accounts().CreateAccount(ctx, model.ProviderTwitter, "alice", "", "")
	require.NoError(t, err)
	_, err = a.Scheduler().AddEntry(ctx, acc.ID, "twitter", "every 1h")
	require.NoError(t, err)

	// RunOnce goes through the idle gate and pushes the entry an hour out.
	_, err = a.Scheduler().RunOnce(ctx, acc.ID, "twitter")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, <-ran)

	require.NoError(t, a.Start(ctx))
	assert.Error(t, a.Start(ctx), "second start is rejected")
	assert.NoError(t, a.health())

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx))
	<-a.Done()

	recs, err := a.Accounts().ListJobRecords(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.JobSuccess, recs[0].Status)

	// The store lock is released: the same store opens again.
	b, err := Open(ctx, m)
	require.NoError(t, err)
	entries := b.Scheduler().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryIdle, entries[0].Status)
	assert.Equal(t, model.ResultSuccess, entries[0].LastResult)
	require.NoError(t, b.Close())
}

func TestStopWithZeroGraceKeepsRecordAndSnapshot(t *testing.T) {
	t.Parallel()
	m := newManager(t, map[string]any{
		"tick_interval_seconds":  1,
		"shutdown_grace_seconds": 0,
	})
	started := make(chan struct{}, 1)
	act := action.Func(func(ctx context.Context, _ model.Account) (action.Result, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return action.Result{}, ctx.Err()
		case <-time.After(20 * time.Second):
			return action.Result{}, nil
		}
	})
	a, err := Open(context.Background(), m, WithAction("twitter", act))
	require.NoError(t, err)

	ctx := context.Background()
	acc, err := a.Accounts().CreateAccount(ctx, model.ProviderTwitter, "alice", "", "")
	require.NoError(t, err)
	_, err = a.Scheduler().AddEntry(ctx, acc.ID, "twitter", "every 1s")
	require.NoError(t, err)

	require.NoError(t, a.Start(ctx))
	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("entry was never dispatched")
	}

	assert.Less(t, a.StopBudget(), 30*time.Second, "zero grace must not be replaced by the default")
	stopCtx, cancel := context.WithTimeout(ctx, a.StopBudget())
	defer cancel()
	begin := time.Now()
	require.NoError(t, a.Stop(stopCtx))
	assert.Less(t, time.Since(begin), 5*time.Second)

	b, err := Open(ctx, m)
	require.NoError(t, err)
	defer b.Close()
	recs, err := b.Accounts().ListJobRecords(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.JobFailure, recs[0].Status)

	entries := b.Scheduler().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.EntryIdle, entries[0].Status)
	assert.Equal(t, model.ResultFailure, entries[0].LastResult)
}
