package runner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopost/internal/action"
	"autopost/internal/errs"
	"autopost/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	account model.Account
	records []model.JobRecord
	failPut bool
}

func (f *fakeStore) FindAccount(_ context.Context, id string) (model.Account, error) {
	if id != f.account.ID {
		return model.Account{}, errs.NotFound("find_account", "account %q", id)
	}
	return f.account, nil
}

func (f *fakeStore) AppendJobRecord(_ context.Context, rec model.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return errs.Persistence("append_job_record", errors.New("disk full"))
	}
	f.records = append(f.records, rec)
	return nil
}

type countingObserver struct {
	mu  sync.Mutex
	got map[model.JobStatus]int
}

func (o *countingObserver) ObserveJob(_ string, s model.JobStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.got == nil {
		o.got = map[model.JobStatus]int{}
	}
	o.got[s]++
}

func newRunner(t *testing.T, act action.Action, cfg Config) (*Runner, *fakeStore, *countingObserver) {
	t.Helper()
	st := &fakeStore{account: model.Account{ID: "a1", Provider: model.ProviderTwitter, Nickname: "main"}}
	reg := action.NewRegistry()
	if act != nil {
		require.NoError(t, reg.Register("twitter", act))
	}
	obs := &countingObserver{}
	return New(cfg, st, st, reg, WithObserver(obs)), st, obs
}

var job = Job{AccountID: "a1", Provider: model.ProviderTwitter, Platform: "twitter"}

func TestRunStatuses(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		act    action.Action
		status model.JobStatus
		kind   error
	}{
		{
			name: "success",
			act: action.Func(func(_ context.Context, acc model.Account) (action.Result, error) {
				b, _ := json.Marshal(map[string]string{"posted_by": acc.Nickname})
				return action.Result{Metadata: b}, nil
			}),
			status: model.JobSuccess,
		},
		{
			name: "failure",
			act: action.Func(func(context.Context, model.Account) (action.Result, error) {
				return action.Result{}, errors.New("rate limited by platform")
			}),
			status: model.JobFailure,
			kind:   errs.ErrActionFailure,
		},
		{
			name: "timeout",
			act: action.Func(func(ctx context.Context, _ model.Account) (action.Result, error) {
				<-ctx.Done()
				return action.Result{}, ctx.Err()
			}),
			status: model.JobTimeout,
			kind:   errs.ErrActionTimeout,
		},
		{
			name: "ignores context",
			act: action.Func(func(context.Context, model.Account) (action.Result, error) {
				time.Sleep(2 * time.Second)
				return action.Result{}, nil
			}),
			status: model.JobTimeout,
			kind:   errs.ErrActionTimeout,
		},
		{
			name: "panic",
			act: action.Func(func(context.Context, model.Account) (action.Result, error) {
				panic("nil session")
			}),
			status: model.JobFailure,
			kind:   errs.ErrActionFailure,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, st, obs := newRunner(t, tc.act, Config{DefaultTimeout: time.Hour, Timeouts: map[string]time.Duration{"TWITTER": 50 * time.Millisecond}})

			start := time.Now()
			out := r.Run(context.Background(), job)
			assert.Less(t, time.Since(start), time.Second)

			assert.Equal(t, tc.status, out.Record.Status)
			assert.NoError(t, out.PersistErr)
			if tc.kind == nil {
				assert.NoError(t, out.Err)
				assert.Empty(t, out.Record.ErrorDetail)
				assert.JSONEq(t, `{"posted_by":"main"}`, string(out.Record.ResultMetadata))
				assert.Equal(t, model.ResultSuccess, out.Result())
			} else {
				assert.True(t, errors.Is(out.Err, tc.kind), "%v", out.Err)
				assert.NotEmpty(t, out.Record.ErrorDetail)
				assert.Equal(t, model.ResultFailure, out.Result())
			}

			require.Len(t, st.records, 1)
			assert.Equal(t, out.Record, st.records[0])
			assert.False(t, out.Record.FinishedAt.Before(out.Record.StartedAt))
			assert.Equal(t, 1, obs.got[tc.status])
		})
	}
}

func TestRunWithoutActionOrAccount(t *testing.T) {
	t.Parallel()
	r, st, _ := newRunner(t, nil, Config{})
	out := r.Run(context.Background(), job)
	assert.Equal(t, model.JobFailure, out.Record.Status)
	assert.Contains(t, out.Record.ErrorDetail, "no action registered")

	noop := action.Func(func(context.Context, model.Account) (action.Result, error) { return action.Result{}, nil })
	r, st, _ = newRunner(t, noop, Config{})
	out = r.Run(context.Background(), Job{AccountID: "ghost", Provider: model.ProviderTwitter, Platform: "twitter"})
	assert.Equal(t, model.JobFailure, out.Record.Status)
	assert.True(t, errors.Is(out.Err, errs.ErrNotFound))
	require.Len(t, st.records, 1)
	assert.Equal(t, "ghost", st.records[0].AccountID)
}

func TestRunSurfacesPersistenceError(t *testing.T) {
	t.Parallel()
	noop := action.Func(func(context.Context, model.Account) (action.Result, error) { return action.Result{}, nil })
	r, st, _ := newRunner(t, noop, Config{})
	st.failPut = true

	out := r.Run(context.Background(), job)
	assert.Equal(t, model.JobSuccess, out.Record.Status)
	require.Error(t, out.PersistErr)
	assert.True(t, errors.Is(out.PersistErr, errs.ErrPersistence))
}

func TestCancelledParentIsFailureNotTimeout(t *testing.T) {
	t.Parallel()
	block := action.Func(func(ctx context.Context, _ model.Account) (action.Result, error) {
		<-ctx.Done()
		return action.Result{}, ctx.Err()
	})
	r, st, _ := newRunner(t, block, Config{DefaultTimeout: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	out := r.Run(ctx, job)
	assert.Equal(t, model.JobFailure, out.Record.Status)
	assert.True(t, errors.Is(out.Err, context.Canceled))
	require.Len(t, st.records, 1, "record is kept even though the context was cancelled")
}

func TestTimeoutFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultTimeout, Config{}.timeoutFor("x"))
	assert.Equal(t, time.Minute, Config{DefaultTimeout: time.Minute}.timeoutFor("x"))
	assert.Equal(t, time.Second, Config{DefaultTimeout: time.Minute, Timeouts: map[string]time.Duration{"x": time.Second}}.timeoutFor("x"))
}
