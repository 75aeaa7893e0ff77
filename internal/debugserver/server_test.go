package debugserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"autopost/internal/metrics"
	logx "autopost/pkg/logx"
)

func waitForHTTP(ctx context.Context, url string) (*http.Response, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func get(t *testing.T, ctx context.Context, url string) (int, string) {
	t.Helper()
	resp, err := waitForHTTP(ctx, url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestServerEndpoints(t *testing.T) {
	m, err := metrics.New()
	if err != nil {
		t.Fatal(err)
	}
	var unhealthy atomic.Bool
	srv := New(logx.Nop(), m, func() error {
		if unhealthy.Load() {
			return errors.New("store closed")
		}
		return nil
	})
	t.Cleanup(func() {
		srv.Stop(context.Background())
		runtime.SetBlockProfileRate(0)
		runtime.SetMutexProfileFraction(0)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	srv.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true})
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("expected a bound address")
	}

	if code, body := get(t, ctx, "http://"+addr+"/healthz"); code != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("healthz = %d %s", code, body)
	}
	unhealthy.Store(true)
	if code, _ := get(t, ctx, "http://"+addr+"/healthz"); code != http.StatusServiceUnavailable {
		t.Fatalf("healthz while unhealthy = %d", code)
	}
	if code, _ := get(t, ctx, "http://"+addr+"/debug/pprof/"); code != http.StatusOK {
		t.Fatalf("pprof = %d", code)
	}
	code, body := get(t, ctx, "http://"+addr+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, `autopost_http_requests_total{path="/healthz",status="200"} 1`) {
		t.Fatalf("metrics = %d, body lacks request counter", code)
	}

	// Reapplying without pprof restarts the listener without the handlers.
	srv.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	addr = srv.Addr()
	if code, _ := get(t, ctx, "http://"+addr+"/debug/pprof/"); code != http.StatusNotFound {
		t.Fatalf("pprof without flag = %d", code)
	}

	srv.Apply(ctx, Config{Enabled: false})
	if a := srv.Addr(); a != "" {
		t.Fatalf("expected server to stop, still at %s", a)
	}
}
