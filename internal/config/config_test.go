package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultsWithoutFile(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	m.SetEnvLookup(noEnv)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.TickIntervalSeconds)
	assert.Equal(t, 600, cfg.DefaultJobTimeoutSeconds)
	assert.Equal(t, "./.mp", cfg.StorePath)
	assert.True(t, cfg.Logging.Console)
	assert.Same(t, cfg, m.Get())

	sc := cfg.SchedulerConfig()
	assert.Equal(t, time.Minute, sc.TickInterval)
	rc := cfg.RunnerConfig()
	assert.Equal(t, 10*time.Minute, rc.DefaultTimeout)
}

func TestDecodeYAMLOnTopOfDefaults(t *testing.T) {
	t.Parallel()
	body := `
tick_interval_seconds: 30
workers: 4
timezone: UTC
platforms:
  twitter:
    timeout_seconds: 120
    rate_per_hour: 6
    command: ["python3", "post.py"]
    env:
      MODE: live
  youtube:
    command: ["./yt"]
logging:
  level: debug
`
	p := writeFile(t, t.TempDir(), "autopost.yaml", body)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.TickIntervalSeconds)
	assert.Equal(t, 600, cfg.DefaultJobTimeoutSeconds, "omitted keys keep defaults")
	assert.True(t, cfg.Logging.Console, "omitted nested keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"twitter", "youtube"}, cfg.PlatformNames())
	assert.Equal(t, "live", cfg.Platforms["twitter"].Env["MODE"])
	assert.Equal(t, time.UTC.String(), cfg.Location().String())

	assert.Equal(t, map[string]float64{"twitter": 6}, cfg.SchedulerConfig().RatePerHour)
	assert.Equal(t, map[string]time.Duration{"twitter": 2 * time.Minute}, cfg.RunnerConfig().Timeouts)
}

func TestDecodeJSONStrict(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.json", []byte(`{"tick_interval_seconds": 5, "tick_intreval": 1}`))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = Decode("c.json", []byte(`{"workers": 1} {"workers": 2}`))
	assert.Error(t, err, "trailing data is rejected")

	_, err = Decode("c.yaml", []byte("platforms:\n  twitter:\n    comand: [x]\n"))
	assert.Error(t, err, "unknown nested yaml keys are rejected")

	cfg, err := Decode("c.yaml", []byte("   \n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "autopost.json", `{"store_path": "/from/file", "logging": {"level": "info"}}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(envMap(map[string]string{
		EnvStorePath:     "/from/env",
		EnvStoreDriver:   "SQLITE",
		EnvLogLevel:      "warn",
		EnvTelegramToken: "123:abc",
	}))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.StorePath)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "123:abc", cfg.LogConfig().Telegram.Token)

	sc := cfg.StorageConfig()
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, filepath.Join("/from/env", "autopost.db"), sc.Path)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]func(c *Config){
		"tick":        func(c *Config) { c.TickIntervalSeconds = 0 },
		"driver":      func(c *Config) { c.StoreDriver = "redis" },
		"busy":        func(c *Config) { c.SQLiteBusyTimeout = "soon" },
		"timezone":    func(c *Config) { c.Timezone = "Mars/Olympus" },
		"platform":    func(c *Config) { c.Platforms = map[string]PlatformConfig{"Bad Name": {}} },
		"rate":        func(c *Config) { c.Platforms = map[string]PlatformConfig{"x": {RatePerHour: -1}} },
		"log level":   func(c *Config) { c.Logging.Level = "loud" },
		"tg chat":     func(c *Config) { c.Logging.Telegram.Enabled = true },
		"store path":  func(c *Config) { c.StorePath = "" },
		"debug rate":  func(c *Config) { c.Debug.BlockProfileRate = -1 },
		"workers neg": func(c *Config) { c.Workers = -2 },
	}
	for name, mutate := range cases {
		name, mutate := name, mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	changed, _ := Summarize(oldCfg, newCfg)
	assert.Empty(t, changed)

	newCfg.Workers = 3
	newCfg.Platforms = map[string]PlatformConfig{"twitter": {RatePerHour: 1}}
	newCfg.Logging.Level = "debug"
	newCfg.StorePath = "/elsewhere"
	changed, fields := Summarize(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "platforms", "scheduler", "store"}, changed)
	assert.NotEmpty(t, fields)
	assert.True(t, RestartSections["store"])
}

func TestWatchPublishesReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "autopost.json", `{"workers": 1}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// The watcher registers asynchronously; keep rewriting until it sees a change.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			assert.Equal(t, 7, cfg.Workers)
			assert.Equal(t, 7, m.Get().Workers)
			cancel()
			<-done
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(p, []byte(`{"workers": 7}`), 0o600))
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "autopost.json", `{"workers": 1}`)
	m := NewConfigManager(p)
	m.SetEnvLookup(noEnv)
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte(`{"workers": -1}`), 0o600))
	m.reload(context.Background())
	assert.Equal(t, 1, m.Get().Workers)

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(p, []byte(`{"workers": 2}`), 0o600))
	m.reload(context.Background())
	assert.Equal(t, 1, m.Get().Workers)
}

func TestPublishDropsOldest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	ch := m.Subscribe(1)
	a, b := Default(), Default()
	b.Workers = 9
	m.publish(a)
	m.publish(b)
	got := <-ch
	assert.Same(t, b, got)
	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}
