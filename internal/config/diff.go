package config

import (
	"reflect"
	"sort"

	logx "autopost/pkg/logx"
)

// RestartSections are config sections a running daemon cannot apply in place.
var RestartSections = map[string]bool{"store": true, "timezone": true}

// Summarize lists the sections that differ between two configs and returns
// log fields describing the new values. Secrets are never included.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = Default()
	}
	if newCfg == nil {
		newCfg = Default()
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if oldCfg.TickIntervalSeconds != newCfg.TickIntervalSeconds ||
		oldCfg.Workers != newCfg.Workers ||
		oldCfg.ShutdownGraceSeconds != newCfg.ShutdownGraceSeconds {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.Int("scheduler.tick_interval_seconds", newCfg.TickIntervalSeconds),
			logx.Int("scheduler.workers", newCfg.Workers),
			logx.Int("scheduler.shutdown_grace_seconds", newCfg.ShutdownGraceSeconds),
		)
	}

	if oldCfg.DefaultJobTimeoutSeconds != newCfg.DefaultJobTimeoutSeconds {
		changed = append(changed, "runner")
		fields = append(fields, logx.Int("runner.default_job_timeout_seconds", newCfg.DefaultJobTimeoutSeconds))
	}

	if names := diffPlatforms(oldCfg.Platforms, newCfg.Platforms); len(names) > 0 {
		changed = append(changed, "platforms")
		fields = append(fields,
			logx.Any("platforms.changed", names),
			logx.Int("platforms.count", len(newCfg.Platforms)),
		)
	}

	if oldCfg.StorePath != newCfg.StorePath ||
		oldCfg.StoreDriver != newCfg.StoreDriver ||
		oldCfg.SQLiteBusyTimeout != newCfg.SQLiteBusyTimeout {
		changed = append(changed, "store")
		fields = append(fields,
			logx.String("store.driver", newCfg.StoreDriver),
			logx.String("store.path", newCfg.StorePath),
		)
	}

	if oldCfg.Timezone != newCfg.Timezone {
		changed = append(changed, "timezone")
		fields = append(fields, logx.String("timezone", newCfg.Timezone))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		tg := newCfg.Logging.Telegram
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", tg.Enabled),
			logx.Bool("logging.telegram.token_changed", oldCfg.Logging.Telegram.Token != tg.Token),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		fields = append(fields,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.pprof", newCfg.Debug.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, fields
}

func diffPlatforms(oldM, newM map[string]PlatformConfig) []string {
	seen := map[string]struct{}{}
	for k := range oldM {
		seen[k] = struct{}{}
	}
	for k := range newM {
		seen[k] = struct{}{}
	}
	var out []string
	for name := range seen {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
