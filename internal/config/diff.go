package config

import (
	"reflect"
	"sort"
	"strings"

	logx "crosspost/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes credentials),
// and (3) the target ids whose configuration changed (enable/credentials/
// defaults). The target list drives the registry rebuild decision.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)))
	}

	if !dispatcherEqual(oldCfg.Dispatcher, newCfg.Dispatcher) {
		changed = append(changed, "dispatcher")
		attrs = append(attrs,
			logx.Int("dispatcher.max_retries", newCfg.Dispatcher.Retries(2)),
			logx.String("dispatcher.retry_delay", strings.TrimSpace(newCfg.Dispatcher.RetryDelay)),
		)
	}

	if oldCfg.Reconciler != newCfg.Reconciler {
		changed = append(changed, "reconciler")
		attrs = append(attrs,
			logx.Bool("reconciler.enabled", newCfg.Reconciler.Enabled),
			logx.String("reconciler.schedule", strings.TrimSpace(newCfg.Reconciler.Schedule)),
		)
	}

	if oldCfg.Images != newCfg.Images {
		changed = append(changed, "images")
	}

	targets := diffTargets(oldCfg.Targets, newCfg.Targets)
	if len(targets) > 0 {
		changed = append(changed, "targets")
		attrs = append(attrs, logx.Int("targets.changed", len(targets)))
	}

	return changed, attrs, targets
}

// diffTargets reports target ids whose raw block differs between the two
// revisions, including added and removed targets. Credentials are
// compared by hash so they never leak into diff output.
func diffTargets(oldT, newT map[string]TargetConfigRaw) []string {
	seen := map[string]bool{}
	var out []string

	for id, nt := range newT {
		ot, ok := oldT[id]
		if !ok || !sameTarget(ot, nt) {
			out = append(out, id)
		}
		seen[id] = true
	}
	for id := range oldT {
		if !seen[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// dispatcherEqual compares by value; MaxRetries is a pointer, so plain
// struct equality would flag every reload as a dispatcher change.
func dispatcherEqual(a, b DispatcherConfig) bool {
	if (a.MaxRetries == nil) != (b.MaxRetries == nil) {
		return false
	}
	if a.MaxRetries != nil && *a.MaxRetries != *b.MaxRetries {
		return false
	}
	return a.RetryDelay == b.RetryDelay && a.SnapshotChars == b.SnapshotChars
}

func sameTarget(a, b TargetConfigRaw) bool {
	if a.Enabled != b.Enabled ||
		a.DefaultCategory != b.DefaultCategory ||
		a.PublishDraft != b.PublishDraft ||
		a.RatePerMinute != b.RatePerMinute {
		return false
	}
	if !reflect.DeepEqual(a.DefaultTags, b.DefaultTags) {
		return false
	}
	return hashRaw(a.Credentials) == hashRaw(b.Credentials)
}
