package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields in the config file (dispatcher.retry_delay,
// storage.busy_timeout, reconciler.window, imaging.fetch_timeout) are
// Go duration strings. They stay strings in the Config struct so the
// strict decoder round-trips them; consumers parse at wiring time with
// the helpers below, using the field path in error messages so a bad
// value names its source.

// ParseDurationField parses one duration field. Empty is allowed and
// yields zero; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
