package config

import (
	"bytes"
	"encoding/json"

	"crosspost/internal/publisher"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Dispatcher controls the publish fan-out and retry policy.
	Dispatcher DispatcherConfig `json:"dispatcher"`

	// Reconciler controls the periodic engagement-stats sweep.
	Reconciler ReconcilerConfig `json:"reconciler,omitempty"`

	Images ImagesConfig `json:"images,omitempty"`

	// Targets holds per-platform configuration keyed by target id
	// ("telegram", "devto", "wordpress", "medium"). The publisher
	// registry is rebuilt (copy-and-swap) whenever this section changes.
	Targets map[string]TargetConfigRaw `json:"targets"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite publish-record store.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// DispatcherConfig controls batch dispatch behavior.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted):
//   - max_retries: 2 (an explicit 0 disables retries)
//   - retry_delay: "3s" (used when the platform suggests none)
//   - snapshot_chars: 200
type DispatcherConfig struct {
	// MaxRetries is a pointer so "omitted" and "explicitly zero" stay
	// distinguishable.
	MaxRetries *int `json:"max_retries,omitempty"`

	// RetryDelay is the fixed delay between attempts when the failure
	// outcome does not carry a suggested delay.
	RetryDelay string `json:"retry_delay,omitempty"`

	// SnapshotChars bounds the content audit snapshot stored per record.
	SnapshotChars int `json:"snapshot_chars,omitempty"`
}

// Retries returns the configured retry count, or def when the field was
// omitted. An explicit 0 disables retries.
func (d DispatcherConfig) Retries(def int) int {
	if d.MaxRetries == nil {
		return def
	}
	return *d.MaxRetries
}

// ReconcilerConfig controls the stats reconciliation sweep.
//
// Schedule accepts a cron spec ("*/30 * * * *", "@hourly") and Window a
// Go duration string bounding how far back the sweep looks.
type ReconcilerConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Window   string `json:"window,omitempty"`
}

// ImagesConfig controls inline-image adaptation.
type ImagesConfig struct {
	// UploadRoot resolves local/relative image references.
	UploadRoot string `json:"upload_root,omitempty"`
	// OutputDir receives adapted images; defaults to UploadRoot/adapted.
	OutputDir string `json:"output_dir,omitempty"`
	// FetchTimeout is a Go duration string for remote image downloads.
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

// TargetConfigRaw is the wire form of one target's configuration.
// Credentials stay opaque; each publisher decodes its own shape.
type TargetConfigRaw struct {
	Enabled         bool            `json:"enabled"`
	Credentials     json.RawMessage `json:"credentials,omitempty"`
	DefaultCategory string          `json:"default_category,omitempty"`
	DefaultTags     []string        `json:"default_tags,omitempty"`
	PublishDraft    bool            `json:"publish_draft,omitempty"`
	RatePerMinute   int             `json:"rate_per_minute,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in a target block are
// caught during config reload instead of being silently ignored.
func (t *TargetConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled         bool            `json:"enabled"`
		Credentials     json.RawMessage `json:"credentials,omitempty"`
		DefaultCategory string          `json:"default_category,omitempty"`
		DefaultTags     []string        `json:"default_tags,omitempty"`
		PublishDraft    bool            `json:"publish_draft,omitempty"`
		RatePerMinute   int             `json:"rate_per_minute,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var v tmp
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*t = TargetConfigRaw(v)
	return nil
}

// TargetStore adapts a Config snapshot to the read-only view the
// publisher registry consumes. The snapshot never changes after
// construction; a reload produces a new snapshot.
type TargetStore struct {
	cfg *Config
}

func NewTargetStore(cfg *Config) *TargetStore { return &TargetStore{cfg: cfg} }

func (s *TargetStore) EnabledTargets() []publisher.TargetConfig {
	if s == nil || s.cfg == nil {
		return nil
	}
	out := make([]publisher.TargetConfig, 0, len(s.cfg.Targets))
	for id, raw := range s.cfg.Targets {
		if !raw.Enabled {
			continue
		}
		out = append(out, mapTarget(id, raw))
	}
	return out
}

func (s *TargetStore) Lookup(target publisher.Target) (publisher.TargetConfig, bool) {
	if s == nil || s.cfg == nil {
		return publisher.TargetConfig{}, false
	}
	raw, ok := s.cfg.Targets[string(target)]
	if !ok {
		return publisher.TargetConfig{}, false
	}
	return mapTarget(string(target), raw), true
}

func mapTarget(id string, raw TargetConfigRaw) publisher.TargetConfig {
	return publisher.TargetConfig{
		Target:          publisher.Target(id),
		Enabled:         raw.Enabled,
		Credentials:     raw.Credentials,
		DefaultCategory: raw.DefaultCategory,
		DefaultTags:     append([]string(nil), raw.DefaultTags...),
		PublishDraft:    raw.PublishDraft,
		RatePerMinute:   raw.RatePerMinute,
	}
}
