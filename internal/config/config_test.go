package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/internal/publisher"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const sampleJSON = `{
  "logging": {"level": "debug", "console": true},
  "storage": {"path": "/var/lib/crosspost/records.db", "busy_timeout": "5s"},
  "dispatcher": {"max_retries": 3, "retry_delay": "2s", "snapshot_chars": 300},
  "reconciler": {"enabled": true, "schedule": "@hourly", "window": "720h"},
  "targets": {
    "devto": {
      "enabled": true,
      "credentials": {"api_key": "k"},
      "default_tags": ["golang"]
    },
    "telegram": {"enabled": false, "credentials": {"token": "t", "chat_id": -100}}
  }
}`

func TestLoadJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", sampleJSON))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Dispatcher.Retries(2))
	assert.True(t, cfg.Reconciler.Enabled)
	require.Contains(t, cfg.Targets, "devto")
	assert.True(t, cfg.Targets["devto"].Enabled)
	assert.Equal(t, []string{"golang"}, cfg.Targets["devto"].DefaultTags)
	assert.Same(t, cfg, m.Get())
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", `
logging:
  level: info
storage:
  path: ./records.db
targets:
  wordpress:
    enabled: true
    credentials:
      base_url: https://blog.example.com
      username: author
      app_password: secret
`))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)

	var creds struct {
		BaseURL string `json:"base_url"`
	}
	require.NoError(t, json.Unmarshal(cfg.Targets["wordpress"].Credentials, &creds))
	assert.Equal(t, "https://blog.example.com", creds.BaseURL)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", `{"dispatcher": {"max_retires": 3}}`))
	_, err := m.Load()
	require.Error(t, err)

	m = NewManager(writeConfig(t, "config.json",
		`{"targets": {"devto": {"enabled": true, "credentails": {}}}}`))
	_, err = m.Load()
	require.Error(t, err, "typos inside a target block must fail the parse")
}

func TestParseRejectsTrailingData(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", `{"logging":{}} {"extra": 1}`))
	_, err := m.Load()
	require.Error(t, err)
}

func TestSummarizeChangeTargets(t *testing.T) {
	var oldCfg, newCfg Config
	require.NoError(t, json.Unmarshal([]byte(sampleJSON), &oldCfg))
	require.NoError(t, json.Unmarshal([]byte(sampleJSON), &newCfg))

	sections, _, targets := SummarizeChange(&oldCfg, &newCfg)
	assert.Empty(t, sections)
	assert.Empty(t, targets)

	// Enabling a target is a targets change.
	tg := newCfg.Targets["telegram"]
	tg.Enabled = true
	newCfg.Targets["telegram"] = tg

	sections, _, targets = SummarizeChange(&oldCfg, &newCfg)
	assert.Contains(t, sections, "targets")
	assert.Equal(t, []string{"telegram"}, targets)

	// Credential rotation is detected without leaking the values.
	dv := newCfg.Targets["devto"]
	dv.Credentials = json.RawMessage(`{"api_key": "rotated"}`)
	newCfg.Targets["devto"] = dv

	_, _, targets = SummarizeChange(&oldCfg, &newCfg)
	assert.ElementsMatch(t, []string{"devto", "telegram"}, targets)
}

func TestSummarizeChangeSections(t *testing.T) {
	oldCfg := &Config{}
	newCfg := &Config{}
	five := 5
	newCfg.Dispatcher.MaxRetries = &five
	newCfg.Logging.Level = "warn"

	sections, attrs, _ := SummarizeChange(oldCfg, newCfg)
	assert.ElementsMatch(t, []string{"logging", "dispatcher"}, sections)
	assert.NotEmpty(t, attrs)
}

func TestRetriesZeroIsConfigurable(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", `{
  "storage": {"path": "./records.db"},
  "dispatcher": {"max_retries": 0}
}`))
	cfg, err := m.Load()
	require.NoError(t, err)

	// An explicit zero disables retries; only an omitted field defaults.
	assert.Equal(t, 0, cfg.Dispatcher.Retries(2))
	assert.Equal(t, 2, DispatcherConfig{}.Retries(2))

	// Equal values behind distinct pointers are not a change.
	other := *cfg
	zero := 0
	other.Dispatcher.MaxRetries = &zero
	sections, _, _ := SummarizeChange(cfg, &other)
	assert.NotContains(t, sections, "dispatcher")
}

func TestTargetStore(t *testing.T) {
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(sampleJSON), &cfg))
	store := NewTargetStore(&cfg)

	enabled := store.EnabledTargets()
	require.Len(t, enabled, 1, "disabled targets are filtered out")
	assert.Equal(t, publisher.TargetDevto, enabled[0].Target)

	tc, ok := store.Lookup(publisher.TargetTelegram)
	require.True(t, ok)
	assert.False(t, tc.Enabled)

	_, ok = store.Lookup(publisher.TargetMedium)
	assert.False(t, ok)
}
