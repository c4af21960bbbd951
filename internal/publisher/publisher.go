package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	logx "crosspost/pkg/logx"
)

// Target identifies one external platform an article can be published to.
type Target string

const (
	TargetTelegram  Target = "telegram"
	TargetDevto     Target = "devto"
	TargetWordPress Target = "wordpress"
	TargetMedium    Target = "medium"
)

var ErrNotConfigured = errors.New("target not configured")

// ErrNotImplemented is returned by FetchStats on targets without a
// finished remote integration, so a stub reads differently from an item
// deleted on the platform (which is ok=false with a nil error).
var ErrNotImplemented = errors.New("not implemented")

// ImageSpec declares a target's inline-image constraints. Zero fields
// mean "no constraint".
type ImageSpec struct {
	MaxWidth  int
	MaxHeight int
	MaxBytes  int
	// Formats lists accepted output formats ("jpeg", "png", "gif").
	// Empty means any format is accepted.
	Formats []string
}

// Accepts reports whether the spec allows the given image format.
func (s ImageSpec) Accepts(format string) bool {
	if len(s.Formats) == 0 {
		return true
	}
	for _, f := range s.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Capabilities is the static descriptor for one target.
type Capabilities struct {
	DisplayName string
	// RichMarkup is true when the target accepts HTML; false when it only
	// takes structured plain text.
	RichMarkup  bool
	MaxTitleLen int
	// TruncateTitle allows Convert() to hard-cut over-long titles.
	// Targets that set it false reject over-long titles at Validate()
	// time instead.
	TruncateTitle bool
	RequiresLogin bool
	Images        ImageSpec
}

// TargetConfig is the per-target slice of configuration the core reads.
// Credentials stay an opaque blob; each publisher decodes its own shape.
// Owned by configuration management, read-only here.
type TargetConfig struct {
	Target          Target
	Enabled         bool
	Credentials     json.RawMessage
	DefaultCategory string
	DefaultTags     []string
	PublishDraft    bool
	RatePerMinute   int
}

// ConfigStore is the read interface onto target configuration.
type ConfigStore interface {
	EnabledTargets() []TargetConfig
	Lookup(target Target) (TargetConfig, bool)
}

// Publisher is the fixed capability contract every target adapter
// implements.
//
// Login is idempotent and safe to call when already logged in.
// LoggedIn must be a lightweight probe without remote side effects.
// Validate is local and synchronous; failing validation is never
// retried. Convert returns a target-shaped copy and must be
// deterministic (calling it twice on the same input yields the same
// output). Publish performs the remote call and reports the result as an
// Outcome. FetchStats tolerates items deleted on the platform side:
// it returns ok=false with a nil error, not an error.
type Publisher interface {
	Target() Target
	Capabilities() Capabilities

	Login(ctx context.Context) error
	LoggedIn(ctx context.Context) bool
	Validate(a Article) error
	Convert(ctx context.Context, a Article) (Article, error)
	Publish(ctx context.Context, a Article) Outcome
	FetchStats(ctx context.Context, platformItemID string) (Stats, bool, error)
}

// ImageAdapter rewrites one inline image reference to conform to a
// target's image spec. Implemented by internal/imaging; failures are
// non-fatal for conversion unless the target categorically rejects the
// source format.
type ImageAdapter interface {
	Adapt(ctx context.Context, ref string, spec ImageSpec) (string, error)
}

// Deps is everything a publisher implementation may need. Factories
// receive it when the registry is (re)built.
type Deps struct {
	Log    logx.Logger
	HTTP   *http.Client
	Images ImageAdapter
}

// Factory constructs a Publisher for one target from its configuration.
// Registered once at startup; invoked on every registry rebuild.
type Factory interface {
	Target() Target
	New(cfg TargetConfig, deps Deps) (Publisher, error)
}
