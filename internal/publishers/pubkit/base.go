// Package pubkit is the shared SDK for target publishers. Typical usage:
//
//	type Publisher struct { pubkit.Base }
//	func New(cfg publisher.TargetConfig, deps publisher.Deps) (*Publisher, error) {
//	    p := &Publisher{}
//	    p.InitBase(publisher.TargetDevto, caps, cfg, deps)
//	    ...
//	}
//
// Base supplies the target identity, a scoped logger, the content
// pipeline, outbound rate limiting and credential decoding, so each
// adapter only writes the remote protocol.
package pubkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"crosspost/internal/content"
	"crosspost/internal/publisher"
	logx "crosspost/pkg/logx"
)

type Base struct {
	Log  logx.Logger
	Cfg  publisher.TargetConfig
	HTTP *http.Client

	target   publisher.Target
	caps     publisher.Capabilities
	pipeline *content.Pipeline
	limiter  *rate.Limiter
}

// InitBase wires deps + logger and derives the per-target rate limiter.
func (b *Base) InitBase(target publisher.Target, caps publisher.Capabilities, cfg publisher.TargetConfig, deps publisher.Deps) {
	b.target = target
	b.caps = caps
	b.Cfg = cfg
	b.Log = deps.Log.With(logx.String("target", string(target)))
	b.HTTP = deps.HTTP
	if b.HTTP == nil {
		b.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	b.pipeline = content.NewPipeline(deps.Images, b.Log)
	if cfg.RatePerMinute > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1)
	}
}

func (b *Base) Target() publisher.Target             { return b.target }
func (b *Base) Capabilities() publisher.Capabilities { return b.caps }

// Login and LoggedIn are no-ops for targets that authenticate per
// request (API token in a header). Session-based targets override both.
func (b *Base) Login(context.Context) error   { return nil }
func (b *Base) LoggedIn(context.Context) bool { return true }

// Minimum content lengths, in runes. Anything shorter is a stub that no
// target should receive.
const (
	minTitleRunes = 5
	minBodyRunes  = 100
)

// Validate applies the checks shared by every target: title of at least
// minTitleRunes, body of at least minBodyRunes, and the title length
// limit for targets that refuse to truncate.
func (b *Base) Validate(a publisher.Article) error {
	if n := utf8.RuneCountInString(strings.TrimSpace(a.Title)); n < minTitleRunes {
		return fmt.Errorf("title is %d chars, minimum is %d", n, minTitleRunes)
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(a.Body)); n < minBodyRunes {
		return fmt.Errorf("body is %d chars, minimum is %d", n, minBodyRunes)
	}
	if !b.caps.TruncateTitle && b.caps.MaxTitleLen > 0 {
		if n := utf8.RuneCountInString(a.Title); n > b.caps.MaxTitleLen {
			return fmt.Errorf("title is %d chars, %s allows %d", n, b.target, b.caps.MaxTitleLen)
		}
	}
	return nil
}

// Convert runs the shared content pipeline against this target's
// capabilities. Adapters that need extra shaping call it first and then
// post-process.
func (b *Base) Convert(ctx context.Context, a publisher.Article) (publisher.Article, error) {
	return b.pipeline.Convert(ctx, a, b.caps)
}

// Throttle blocks until the per-target rate limit admits one more
// outbound call. No-op when the target has no configured rate.
func (b *Base) Throttle(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// Credentials decodes the opaque credential blob into the adapter's own
// shape. Unknown fields are rejected so credential typos surface at
// registry build time, not at first publish.
func (b *Base) Credentials(out any) error {
	if len(b.Cfg.Credentials) == 0 {
		return fmt.Errorf("%s: missing credentials", b.target)
	}
	dec := json.NewDecoder(bytes.NewReader(b.Cfg.Credentials))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s credentials: %w", b.target, err)
	}
	return nil
}

// ApplyDefaults fills category and tags from the target config when the
// article does not set its own.
func (b *Base) ApplyDefaults(a publisher.Article) publisher.Article {
	if a.Category == "" {
		a.Category = b.Cfg.DefaultCategory
	}
	if len(a.Tags) == 0 && len(b.Cfg.DefaultTags) > 0 {
		a.Tags = append([]string(nil), b.Cfg.DefaultTags...)
	}
	return a
}
