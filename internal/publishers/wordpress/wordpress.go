// Package wordpress publishes to a self-hosted WordPress site through
// the core REST API, authenticating with an application password.
package wordpress

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"crosspost/internal/publisher"
	"crosspost/internal/publishers/pubkit"
)

var caps = publisher.Capabilities{
	DisplayName:   "WordPress",
	RichMarkup:    true,
	RequiresLogin: true,
	Images: publisher.ImageSpec{
		MaxWidth:  2048,
		MaxHeight: 2048,
	},
}

type credentials struct {
	BaseURL     string `json:"base_url"`
	Username    string `json:"username"`
	AppPassword string `json:"app_password"`
}

type Publisher struct {
	pubkit.Base
	creds credentials
	base  string

	// set once a users/me probe succeeds
	authed atomic.Bool
}

func New(cfg publisher.TargetConfig, deps publisher.Deps) (*Publisher, error) {
	p := &Publisher{}
	p.InitBase(publisher.TargetWordPress, caps, cfg, deps)
	if err := p.Credentials(&p.creds); err != nil {
		return nil, err
	}
	if p.creds.BaseURL == "" || p.creds.Username == "" || p.creds.AppPassword == "" {
		return nil, fmt.Errorf("wordpress: base_url, username and app_password are required")
	}
	p.base = strings.TrimRight(p.creds.BaseURL, "/")
	return p, nil
}

// Login verifies the application password against the users/me
// endpoint. Idempotent: a verified session is reused.
func (p *Publisher) Login(ctx context.Context) error {
	if p.authed.Load() {
		return nil
	}
	status, _, raw, err := p.DoJSON(ctx, http.MethodGet, p.base+"/wp-json/wp/v2/users/me", p.authHeader(), nil, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("wordpress auth probe: HTTP %d: %s", status, raw)
	}
	p.authed.Store(true)
	return nil
}

func (p *Publisher) LoggedIn(context.Context) bool { return p.authed.Load() }

type postRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Status  string `json:"status"`
	Excerpt string `json:"excerpt,omitempty"`
}

type postResponse struct {
	ID   int64  `json:"id"`
	Link string `json:"link"`
}

func (p *Publisher) Publish(ctx context.Context, a publisher.Article) publisher.Outcome {
	a = p.ApplyDefaults(a)
	status := "publish"
	if a.Draft || p.Cfg.PublishDraft {
		status = "draft"
	}
	req := postRequest{Title: a.Title, Content: a.Body, Status: status, Excerpt: a.Summary}

	var resp postResponse
	code, hdr, raw, err := p.DoJSON(ctx, http.MethodPost, p.base+"/wp-json/wp/v2/posts", p.authHeader(), req, &resp)
	if err != nil {
		if code != 0 {
			return publisher.Failedf(p.Target(), publisher.CodeInternal, "wordpress response: %v", err)
		}
		return p.NetworkFailure(err)
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		// Application password revoked mid-session; next attempt re-probes.
		p.authed.Store(false)
	}
	if code < 200 || code >= 300 {
		return p.FailureFromResponse(code, hdr, raw)
	}
	return publisher.Published(p.Target(), fmt.Sprintf("%d", resp.ID), resp.Link, status)
}

// FetchStats reports absent: core WordPress exposes no view or like
// counters over the REST API.
func (p *Publisher) FetchStats(context.Context, string) (publisher.Stats, bool, error) {
	return publisher.Stats{}, false, nil
}

func (p *Publisher) authHeader() http.Header {
	tok := base64.StdEncoding.EncodeToString([]byte(p.creds.Username + ":" + p.creds.AppPassword))
	return http.Header{"Authorization": []string{"Basic " + tok}}
}

// Factory implements publisher.Factory.
type Factory struct{}

func (Factory) Target() publisher.Target { return publisher.TargetWordPress }

func (Factory) New(cfg publisher.TargetConfig, deps publisher.Deps) (publisher.Publisher, error) {
	return New(cfg, deps)
}
