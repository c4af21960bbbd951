// Package devto publishes through the dev.to (Forem) REST API.
package devto

import (
	"context"
	"fmt"
	"net/http"

	"crosspost/internal/publisher"
	"crosspost/internal/publishers/pubkit"
)

const defaultBaseURL = "https://dev.to"

// dev.to enforces at most four tags per article.
const maxTags = 4

var caps = publisher.Capabilities{
	DisplayName:   "dev.to",
	RichMarkup:    true,
	MaxTitleLen:   128,
	TruncateTitle: true,
	Images: publisher.ImageSpec{
		MaxWidth: 1000,
		MaxBytes: 25 << 20,
		Formats:  []string{"jpeg", "png", "gif"},
	},
}

type credentials struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
}

type Publisher struct {
	pubkit.Base
	creds credentials
	base  string
}

func New(cfg publisher.TargetConfig, deps publisher.Deps) (*Publisher, error) {
	p := &Publisher{}
	p.InitBase(publisher.TargetDevto, caps, cfg, deps)
	if err := p.Credentials(&p.creds); err != nil {
		return nil, err
	}
	if p.creds.APIKey == "" {
		return nil, fmt.Errorf("devto: api_key is required")
	}
	p.base = p.creds.BaseURL
	if p.base == "" {
		p.base = defaultBaseURL
	}
	return p, nil
}

func (p *Publisher) Validate(a publisher.Article) error {
	if err := p.Base.Validate(a); err != nil {
		return err
	}
	if len(a.Tags) > maxTags {
		return fmt.Errorf("devto allows at most %d tags, got %d", maxTags, len(a.Tags))
	}
	return nil
}

type articleRequest struct {
	Article articleBody `json:"article"`
}

type articleBody struct {
	Title        string   `json:"title"`
	BodyMarkdown string   `json:"body_markdown"`
	Published    bool     `json:"published"`
	Tags         []string `json:"tags,omitempty"`
	Series       string   `json:"series,omitempty"`
}

type articleResponse struct {
	ID             int64  `json:"id"`
	URL            string `json:"url"`
	Published      bool   `json:"published"`
	ReactionsCount int64  `json:"public_reactions_count"`
	CommentsCount  int64  `json:"comments_count"`
	PageViewsCount int64  `json:"page_views_count"`
}

func (p *Publisher) Publish(ctx context.Context, a publisher.Article) publisher.Outcome {
	a = p.ApplyDefaults(a)
	req := articleRequest{Article: articleBody{
		Title:        a.Title,
		BodyMarkdown: a.Body,
		Published:    !(a.Draft || p.Cfg.PublishDraft),
		Tags:         a.Tags,
		Series:       a.Category,
	}}

	var resp articleResponse
	status, hdr, raw, err := p.DoJSON(ctx, http.MethodPost, p.base+"/api/articles", p.authHeader(), req, &resp)
	if err != nil {
		if status != 0 {
			return publisher.Failedf(p.Target(), publisher.CodeInternal, "devto response: %v", err)
		}
		return p.NetworkFailure(err)
	}
	if status < 200 || status >= 300 {
		return p.FailureFromResponse(status, hdr, raw)
	}

	state := "published"
	if !resp.Published {
		state = "draft"
	}
	return publisher.Published(p.Target(), fmt.Sprintf("%d", resp.ID), resp.URL, state)
}

func (p *Publisher) FetchStats(ctx context.Context, itemID string) (publisher.Stats, bool, error) {
	var resp articleResponse
	status, _, raw, err := p.DoJSON(ctx, http.MethodGet, p.base+"/api/articles/"+itemID, p.authHeader(), nil, &resp)
	if err != nil {
		return publisher.Stats{}, false, err
	}
	switch {
	case status == http.StatusNotFound:
		// Deleted or unpublished on the platform side.
		return publisher.Stats{}, false, nil
	case status < 200 || status >= 300:
		return publisher.Stats{}, false, fmt.Errorf("devto stats: HTTP %d: %s", status, raw)
	}
	return publisher.Stats{
		Views:    resp.PageViewsCount,
		Likes:    resp.ReactionsCount,
		Comments: resp.CommentsCount,
	}, true, nil
}

func (p *Publisher) authHeader() http.Header {
	return http.Header{"Api-Key": []string{p.creds.APIKey}}
}

// Factory implements publisher.Factory.
type Factory struct{}

func (Factory) Target() publisher.Target { return publisher.TargetDevto }

func (Factory) New(cfg publisher.TargetConfig, deps publisher.Deps) (publisher.Publisher, error) {
	return New(cfg, deps)
}
