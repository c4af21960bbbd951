package devto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crosspost/internal/publisher"
	logx "crosspost/pkg/logx"
)

func newTestPublisher(t *testing.T, baseURL string) *Publisher {
	t.Helper()
	creds, _ := json.Marshal(map[string]string{"api_key": "k-123", "base_url": baseURL})
	cfg := publisher.TargetConfig{
		Target:      publisher.TargetDevto,
		Enabled:     true,
		Credentials: creds,
		DefaultTags: []string{"golang"},
	}
	p, err := New(cfg, publisher.Deps{Log: logx.Nop(), HTTP: &http.Client{Timeout: 5 * time.Second}})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	return p
}

func TestPublishSuccess(t *testing.T) {
	var gotKey string
	var gotBody articleRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/articles" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(articleResponse{ID: 981, URL: "https://dev.to/u/x-981", Published: true})
	}))
	defer srv.Close()

	p := newTestPublisher(t, srv.URL)
	a := publisher.Article{ID: 1, Title: "Hello", Body: "# Hi", Format: publisher.FormatRich}

	out := p.Publish(context.Background(), a)
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.PlatformItemID != "981" || out.PlatformItemURL != "https://dev.to/u/x-981" {
		t.Fatalf("platform result not captured: %+v", out)
	}
	if gotKey != "k-123" {
		t.Fatalf("api key not sent, got %q", gotKey)
	}
	if !gotBody.Article.Published {
		t.Fatalf("expected published=true")
	}
	// Default tags from config applied when the article has none.
	if len(gotBody.Article.Tags) != 1 || gotBody.Article.Tags[0] != "golang" {
		t.Fatalf("default tags not applied: %v", gotBody.Article.Tags)
	}
}

func TestRateLimitedIsRetryableWithHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newTestPublisher(t, srv.URL)
	out := p.Publish(context.Background(), publisher.Article{Title: "t", Body: "b"})
	if out.Success || !out.NeedRetry {
		t.Fatalf("expected retryable failure, got %+v", out)
	}
	if out.RetryAfter != 30*time.Second {
		t.Fatalf("expected 30s hint, got %s", out.RetryAfter)
	}
	if out.ErrorCode != publisher.CodeNetwork {
		t.Fatalf("expected network code, got %s", out.ErrorCode)
	}
}

func TestUnprocessableIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"Title has already been used"}`))
	}))
	defer srv.Close()

	p := newTestPublisher(t, srv.URL)
	out := p.Publish(context.Background(), publisher.Article{Title: "t", Body: "b"})
	if out.Success || out.NeedRetry {
		t.Fatalf("expected terminal failure, got %+v", out)
	}
	if out.ErrorCode != publisher.CodeRejected {
		t.Fatalf("expected rejected code, got %s", out.ErrorCode)
	}
}

func TestFetchStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/articles/981":
			_ = json.NewEncoder(w).Encode(articleResponse{
				ID: 981, ReactionsCount: 17, CommentsCount: 4, PageViewsCount: 230,
			})
		case "/api/articles/404":
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	p := newTestPublisher(t, srv.URL)

	stats, ok, err := p.FetchStats(context.Background(), "981")
	if err != nil || !ok {
		t.Fatalf("fetch: ok=%v err=%v", ok, err)
	}
	if stats.Views != 230 || stats.Likes != 17 || stats.Comments != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	_, ok, err = p.FetchStats(context.Background(), "404")
	if err != nil {
		t.Fatalf("absent item must not error: %v", err)
	}
	if ok {
		t.Fatalf("deleted item reported present")
	}
}

func TestValidateTagLimit(t *testing.T) {
	p := newTestPublisher(t, "http://unused")
	a := publisher.Article{
		Title: "Working with tags",
		Body:  strings.Repeat("content ", 15),
		Tags:  []string{"a", "b", "c", "d", "e"},
	}
	if err := p.Validate(a); err == nil {
		t.Fatalf("expected tag limit rejection")
	}
	a.Tags = a.Tags[:4]
	if err := p.Validate(a); err != nil {
		t.Fatalf("four tags must pass: %v", err)
	}
}
