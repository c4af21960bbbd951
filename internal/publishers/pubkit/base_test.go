package pubkit

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"crosspost/internal/publisher"
	logx "crosspost/pkg/logx"
)

func newBase(t *testing.T, caps publisher.Capabilities, creds string) *Base {
	t.Helper()
	b := &Base{}
	cfg := publisher.TargetConfig{Target: publisher.TargetDevto, Credentials: json.RawMessage(creds)}
	b.InitBase(publisher.TargetDevto, caps, cfg, publisher.Deps{Log: logx.Nop()})
	return b
}

func validBody() string { return strings.Repeat("lorem ", 30) }

func TestValidateTitleLimitOnlyWithoutTruncation(t *testing.T) {
	long := strings.Repeat("x", 120)

	strict := newBase(t, publisher.Capabilities{MaxTitleLen: 64, TruncateTitle: false}, "{}")
	if err := strict.Validate(publisher.Article{Title: long, Body: validBody()}); err == nil {
		t.Fatalf("expected over-long title rejection when truncation is off")
	}

	lenient := newBase(t, publisher.Capabilities{MaxTitleLen: 64, TruncateTitle: true}, "{}")
	if err := lenient.Validate(publisher.Article{Title: long, Body: validBody()}); err != nil {
		t.Fatalf("truncating target must accept over-long titles: %v", err)
	}
}

func TestValidateMinimumLengths(t *testing.T) {
	b := newBase(t, publisher.Capabilities{}, "{}")

	if err := b.Validate(publisher.Article{Title: "ab", Body: validBody()}); err == nil {
		t.Fatalf("expected rejection of a title under 5 chars")
	}
	if err := b.Validate(publisher.Article{Title: "Go 1.24 release notes", Body: strings.Repeat("x", 99)}); err == nil {
		t.Fatalf("expected rejection of a body under 100 chars")
	}
	// Boundary: exactly the minimums pass.
	if err := b.Validate(publisher.Article{Title: "12345", Body: strings.Repeat("x", 100)}); err != nil {
		t.Fatalf("minimal lengths must pass: %v", err)
	}
	// Whitespace padding doesn't count toward the minimums.
	if err := b.Validate(publisher.Article{Title: "ab   \n", Body: validBody()}); err == nil {
		t.Fatalf("padding must not rescue a short title")
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	b := newBase(t, publisher.Capabilities{}, "{}")
	if err := b.Validate(publisher.Article{Title: " ", Body: validBody()}); err == nil {
		t.Fatalf("expected empty title rejection")
	}
	if err := b.Validate(publisher.Article{Title: "valid title", Body: "\n"}); err == nil {
		t.Fatalf("expected empty body rejection")
	}
}

func TestFailureFromResponseAuthIsRetryable(t *testing.T) {
	b := newBase(t, publisher.Capabilities{}, "{}")

	for _, status := range []int{401, 403} {
		out := b.FailureFromResponse(status, http.Header{}, []byte("denied"))
		if !out.NeedRetry || out.ErrorCode != publisher.CodeAuth {
			t.Fatalf("HTTP %d must map to a retryable auth outcome, got %+v", status, out)
		}
	}

	out := b.FailureFromResponse(422, http.Header{}, []byte("unprocessable"))
	if out.NeedRetry || out.ErrorCode != publisher.CodeRejected {
		t.Fatalf("4xx rejection must stay terminal, got %+v", out)
	}
}

func TestCredentialsRejectUnknownFields(t *testing.T) {
	b := newBase(t, publisher.Capabilities{}, `{"api_key":"k","api_keg":"typo"}`)
	var out struct {
		APIKey string `json:"api_key"`
	}
	if err := b.Credentials(&out); err == nil {
		t.Fatalf("expected unknown-field rejection")
	}

	b = newBase(t, publisher.Capabilities{}, `{"api_key":"k"}`)
	if err := b.Credentials(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "k" {
		t.Fatalf("credentials not decoded: %+v", out)
	}
}

func TestApplyDefaults(t *testing.T) {
	b := newBase(t, publisher.Capabilities{}, "{}")
	b.Cfg.DefaultCategory = "engineering"
	b.Cfg.DefaultTags = []string{"go"}

	got := b.ApplyDefaults(publisher.Article{Title: "t", Body: "b"})
	if got.Category != "engineering" || len(got.Tags) != 1 {
		t.Fatalf("defaults not applied: %+v", got)
	}

	keep := b.ApplyDefaults(publisher.Article{Category: "ops", Tags: []string{"sre"}})
	if keep.Category != "ops" || keep.Tags[0] != "sre" {
		t.Fatalf("explicit values must win: %+v", keep)
	}
}
