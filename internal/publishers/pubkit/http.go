package pubkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"crosspost/internal/publisher"
)

const maxErrorBody = 4 << 10

// DoJSON sends a JSON request through the shared client (rate-limited)
// and decodes a JSON response body into out when out is non-nil.
// Non-2xx statuses are returned, not turned into errors; adapters map
// them with FailureFromResponse.
func (b *Base) DoJSON(ctx context.Context, method, url string, header http.Header, in, out any) (int, http.Header, []byte, error) {
	if err := b.Throttle(ctx); err != nil {
		return 0, nil, nil, err
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := b.HTTP.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, resp.Header, nil, err
	}
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, resp.Header, raw, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, resp.Header, raw, nil
}

// FailureFromResponse maps a non-2xx platform response to an outcome:
// 429 and 5xx are retryable (429 carries the Retry-After hint), 401/403
// are retryable auth failures (the retry wrapper re-logins once before
// declaring them terminal), everything else is a rejection.
func (b *Base) FailureFromResponse(status int, hdr http.Header, raw []byte) publisher.Outcome {
	msg := fmt.Sprintf("HTTP %d: %s", status, truncateBody(raw))
	switch {
	case status == http.StatusTooManyRequests:
		return publisher.Retryable(b.target, publisher.CodeNetwork, msg, retryAfterHeader(hdr))
	case status >= 500:
		return publisher.Retryable(b.target, publisher.CodeNetwork, msg, 0)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return publisher.Retryable(b.target, publisher.CodeAuth, msg, 0)
	default:
		return publisher.Failed(b.target, publisher.CodeRejected, msg)
	}
}

// NetworkFailure maps a transport-level error (DNS, TLS, timeout) to a
// retryable outcome.
func (b *Base) NetworkFailure(err error) publisher.Outcome {
	return publisher.Retryable(b.target, publisher.CodeNetwork, err.Error(), 0)
}

func retryAfterHeader(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncateBody(raw []byte) string {
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	return string(bytes.TrimSpace(raw))
}
