package publisher

import (
	"fmt"
	"time"
)

// Error codes carried by failed outcomes.
//
// CodeNotImplemented is a first-class terminal outcome: targets without a
// finished remote integration must return it from Publish/FetchStats so
// callers can distinguish "not yet built" from "attempted and failed".
const (
	CodeValidation     = "validation"
	CodeAuth           = "auth"
	CodeNetwork        = "network"
	CodeRejected       = "rejected"
	CodeNotImplemented = "not_implemented"
	CodeInternal       = "internal"
)

// Outcome is the result of one publish attempt against one target.
//
// NeedRetry marks transient failures; the retry wrapper honors
// RetryAfter when the platform suggested a delay (e.g. HTTP 429).
type Outcome struct {
	Success         bool
	Target          Target
	Message         string
	PlatformItemID  string
	PlatformItemURL string
	ErrorCode       string
	NeedRetry       bool
	RetryAfter      time.Duration
}

// Published builds a success outcome carrying the platform item id/url.
func Published(target Target, itemID, itemURL, message string) Outcome {
	return Outcome{
		Success:         true,
		Target:          target,
		Message:         message,
		PlatformItemID:  itemID,
		PlatformItemURL: itemURL,
	}
}

// Failed builds a non-retryable failure outcome.
func Failed(target Target, code, message string) Outcome {
	return Outcome{Target: target, ErrorCode: code, Message: message}
}

// Failedf is Failed with a formatted message.
func Failedf(target Target, code, format string, args ...any) Outcome {
	return Failed(target, code, fmt.Sprintf(format, args...))
}

// Retryable builds a retryable failure outcome. after may be 0 when the
// platform did not suggest a delay.
func Retryable(target Target, code, message string, after time.Duration) Outcome {
	return Outcome{Target: target, ErrorCode: code, Message: message, NeedRetry: true, RetryAfter: after}
}

// NotImplemented builds the distinct terminal outcome for stub targets.
func NotImplemented(target Target, op string) Outcome {
	return Outcome{
		Target:    target,
		ErrorCode: CodeNotImplemented,
		Message:   fmt.Sprintf("%s: %s is not implemented", target, op),
	}
}

// Stats are engagement counters pulled back from a platform.
// The platform is the source of truth; reconciliation overwrites stored
// counters last-write-wins.
type Stats struct {
	Views     int64
	Likes     int64
	Comments  int64
	FetchedAt time.Time
}
