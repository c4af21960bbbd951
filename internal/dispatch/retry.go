package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"crosspost/internal/publisher"
	logx "crosspost/pkg/logx"
)

// publishWithRetry drives one record through login, validation,
// conversion and publish, retrying transient failures up to
// MaxRetries extra attempts.
//
// Rules:
//   - login state is probed before every attempt; a failed login is
//     terminal (credentials won't fix themselves mid-loop)
//   - validation runs on the first attempt only; its failures are never
//     retried
//   - an auth failure from publish gets exactly one retry (the login
//     probe re-authenticates); a second auth failure is terminal
//   - Outcome.RetryAfter wins over the fixed default delay
//   - a panic inside the publisher counts as a retryable attempt
func (d *Dispatcher) publishWithRetry(ctx context.Context, pub publisher.Publisher, a publisher.Article) (publisher.Outcome, int) {
	maxAttempts := d.opt.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var out publisher.Outcome
	authRetried := false
	for attempt := 1; ; attempt++ {
		out = d.attempt(ctx, pub, a, attempt == 1)
		if out.Success || !out.NeedRetry {
			return out, attempt
		}
		if out.ErrorCode == publisher.CodeAuth {
			// The re-login retry is granted once, outside the transient
			// budget, so even a no-retry policy gets its refresh.
			if authRetried {
				out.NeedRetry = false
				return out, attempt
			}
			authRetried = true
		} else if attempt >= maxAttempts {
			return out, attempt
		}

		delay := out.RetryAfter
		if delay <= 0 {
			delay = d.opt.RetryDelay
		}
		d.log.Debug("publish retry scheduled",
			logx.String("target", string(pub.Target())),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.String("reason", out.Message))

		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return publisher.Failed(pub.Target(), publisher.CodeInternal, ctx.Err().Error()), attempt
		case <-tmr.C:
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, pub publisher.Publisher, a publisher.Article, first bool) (out publisher.Outcome) {
	target := pub.Target()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("publisher panicked",
				logx.String("target", string(target)),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			out = publisher.Retryable(target, publisher.CodeInternal, fmt.Sprintf("panic: %v", r), 0)
		}
	}()

	if pub.Capabilities().RequiresLogin && !pub.LoggedIn(ctx) {
		if err := pub.Login(ctx); err != nil {
			return publisher.Failedf(target, publisher.CodeAuth, "login: %v", err)
		}
	}

	if first {
		if err := pub.Validate(a); err != nil {
			return publisher.Failedf(target, publisher.CodeValidation, "validate: %v", err)
		}
	}

	conv, err := pub.Convert(ctx, a)
	if err != nil {
		return publisher.Failedf(target, publisher.CodeRejected, "convert: %v", err)
	}

	return pub.Publish(ctx, conv)
}
