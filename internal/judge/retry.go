package judge

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// retryProvider re-asks the judge after transient failures. The config's
// MaxAttempts bounds total Evaluate calls on the inner provider.
type retryProvider struct {
	inner Provider
	cfg   RetryConfig
}

// WithRetry wraps a Provider with bounded retries and exponential backoff.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	return &retryProvider{inner: p, cfg: cfg}
}

func (r *retryProvider) Evaluate(ctx context.Context, req Request) (*Verdict, error) {
	badVerdicts := 0
	wait := r.cfg.InitialWait

	for attempt := 1; ; attempt++ {
		v, err := r.inner.Evaluate(ctx, req)
		if err == nil {
			return v, nil
		}
		if attempt >= r.cfg.MaxAttempts || !r.again(err, &badVerdicts) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.delay(wait, err)):
		}

		wait = min(time.Duration(float64(wait)*r.cfg.Multiplier), r.cfg.MaxWait)
	}
}

func (r *retryProvider) ModelID() string {
	return r.inner.ModelID()
}

// again reports whether the failure is worth another attempt. A schema
// violation gets exactly one re-ask; truncation and context errors end
// the call immediately. Anything else (throttling, outage, network) is
// treated as transient.
func (r *retryProvider) again(err error, badVerdicts *int) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var truncated *ErrVerdictTruncated
	if errors.As(err, &truncated) {
		return false
	}

	var invalid *ErrInvalidVerdict
	if errors.As(err, &invalid) {
		*badVerdicts++
		return *badVerdicts <= 1
	}

	return true
}

// delay picks the wait before the next attempt. A rate limit that names
// its own Retry-After wins; otherwise the exponential wait is spread
// with up to 20% jitter so concurrent callers don't re-ask in lockstep.
func (r *retryProvider) delay(base time.Duration, err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	jittered := float64(base) * (1 + 0.2*(2*rand.Float64()-1))
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}
