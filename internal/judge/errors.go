package judge

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrRateLimit indicates the judge throttled the request. RetryAfter
// carries the judge's own backoff hint when it sent one.
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("judge rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrInvalidVerdict indicates the judge produced output that is not a
// verdict: malformed JSON, or JSON that fails the request schema.
// Content holds the rejected output for diagnosis.
type ErrInvalidVerdict struct {
	Content json.RawMessage
	Err     error
}

func (e *ErrInvalidVerdict) Error() string {
	return fmt.Sprintf("invalid verdict: %v", e.Err)
}

func (e *ErrInvalidVerdict) Unwrap() error { return e.Err }

// ErrJudgeUnavailable indicates the judge is down or unreachable. The
// scoring pipeline translates this into a completed-unscored session.
type ErrJudgeUnavailable struct {
	Err error
}

func (e *ErrJudgeUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("judge unavailable: %v", e.Err)
	}
	return "judge unavailable"
}

func (e *ErrJudgeUnavailable) Unwrap() error { return e.Err }

// ErrVerdictTruncated indicates the verdict was cut off at the MaxTokens
// limit. A truncation is a request-sizing problem; retrying the same
// request cannot fix it.
type ErrVerdictTruncated struct {
	Content json.RawMessage
}

func (e *ErrVerdictTruncated) Error() string {
	return "verdict truncated at the token limit"
}
