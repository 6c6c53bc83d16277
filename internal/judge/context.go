package judge

import "context"

type contextKey string

const purposeKey contextKey = "judge_purpose"

// WithPurpose annotates ctx with a short label describing why a judge
// call is being made (e.g. "score_speaking"). The logging decorator
// records it with each call event.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey, purpose)
}

// PurposeFrom extracts the purpose label from ctx, or "" if unset.
func PurposeFrom(ctx context.Context) string {
	if p, ok := ctx.Value(purposeKey).(string); ok {
		return p
	}
	return ""
}
