// Package judge is the client side of the external AI judge: the service
// that turns a finished transcript or essay into rubric criterion scores.
// The engine only ever talks to the Provider interface; which vendor sits
// behind it is a construction-time decision.
package judge

import (
	"context"
	"encoding/json"
)

// Provider is the core abstraction for judge interaction.
type Provider interface {
	// Evaluate submits one assessment artifact and returns the judge's
	// structured verdict. The verdict content always conforms to the
	// request's Schema; a response that does not is an error, never a
	// Verdict.
	Evaluate(ctx context.Context, req Request) (*Verdict, error)

	// ModelID returns the model identifier this provider is configured
	// to use.
	ModelID() string
}

// Request is one judgment to perform. The judge sees exactly two pieces
// of text: its grading instructions and the material under judgment.
type Request struct {
	// Instructions set the judge's examiner role and grading constraints.
	Instructions string

	// Material is the artifact being judged: a rubric plus the spoken
	// transcript or essay, or a phase excerpt for an advancement check.
	Material string

	// Schema is the shape the verdict must take. Required; every caller
	// in the engine wants structured output.
	Schema *Schema

	// MaxTokens bounds the verdict length.
	MaxTokens int
}

// Schema is the JSON Schema a verdict must conform to.
type Schema struct {
	// Name identifies this schema to providers that require one
	// (OpenAI's response format). Kebab-case, e.g. "rubric-verdict".
	Name string

	// Description tells the judge what the schema represents.
	Description string

	// Definition is the JSON Schema definition as a map.
	Definition map[string]any
}

// Verdict is the judge's validated output.
type Verdict struct {
	// Content is the verdict JSON, already checked against the request
	// schema.
	Content json.RawMessage

	// Usage reports token consumption for this judgment.
	Usage Usage

	// Model is the actual model that produced the verdict.
	Model string
}

// Usage tracks token consumption for a single judgment.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
