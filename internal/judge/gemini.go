package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

var geminiAliases = map[string]string{
	"gemini-flash": "gemini-2.0-flash",
	"gemini-pro":   "gemini-2.0-pro",
}

// GeminiProvider asks a Google Gemini model for verdicts.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini-backed judge.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		model:  aliasedModel(cfg.Model, geminiAliases),
	}, nil
}

func (p *GeminiProvider) Evaluate(ctx context.Context, req Request) (*Verdict, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = geminiSchema(req.Schema.Definition)
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: req.Material}},
	}}

	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, geminiError(err)
	}

	content := json.RawMessage(result.Text())
	if len(result.Candidates) > 0 && result.Candidates[0].FinishReason == "MAX_TOKENS" {
		return nil, &ErrVerdictTruncated{Content: content}
	}
	if err := req.Schema.Check(content); err != nil {
		return nil, err
	}

	v := &Verdict{Content: content, Model: p.model}
	if result.UsageMetadata != nil {
		v.Usage = Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(result.UsageMetadata.TotalTokenCount),
		}
	}
	return v, nil
}

func (p *GeminiProvider) ModelID() string {
	return p.model
}

// geminiSchema converts a JSON Schema definition into the SDK's native
// schema type. Only the subset our verdict schemas use is mapped.
func geminiSchema(def map[string]any) *genai.Schema {
	out := &genai.Schema{}

	if t, ok := def["type"].(string); ok {
		out.Type = geminiType(t)
	}
	if desc, ok := def["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := def["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if prop, ok := raw.(map[string]any); ok {
				out.Properties[name] = geminiSchema(prop)
			}
		}
	}
	if items, ok := def["items"].(map[string]any); ok {
		out.Items = geminiSchema(items)
	}
	out.Required = stringValues(def["required"])
	out.Enum = stringValues(def["enum"])

	return out
}

func stringValues(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func geminiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func geminiError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return &ErrRateLimit{Err: err}
	}
	return &ErrJudgeUnavailable{Err: err}
}
