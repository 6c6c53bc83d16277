package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

var openaiAliases = map[string]string{
	"gpt-4o":      "gpt-4o",
	"gpt-4o-mini": "gpt-4o-mini",
}

// OpenAIProvider asks an OpenAI model for verdicts. BaseURL lets it sit
// in front of any OpenAI-compatible API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI-backed judge.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  aliasedModel(cfg.Model, openaiAliases),
	}, nil
}

func (p *OpenAIProvider) Evaluate(ctx context.Context, req Request) (*Verdict, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: req.Material},
	}
	if req.Instructions != "" {
		messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.Instructions},
		}, messages...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:               p.model,
		Messages:            messages,
		MaxCompletionTokens: req.MaxTokens,
	}
	if req.Schema != nil {
		def, err := json.Marshal(req.Schema.Definition)
		if err != nil {
			return nil, fmt.Errorf("marshal schema: %w", err)
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: json.RawMessage(def),
				Strict: true,
			},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, openaiError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ErrInvalidVerdict{Err: fmt.Errorf("openai returned no choices")}
	}

	choice := resp.Choices[0]
	content := json.RawMessage(choice.Message.Content)
	if choice.FinishReason == openai.FinishReasonLength {
		return nil, &ErrVerdictTruncated{Content: content}
	}
	if err := req.Schema.Check(content); err != nil {
		return nil, err
	}

	return &Verdict{
		Content: content,
		Model:   resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) ModelID() string {
	return p.model
}

func openaiError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return &ErrRateLimit{Err: err}
	}
	return &ErrJudgeUnavailable{Err: err}
}
