package judge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/abhisek/lingoband/internal/store"
)

func TestScriptedProviderPlaysInOrder(t *testing.T) {
	script := NewScriptedProvider(
		CannedVerdict{Content: json.RawMessage(`{"criteria":{}}`), Usage: Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
		CannedVerdict{Content: json.RawMessage(`{"goal_met":true}`)},
	)

	first, err := script.Evaluate(context.Background(), Request{Material: "transcript one"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if string(first.Content) != `{"criteria":{}}` {
		t.Fatalf("first verdict = %s", first.Content)
	}
	if first.Usage.InputTokens != 10 {
		t.Fatalf("input tokens = %d, want 10", first.Usage.InputTokens)
	}

	second, err := script.Evaluate(context.Background(), Request{Material: "transcript two"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if string(second.Content) != `{"goal_met":true}` {
		t.Fatalf("second verdict = %s", second.Content)
	}

	// Requests are recorded as received.
	if script.Calls[0].Material != "transcript one" || script.Calls[1].Material != "transcript two" {
		t.Fatalf("recorded materials: %q, %q", script.Calls[0].Material, script.Calls[1].Material)
	}
}

func TestScriptedProviderExhaustedScriptIsOutage(t *testing.T) {
	script := NewScriptedProvider()
	_, err := script.Evaluate(context.Background(), Request{})
	var unavail *ErrJudgeUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ErrJudgeUnavailable, got %v", err)
	}
}

func TestScriptedProviderScriptedError(t *testing.T) {
	script := NewScriptedProvider(
		CannedVerdict{Err: &ErrRateLimit{Err: errors.New("429")}},
	)
	_, err := script.Evaluate(context.Background(), Request{})
	var rl *ErrRateLimit
	if !errors.As(err, &rl) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
}

func TestPurposeContext(t *testing.T) {
	ctx := context.Background()
	if p := PurposeFrom(ctx); p != "" {
		t.Fatalf("expected empty purpose, got %q", p)
	}

	ctx = WithPurpose(ctx, "score_speaking")
	if p := PurposeFrom(ctx); p != "score_speaking" {
		t.Fatalf("expected 'score_speaking', got %q", p)
	}
}

func TestLoggingProviderRecordsEvents(t *testing.T) {
	script := NewScriptedProvider(
		CannedVerdict{Content: json.RawMessage(`{"criteria":{}}`), Usage: Usage{InputTokens: 100, OutputTokens: 50}},
		CannedVerdict{Err: &ErrJudgeUnavailable{Err: errors.New("down")}},
	)
	events := store.NewJudgeEventRepo(store.NewMemory())
	p := WithLogging(script, "mock", events, zap.NewNop())

	ctx := WithPurpose(context.Background(), "score_speaking")
	if _, err := p.Evaluate(ctx, Request{}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := p.Evaluate(ctx, Request{}); err == nil {
		t.Fatal("expected the scripted outage to surface")
	}

	calls, tokens, err := events.JudgeCallStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", calls)
	}
	if tokens != 150 {
		t.Fatalf("expected 150 tokens, got %d", tokens)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "anthropic without key",
			cfg:     Config{Provider: "anthropic"},
			wantErr: true,
		},
		{
			name:    "anthropic with key",
			cfg:     Config{Provider: "anthropic", Anthropic: AnthropicConfig{APIKey: "sk-test"}},
			wantErr: false,
		},
		{
			name:    "openai without key",
			cfg:     Config{Provider: "openai"},
			wantErr: true,
		},
		{
			name:    "openai with key",
			cfg:     Config{Provider: "openai", OpenAI: OpenAIConfig{APIKey: "sk-test"}},
			wantErr: false,
		},
		{
			name:    "mock needs no key",
			cfg:     Config{Provider: "mock"},
			wantErr: false,
		},
		{
			name:    "unknown provider",
			cfg:     Config{Provider: "unknown"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
