package judge

import (
	"context"
	"encoding/json"
	"sync"
)

// CannedVerdict is one scripted outcome for the ScriptedProvider: either
// a verdict or the error that produced no verdict.
type CannedVerdict struct {
	Content json.RawMessage
	Usage   Usage
	Err     error
}

// ScriptedProvider is a deterministic Provider for tests and the demo
// CLI. It plays canned verdicts in FIFO order and records every request
// it was asked to judge.
type ScriptedProvider struct {
	mu       sync.Mutex
	verdicts []CannedVerdict
	Calls    []Request
}

// NewScriptedProvider creates a ScriptedProvider with the given script.
func NewScriptedProvider(verdicts ...CannedVerdict) *ScriptedProvider {
	return &ScriptedProvider{verdicts: verdicts}
}

// Evaluate plays the next canned verdict. An exhausted script behaves
// like a judge outage.
func (p *ScriptedProvider) Evaluate(_ context.Context, req Request) (*Verdict, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)

	if len(p.verdicts) == 0 {
		return nil, &ErrJudgeUnavailable{}
	}

	next := p.verdicts[0]
	p.verdicts = p.verdicts[1:]

	if next.Err != nil {
		return nil, next.Err
	}

	return &Verdict{
		Content: next.Content,
		Usage:   next.Usage,
		Model:   "mock",
	}, nil
}

// ModelID returns "mock".
func (p *ScriptedProvider) ModelID() string {
	return "mock"
}

// AddVerdict appends one canned outcome to the script.
func (p *ScriptedProvider) AddVerdict(v CannedVerdict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verdicts = append(p.verdicts, v)
}

// CallCount returns the number of Evaluate calls made.
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
