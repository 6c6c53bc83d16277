package receipt

import (
	"context"
	"sync"
)

// MockVerifier is a deterministic Verifier for tests and the demo CLI.
// It returns canned verifications in FIFO order and records all calls.
type MockVerifier struct {
	mu        sync.Mutex
	responses []MockVerification
	Calls     []Platform
}

// MockVerification is a canned response for the MockVerifier.
type MockVerification struct {
	Verification Verification
	Err          error
}

// NewMockVerifier creates a MockVerifier with the given canned responses.
func NewMockVerifier(responses ...MockVerification) *MockVerifier {
	return &MockVerifier{responses: responses}
}

// Verify returns the next canned response. When the queue is empty it
// returns a valid verification with generic identifiers, which keeps demo
// flows working without setup.
func (m *MockVerifier) Verify(_ context.Context, platform Platform, _ []byte) (*Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, platform)

	if len(m.responses) == 0 {
		return &Verification{
			Valid:         true,
			ProductID:     "mock-product",
			TransactionID: "mock-txn",
		}, nil
	}

	resp := m.responses[0]
	m.responses = m.responses[1:]

	if resp.Err != nil {
		return nil, resp.Err
	}
	v := resp.Verification
	return &v, nil
}

// AddResponse appends a canned response to the queue.
func (m *MockVerifier) AddResponse(resp MockVerification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}
