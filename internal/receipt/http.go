package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPVerifier verifies receipts against per-platform HTTP endpoints.
type HTTPVerifier struct {
	endpoints map[Platform]string
	client    *http.Client
}

// HTTPVerifierConfig configures an HTTPVerifier.
type HTTPVerifierConfig struct {
	// Endpoints maps each platform to its verification URL.
	Endpoints map[Platform]string

	// Timeout bounds a single verification round trip. Default: 10s.
	Timeout time.Duration
}

// NewHTTPVerifier creates a verifier calling real storefront endpoints.
func NewHTTPVerifier(cfg HTTPVerifierConfig) (*HTTPVerifier, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one platform endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVerifier{
		endpoints: cfg.Endpoints,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

type verifyRequest struct {
	Platform    Platform `json:"platform"`
	ReceiptBlob []byte   `json:"receipt_blob"`
}

type verifyResponse struct {
	Valid         bool   `json:"valid"`
	ProductID     string `json:"product_id"`
	TransactionID string `json:"transaction_id"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, platform Platform, receiptBlob []byte) (*Verification, error) {
	endpoint, ok := v.endpoints[platform]
	if !ok {
		return nil, fmt.Errorf("no verification endpoint for platform %q", platform)
	}

	body, err := json.Marshal(verifyRequest{Platform: platform, ReceiptBlob: receiptBlob})
	if err != nil {
		return nil, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify receipt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify receipt: storefront returned %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}

	return &Verification{
		Valid:         out.Valid,
		ProductID:     out.ProductID,
		TransactionID: out.TransactionID,
	}, nil
}
