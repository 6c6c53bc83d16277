// Package receipt defines the capability interface for verifying mobile
// storefront purchase receipts. The engine never fabricates purchases: a
// valid verifier response is the only way a purchase row is created.
package receipt

import "context"

// Platform identifies a mobile storefront.
type Platform string

const (
	PlatformAppStore  Platform = "app_store"
	PlatformPlayStore Platform = "play_store"
)

// Verification is the storefront's answer for one receipt.
type Verification struct {
	// Valid reports whether the storefront accepted the receipt.
	Valid bool

	// ProductID is the storefront product identifier the receipt paid for.
	ProductID string

	// TransactionID uniquely identifies the storefront transaction.
	// Used to deduplicate retried receipt submissions.
	TransactionID string
}

// Verifier checks a purchase receipt with the storefront that issued it.
type Verifier interface {
	// Verify submits the raw receipt blob for validation.
	// A network or storefront failure is an error; an invalid receipt is
	// a Verification with Valid=false, not an error.
	Verify(ctx context.Context, platform Platform, receiptBlob []byte) (*Verification, error)
}
