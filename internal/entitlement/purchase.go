// Package entitlement owns attempt counts. The ledger is the exclusive
// authority over how many attempts a user has purchased and used; nothing
// else in the engine mutates a purchase row.
package entitlement

import (
	"time"

	"github.com/abhisek/lingoband/internal/assessment"
)

// PurchaseStatus is the lifecycle state of a purchase.
// Purchases are never deleted, only status-transitioned.
type PurchaseStatus string

const (
	StatusActive    PurchaseStatus = "active"
	StatusExhausted PurchaseStatus = "exhausted"
	StatusRefunded  PurchaseStatus = "refunded"
)

// Purchase is one verified storefront purchase of assessment attempts.
// Invariant: 0 <= AttemptsUsed <= AttemptsTotal.
type Purchase struct {
	PurchaseID     string          `json:"purchase_id"`
	UserID         string          `json:"user_id"`
	AssessmentType assessment.Type `json:"assessment_type"`
	AttemptsTotal  int             `json:"attempts_total"`
	AttemptsUsed   int             `json:"attempts_used"`
	Status         PurchaseStatus  `json:"status"`
	PurchasedAt    time.Time       `json:"purchased_at"`

	// Platform and TransactionID record the storefront transaction that
	// created this purchase. TransactionID deduplicates retried receipts.
	Platform      string `json:"platform"`
	TransactionID string `json:"transaction_id"`
}

// Remaining returns how many attempts this purchase can still fund.
func (p *Purchase) Remaining() int {
	return p.AttemptsTotal - p.AttemptsUsed
}

// Product describes a purchasable bundle: the storefront product ID mapped
// to an assessment type and attempt count.
type Product struct {
	ProductID      string
	AssessmentType assessment.Type
	Attempts       int
}

// Catalog maps storefront product IDs to bundles. Owned by configuration;
// the ledger only reads it.
type Catalog map[string]Product

// DefaultCatalog returns the bundles sold at launch.
func DefaultCatalog() Catalog {
	return Catalog{
		"speaking_4":         {ProductID: "speaking_4", AssessmentType: assessment.TypeSpeaking, Attempts: 4},
		"speaking_10":        {ProductID: "speaking_10", AssessmentType: assessment.TypeSpeaking, Attempts: 10},
		"academic_writing_4": {ProductID: "academic_writing_4", AssessmentType: assessment.TypeAcademicWriting, Attempts: 4},
	}
}

// Reservation is the token returned by a successful attempt reservation.
// It identifies the purchase row the attempt was charged against.
type Reservation struct {
	PurchaseID     string
	UserID         string
	AssessmentType assessment.Type

	// Spent is set once a question has been shown against this
	// reservation; from that point the credit cannot be released.
	Spent bool

	// Released is set once the credit has been handed back, so a repeated
	// release cannot decrement the purchase a second time.
	Released bool
}
