package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/receipt"
	"github.com/abhisek/lingoband/internal/store"
)

// ErrExhausted indicates the user has no purchase with attempts remaining
// for the requested assessment type. User-visible, not retryable.
var ErrExhausted = errors.New("entitlement exhausted")

// ErrPersistenceConflict indicates reservation lost the optimistic-
// concurrency race too many times in a row. Transient; the caller may
// retry the whole request.
var ErrPersistenceConflict = errors.New("persistence conflict")

// ErrInvalidReceipt indicates the storefront rejected the receipt.
var ErrInvalidReceipt = errors.New("invalid purchase receipt")

// ErrAlreadySpent indicates a release was attempted after the reservation
// was marked spent (a question was already shown).
var ErrAlreadySpent = errors.New("reservation already spent")

// maxCASRetries bounds internal retries of a reservation that lost a
// compare-and-swap race.
const maxCASRetries = 3

// Ledger is the exclusive authority over attempt counts.
type Ledger struct {
	adapter  store.Adapter
	verifier receipt.Verifier
	catalog  Catalog
	log      *zap.Logger
}

// NewLedger creates a Ledger on the given adapter. The verifier is the
// only path through which purchase rows come into existence.
func NewLedger(adapter store.Adapter, verifier receipt.Verifier, catalog Catalog, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{adapter: adapter, verifier: verifier, catalog: catalog, log: log}
}

// Reserve consumes one attempt from the user's oldest active purchase for
// the given type. Exactly one AttemptsUsed increment happens, guarded by
// compare-and-swap; concurrent reservations race on the row and the loser
// rescans against fresh state. Returns ErrExhausted when no purchase has
// attempts remaining.
func (l *Ledger) Reserve(ctx context.Context, userID string, typ assessment.Type) (*Reservation, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		rows, err := l.activePurchases(ctx, userID, typ)
		if err != nil {
			return nil, err
		}

		// Oldest-first consumption.
		sort.Slice(rows, func(i, j int) bool {
			if !rows[i].purchase.PurchasedAt.Equal(rows[j].purchase.PurchasedAt) {
				return rows[i].purchase.PurchasedAt.Before(rows[j].purchase.PurchasedAt)
			}
			return rows[i].purchase.PurchaseID < rows[j].purchase.PurchaseID
		})

		var target *purchaseRow
		for _, r := range rows {
			if r.purchase.Remaining() > 0 {
				target = r
				break
			}
		}
		if target == nil {
			return nil, ErrExhausted
		}

		p := target.purchase
		p.AttemptsUsed++
		if p.AttemptsUsed == p.AttemptsTotal {
			p.Status = StatusExhausted
		}

		err = l.casPurchase(ctx, p, target.version)
		if errors.Is(err, store.ErrVersionConflict) {
			l.log.Debug("reservation lost CAS race, rescanning",
				zap.String("user_id", userID),
				zap.String("purchase_id", p.PurchaseID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reserve attempt: %w", err)
		}

		return &Reservation{
			PurchaseID:     p.PurchaseID,
			UserID:         userID,
			AssessmentType: typ,
		}, nil
	}

	return nil, ErrPersistenceConflict
}

// Release hands the reserved attempt back. Valid only while the
// reservation is unspent — once a question has been shown, the attempt is
// consumed even if the user abandons.
func (l *Ledger) Release(ctx context.Context, res *Reservation) error {
	if res.Spent {
		return ErrAlreadySpent
	}
	if res.Released {
		return nil
	}

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		p, version, err := l.getPurchase(ctx, res.PurchaseID)
		if err != nil {
			return err
		}
		if p.AttemptsUsed == 0 {
			// Nothing to hand back; treat a duplicate release as a no-op.
			res.Released = true
			return nil
		}

		p.AttemptsUsed--
		if p.Status == StatusExhausted {
			p.Status = StatusActive
		}

		err = l.casPurchase(ctx, p, version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("release attempt: %w", err)
		}
		res.Released = true
		return nil
	}

	return ErrPersistenceConflict
}

// MarkSpent flags the reservation as consumed. Called once a question has
// been allocated against it.
func (l *Ledger) MarkSpent(res *Reservation) {
	res.Spent = true
}

// CreateFromReceipt verifies a storefront receipt and creates the purchase
// it paid for. Retried submissions of the same transaction return the
// existing purchase instead of creating a duplicate.
func (l *Ledger) CreateFromReceipt(ctx context.Context, userID string, platform receipt.Platform, receiptBlob []byte) (*Purchase, error) {
	v, err := l.verifier.Verify(ctx, platform, receiptBlob)
	if err != nil {
		return nil, fmt.Errorf("verify receipt: %w", err)
	}
	if !v.Valid {
		return nil, ErrInvalidReceipt
	}

	product, ok := l.catalog[v.ProductID]
	if !ok {
		return nil, fmt.Errorf("receipt names unknown product %q", v.ProductID)
	}

	// Storefronts redeliver receipts; the transaction ID is the
	// idempotency key.
	existing, err := l.byTransaction(ctx, v.TransactionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	p := &Purchase{
		PurchaseID:     uuid.New().String(),
		UserID:         userID,
		AssessmentType: product.AssessmentType,
		AttemptsTotal:  product.Attempts,
		Status:         StatusActive,
		PurchasedAt:    time.Now().UTC(),
		Platform:       string(platform),
		TransactionID:  v.TransactionID,
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal purchase: %w", err)
	}
	if err := l.adapter.Put(ctx, store.CollectionPurchases, &store.Item{Key: p.PurchaseID, Data: data}); err != nil {
		return nil, fmt.Errorf("save purchase: %w", err)
	}

	l.log.Info("purchase created",
		zap.String("purchase_id", p.PurchaseID),
		zap.String("user_id", userID),
		zap.String("assessment_type", string(p.AssessmentType)),
		zap.Int("attempts", p.AttemptsTotal))

	return p, nil
}

// Purchases returns all purchases for a user, newest first.
func (l *Ledger) Purchases(ctx context.Context, userID string) ([]*Purchase, error) {
	items, err := l.adapter.Query(ctx, store.CollectionPurchases, nil)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}

	var out []*Purchase
	for _, item := range items {
		p := &Purchase{}
		if err := json.Unmarshal(item.Data, p); err != nil {
			return nil, fmt.Errorf("decode purchase %s: %w", item.Key, err)
		}
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PurchasedAt.After(out[j].PurchasedAt)
	})
	return out, nil
}

type purchaseRow struct {
	purchase *Purchase
	version  int64
}

// activePurchases loads the user's active purchases for a type along with
// their store versions, for CAS writes.
func (l *Ledger) activePurchases(ctx context.Context, userID string, typ assessment.Type) ([]*purchaseRow, error) {
	items, err := l.adapter.Query(ctx, store.CollectionPurchases, nil)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}

	var rows []*purchaseRow
	for _, item := range items {
		p := &Purchase{}
		if err := json.Unmarshal(item.Data, p); err != nil {
			return nil, fmt.Errorf("decode purchase %s: %w", item.Key, err)
		}
		if p.UserID == userID && p.AssessmentType == typ && p.Status == StatusActive {
			rows = append(rows, &purchaseRow{purchase: p, version: item.Version})
		}
	}
	return rows, nil
}

func (l *Ledger) getPurchase(ctx context.Context, purchaseID string) (*Purchase, int64, error) {
	item, err := l.adapter.Get(ctx, store.CollectionPurchases, purchaseID)
	if err != nil {
		return nil, 0, fmt.Errorf("get purchase %s: %w", purchaseID, err)
	}
	p := &Purchase{}
	if err := json.Unmarshal(item.Data, p); err != nil {
		return nil, 0, fmt.Errorf("decode purchase %s: %w", purchaseID, err)
	}
	return p, item.Version, nil
}

func (l *Ledger) casPurchase(ctx context.Context, p *Purchase, version int64) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal purchase: %w", err)
	}
	return l.adapter.CompareAndSwap(ctx, store.CollectionPurchases, p.PurchaseID, version, data)
}

func (l *Ledger) byTransaction(ctx context.Context, transactionID string) (*Purchase, error) {
	items, err := l.adapter.Query(ctx, store.CollectionPurchases, nil)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	for _, item := range items {
		p := &Purchase{}
		if err := json.Unmarshal(item.Data, p); err != nil {
			return nil, fmt.Errorf("decode purchase %s: %w", item.Key, err)
		}
		if p.TransactionID == transactionID {
			return p, nil
		}
	}
	return nil, nil
}
