// Package registry tracks every issued reward code and its single Issued -> Redeemed transition.
// Entries are appended, never removed.
package registry

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/account"
	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/internal/models"
)

// RedeemOutcome reports what MarkRedeemed did.
type RedeemOutcome struct {
	Code            models.RewardCode
	AlreadyRedeemed bool
}

// Registry reads and appends codes in the customer's code document.
type Registry struct {
	accounts *account.Store
	clock    func() time.Time
	logger   *zap.Logger
}

// New creates a Registry.
func New(accounts *account.Store, clock func() time.Time, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Registry{accounts: accounts, clock: clock, logger: logger}
}

// Record appends code as Issued. Recording a code that is already present is a no-op,
// whatever its state, so a retried issuance index cannot resurrect a redeemed code.
func (r *Registry) Record(ctx context.Context, customerID string, code models.RewardCode) error {
	if strings.TrimSpace(code.Code) == "" {
		return errs.Validation("code", "required")
	}
	st, err := r.accounts.Load(ctx, customerID)
	if err != nil {
		return errs.Unavailable("registry.load", err)
	}
	if st.Doc.FindCode(code.Code) >= 0 {
		r.logger.Debug("code already recorded", zap.String("customer_id", customerID), zap.String("code", code.Code))
		return nil
	}

	code.State = models.CodeStateIssued
	code.RedeemedAt = nil
	st.Doc.Codes = append(st.Doc.Codes, code)
	if err := r.accounts.SaveDocument(ctx, st); err != nil {
		return errs.Unavailable("registry.record", err)
	}
	r.logger.Info("reward code recorded",
		zap.String("customer_id", customerID),
		zap.String("code", code.Code),
		zap.Time("valid_until", code.ValidUntil),
	)
	return nil
}

// MarkRedeemed moves code to Redeemed. An unknown code is errs.ErrNotFound; an already
// redeemed code succeeds with AlreadyRedeemed set and nothing written.
func (r *Registry) MarkRedeemed(ctx context.Context, customerID, code string) (RedeemOutcome, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return RedeemOutcome{}, errs.Validation("code", "required")
	}
	st, err := r.accounts.Load(ctx, customerID)
	if err != nil {
		return RedeemOutcome{}, errs.Unavailable("registry.load", err)
	}
	idx := st.Doc.FindCode(code)
	if idx < 0 {
		return RedeemOutcome{}, errs.ErrNotFound.WithContext("customer_id", customerID, "code", code)
	}
	entry := &st.Doc.Codes[idx]
	if entry.Redeemed() {
		return RedeemOutcome{Code: *entry, AlreadyRedeemed: true}, nil
	}

	now := r.clock().UTC()
	entry.State = models.CodeStateRedeemed
	entry.RedeemedAt = &now
	if err := r.accounts.SaveDocument(ctx, st); err != nil {
		return RedeemOutcome{}, errs.Unavailable("registry.redeem", err)
	}
	r.logger.Info("reward code redeemed", zap.String("customer_id", customerID), zap.String("code", code))
	return RedeemOutcome{Code: *entry}, nil
}

// Query returns the customer's codes partitioned by state, each ordered by IssuedAt.
func (r *Registry) Query(ctx context.Context, customerID string) (models.CodeHistory, error) {
	st, err := r.accounts.Load(ctx, customerID)
	if err != nil {
		return models.CodeHistory{}, errs.Unavailable("registry.load", err)
	}
	history := models.CodeHistory{Issued: []models.RewardCode{}, Redeemed: []models.RewardCode{}}
	for _, c := range st.Doc.Codes {
		if c.Redeemed() {
			history.Redeemed = append(history.Redeemed, c)
		} else {
			history.Issued = append(history.Issued, c)
		}
	}
	byIssuedAt := func(list []models.RewardCode) func(i, j int) bool {
		return func(i, j int) bool { return list[i].IssuedAt.Before(list[j].IssuedAt) }
	}
	sort.SliceStable(history.Issued, byIssuedAt(history.Issued))
	sort.SliceStable(history.Redeemed, byIssuedAt(history.Redeemed))
	return history, nil
}

// IssuedForOrder counts codes already recorded under orderID; it is the next free sequence index.
func (r *Registry) IssuedForOrder(ctx context.Context, customerID, orderID string) (int, error) {
	st, err := r.accounts.Load(ctx, customerID)
	if err != nil {
		return 0, errs.Unavailable("registry.load", err)
	}
	return st.Doc.CodesForOrder(orderID), nil
}
