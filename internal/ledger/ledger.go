// Package ledger credits and debits customer point balances.
//
// Every credit is journaled by order id in the customer's code document before the balance is
// written, so a replayed order is never credited twice and a crash between the two writes is
// repaired by Reconcile on the next call. The ledger does not lock; callers serialize per customer.
package ledger

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/account"
	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/pkg/metrics"
)

// EarnOutcome reports the result of Earn. Balance is the authoritative balance after the call,
// or the last balance read when the call failed after loading.
type EarnOutcome struct {
	Balance    int64
	Replayed   bool
	Reconciled bool
}

// Ledger applies credits and debits through the account store.
type Ledger struct {
	accounts *account.Store
	clock    func() time.Time
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a Ledger.
func New(accounts *account.Store, clock func() time.Time, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{accounts: accounts, clock: clock, metrics: m, logger: logger}
}

// Earn credits amount for orderID exactly once.
func (l *Ledger) Earn(ctx context.Context, customerID, orderID string, amount int64) (EarnOutcome, error) {
	if strings.TrimSpace(customerID) == "" {
		return EarnOutcome{}, errs.Validation("customer_id", "required")
	}
	if strings.TrimSpace(orderID) == "" {
		return EarnOutcome{}, errs.Validation("order_id", "required")
	}
	if amount < 0 {
		return EarnOutcome{}, errs.Validation("earned_amount", "must be a non-negative integer")
	}

	st, err := l.accounts.Load(ctx, customerID)
	if err != nil {
		return EarnOutcome{}, errs.Unavailable("ledger.load", err)
	}
	out := EarnOutcome{Balance: st.Balance}

	repaired, err := l.reconcile(ctx, st)
	if err != nil {
		return out, err
	}
	out.Reconciled = repaired
	out.Balance = st.Balance

	if st.Doc.HasOrder(orderID) {
		l.logger.Info("earn replayed, not credited",
			zap.String("customer_id", customerID),
			zap.String("order_id", orderID),
			zap.Int64("balance", st.Balance),
		)
		out.Replayed = true
		return out, nil
	}

	if amount > math.MaxInt64-st.Doc.TotalCredited() || amount > math.MaxInt64-st.Balance {
		return out, errs.Validation("earned_amount", "credit would overflow the balance")
	}

	st.Doc.Orders = append(st.Doc.Orders, models.OrderCredit{
		OrderID:    orderID,
		Amount:     amount,
		CreditedAt: l.clock().UTC(),
	})
	if err := l.accounts.SaveDocument(ctx, st); err != nil {
		return out, errs.Unavailable("ledger.journal", err)
	}
	if err := l.accounts.SaveBalance(ctx, st, st.Balance+amount); err != nil {
		return out, errs.Unavailable("ledger.credit", err)
	}

	l.logger.Info("points credited",
		zap.String("customer_id", customerID),
		zap.String("order_id", orderID),
		zap.Int64("amount", amount),
		zap.Int64("balance", st.Balance),
	)
	out.Balance = st.Balance
	return out, nil
}

// Spend debits cost. The caller must already know balance >= cost; a shortfall is a programming
// error reported as errs.ErrInsufficientBalance and nothing is written.
func (l *Ledger) Spend(ctx context.Context, customerID string, cost int64) (int64, error) {
	if cost < 0 {
		return 0, errs.Validation("cost", "must be non-negative")
	}
	st, err := l.accounts.Load(ctx, customerID)
	if err != nil {
		return 0, errs.Unavailable("ledger.load", err)
	}
	if st.Balance < cost {
		return st.Balance, errs.ErrInsufficientBalance.WithContext("customer_id", customerID, "balance", st.Balance, "cost", cost)
	}
	if err := l.accounts.SaveBalance(ctx, st, st.Balance-cost); err != nil {
		return st.Balance, errs.Unavailable("ledger.debit", err)
	}
	return st.Balance, nil
}

// Balance returns the stored balance (zero for an unknown customer).
func (l *Ledger) Balance(ctx context.Context, customerID string) (int64, error) {
	st, err := l.accounts.Load(ctx, customerID)
	if err != nil {
		return 0, errs.Unavailable("ledger.load", err)
	}
	return st.Balance, nil
}

// Reconcile rewrites the stored balance from the journal when the two disagree and reports
// whether a repair was made.
func (l *Ledger) Reconcile(ctx context.Context, customerID string) (int64, bool, error) {
	st, err := l.accounts.Load(ctx, customerID)
	if err != nil {
		return 0, false, errs.Unavailable("ledger.load", err)
	}
	repaired, err := l.reconcile(ctx, st)
	return st.Balance, repaired, err
}

// reconcile only acts on persisted documents: a synthesized one is derived from the stored
// balance and cannot disagree with it.
func (l *Ledger) reconcile(ctx context.Context, st *account.State) (bool, error) {
	if !st.DocPersisted {
		return false, nil
	}
	derived := st.Doc.DerivedBalance()
	if derived == st.Balance {
		return false, nil
	}
	l.logger.Warn("balance disagrees with journal, repairing",
		zap.String("customer_id", st.CustomerID),
		zap.Int64("stored", st.Balance),
		zap.Int64("derived", derived),
	)
	if err := l.accounts.SaveBalance(ctx, st, derived); err != nil {
		return false, errs.Unavailable("ledger.reconcile", err)
	}
	l.metrics.ObserveReconciliation()
	return true, nil
}
