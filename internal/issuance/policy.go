// Package issuance converts accumulated points into reward codes.
//
// A batch runs Idle -> Computing -> Issuing -> Done, or stops in PartialFailure. Each code is
// created in the promo engine, recorded, and only then paid for, so a crash mid-batch leaves at most
// a recorded code whose cost the ledger's reconcile step collects.
package issuance

import (
	"context"
	"encoding/base32"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/internal/promo"
)

// State of an issuance batch.
type State string

const (
	StateIdle           State = "idle"
	StateComputing      State = "computing"
	StateIssuing        State = "issuing"
	StateDone           State = "done"
	StatePartialFailure State = "partial_failure"
)

// Config holds the reward rules.
type Config struct {
	Cost            int64
	DiscountPercent int
	Validity        time.Duration
}

// DefaultConfig is 125 points for a 10% code valid 30 days.
func DefaultConfig() Config {
	return Config{Cost: 125, DiscountPercent: 10, Validity: 30 * 24 * time.Hour}
}

// Recorder persists issued codes.
type Recorder interface {
	Record(ctx context.Context, customerID string, code models.RewardCode) error
	IssuedForOrder(ctx context.Context, customerID, orderID string) (int, error)
}

// Spender debits the cost of an issued code and returns the new balance.
type Spender interface {
	Spend(ctx context.Context, customerID string, cost int64) (int64, error)
}

// Batch is the result of one Issue call. Issued lists every code recorded by this call.
type Batch struct {
	State   State
	Planned int
	Issued  []models.RewardCode
	Balance int64
	Err     error
}

// Policy issues codes against a balance.
type Policy struct {
	cfg      Config
	engine   promo.Engine
	recorder Recorder
	spender  Spender
	clock    func() time.Time
	logger   *zap.Logger
}

// New creates a Policy. Zero config fields take their defaults.
func New(cfg Config, engine promo.Engine, recorder Recorder, spender Spender, clock func() time.Time, logger *zap.Logger) *Policy {
	def := DefaultConfig()
	if cfg.Cost <= 0 {
		cfg.Cost = def.Cost
	}
	if cfg.DiscountPercent <= 0 {
		cfg.DiscountPercent = def.DiscountPercent
	}
	if cfg.Validity <= 0 {
		cfg.Validity = def.Validity
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{cfg: cfg, engine: engine, recorder: recorder, spender: spender, clock: clock, logger: logger}
}

// Config returns the effective rules.
func (p *Policy) Config() Config {
	return p.cfg
}

// Entitlement is the number of codes balance pays for.
func (p *Policy) Entitlement(balance int64) int {
	if balance < p.cfg.Cost {
		return 0
	}
	return int(balance / p.cfg.Cost)
}

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// CodeFor derives the code for the index-th reward of an order. Readable ids are embedded
// directly; anything else is hashed so the code stays URL and storefront safe.
func CodeFor(customerID, orderID string, index int) string {
	if alphanumeric(customerID) && alphanumeric(orderID) {
		return fmt.Sprintf("DOG-%s-%s-%d", customerID, orderID, index)
	}
	sum := blake3.Sum256([]byte(customerID + "\x00" + orderID + "\x00" + strconv.Itoa(index)))
	return "DOG-X" + codeEncoding.EncodeToString(sum[:])[:20]
}

func alphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// Issue issues every code balance entitles the customer to under orderID. Indices continue after
// the codes already recorded for the order. The returned error is nil only in StateDone.
func (p *Policy) Issue(ctx context.Context, customerID, orderID string, balance int64) (*Batch, error) {
	b := &Batch{State: StateComputing, Balance: balance, Issued: []models.RewardCode{}}
	b.Planned = p.Entitlement(balance)
	if b.Planned == 0 {
		b.State = StateDone
		return b, nil
	}

	start, err := p.recorder.IssuedForOrder(ctx, customerID, orderID)
	if err != nil {
		return p.stop(b, customerID, errs.Unavailable("issuance.start_index", err))
	}

	b.State = StateIssuing
	for i := 0; i < b.Planned; i++ {
		if err := ctx.Err(); err != nil {
			return p.stop(b, customerID, errs.ErrPartialFailure.WithContext("issued", len(b.Issued), "planned", b.Planned).Wrap(err))
		}

		now := p.clock().UTC().Truncate(time.Second)
		code := models.RewardCode{
			Code:            CodeFor(customerID, orderID, start+i),
			OrderID:         orderID,
			Index:           start + i,
			State:           models.CodeStateIssued,
			Cost:            p.cfg.Cost,
			DiscountPercent: p.cfg.DiscountPercent,
			IssuedAt:        now,
			ValidUntil:      now.Add(p.cfg.Validity),
		}

		if _, err := p.engine.CreateCode(ctx, promo.CodeRequest{
			Code:            code.Code,
			CustomerID:      customerID,
			OrderID:         orderID,
			Index:           code.Index,
			DiscountPercent: decimal.NewFromInt(int64(p.cfg.DiscountPercent)),
			StartsAt:        code.IssuedAt,
			EndsAt:          code.ValidUntil,
		}); err != nil {
			return p.stop(b, customerID, errs.ErrPartialFailure.WithContext("code", code.Code, "issued", len(b.Issued), "planned", b.Planned).Wrap(err))
		}

		if err := p.recorder.Record(ctx, customerID, code); err != nil {
			return p.stop(b, customerID, errs.Unavailable("issuance.record", err))
		}
		b.Issued = append(b.Issued, code)

		bal, err := p.spender.Spend(ctx, customerID, p.cfg.Cost)
		if err != nil {
			return p.stop(b, customerID, errs.Unavailable("issuance.spend", err))
		}
		b.Balance = bal

		p.logger.Info("reward code issued",
			zap.String("customer_id", customerID),
			zap.String("order_id", orderID),
			zap.String("code", code.Code),
			zap.Int64("balance", bal),
		)
	}

	b.State = StateDone
	return b, nil
}

func (p *Policy) stop(b *Batch, customerID string, err error) (*Batch, error) {
	b.State = StatePartialFailure
	b.Err = err
	p.logger.Warn("reward issuance stopped",
		zap.String("customer_id", customerID),
		zap.Int("issued", len(b.Issued)),
		zap.Int("planned", b.Planned),
		zap.Int64("balance", b.Balance),
		zap.Error(err),
	)
	return b, err
}
