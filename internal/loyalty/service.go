// Package loyalty wires the ledger, issuance policy and code registry into the earn and redeem
// flows, serializing every mutation per customer.
package loyalty

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/internal/issuance"
	"github.com/dogdollars/loyalty/internal/ledger"
	"github.com/dogdollars/loyalty/internal/lock"
	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/internal/registry"
	"github.com/dogdollars/loyalty/internal/shopify"
	"github.com/dogdollars/loyalty/pkg/metrics"
)

// Service is the orchestrator behind the HTTP handlers and the queue worker.
type Service struct {
	locker   lock.Locker
	ledger   *ledger.Ledger
	registry *registry.Registry
	policy   *issuance.Policy
	metrics  *metrics.Metrics
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService creates the orchestrator.
func NewService(locker lock.Locker, l *ledger.Ledger, reg *registry.Registry, policy *issuance.Policy, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		locker:   locker,
		ledger:   l,
		registry: reg,
		policy:   policy,
		metrics:  m,
		clock:    time.Now,
		logger:   logger,
	}
}

// SetClock overrides the time source used for expiry checks.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

func normalizeID(id string) string {
	return shopify.NumericID(strings.TrimSpace(id))
}

// acquire locks customerID. Mutations must run under the returned context so that a lost lease
// stops them.
func (s *Service) acquire(ctx context.Context, customerID string) (context.Context, func(), error) {
	held, release, err := s.locker.Acquire(ctx, "customer:"+customerID)
	if err != nil {
		s.metrics.ObserveExternalFailure("lock")
		return nil, nil, errs.ErrStoreUnavailable.WithContext("op", "lock", "customer_id", customerID).Wrap(err)
	}
	return held, release, nil
}

// OnEarn credits the order once and issues every code the resulting balance pays for. A replayed
// order is not credited again but still resumes an interrupted batch.
func (s *Service) OnEarn(ctx context.Context, req models.EarnRequest) (models.EarnResponse, error) {
	resp := models.EarnResponse{NewCodes: []models.IssuedCode{}}
	customerID := normalizeID(req.CustomerID)
	orderID := normalizeID(req.OrderID)

	if err := validateEarn(customerID, orderID, req.EarnedAmount); err != nil {
		s.metrics.ObserveEarn("rejected", 0)
		resp.Error = err.Error()
		return resp, err
	}
	amount := *req.EarnedAmount

	ctx, release, err := s.acquire(ctx, customerID)
	if err != nil {
		s.metrics.ObserveEarn("failed", 0)
		resp.Error = err.Error()
		return resp, err
	}
	defer release()

	earned, err := s.ledger.Earn(ctx, customerID, orderID, amount)
	resp.Balance = earned.Balance
	if err != nil {
		s.metrics.ObserveEarn("failed", 0)
		s.logger.Error("earn failed", zap.String("customer_id", customerID), zap.String("order_id", orderID), zap.Error(err))
		resp.Error = err.Error()
		return resp, err
	}
	resp.Replayed = earned.Replayed
	if earned.Replayed {
		s.metrics.ObserveEarn("replayed", 0)
	} else {
		s.metrics.ObserveEarn("credited", amount)
	}

	batch, err := s.policy.Issue(ctx, customerID, orderID, earned.Balance)
	for _, c := range batch.Issued {
		resp.NewCodes = append(resp.NewCodes, c.View())
	}
	resp.Balance = batch.Balance
	s.metrics.ObserveCodesIssued(len(batch.Issued))
	if err != nil {
		s.metrics.ObservePartialFailure()
		resp.PartialFailure = true
		resp.Error = err.Error()
		return resp, err
	}

	resp.Success = true
	s.logger.Info("earn processed",
		zap.String("customer_id", customerID),
		zap.String("order_id", orderID),
		zap.Int64("amount", amount),
		zap.Bool("replayed", earned.Replayed),
		zap.Int("new_codes", len(resp.NewCodes)),
		zap.Int64("balance", resp.Balance),
	)
	return resp, nil
}

func validateEarn(customerID, orderID string, amount *int64) error {
	switch {
	case customerID == "":
		return errs.Validation("customer_id", "required")
	case orderID == "":
		return errs.Validation("order_id", "required")
	case amount == nil:
		return errs.Validation("earned_amount", "required")
	case *amount < 0:
		return errs.Validation("earned_amount", "must be a non-negative integer")
	}
	return nil
}

// OnRedeem marks code as used. Unknown codes are errs.ErrNotFound; a repeated notification for
// the same code succeeds without a second transition.
func (s *Service) OnRedeem(ctx context.Context, req models.RedeemRequest) (models.RedeemResponse, error) {
	var resp models.RedeemResponse
	customerID := normalizeID(req.CustomerID)
	code := strings.TrimSpace(req.Code)
	if customerID == "" {
		err := errs.Validation("customer_id", "required")
		resp.Error = err.Error()
		return resp, err
	}
	if code == "" {
		err := errs.Validation("code", "required")
		resp.Error = err.Error()
		return resp, err
	}

	ctx, release, err := s.acquire(ctx, customerID)
	if err != nil {
		s.metrics.ObserveRedemption("failed")
		resp.Error = err.Error()
		return resp, err
	}
	defer release()

	balance, err := s.ledger.Balance(ctx, customerID)
	if err != nil {
		s.metrics.ObserveRedemption("failed")
		resp.Error = err.Error()
		return resp, err
	}
	resp.Balance = balance

	outcome, err := s.registry.MarkRedeemed(ctx, customerID, code)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.metrics.ObserveRedemption("not_found")
			resp.Error = "reward code not found"
		} else {
			s.metrics.ObserveRedemption("failed")
			resp.Error = err.Error()
		}
		return resp, err
	}

	resp.Success = true
	switch {
	case outcome.AlreadyRedeemed:
		s.metrics.ObserveRedemption("already_redeemed")
		resp.Message = "code already redeemed"
	case outcome.Code.Expired(s.clock()):
		s.metrics.ObserveRedemption("redeemed")
		resp.Message = "code redeemed after its validity window"
		s.logger.Warn("expired code redeemed", zap.String("customer_id", customerID), zap.String("code", code), zap.Time("valid_until", outcome.Code.ValidUntil))
	default:
		s.metrics.ObserveRedemption("redeemed")
		resp.Message = "code redeemed"
	}
	return resp, nil
}

// History returns the balance and codes of one customer. It takes no lock.
func (s *Service) History(ctx context.Context, customerID string) (models.CustomerSummary, error) {
	customerID = normalizeID(customerID)
	if customerID == "" {
		return models.CustomerSummary{}, errs.Validation("customer_id", "required")
	}
	balance, err := s.ledger.Balance(ctx, customerID)
	if err != nil {
		return models.CustomerSummary{}, err
	}
	codes, err := s.registry.Query(ctx, customerID)
	if err != nil {
		return models.CustomerSummary{}, err
	}
	return models.CustomerSummary{CustomerID: customerID, Balance: balance, Codes: codes}, nil
}

// GenerateCode serves the storefront's original endpoint on top of OnEarn. A missing dog_dollars
// field credits nothing.
func (s *Service) GenerateCode(ctx context.Context, req models.GenerateCodeRequest) (models.GenerateCodeResponse, error) {
	amount := int64(0)
	if v := req.DogDollars.Int64Ptr(); v != nil {
		amount = *v
	}
	earned, err := s.OnEarn(ctx, models.EarnRequest{
		CustomerID:   req.CustomerID.String(),
		OrderID:      req.OrderID.String(),
		EarnedAmount: &amount,
	})
	resp := models.GenerateCodeResponse{
		Success:        earned.Success,
		DogDollars:     earned.Balance,
		Codes:          []string{},
		NewCodes:       earned.NewCodes,
		PartialFailure: earned.PartialFailure,
		Error:          earned.Error,
	}
	if errs.CodeOf(err) == errs.CodeValidation {
		return resp, err
	}

	summary, herr := s.History(ctx, req.CustomerID.String())
	if herr != nil {
		s.logger.Warn("code list unavailable after earn", zap.String("customer_id", req.CustomerID.String()), zap.Error(herr))
	} else {
		for _, c := range summary.Codes.Issued {
			resp.Codes = append(resp.Codes, c.Code)
		}
		for _, c := range summary.Codes.Redeemed {
			resp.Codes = append(resp.Codes, c.Code)
		}
	}
	return resp, err
}
