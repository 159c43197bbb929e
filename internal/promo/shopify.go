package promo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/shopify"
	"github.com/dogdollars/loyalty/pkg/retry"
)

type discountCode struct {
	ID                     int64  `json:"id,omitempty"`
	Code                   string `json:"code"`
	UsageLimit             int    `json:"usage_limit,omitempty"`
	AppliesOncePerCustomer bool   `json:"applies_once_per_customer,omitempty"`
	StartsAt               string `json:"starts_at,omitempty"`
	EndsAt                 string `json:"ends_at,omitempty"`
	CustomerSelection      string `json:"customer_selection,omitempty"`
	ValueType              string `json:"value_type,omitempty"`
	Value                  string `json:"value,omitempty"`
}

type discountCodeEnvelope struct {
	DiscountCode discountCode `json:"discount_code"`
}

// Shopify creates codes under a pre-configured percentage price rule.
type Shopify struct {
	api         *shopify.Client
	priceRuleID string
	logger      *zap.Logger
}

// NewShopify creates a price-rule-backed Engine.
func NewShopify(api *shopify.Client, priceRuleID string, logger *zap.Logger) *Shopify {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shopify{api: api, priceRuleID: priceRuleID, logger: logger}
}

// CreateCode implements Engine. A "code already taken" rejection means an earlier attempt
// for the same code landed, so it is reported as success.
func (s *Shopify) CreateCode(ctx context.Context, req CodeRequest) (string, error) {
	body := discountCodeEnvelope{DiscountCode: discountCode{
		Code:                   req.Code,
		UsageLimit:             1,
		AppliesOncePerCustomer: true,
		StartsAt:               req.StartsAt.UTC().Format(time.RFC3339),
		EndsAt:                 req.EndsAt.UTC().Format(time.RFC3339),
		CustomerSelection:      "all",
		ValueType:              "percentage",
		Value:                  req.DiscountPercent.StringFixed(1),
	}}
	headers := map[string]string{"Idempotency-Key": req.Code}
	path := fmt.Sprintf("/price_rules/%s/discount_codes.json", s.priceRuleID)

	var out discountCodeEnvelope
	err := s.api.Do(ctx, http.MethodPost, path, headers, body, &out)
	if err == nil {
		s.logger.Debug("discount code created", zap.String("code", req.Code), zap.Int64("id", out.DiscountCode.ID))
		return req.Code, nil
	}

	var se *shopify.StatusError
	if !errors.As(err, &se) {
		return "", err
	}
	if se.Status == http.StatusUnprocessableEntity && alreadyExists(se.Body) {
		s.logger.Info("discount code already exists", zap.String("code", req.Code))
		return req.Code, nil
	}
	if se.Transient() {
		return "", err
	}
	return "", retry.Permanent(err)
}

func alreadyExists(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "already been taken") || strings.Contains(b, "must be unique")
}
