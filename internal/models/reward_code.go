package models

import "time"

// CodeState is the lifecycle state of a reward code.
type CodeState string

const (
	CodeStateIssued   CodeState = "issued"
	CodeStateRedeemed CodeState = "redeemed"
)

// RewardCode is a single-use percentage discount issued against accumulated points.
// Only State and RedeemedAt ever change after issuance.
type RewardCode struct {
	Code            string     `json:"code"`
	OrderID         string     `json:"order_id"`
	Index           int        `json:"index"`
	State           CodeState  `json:"state"`
	Cost            int64      `json:"cost"`
	DiscountPercent int        `json:"discount_percent"`
	IssuedAt        time.Time  `json:"issued_at"`
	ValidUntil      time.Time  `json:"valid_until"`
	RedeemedAt      *time.Time `json:"redeemed_at,omitempty"`
}

// Redeemed reports whether the code has been used.
func (c RewardCode) Redeemed() bool {
	return c.State == CodeStateRedeemed
}

// Expired reports whether the code's validity window has passed at now.
func (c RewardCode) Expired(now time.Time) bool {
	return !c.ValidUntil.IsZero() && now.After(c.ValidUntil)
}

// IssuedCode is the view of a newly issued code returned to event callers.
type IssuedCode struct {
	Code       string    `json:"code"`
	IssuedAt   time.Time `json:"issued_at"`
	ValidUntil time.Time `json:"valid_until"`
}

// View returns the caller-facing projection of c.
func (c RewardCode) View() IssuedCode {
	return IssuedCode{Code: c.Code, IssuedAt: c.IssuedAt, ValidUntil: c.ValidUntil}
}

// CodeHistory is a customer's codes partitioned by state, each ordered by IssuedAt.
type CodeHistory struct {
	Issued   []RewardCode `json:"issued"`
	Redeemed []RewardCode `json:"redeemed"`
}
