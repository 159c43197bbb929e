package models

// EarnRequest is the inbound "points earned" event.
type EarnRequest struct {
	CustomerID   string `json:"customer_id" binding:"required"`
	OrderID      string `json:"order_id" binding:"required"`
	EarnedAmount *int64 `json:"earned_amount" binding:"required"`
}

// EarnResponse reports the outcome of an earn event. NewCodes lists only codes issued by this call.
type EarnResponse struct {
	Success        bool         `json:"success"`
	Balance        int64        `json:"balance"`
	NewCodes       []IssuedCode `json:"new_codes"`
	Replayed       bool         `json:"replayed,omitempty"`
	PartialFailure bool         `json:"partial_failure,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// RedeemRequest is the inbound "code redeemed" event.
type RedeemRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	Code       string `json:"code" binding:"required"`
}

// RedeemResponse reports the outcome of a redeem event.
type RedeemResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Balance int64  `json:"balance"`
	Error   string `json:"error,omitempty"`
}

// CustomerSummary is the read-only view served to admins.
type CustomerSummary struct {
	CustomerID string      `json:"customer_id"`
	Balance    int64       `json:"balance"`
	Codes      CodeHistory `json:"codes"`
}

// GenerateCodeRequest is the storefront's original combined call: credit dog_dollars for an order and
// issue whatever codes the balance pays for. Ids may be numeric or Shopify GIDs, and dog_dollars
// may arrive as a numeric string.
type GenerateCodeRequest struct {
	CustomerID FlexibleID   `json:"customer_id" binding:"required"`
	OrderID    FlexibleID   `json:"order_id" binding:"required"`
	DogDollars *FlexibleInt `json:"dog_dollars"`
}

// GenerateCodeResponse keeps the original field names. Codes lists every code the customer holds.
type GenerateCodeResponse struct {
	Success        bool         `json:"success"`
	DogDollars     int64        `json:"dog_dollars"`
	Codes          []string     `json:"codes"`
	NewCodes       []IssuedCode `json:"new_codes"`
	PartialFailure bool         `json:"partial_failure,omitempty"`
	Error          string       `json:"error,omitempty"`
}
