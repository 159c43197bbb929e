package models

import "time"

// Attribute keys under the loyalty namespace.
const (
	AttrNamespace  = "loyalty"
	AttrBalance    = "dog_dollars"
	AttrCodes      = "reward_codes"
	AttrLegacyCode = "last_discount_code"
)

// CodeDocumentVersion is the schema version written by this service.
const CodeDocumentVersion = 1

// OrderCredit is a journal entry recording that an order's points were credited.
type OrderCredit struct {
	OrderID    string    `json:"order_id"`
	Amount     int64     `json:"amount"`
	CreditedAt time.Time `json:"credited_at"`
}

// CodeDocument is the single persisted source of truth for a customer's credits and codes.
// It is stored whole under the reward_codes attribute.
type CodeDocument struct {
	Version        int           `json:"version"`
	OpeningBalance int64         `json:"opening_balance"`
	Orders         []OrderCredit `json:"orders"`
	Codes          []RewardCode  `json:"codes"`
}

// NewCodeDocument returns an empty document at the current schema version.
func NewCodeDocument(openingBalance int64) *CodeDocument {
	return &CodeDocument{
		Version:        CodeDocumentVersion,
		OpeningBalance: openingBalance,
		Orders:         []OrderCredit{},
		Codes:          []RewardCode{},
	}
}

// HasOrder reports whether orderID has already been credited.
func (d *CodeDocument) HasOrder(orderID string) bool {
	for _, o := range d.Orders {
		if o.OrderID == orderID {
			return true
		}
	}
	return false
}

// FindCode returns the index of code in Codes, or -1.
func (d *CodeDocument) FindCode(code string) int {
	for i := range d.Codes {
		if d.Codes[i].Code == code {
			return i
		}
	}
	return -1
}

// CodesForOrder counts codes issued under orderID.
func (d *CodeDocument) CodesForOrder(orderID string) int {
	n := 0
	for _, c := range d.Codes {
		if c.OrderID == orderID {
			n++
		}
	}
	return n
}

// TotalCredited is the opening balance plus every journaled credit.
func (d *CodeDocument) TotalCredited() int64 {
	total := d.OpeningBalance
	for _, o := range d.Orders {
		total += o.Amount
	}
	return total
}

// DerivedBalance is the balance implied by the journal: credits minus what issued codes cost.
func (d *CodeDocument) DerivedBalance() int64 {
	b := d.TotalCredited()
	for _, c := range d.Codes {
		b -= c.Cost
	}
	if b < 0 {
		return 0
	}
	return b
}
