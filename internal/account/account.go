// Package account loads and saves a customer's persisted loyalty state: the dog_dollars balance
// and the reward_codes document. It performs no locking; callers serialize per customer.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/internal/recordstore"
)

// State is one snapshot of a customer's attributes plus the version tokens needed to write them back.
type State struct {
	CustomerID     string
	Balance        int64
	BalanceVersion string
	Doc            *models.CodeDocument
	DocVersion     string
	// DocPersisted is false when Doc was synthesized on load and has never been written.
	DocPersisted bool
}

// Store reads and writes State through a record store client.
type Store struct {
	records recordstore.Client
	clock   func() time.Time
	logger  *zap.Logger
}

// NewStore creates an account store.
func NewStore(records recordstore.Client, clock func() time.Time, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{records: records, clock: clock, logger: logger}
}

// Load reads the customer's attributes. A customer with no document gets a fresh one whose opening
// balance adopts any pre-existing dog_dollars value and whose codes adopt legacy newline-delimited codes.
func (s *Store) Load(ctx context.Context, customerID string) (*State, error) {
	attrs, err := s.records.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}

	st := &State{CustomerID: customerID}
	if a, ok := attrs[models.AttrBalance]; ok {
		bal, err := DecodeBalance(a.Value)
		if err != nil {
			return nil, fmt.Errorf("customer %s: %w", customerID, err)
		}
		st.Balance = bal
		st.BalanceVersion = a.Version
	}

	if a, ok := attrs[models.AttrCodes]; ok && strings.TrimSpace(a.Value) != "" {
		doc, err := DecodeDocument(a.Value)
		if err != nil {
			return nil, fmt.Errorf("customer %s: %w", customerID, err)
		}
		st.Doc = doc
		st.DocVersion = a.Version
		st.DocPersisted = true
		return st, nil
	}

	st.Doc = models.NewCodeDocument(st.Balance)
	if a, ok := attrs[models.AttrLegacyCode]; ok {
		legacy := legacyCodes(a.Value, s.clock().UTC())
		if len(legacy) > 0 {
			st.Doc.Codes = append(st.Doc.Codes, legacy...)
			s.logger.Info("adopting legacy reward codes", zap.String("customer_id", customerID), zap.Int("count", len(legacy)))
		}
	}
	return st, nil
}

// SaveBalance writes balance and updates st on success.
func (s *Store) SaveBalance(ctx context.Context, st *State, balance int64) error {
	if balance < 0 {
		return fmt.Errorf("refusing to write negative balance %d for customer %s", balance, st.CustomerID)
	}
	version, err := s.records.Set(ctx, st.CustomerID, models.AttrBalance, EncodeBalance(balance), st.BalanceVersion)
	if err != nil {
		return err
	}
	st.Balance = balance
	st.BalanceVersion = version
	return nil
}

// SaveDocument writes st.Doc as a whole and updates st's version on success.
func (s *Store) SaveDocument(ctx context.Context, st *State) error {
	raw, err := EncodeDocument(st.Doc)
	if err != nil {
		return err
	}
	version, err := s.records.Set(ctx, st.CustomerID, models.AttrCodes, raw, st.DocVersion)
	if err != nil {
		return err
	}
	st.DocVersion = version
	st.DocPersisted = true
	return nil
}

// EncodeBalance renders a balance as decimal text.
func EncodeBalance(balance int64) string {
	return strconv.FormatInt(balance, 10)
}

// DecodeBalance parses decimal text; empty text is zero.
func DecodeBalance(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode %s %q: %w", models.AttrBalance, value, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("decode %s: negative balance %d", models.AttrBalance, n)
	}
	return n, nil
}

// EncodeDocument serializes doc, stamping the current schema version.
func EncodeDocument(doc *models.CodeDocument) (string, error) {
	doc.Version = models.CodeDocumentVersion
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", models.AttrCodes, err)
	}
	return string(raw), nil
}

// DecodeDocument parses a stored document. Documents written by a newer schema are rejected
// rather than silently truncated on the next write.
func DecodeDocument(value string) (*models.CodeDocument, error) {
	var doc models.CodeDocument
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", models.AttrCodes, err)
	}
	if doc.Version > models.CodeDocumentVersion {
		return nil, fmt.Errorf("decode %s: unsupported version %d", models.AttrCodes, doc.Version)
	}
	if doc.Version == 0 {
		doc.Version = models.CodeDocumentVersion
	}
	if doc.Orders == nil {
		doc.Orders = []models.OrderCredit{}
	}
	if doc.Codes == nil {
		doc.Codes = []models.RewardCode{}
	}
	return &doc, nil
}

// legacyCodes converts the old newline-delimited code list into issued entries. Their points were
// already deducted from the adopted opening balance, so they carry no cost.
func legacyCodes(value string, now time.Time) []models.RewardCode {
	var out []models.RewardCode
	seen := make(map[string]bool)
	for _, line := range strings.Split(value, "\n") {
		code := strings.TrimSpace(line)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, models.RewardCode{
			Code:     code,
			OrderID:  "legacy",
			Index:    len(out),
			State:    models.CodeStateIssued,
			IssuedAt: now,
		})
	}
	return out
}
