package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogdollars/loyalty/internal/account"
	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/internal/recordstore"
)

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, *recordstore.Memory) {
	t.Helper()
	mem := recordstore.NewMemory()
	clock := func() time.Time { return base.Add(time.Hour) }
	return New(account.NewStore(mem, clock, nil), clock, nil), mem
}

func code(name, order string, index int, issuedAt time.Time) models.RewardCode {
	return models.RewardCode{
		Code:            name,
		OrderID:         order,
		Index:           index,
		Cost:            125,
		DiscountPercent: 10,
		IssuedAt:        issuedAt,
		ValidUntil:      issuedAt.AddDate(0, 0, 30),
	}
}

func TestRecord_IsIdempotent(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Record(ctx, "c1", code("DOG-c1-o1-0", "o1", 0, base)))
	require.NoError(t, reg.Record(ctx, "c1", code("DOG-c1-o1-0", "o1", 0, base)))

	history, err := reg.Query(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, history.Issued, 1)

	n, err := reg.IssuedForOrder(ctx, "c1", "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecord_DoesNotResurrectRedeemedCode(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Record(ctx, "c1", code("A", "o1", 0, base)))
	_, err := reg.MarkRedeemed(ctx, "c1", "A")
	require.NoError(t, err)

	require.NoError(t, reg.Record(ctx, "c1", code("A", "o1", 0, base)))

	history, err := reg.Query(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, history.Issued)
	assert.Len(t, history.Redeemed, 1)
}

func TestMarkRedeemed_TwiceTransitionsOnce(t *testing.T) {
	reg, mem := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Record(ctx, "c1", code("A", "o1", 0, base)))

	writes := 0
	mem.SetSetHook(func(string, string, string) error {
		writes++
		return nil
	})

	first, err := reg.MarkRedeemed(ctx, "c1", "A")
	require.NoError(t, err)
	assert.False(t, first.AlreadyRedeemed)
	require.NotNil(t, first.Code.RedeemedAt)
	assert.Equal(t, base.Add(time.Hour), *first.Code.RedeemedAt)

	second, err := reg.MarkRedeemed(ctx, "c1", "A")
	require.NoError(t, err)
	assert.True(t, second.AlreadyRedeemed)
	assert.Equal(t, 1, writes)
}

func TestMarkRedeemed_UnknownCodeIsNotFound(t *testing.T) {
	reg, mem := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Record(ctx, "c1", code("A", "o1", 0, base)))
	before, _ := mem.Value("c1", models.AttrCodes)

	_, err := reg.MarkRedeemed(ctx, "c1", "UNKNOWN")

	assert.True(t, errors.Is(err, errs.ErrNotFound))
	after, _ := mem.Value("c1", models.AttrCodes)
	assert.Equal(t, before, after)
}

func TestMarkRedeemed_CodeOfAnotherCustomerIsNotFound(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Record(ctx, "c1", code("A", "o1", 0, base)))

	_, err := reg.MarkRedeemed(ctx, "c2", "A")

	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestMarkRedeemed_EmptyCodeIsValidationError(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := reg.MarkRedeemed(context.Background(), "c1", "  ")

	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestQuery_PartitionsAndOrdersByIssuedAt(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Record(ctx, "c1", code("late", "o2", 0, base.Add(2*time.Hour))))
	require.NoError(t, reg.Record(ctx, "c1", code("early", "o1", 0, base)))
	require.NoError(t, reg.Record(ctx, "c1", code("mid", "o1", 1, base.Add(time.Hour))))
	_, err := reg.MarkRedeemed(ctx, "c1", "mid")
	require.NoError(t, err)

	history, err := reg.Query(ctx, "c1")

	require.NoError(t, err)
	require.Len(t, history.Issued, 2)
	assert.Equal(t, "early", history.Issued[0].Code)
	assert.Equal(t, "late", history.Issued[1].Code)
	require.Len(t, history.Redeemed, 1)
	assert.Equal(t, "mid", history.Redeemed[0].Code)
}
