package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/internal/recordstore"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *recordstore.Memory) {
	t.Helper()
	mem := recordstore.NewMemory()
	return NewStore(mem, func() time.Time { return fixedNow }, nil), mem
}

func TestLoad_NewCustomerIsEmpty(t *testing.T) {
	store, _ := newStore(t)

	st, err := store.Load(context.Background(), "c1")

	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Balance)
	assert.False(t, st.DocPersisted)
	assert.Empty(t, st.Doc.Codes)
	assert.Equal(t, models.CodeDocumentVersion, st.Doc.Version)
}

func TestLoad_AdoptsLegacyBalanceAndCodes(t *testing.T) {
	store, mem := newStore(t)
	mem.Put("c1", models.AttrBalance, "42")
	mem.Put("c1", models.AttrLegacyCode, "DOG-c1-o1\nDOG-c1-o2\n\nDOG-c1-o1\n")

	st, err := store.Load(context.Background(), "c1")

	require.NoError(t, err)
	assert.Equal(t, int64(42), st.Balance)
	assert.Equal(t, int64(42), st.Doc.OpeningBalance)
	require.Len(t, st.Doc.Codes, 2)
	assert.Equal(t, "DOG-c1-o2", st.Doc.Codes[1].Code)
	assert.Equal(t, int64(0), st.Doc.Codes[0].Cost)
	assert.Equal(t, int64(42), st.Doc.DerivedBalance())
}

func TestSaveDocumentRoundTrip(t *testing.T) {
	store, mem := newStore(t)
	ctx := context.Background()

	st, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	st.Doc.Orders = append(st.Doc.Orders, models.OrderCredit{OrderID: "o1", Amount: 130, CreditedAt: fixedNow})
	require.NoError(t, store.SaveDocument(ctx, st))
	require.NoError(t, store.SaveBalance(ctx, st, 130))

	raw, ok := mem.Value("c1", models.AttrCodes)
	require.True(t, ok)
	assert.Contains(t, raw, `"version":1`)
	bal, _ := mem.Value("c1", models.AttrBalance)
	assert.Equal(t, "130", bal)

	again, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, again.DocPersisted)
	assert.True(t, again.Doc.HasOrder("o1"))
	assert.Equal(t, int64(130), again.Balance)
}

func TestSaveBalance_RejectsNegative(t *testing.T) {
	store, _ := newStore(t)
	st, err := store.Load(context.Background(), "c1")
	require.NoError(t, err)

	assert.Error(t, store.SaveBalance(context.Background(), st, -1))
}

func TestDecodeBalance(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{" 130 ", 130, false},
		{"12.5", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DecodeBalance(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeDocument_RejectsFutureVersion(t *testing.T) {
	_, err := DecodeDocument(`{"version":2,"codes":[]}`)
	assert.Error(t, err)

	doc, err := DecodeDocument(`{"codes":null}`)
	require.NoError(t, err)
	assert.Equal(t, models.CodeDocumentVersion, doc.Version)
	assert.NotNil(t, doc.Codes)
}
