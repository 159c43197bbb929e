package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/internal/shopify"
	"github.com/dogdollars/loyalty/pkg/retry"
)

// fakeMetafields emulates the customer metafield endpoints for one customer.
type fakeMetafields struct {
	mu     sync.Mutex
	nextID int64
	fields map[string]metafield
	fail   int
}

func newFakeMetafields() *fakeMetafields {
	return &fakeMetafields{nextID: 100, fields: map[string]metafield{}}
}

func (f *fakeMetafields) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	switch r.Method {
	case http.MethodGet:
		list := metafieldList{}
		for _, mf := range f.fields {
			list.Metafields = append(list.Metafields, mf)
		}
		_ = json.NewEncoder(w).Encode(list)
	case http.MethodPost:
		var in metafieldEnvelope
		_ = json.NewDecoder(r.Body).Decode(&in)
		if _, ok := f.fields[in.Metafield.Key]; ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"errors":{"key":["must be unique within this namespace"]}}`))
			return
		}
		f.nextID++
		in.Metafield.ID = f.nextID
		in.Metafield.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		f.fields[in.Metafield.Key] = in.Metafield
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(in)
	case http.MethodPut:
		var in metafieldEnvelope
		_ = json.NewDecoder(r.Body).Decode(&in)
		in.Metafield.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		f.fields[in.Metafield.Key] = in.Metafield
		_ = json.NewEncoder(w).Encode(in)
	}
}

func newShopifyStore(t *testing.T, h http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	api := shopify.NewClient(shopify.Config{BaseURL: srv.URL, AccessToken: "tok", RequestsPerSecond: 1000, Burst: 100}, nil)
	policy := retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, CallTimeout: time.Second}
	return WithRetry(NewShopify(api, models.AttrNamespace, nil), policy, nil, nil)
}

func TestShopify_CreateThenUpdate(t *testing.T) {
	fake := newFakeMetafields()
	store := newShopifyStore(t, fake)
	ctx := context.Background()

	v1, err := store.Set(ctx, "gid://shopify/Customer/9", models.AttrBalance, "130", "")
	require.NoError(t, err)
	assert.NotEmpty(t, v1)

	v2, err := store.Set(ctx, "9", models.AttrBalance, "5", v1)
	require.NoError(t, err)
	assert.Equal(t, idFromVersion(v1), idFromVersion(v2))

	attrs, err := store.Get(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, "5", attrs[models.AttrBalance].Value)
	assert.Equal(t, "number_integer", fake.fields[models.AttrBalance].Type)
}

func TestShopify_CreateFallsBackToUpdateWhenKeyExists(t *testing.T) {
	fake := newFakeMetafields()
	store := newShopifyStore(t, fake)
	ctx := context.Background()

	_, err := store.Set(ctx, "9", models.AttrCodes, `{"version":1}`, "")
	require.NoError(t, err)
	_, err = store.Set(ctx, "9", models.AttrCodes, `{"version":1,"codes":[]}`, "")
	require.NoError(t, err)

	assert.Equal(t, `{"version":1,"codes":[]}`, fake.fields[models.AttrCodes].Value)
	assert.Len(t, fake.fields, 1)
}

func TestShopify_TransientFailuresAreRetried(t *testing.T) {
	fake := newFakeMetafields()
	fake.fail = 2
	store := newShopifyStore(t, fake)

	_, err := store.Set(context.Background(), "9", models.AttrBalance, "1", "")
	assert.NoError(t, err)
}

func TestShopify_ExhaustedRetriesAreStoreUnavailable(t *testing.T) {
	fake := newFakeMetafields()
	fake.fail = 10
	store := newShopifyStore(t, fake)

	_, err := store.Get(context.Background(), "9")
	assert.True(t, errors.Is(err, errs.ErrStoreUnavailable))
}

func TestIDFromVersion(t *testing.T) {
	assert.Equal(t, int64(0), idFromVersion(""))
	assert.Equal(t, int64(0), idFromVersion("garbage"))
	assert.Equal(t, int64(42), idFromVersion("42@2024-01-01T00:00:00Z"))
}
