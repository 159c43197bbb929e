package recordstore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogdollars/loyalty/internal/errs"
)

type attrRow struct {
	key     string
	value   string
	version int64
}

// fakeAttrDB applies the customer_attributes upsert rules to an in-memory table.
type fakeAttrDB struct {
	mu       sync.Mutex
	rows     map[string]map[string]attrRow
	queryErr error
}

func newFakeAttrDB() *fakeAttrDB {
	return &fakeAttrDB{rows: make(map[string]map[string]attrRow)}
}

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

func (f *fakeAttrDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner := args[0].(string) + "/" + args[1].(string)
	key, value, expected := args[2].(string), args[3].(string), args[4].(string)

	table, ok := f.rows[owner]
	if !ok {
		table = make(map[string]attrRow)
		f.rows[owner] = table
	}
	cur, exists := table[key]
	switch {
	case !exists:
		cur = attrRow{key: key, value: value, version: 1}
	case expected == "" || strconv.FormatInt(cur.version, 10) == expected:
		cur.value = value
		cur.version++
	default:
		return rowFunc(func(...any) error { return pgx.ErrNoRows })
	}
	table[key] = cur
	version := cur.version
	return rowFunc(func(dest ...any) error {
		*dest[0].(*int64) = version
		return nil
	})
}

func (f *fakeAttrDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	rows := &attrRows{}
	for _, r := range f.rows[args[0].(string)+"/"+args[1].(string)] {
		rows.items = append(rows.items, r)
	}
	return rows, nil
}

// attrRows implements the parts of pgx.Rows that Postgres.Get reads.
type attrRows struct {
	pgx.Rows
	items []attrRow
	pos   int
}

func (r *attrRows) Next() bool {
	r.pos++
	return r.pos <= len(r.items)
}

func (r *attrRows) Scan(dest ...any) error {
	it := r.items[r.pos-1]
	*dest[0].(*string) = it.key
	*dest[1].(*string) = it.value
	*dest[2].(*int64) = it.version
	return nil
}

func (r *attrRows) Err() error { return nil }
func (r *attrRows) Close()     {}

func TestPostgres_SetVersions(t *testing.T) {
	db := newFakeAttrDB()
	store := NewPostgres(db, "")
	ctx := context.Background()

	v1, err := store.Set(ctx, "c1", "dog_dollars", "10", "")
	require.NoError(t, err)
	assert.Equal(t, "1", v1)

	v2, err := store.Set(ctx, "c1", "dog_dollars", "20", v1)
	require.NoError(t, err)
	assert.Equal(t, "2", v2)

	_, err = store.Set(ctx, "c1", "dog_dollars", "30", v1)
	assert.True(t, errors.Is(err, errs.ErrConflict))

	attrs, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, Attribute{Key: "dog_dollars", Value: "20", Version: "2"}, attrs["dog_dollars"])
}

func TestPostgres_SetWithoutVersionOverwrites(t *testing.T) {
	db := newFakeAttrDB()
	store := NewPostgres(db, "")
	ctx := context.Background()

	_, err := store.Set(ctx, "c1", "reward_codes", `{"version":1}`, "")
	require.NoError(t, err)
	v, err := store.Set(ctx, "c1", "reward_codes", `{"version":1,"opening_balance":5}`, "")

	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestPostgres_GetScopesByNamespace(t *testing.T) {
	db := newFakeAttrDB()
	ctx := context.Background()
	_, err := NewPostgres(db, "other").Set(ctx, "c1", "dog_dollars", "99", "")
	require.NoError(t, err)

	attrs, err := NewPostgres(db, "").Get(ctx, "c1")

	require.NoError(t, err)
	assert.Empty(t, attrs)
}

func TestPostgres_GetQueryErrorIsWrapped(t *testing.T) {
	db := newFakeAttrDB()
	cause := errors.New("connection refused")
	db.queryErr = cause

	_, err := NewPostgres(db, "").Get(context.Background(), "c1")

	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
}
