package recordstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/internal/models"
)

// querier is the subset of *pgxpool.Pool used here.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps attributes in the customer_attributes table. The version column is checked when
// the caller supplies one, but the engine does not depend on that check.
type Postgres struct {
	db        querier
	namespace string
}

// NewPostgres creates a table-backed Client over pool (normally a *pgxpool.Pool).
func NewPostgres(db querier, namespace string) *Postgres {
	if namespace == "" {
		namespace = models.AttrNamespace
	}
	return &Postgres{db: db, namespace: namespace}
}

// Get implements Client.
func (p *Postgres) Get(ctx context.Context, customerID string) (map[string]Attribute, error) {
	const query = `SELECT key, value, version FROM customer_attributes
		WHERE customer_id = $1 AND namespace = $2`
	rows, err := p.db.Query(ctx, query, customerID, p.namespace)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Attribute)
	for rows.Next() {
		var (
			key, value string
			version    int64
		)
		if err := rows.Scan(&key, &value, &version); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		out[key] = Attribute{Key: key, Value: value, Version: strconv.FormatInt(version, 10)}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attributes: %w", err)
	}
	return out, nil
}

// Set implements Client.
func (p *Postgres) Set(ctx context.Context, customerID, key, value, expectedVersion string) (string, error) {
	const query = `INSERT INTO customer_attributes (customer_id, namespace, key, value, version, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW())
		ON CONFLICT (customer_id, namespace, key) DO UPDATE
		SET value = EXCLUDED.value, version = customer_attributes.version + 1, updated_at = NOW()
		WHERE $5 = '' OR customer_attributes.version::text = $5
		RETURNING version`
	var version int64
	err := p.db.QueryRow(ctx, query, customerID, p.namespace, key, value, expectedVersion).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errs.ErrConflict.WithContext("customer_id", customerID, "key", key, "expected_version", expectedVersion)
	}
	if err != nil {
		return "", fmt.Errorf("upsert attribute: %w", err)
	}
	return strconv.FormatInt(version, 10), nil
}
