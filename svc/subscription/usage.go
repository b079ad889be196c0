package subscription

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/competitorwatch/pkg/pg"
)

// DefaultUsageQuery counts the competitors a tenant monitors.
const DefaultUsageQuery = `SELECT count(*) FROM competitors WHERE tenant_id = $1`

// PostgresUsageCounter runs query with the tenant id as its only argument.
// The query must return a single integer.
func PostgresUsageCounter(pool *pgxpool.Pool, query string) UsageCounter {
	if query == "" {
		query = DefaultUsageQuery
	}
	return func(ctx context.Context, tenantID uuid.UUID) (int64, error) {
		var n int64
		if err := pg.Conn(ctx, pool).QueryRow(ctx, query, tenantID).Scan(&n); err != nil {
			return 0, errors.Join(ErrTransientDependency, err)
		}
		return n, nil
	}
}
