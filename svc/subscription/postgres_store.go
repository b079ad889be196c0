package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/competitorwatch/pkg/pg"
)

// PostgresStore keeps subscriptions and payments in Postgres. Calls join a
// transaction carried in ctx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const subscriptionColumns = `id, tenant_id, external_id, price_id, status, period_start, period_end,
	cancel_at_period_end, quota, created_at, updated_at`

func (s *PostgresStore) Current(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return s.one(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		tenantID)
}

func (s *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	return s.one(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_id = $1`, externalID)
}

func (s *PostgresStore) Upsert(ctx context.Context, sub *Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	err := pg.Conn(ctx, s.pool).QueryRow(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()), $11)
		 ON CONFLICT (external_id) DO UPDATE SET
			price_id = EXCLUDED.price_id,
			status = EXCLUDED.status,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			quota = EXCLUDED.quota,
			updated_at = EXCLUDED.updated_at
		 RETURNING id, tenant_id, created_at`,
		sub.ID, sub.TenantID, sub.ExternalID, sub.PriceID, sub.Status, sub.PeriodStart, sub.PeriodEnd,
		sub.CancelAtPeriodEnd, sub.Quota, nullTime(sub.CreatedAt), sub.UpdatedAt,
	).Scan(&sub.ID, &sub.TenantID, &sub.CreatedAt)
	if err != nil {
		return errors.Join(ErrTransientDependency, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	err := pg.Conn(ctx, s.pool).QueryRow(ctx,
		`UPDATE subscriptions SET
			external_id = $2, price_id = $3, status = $4, period_start = $5, period_end = $6,
			cancel_at_period_end = $7, quota = $8, updated_at = $9
		 WHERE id = $1
		 RETURNING created_at`,
		sub.ID, sub.ExternalID, sub.PriceID, sub.Status, sub.PeriodStart, sub.PeriodEnd,
		sub.CancelAtPeriodEnd, sub.Quota, sub.UpdatedAt,
	).Scan(&sub.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return ErrSubscriptionNotFound
		}
		return errors.Join(ErrTransientDependency, err)
	}
	return nil
}

func (s *PostgresStore) DeleteLocalTrials(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	tag, err := pg.Conn(ctx, s.pool).Exec(ctx,
		`DELETE FROM subscriptions WHERE tenant_id = $1 AND price_id = $2`, tenantID, TrialPriceID)
	if err != nil {
		return 0, errors.Join(ErrTransientDependency, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListExpiredTrials(ctx context.Context, now time.Time) ([]*Subscription, error) {
	rows, err := pg.Conn(ctx, s.pool).Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = $1 AND price_id = $2 AND period_end < $3
		 ORDER BY period_end`,
		StatusTrialing, TrialPriceID, now)
	if err != nil {
		return nil, errors.Join(ErrTransientDependency, err)
	}
	subs, err := pgx.CollectRows(rows, scanSubscription)
	if err != nil {
		return nil, errors.Join(ErrTransientDependency, err)
	}
	return subs, nil
}

func (s *PostgresStore) ExpireTrial(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := pg.Conn(ctx, s.pool).Exec(ctx,
		`UPDATE subscriptions SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		id, StatusExpired, now, StatusTrialing)
	if err != nil {
		return false, errors.Join(ErrTransientDependency, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpsertPayment(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := pg.Conn(ctx, s.pool).QueryRow(ctx,
		`INSERT INTO payments (id, tenant_id, external_payment_id, amount, currency, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (external_payment_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		p.ID, p.TenantID, p.ExternalPaymentID, p.Amount, p.Currency, p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return errors.Join(ErrTransientDependency, err)
	}
	return nil
}

func (s *PostgresStore) one(ctx context.Context, query string, args ...any) (*Subscription, error) {
	rows, err := pg.Conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Join(ErrTransientDependency, err)
	}
	sub, err := pgx.CollectExactlyOneRow(rows, scanSubscription)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Join(ErrTransientDependency, err)
	}
	return sub, nil
}

func scanSubscription(row pgx.CollectableRow) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.ExternalID, &sub.PriceID, &sub.Status,
		&sub.PeriodStart, &sub.PeriodEnd, &sub.CancelAtPeriodEnd, &sub.Quota, &sub.CreatedAt, &sub.UpdatedAt)
	return &sub, err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
