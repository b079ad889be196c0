package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/competitorwatch/pkg/pg"
)

// PostgresStore keeps the queue in the notification_queue table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const messageColumns = `id, tenant_id, destination, template, data, scheduled_for, status,
	attempts, COALESCE(last_error, ''), locked_until, sent_at, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, msgs ...*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range msgs {
		data, err := json.Marshal(m.Data)
		if err != nil {
			return fmt.Errorf("%w: encode data: %v", ErrInvalidMessage, err)
		}
		batch.Queue(
			`INSERT INTO notification_queue
			 (id, tenant_id, destination, template, data, scheduled_for, status, attempts, sent_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			m.ID, m.TenantID, m.Destination, m.Template, data, m.ScheduledFor, m.Status,
			m.Attempts, m.SentAt, m.CreatedAt, m.UpdatedAt,
		)
	}

	return pg.WithTx(ctx, s.pool, func(ctx context.Context) error {
		tx, ok := pg.Conn(ctx, s.pool).(pgx.Tx)
		if !ok {
			return fmt.Errorf("%w: no transaction", ErrStoreUnavailable)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Join(ErrStoreUnavailable, err)
		}
		return nil
	})
}

func (s *PostgresStore) Statuses(ctx context.Context, tenantID uuid.UUID, template string) ([]Status, error) {
	rows, err := pg.Conn(ctx, s.pool).Query(ctx,
		`SELECT status FROM notification_queue WHERE tenant_id = $1 AND template = $2 ORDER BY created_at`,
		tenantID, template,
	)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	statuses, err := pgx.CollectRows(rows, pgx.RowTo[Status])
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return statuses, nil
}

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int, lockFor time.Duration) ([]*Message, error) {
	rows, err := pg.Conn(ctx, s.pool).Query(ctx,
		`WITH due AS (
			SELECT id AS due_id FROM notification_queue
			WHERE status = 'pending'
			  AND scheduled_for <= $1
			  AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY scheduled_for
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notification_queue q
		SET locked_until = $3, updated_at = $1
		FROM due WHERE q.id = due.due_id
		RETURNING `+messageColumns,
		now, limit, now.Add(lockFor),
	)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	msgs, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return msgs, nil
}

func (s *PostgresStore) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.exec(ctx,
		`UPDATE notification_queue SET status = 'sent', sent_at = $2, locked_until = NULL, updated_at = $2 WHERE id = $1`,
		id, at)
}

func (s *PostgresStore) MarkRetry(ctx context.Context, id uuid.UUID, lastErr string, next time.Time) error {
	return s.exec(ctx,
		`UPDATE notification_queue
		 SET attempts = attempts + 1, last_error = $2, scheduled_for = $3, locked_until = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id, lastErr, next)
}

func (s *PostgresStore) MarkDead(ctx context.Context, id uuid.UUID, lastErr string, at time.Time) error {
	return pg.WithTx(ctx, s.pool, func(ctx context.Context) error {
		if err := s.exec(ctx,
			`UPDATE notification_queue
			 SET attempts = attempts + 1, last_error = $2, status = 'failed', locked_until = NULL, updated_at = $3
			 WHERE id = $1`,
			id, lastErr, at); err != nil {
			return err
		}
		_, err := pg.Conn(ctx, s.pool).Exec(ctx,
			`INSERT INTO notification_dead_letters
			 (id, message_id, tenant_id, destination, template, data, attempts, last_error, failed_at)
			 SELECT $2, id, tenant_id, destination, template, data, attempts, last_error, $3
			 FROM notification_queue WHERE id = $1`,
			id, uuid.New(), at)
		if err != nil {
			return errors.Join(ErrStoreUnavailable, err)
		}
		return nil
	})
}

func (s *PostgresStore) DiscardPending(ctx context.Context, tenantID uuid.UUID, template string) (int64, error) {
	tag, err := pg.Conn(ctx, s.pool).Exec(ctx,
		`DELETE FROM notification_queue WHERE tenant_id = $1 AND template = $2 AND status = 'pending'`,
		tenantID, template)
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...any) error {
	tag, err := pg.Conn(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func scanMessage(row pgx.CollectableRow) (*Message, error) {
	var (
		m    Message
		data []byte
	)
	err := row.Scan(&m.ID, &m.TenantID, &m.Destination, &m.Template, &data, &m.ScheduledFor,
		&m.Status, &m.Attempts, &m.LastError, &m.LockedUntil, &m.SentAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &m.Data); err != nil {
		return nil, fmt.Errorf("decode notification data: %w", err)
	}
	return &m, nil
}
