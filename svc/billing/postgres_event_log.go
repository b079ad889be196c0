package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/competitorwatch/pkg/pg"
	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

// PostgresEventLog keeps events in the webhook_events table.
type PostgresEventLog struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLog(pool *pgxpool.Pool) *PostgresEventLog {
	return &PostgresEventLog{pool: pool}
}

const eventColumns = `id, source, external_event_id, type, payload, processed, processed_at,
	COALESCE(error, ''), created_at`

// Record inserts first and falls back to reading the existing row on a
// unique violation, so concurrent deliveries of one event create one row.
func (l *PostgresEventLog) Record(ctx context.Context, rec *EventRecord) (*EventRecord, bool, error) {
	stored := *rec
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if len(stored.Payload) == 0 {
		stored.Payload = []byte("{}")
	}

	err := pg.Conn(ctx, l.pool).QueryRow(ctx,
		`INSERT INTO webhook_events (id, source, external_event_id, type, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		stored.ID, stored.Source, stored.ExternalEventID, stored.Type, []byte(stored.Payload),
	).Scan(&stored.CreatedAt)
	switch {
	case err == nil:
		return &stored, true, nil
	case pg.IsDuplicateKeyError(err):
		existing, err := l.Get(ctx, rec.Source, rec.ExternalEventID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	default:
		return nil, false, errors.Join(subscription.ErrTransientDependency, err)
	}
}

func (l *PostgresEventLog) Get(ctx context.Context, source, externalEventID string) (*EventRecord, error) {
	rows, err := pg.Conn(ctx, l.pool).Query(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE source = $1 AND external_event_id = $2`,
		source, externalEventID)
	if err != nil {
		return nil, errors.Join(subscription.ErrTransientDependency, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanEvent)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrEventNotFound
		}
		return nil, errors.Join(subscription.ErrTransientDependency, err)
	}
	return rec, nil
}

func (l *PostgresEventLog) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return l.exec(ctx,
		`UPDATE webhook_events SET processed = TRUE, processed_at = $2, error = NULL WHERE id = $1`,
		id, at)
}

func (l *PostgresEventLog) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return l.exec(ctx,
		`UPDATE webhook_events SET processed_at = $2, error = $3 WHERE id = $1`,
		id, at, reason)
}

func (l *PostgresEventLog) exec(ctx context.Context, query string, args ...any) error {
	tag, err := pg.Conn(ctx, l.pool).Exec(ctx, query, args...)
	if err != nil {
		return errors.Join(subscription.ErrTransientDependency, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func scanEvent(row pgx.CollectableRow) (*EventRecord, error) {
	var (
		rec     EventRecord
		payload []byte
	)
	err := row.Scan(&rec.ID, &rec.Source, &rec.ExternalEventID, &rec.Type, &payload,
		&rec.Processed, &rec.ProcessedAt, &rec.Error, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	return &rec, nil
}
