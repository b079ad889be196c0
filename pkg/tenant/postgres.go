package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/competitorwatch/pkg/pg"
)

// PostgresDirectory reads the tenants table. It joins a transaction carried
// in ctx (see pg.WithTx).
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

const selectTenant = `SELECT id, email, name, COALESCE(customer_id, ''), created_at FROM tenants`

func (d *PostgresDirectory) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return d.one(ctx, selectTenant+` WHERE id = $1`, id)
}

func (d *PostgresDirectory) FindByCustomerID(ctx context.Context, customerID string) (*Tenant, error) {
	if customerID == "" {
		return nil, ErrTenantNotFound
	}
	return d.one(ctx, selectTenant+` WHERE customer_id = $1`, customerID)
}

func (d *PostgresDirectory) FindByEmail(ctx context.Context, email string) (*Tenant, error) {
	if email == "" {
		return nil, ErrTenantNotFound
	}
	return d.one(ctx, selectTenant+` WHERE lower(email) = lower($1)`, email)
}

func (d *PostgresDirectory) SetCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	if customerID == "" {
		return ErrEmptyCustomerID
	}

	tag, err := pg.Conn(ctx, d.pool).Exec(ctx,
		`UPDATE tenants SET customer_id = $2, updated_at = NOW()
		 WHERE id = $1 AND (customer_id IS NULL OR customer_id = $2)`,
		id, customerID,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrCustomerIDConflict
		}
		return fmt.Errorf("set customer id: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either the tenant is missing or it is linked elsewhere.
	if _, err := d.Get(ctx, id); err != nil {
		return err
	}
	return ErrCustomerIDConflict
}

// Create inserts a tenant row. The onboarding flow owns tenant creation;
// this exists for tooling and tests.
func (d *PostgresDirectory) Create(ctx context.Context, t *Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	var customerID *string
	if t.CustomerID != "" {
		customerID = &t.CustomerID
	}
	return pg.Conn(ctx, d.pool).QueryRow(ctx,
		`INSERT INTO tenants (id, email, name, customer_id) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		t.ID, t.Email, t.Name, customerID,
	).Scan(&t.CreatedAt)
}

func (d *PostgresDirectory) one(ctx context.Context, query string, arg any) (*Tenant, error) {
	var t Tenant
	err := pg.Conn(ctx, d.pool).QueryRow(ctx, query, arg).
		Scan(&t.ID, &t.Email, &t.Name, &t.CustomerID, &t.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrTenantNotFound
		}
		return nil, errors.Join(errors.New("tenant lookup failed"), err)
	}
	return &t, nil
}
