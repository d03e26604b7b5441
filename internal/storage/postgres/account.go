package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/homechef/internal/domain/account"
)

const (
	getClientSQL = `SELECT id, name, phone FROM clients WHERE id = $1`
	getChefSQL   = `SELECT id, name, total_orders FROM chefs WHERE id = $1`

	upsertClientSQL = `INSERT INTO clients (id, name, phone) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone`
	upsertChefSQL = `INSERT INTO chefs (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`
)

var _ account.Repository = (*AccountRepository)(nil)

// AccountRepository implements account.Repository backed by PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository returns an AccountRepository that uses the given pool.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetClient returns a client profile.
func (r *AccountRepository) GetClient(ctx context.Context, id string) (*account.Client, error) {
	var c account.Client
	err := r.pool.QueryRow(ctx, getClientSQL, id).Scan(&c.ID, &c.Name, &c.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get client %q", id)
	}
	return &c, nil
}

// GetChef returns a chef profile.
func (r *AccountRepository) GetChef(ctx context.Context, id string) (*account.Chef, error) {
	var c account.Chef
	err := r.pool.QueryRow(ctx, getChefSQL, id).Scan(&c.ID, &c.Name, &c.TotalOrders)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get chef %q", id)
	}
	return &c, nil
}

// UpsertClient creates or renames a client.
func (r *AccountRepository) UpsertClient(ctx context.Context, c account.Client) error {
	if _, err := r.pool.Exec(ctx, upsertClientSQL, c.ID, c.Name, c.Phone); err != nil {
		return errors.Wrapf(err, "upsert client %q", c.ID)
	}
	return nil
}

// UpsertChef creates or renames a chef. The order counter is left intact.
func (r *AccountRepository) UpsertChef(ctx context.Context, c account.Chef) error {
	if _, err := r.pool.Exec(ctx, upsertChefSQL, c.ID, c.Name); err != nil {
		return errors.Wrapf(err, "upsert chef %q", c.ID)
	}
	return nil
}
