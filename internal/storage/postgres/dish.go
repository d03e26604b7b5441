package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/homechef/internal/domain/dish"
)

const (
	dishColumns = `id, chef_id, name, price, is_available, is_archived, orders_count`

	getOrderableDishesSQL = `SELECT ` + dishColumns + ` FROM dishes
		WHERE id = ANY($1) AND is_available AND NOT is_archived ORDER BY id`

	upsertDishSQL = `INSERT INTO dishes (id, chef_id, name, price, is_available, is_archived)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			chef_id = EXCLUDED.chef_id,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			is_available = EXCLUDED.is_available,
			is_archived = EXCLUDED.is_archived`
)

var _ dish.Repository = (*DishRepository)(nil)

// DishRepository implements dish.Repository backed by PostgreSQL.
type DishRepository struct {
	pool *pgxpool.Pool
}

// NewDishRepository returns a DishRepository that uses the given pool.
func NewDishRepository(pool *pgxpool.Pool) *DishRepository {
	return &DishRepository{pool: pool}
}

// GetOrderable returns the dishes among ids that are available and not
// archived.
func (r *DishRepository) GetOrderable(ctx context.Context, ids []string) ([]dish.Dish, error) {
	rows, err := r.pool.Query(ctx, getOrderableDishesSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get orderable dishes")
	}
	return pgx.CollectRows(rows, scanDish)
}

// Upsert creates or updates a dish. The order counter is left intact.
func (r *DishRepository) Upsert(ctx context.Context, d dish.Dish) error {
	if _, err := r.pool.Exec(ctx, upsertDishSQL,
		d.ID, d.ChefID, d.Name, d.Price, d.IsAvailable, d.IsArchived,
	); err != nil {
		return errors.Wrapf(err, "upsert dish %q", d.ID)
	}
	return nil
}

func scanDish(row pgx.CollectableRow) (dish.Dish, error) {
	var d dish.Dish
	err := row.Scan(&d.ID, &d.ChefID, &d.Name, &d.Price, &d.IsAvailable, &d.IsArchived, &d.OrdersCount)
	return d, err
}
