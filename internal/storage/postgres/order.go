package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/homechef/internal/domain/order"
	"github.com/xenking/homechef/internal/outbox"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, number, client_id, chef_id, status, delivery_method,
		delivery_address, payment_method, subtotal, platform_fee, total, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, position, dish_id, quantity, price, subtotal, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	bumpDishCountersSQL = `UPDATE dishes SET orders_count = orders_count + 1 WHERE id = ANY($1)`
	bumpChefCounterSQL  = `UPDATE chefs SET total_orders = total_orders + 1 WHERE id = $1`

	insertStatusLogSQL = `INSERT INTO order_status_log (order_id, from_status, to_status, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5)`

	orderColumns = `o.id, o.number, o.client_id, o.chef_id, o.status, o.delivery_method, o.delivery_address,
		o.payment_method, o.subtotal, o.platform_fee, o.total, o.notes, o.created_at, o.updated_at,
		c.name, c.phone, ch.name, ch.total_orders`

	orderFrom = ` FROM orders o
		JOIN clients c ON c.id = o.client_id
		JOIN chefs ch ON ch.id = o.chef_id`

	getOrderSQL = `SELECT ` + orderColumns + orderFrom + ` WHERE o.id = $1`

	orderFilter = ` WHERE ($1::text = '' OR o.status = $1)
		AND ($2::text = '' OR o.client_id = $2)
		AND ($3::text = '' OR EXISTS (
			SELECT 1 FROM order_items i JOIN dishes d ON d.id = i.dish_id
			WHERE i.order_id = o.id AND d.chef_id = $3))`

	listOrdersSQL = `SELECT ` + orderColumns + orderFrom + orderFilter +
		` ORDER BY o.created_at DESC, o.id LIMIT $4 OFFSET $5`

	countOrdersSQL = `SELECT count(*) FROM orders o` + orderFilter

	getOrderItemsSQL = `SELECT i.order_id, i.id, i.dish_id, d.name, d.chef_id, i.quantity, i.price, i.subtotal, i.notes
		FROM order_items i JOIN dishes d ON d.id = i.dish_id
		WHERE i.order_id = ANY($1)
		ORDER BY i.order_id, i.position`

	changeStatusSQL = `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	orderExistsSQL  = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	orderStatsSQL = `SELECT status, count(*) FROM orders GROUP BY status`

	orderHistorySQL = `SELECT order_id, from_status, to_status, changed_by, changed_at
		FROM order_status_log WHERE order_id = $1 ORDER BY changed_at, id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Every
// write also records a status log entry and an outbox event in the same
// transaction.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order with its items and bumps the dish and chef
// order counters atomically.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Number, o.ClientID, o.ChefID, o.Status, o.DeliveryMethod,
			o.DeliveryAddress, o.PaymentMethod, o.Subtotal, o.PlatformFee, o.Total, o.Notes,
			o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return errors.Wrap(err, "insert order")
		}

		batch := &pgx.Batch{}
		dishIDs := make([]string, 0, len(o.Items))
		seen := make(map[string]struct{}, len(o.Items))
		for i, it := range o.Items {
			batch.Queue(insertOrderItemSQL,
				it.ID, o.ID, i, it.DishID, it.Quantity, it.Price, it.Subtotal, it.Notes,
			)
			if _, ok := seen[it.DishID]; !ok {
				seen[it.DishID] = struct{}{}
				dishIDs = append(dishIDs, it.DishID)
			}
		}
		batch.Queue(bumpDishCountersSQL, dishIDs)
		batch.Queue(bumpChefCounterSQL, o.ChefID)
		batch.Queue(insertStatusLogSQL, o.ID, "", o.Status, o.ClientID, o.CreatedAt)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "insert items")
		}

		return insertEvent(ctx, tx, outbox.NewOrderCreated(o))
	})
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// Get returns an order with its items, client and chef.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	orders := []order.Order{o}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// List returns a page of orders, newest first, and the total match count.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countOrdersSQL, f.Status, f.ClientID, f.ChefID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}
	if total == 0 {
		return []order.Order{}, 0, nil
	}

	rows, err := r.pool.Query(ctx, listOrdersSQL, f.Status, f.ClientID, f.ChefID, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan orders")
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ChangeStatus applies c when the order is still in c.From.
func (r *OrderRepository) ChangeStatus(ctx context.Context, c order.StatusChange) (*order.Order, error) {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, changeStatusSQL, c.OrderID, c.From, c.To, c.ChangedAt)
		if err != nil {
			return errors.Wrap(err, "update status")
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, orderExistsSQL, c.OrderID).Scan(&exists); err != nil {
				return errors.Wrap(err, "check order")
			}
			if !exists {
				return order.ErrNotFound
			}
			return order.ErrStatusConflict
		}

		if _, err := tx.Exec(ctx, insertStatusLogSQL, c.OrderID, c.From, c.To, c.ChangedBy, c.ChangedAt); err != nil {
			return errors.Wrap(err, "insert status log")
		}
		return insertEvent(ctx, tx, outbox.NewStatusChanged(c))
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) || errors.Is(err, order.ErrStatusConflict) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "change status of %q", c.OrderID)
	}
	return r.Get(ctx, c.OrderID)
}

// Stats returns order counts per status.
func (r *OrderRepository) Stats(ctx context.Context) (order.Stats, error) {
	rows, err := r.pool.Query(ctx, orderStatsSQL)
	if err != nil {
		return order.Stats{}, errors.Wrap(err, "order stats")
	}
	defer rows.Close()

	st := order.Stats{ByStatus: make(map[order.Status]int, len(order.Statuses))}
	for rows.Next() {
		var (
			status order.Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return order.Stats{}, errors.Wrap(err, "scan stats")
		}
		st.ByStatus[status] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return order.Stats{}, errors.Wrap(err, "order stats")
	}
	return st, nil
}

// History returns the status log of an order, oldest first. The first entry
// records creation and has an empty From.
func (r *OrderRepository) History(ctx context.Context, orderID string) ([]order.StatusChange, error) {
	rows, err := r.pool.Query(ctx, orderHistorySQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "history of %q", orderID)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StatusChange, error) {
		var c order.StatusChange
		err := row.Scan(&c.OrderID, &c.From, &c.To, &c.ChangedBy, &c.ChangedAt)
		return c, err
	})
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []order.Order) error {
	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := r.pool.Query(ctx, getOrderItemsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "get order items")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      order.Item
		)
		if err := rows.Scan(&orderID, &it.ID, &it.DishID, &it.DishName, &it.ChefID,
			&it.Quantity, &it.Price, &it.Subtotal, &it.Notes,
		); err != nil {
			return errors.Wrap(err, "scan order item")
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "get order items")
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.Number, &o.ClientID, &o.ChefID, &o.Status, &o.DeliveryMethod, &o.DeliveryAddress,
		&o.PaymentMethod, &o.Subtotal, &o.PlatformFee, &o.Total, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
		&o.Client.Name, &o.Client.Phone, &o.Chef.Name, &o.Chef.TotalOrders,
	)
	o.Client.ID = o.ClientID
	o.Chef.ID = o.ChefID
	return o, err
}
