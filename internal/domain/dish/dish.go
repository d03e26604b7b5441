package dish

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested dish does not exist.
var ErrNotFound = errors.New("dish not found")

// Dish is a sellable menu item owned by a chef.
type Dish struct {
	ID          string
	ChefID      string
	Name        string
	Price       decimal.Decimal
	IsAvailable bool
	IsArchived  bool
	OrdersCount int
}

// Orderable reports whether the dish may be put into a new order.
func (d Dish) Orderable() bool {
	return d.IsAvailable && !d.IsArchived
}

// Repository defines read operations for the dish catalog.
type Repository interface {
	// GetOrderable returns the dishes among ids that are available and not
	// archived. Unknown or unavailable ids are silently omitted.
	GetOrderable(ctx context.Context, ids []string) ([]Dish, error)
}
