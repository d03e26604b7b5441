package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/homechef/internal/domain/account"
)

// PlatformFeeRate is the fixed surcharge applied on top of the subtotal.
var PlatformFeeRate = decimal.RequireFromString("0.10")

// DeliveryMethod is how the order reaches the client.
type DeliveryMethod string

const (
	DeliveryMethodDelivery DeliveryMethod = "DELIVERY"
	DeliveryMethodPickup   DeliveryMethod = "PICKUP"
)

// Valid reports whether m is a known delivery method.
func (m DeliveryMethod) Valid() bool {
	return m == DeliveryMethodDelivery || m == DeliveryMethodPickup
}

// PaymentMethod is how the client pays.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "CASH"
	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodOnline PaymentMethod = "ONLINE"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodOnline:
		return true
	default:
		return false
	}
}

// Order is a client's purchase of one or more dishes from a chef.
type Order struct {
	ID              string
	Number          string
	ClientID        string
	ChefID          string
	Items           []Item
	Status          Status
	DeliveryMethod  DeliveryMethod
	DeliveryAddress string
	PaymentMethod   PaymentMethod
	Subtotal        decimal.Decimal
	PlatformFee     decimal.Decimal
	Total           decimal.Decimal
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Client and Chef are filled on reads for presentation.
	Client account.Client
	Chef   account.Chef
}

// Item is a single line of an order. Price is a snapshot of the dish price at
// order creation and is never re-read.
type Item struct {
	ID       string
	DishID   string
	DishName string
	// ChefID is the owner of the dish, used for chef attribution.
	ChefID   string
	Quantity int
	Price    decimal.Decimal
	Subtotal decimal.Decimal
	Notes    string
}

// HasChef reports whether at least one line item references a dish owned by
// chefID.
func (o *Order) HasChef(chefID string) bool {
	for _, it := range o.Items {
		if it.ChefID == chefID {
			return true
		}
	}
	return false
}

// Totals computes the platform fee and grand total for subtotal.
func Totals(subtotal decimal.Decimal) (fee, total decimal.Decimal) {
	subtotal = subtotal.Round(2)
	fee = subtotal.Mul(PlatformFeeRate).Round(2)
	return fee, subtotal.Add(fee)
}

// StatusChange is one transition of an order's status.
type StatusChange struct {
	OrderID   string
	From      Status
	To        Status
	ChangedBy string
	ChangedAt time.Time
}

// Filter narrows an order listing. Empty fields are ignored.
type Filter struct {
	Status   Status
	ClientID string
	// ChefID matches orders having at least one item whose dish the chef owns.
	ChefID string
	Offset int
	Limit  int
}

// Stats holds order counts per status.
type Stats struct {
	Total    int
	ByStatus map[Status]int
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists the order with its items, bumps the dish and chef order
	// counters and records the initial status, all in one transaction.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, int, error)
	// ChangeStatus applies c if the order is still in c.From and returns the
	// updated order. It returns ErrStatusConflict otherwise.
	ChangeStatus(ctx context.Context, c StatusChange) (*Order, error)
	Stats(ctx context.Context) (Stats, error)
	History(ctx context.Context, orderID string) ([]StatusChange, error)
}
