// Package account holds the client and chef profiles that orders refer to.
// Profiles are owned by a separate service; this module only reads them.
package account

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a client or chef does not exist.
var ErrNotFound = errors.New("account not found")

// Client is a customer placing orders.
type Client struct {
	ID    string
	Name  string
	Phone string
}

// Chef owns dishes and fulfils orders.
type Chef struct {
	ID          string
	Name        string
	TotalOrders int
}

// Repository provides read access to client and chef profiles.
type Repository interface {
	GetClient(ctx context.Context, id string) (*Client, error)
	GetChef(ctx context.Context, id string) (*Chef, error)
}
