// Package outbox carries order events from the database to the message
// broker. Events are written in the same transaction as the change they
// describe and relayed at least once.
package outbox

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/homechef/internal/domain/order"
)

// Event topics, used as AMQP routing keys.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
)

// Event is a pending broker message.
type Event struct {
	ID          uuid.UUID
	Topic       string
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time
	Attempts    int
}

// NewOrderCreated builds the event announcing a new order.
func NewOrderCreated(o *order.Order) Event {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("number")
	e.Str(o.Number)
	e.FieldStart("clientId")
	e.Str(o.ClientID)
	e.FieldStart("chefId")
	e.Str(o.ChefID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("subtotal")
	e.Str(o.Subtotal.StringFixed(2))
	e.FieldStart("platformFee")
	e.Str(o.PlatformFee.StringFixed(2))
	e.FieldStart("total")
	e.Str(o.Total.StringFixed(2))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("dishId")
		e.Str(it.DishID)
		e.FieldStart("chefId")
		e.Str(it.ChefID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		e.Str(it.Price.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()

	return newEvent(TopicOrderCreated, o.ID, e.Bytes(), o.CreatedAt)
}

// NewStatusChanged builds the event announcing a status transition.
func NewStatusChanged(c order.StatusChange) Event {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(c.OrderID)
	e.FieldStart("from")
	e.Str(string(c.From))
	e.FieldStart("to")
	e.Str(string(c.To))
	e.FieldStart("changedBy")
	e.Str(c.ChangedBy)
	e.FieldStart("changedAt")
	e.Str(c.ChangedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()

	return newEvent(TopicOrderStatusChanged, c.OrderID, e.Bytes(), c.ChangedAt)
}

func newEvent(topic, aggregateID string, payload []byte, at time.Time) Event {
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     append([]byte(nil), payload...), // encoder buffers are pooled
		CreatedAt:   at.UTC(),
	}
}
