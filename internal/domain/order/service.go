package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/homechef/internal/domain/account"
	"github.com/xenking/homechef/internal/domain/auth"
	"github.com/xenking/homechef/internal/domain/dish"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// ItemRequest is a requested order line.
type ItemRequest struct {
	DishID   string
	Quantity int
	Notes    string
}

// CreateOrderRequest holds the input for placing an order.
type CreateOrderRequest struct {
	Items           []ItemRequest
	DeliveryAddress string
	DeliveryMethod  DeliveryMethod
	PaymentMethod   PaymentMethod
	Notes           string
}

// ListParams holds paging and filters for FindAll.
type ListParams struct {
	Page     int
	Limit    int
	Status   Status
	ClientID string
	ChefID   string
}

// Page is one page of orders.
type Page struct {
	Data     []Order
	Total    int
	Page     int
	LastPage int
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider used for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("homechef/order") }
}

// WithMeterProvider sets the meter provider used for order counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("homechef/order") }
}

// WithNumberGenerator overrides the order number generator.
func WithNumberGenerator(g *NumberGenerator) Option {
	return func(s *Service) { s.numbers = g }
}

// Service encapsulates the order lifecycle.
type Service struct {
	accounts account.Repository
	dishes   dish.Repository
	orders   Repository
	numbers  *NumberGenerator
	now      func() time.Time

	tracer      trace.Tracer
	meter       metric.Meter
	created     metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	accounts account.Repository,
	dishes dish.Repository,
	orders Repository,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		accounts: accounts,
		dishes:   dishes,
		orders:   orders,
		now:      time.Now,
		tracer:   tracenoop.NewTracerProvider().Tracer("homechef/order"),
		meter:    metricnoop.NewMeterProvider().Meter("homechef/order"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.numbers == nil {
		s.numbers = NewNumberGenerator(0)
	}

	var err error
	if s.created, err = s.meter.Int64Counter("orders.created",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.transitions, err = s.meter.Int64Counter("orders.status_changes",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.status_changes counter")
	}
	return s, nil
}

// CreateOrder validates the request against the current catalog, prices the
// lines from a single batch dish lookup and persists the order.
func (s *Service) CreateOrder(ctx context.Context, clientID string, req CreateOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder",
		trace.WithAttributes(attribute.String("client.id", clientID)),
	)
	defer endSpan(span, &rerr)

	if err := normalizeRequest(&req); err != nil {
		return nil, err
	}

	client, err := s.accounts.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, errors.Wrap(err, "get client")
	}

	ids := distinctDishIDs(req.Items)
	fetched, err := s.dishes.GetOrderable(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get dishes")
	}
	// All-or-nothing: a single missing or unavailable dish rejects the order.
	if len(fetched) != len(ids) {
		return nil, ErrDishesUnavailable
	}
	dishes := make(map[string]dish.Dish, len(fetched))
	for _, d := range fetched {
		dishes[d.ID] = d
	}

	items := make([]Item, len(req.Items))
	subtotal := decimal.Zero
	for i, it := range req.Items {
		d, ok := dishes[it.DishID]
		if !ok {
			return nil, ErrDishesUnavailable
		}
		line := d.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		items[i] = Item{
			ID:       uuid.New().String(),
			DishID:   d.ID,
			DishName: d.Name,
			ChefID:   d.ChefID,
			Quantity: it.Quantity,
			Price:    d.Price,
			Subtotal: line.Round(2),
			Notes:    it.Notes,
		}
		subtotal = subtotal.Add(line)
	}

	// The order belongs to the chef of the first line; multi-chef baskets are
	// not split.
	chefID := items[0].ChefID

	fee, total := Totals(subtotal)
	now := s.now().UTC()
	o := &Order{
		ID:              uuid.New().String(),
		Number:          s.numbers.Next(),
		ClientID:        client.ID,
		ChefID:          chefID,
		Items:           items,
		Status:          StatusPending,
		DeliveryMethod:  req.DeliveryMethod,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
		Subtotal:        subtotal.Round(2),
		PlatformFee:     fee,
		Total:           total,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
		Client:          *client,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	chef, err := s.accounts.GetChef(ctx, chefID)
	switch {
	case err == nil:
		o.Chef = *chef
	default:
		zctx.From(ctx).Warn("Chef lookup after order creation failed",
			zap.String("order_id", o.ID),
			zap.String("chef_id", chefID),
			zap.Error(err),
		)
		o.Chef = account.Chef{ID: chefID}
	}

	s.created.Add(ctx, 1)
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("number", o.Number),
		zap.String("client_id", o.ClientID),
		zap.String("chef_id", o.ChefID),
		zap.Stringer("total", o.Total),
	)
	return o, nil
}

// FindAll returns a page of orders matching the filters.
func (s *Service) FindAll(ctx context.Context, p ListParams) (*Page, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Status != "" && !p.Status.Valid() {
		return nil, &InvalidValueError{Field: "status", Value: string(p.Status)}
	}

	orders, total, err := s.orders.List(ctx, Filter{
		Status:   p.Status,
		ClientID: p.ClientID,
		ChefID:   p.ChefID,
		Offset:   (p.Page - 1) * p.Limit,
		Limit:    p.Limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &Page{
		Data:     orders,
		Total:    total,
		Page:     p.Page,
		LastPage: (total + p.Limit - 1) / p.Limit,
	}, nil
}

// FindOne returns a single order.
func (s *Service) FindOne(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateStatus moves an order one step along its lifecycle. Chefs may only
// update orders containing at least one of their dishes; admins may update
// any order. Cancellation is not a status update, see CancelOrder.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next Status, actor auth.Identity) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.status", string(next)),
		),
	)
	defer endSpan(span, &rerr)

	if !next.Valid() {
		return nil, &InvalidValueError{Field: "status", Value: string(next)}
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RoleChef:
		if !o.HasChef(actor.SubjectID) {
			return nil, &ForbiddenError{Reason: "order contains none of your dishes"}
		}
	default:
		return nil, &ForbiddenError{Reason: "role may not change order status"}
	}

	if !o.Status.CanTransitionTo(next) {
		return nil, &InvalidTransitionError{From: o.Status, To: next}
	}
	return s.changeStatus(ctx, o, next, actor.SubjectID)
}

// CancelOrder cancels an order on behalf of the client who placed it.
func (s *Service) CancelOrder(ctx context.Context, orderID, clientID string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CancelOrder",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer endSpan(span, &rerr)

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.ClientID != clientID {
		return nil, &ForbiddenError{Reason: "only the client who placed the order may cancel it"}
	}
	switch o.Status {
	case StatusCancelled:
		return nil, ErrAlreadyCancelled
	case StatusDelivered:
		return nil, ErrAlreadyDelivered
	}
	return s.changeStatus(ctx, o, StatusCancelled, clientID)
}

func (s *Service) changeStatus(ctx context.Context, o *Order, next Status, by string) (*Order, error) {
	updated, err := s.orders.ChangeStatus(ctx, StatusChange{
		OrderID:   o.ID,
		From:      o.Status,
		To:        next,
		ChangedBy: by,
		ChangedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "change status")
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(o.Status)),
		attribute.String("to", string(next)),
	))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(next)),
		zap.String("by", by),
	)
	return updated, nil
}

// Stats returns order counts per status.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.orders.Stats(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "order stats")
	}
	for _, status := range Statuses {
		if _, ok := st.ByStatus[status]; !ok {
			if st.ByStatus == nil {
				st.ByStatus = make(map[Status]int, len(Statuses))
			}
			st.ByStatus[status] = 0
		}
	}
	return st, nil
}

// History returns the status changes of an order, oldest first.
func (s *Service) History(ctx context.Context, orderID string) ([]StatusChange, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	h, err := s.orders.History(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "order history")
	}
	return h, nil
}

func normalizeRequest(req *CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return &InvalidQuantityError{DishID: it.DishID}
		}
	}

	if req.DeliveryMethod == "" {
		req.DeliveryMethod = DeliveryMethodDelivery
	}
	if !req.DeliveryMethod.Valid() {
		return &InvalidValueError{Field: "deliveryMethod", Value: string(req.DeliveryMethod)}
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = PaymentMethodCash
	}
	if !req.PaymentMethod.Valid() {
		return &InvalidValueError{Field: "paymentMethod", Value: string(req.PaymentMethod)}
	}

	req.DeliveryAddress = strings.TrimSpace(req.DeliveryAddress)
	if req.DeliveryMethod == DeliveryMethodDelivery && req.DeliveryAddress == "" {
		return ErrDeliveryAddressRequired
	}
	return nil
}

func distinctDishIDs(items []ItemRequest) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.DishID]; ok {
			continue
		}
		seen[it.DishID] = struct{}{}
		ids = append(ids, it.DishID)
	}
	return ids
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
