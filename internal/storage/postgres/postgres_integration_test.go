//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/homechef/internal/domain/account"
	"github.com/xenking/homechef/internal/domain/dish"
	"github.com/xenking/homechef/internal/domain/order"
	"github.com/xenking/homechef/internal/estimate"
	"github.com/xenking/homechef/internal/outbox"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "homechef",
				"POSTGRES_PASSWORD": "homechef",
				"POSTGRES_DB":       "homechef",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pg.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://homechef:homechef@%s:%s/homechef?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Applying the schema twice must be harmless.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("second migrations run: %v", err)
	}

	return m.Run()
}

type fixture struct {
	client account.Client
	chefA  account.Chef
	chefB  account.Chef
	dishA  dish.Dish
	dishB  dish.Dish
}

func seedFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	f := fixture{
		client: account.Client{ID: "client-" + suffix, Name: "Анна", Phone: "+70000000000"},
		chefA:  account.Chef{ID: "chefA-" + suffix, Name: "Ольга"},
		chefB:  account.Chef{ID: "chefB-" + suffix, Name: "Игорь"},
	}
	f.dishA = dish.Dish{ID: "dishA-" + suffix, ChefID: f.chefA.ID, Name: "Борщ", Price: decimal.RequireFromString("350.00"), IsAvailable: true}
	f.dishB = dish.Dish{ID: "dishB-" + suffix, ChefID: f.chefB.ID, Name: "Пельмени", Price: decimal.RequireFromString("470.50"), IsAvailable: true}

	accounts := NewAccountRepository(testPool)
	dishes := NewDishRepository(testPool)
	require.NoError(t, accounts.UpsertClient(ctx, f.client))
	require.NoError(t, accounts.UpsertChef(ctx, f.chefA))
	require.NoError(t, accounts.UpsertChef(ctx, f.chefB))
	require.NoError(t, dishes.Upsert(ctx, f.dishA))
	require.NoError(t, dishes.Upsert(ctx, f.dishB))
	return f
}

func newService(t *testing.T) *order.Service {
	t.Helper()
	svc, err := order.NewService(
		NewAccountRepository(testPool),
		NewDishRepository(testPool),
		NewOrderRepository(testPool),
	)
	require.NoError(t, err)
	return svc
}

func TestOrderRepository_CreateIsAtomicWithCounters(t *testing.T) {
	ctx := context.Background()
	f := seedFixture(t)
	svc := newService(t)

	o, err := svc.CreateOrder(ctx, f.client.ID, order.CreateOrderRequest{
		Items: []order.ItemRequest{
			{DishID: f.dishA.ID, Quantity: 2},
			{DishID: f.dishB.ID, Quantity: 1},
			{DishID: f.dishA.ID, Quantity: 1},
		},
		DeliveryAddress: "ул. Ленина, 1",
	})
	require.NoError(t, err)
	assert.Equal(t, f.chefA.ID, o.ChefID)

	got, err := NewOrderRepository(testPool).Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Number, got.Number)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.True(t, decimal.RequireFromString("1520.50").Equal(got.Subtotal), got.Subtotal.String())
	assert.True(t, decimal.RequireFromString("152.05").Equal(got.PlatformFee), got.PlatformFee.String())
	assert.True(t, decimal.RequireFromString("1672.55").Equal(got.Total), got.Total.String())
	require.Len(t, got.Items, 3)
	assert.Equal(t, "Борщ", got.Items[0].DishName)
	assert.Equal(t, f.chefB.ID, got.Items[1].ChefID)
	assert.Equal(t, "Анна", got.Client.Name)
	assert.Equal(t, "Ольга", got.Chef.Name)

	dishes, err := NewDishRepository(testPool).GetOrderable(ctx, []string{f.dishA.ID, f.dishB.ID})
	require.NoError(t, err)
	require.Len(t, dishes, 2)
	for _, d := range dishes {
		assert.Equal(t, 1, d.OrdersCount, d.ID)
	}
	chef, err := NewAccountRepository(testPool).GetChef(ctx, f.chefA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, chef.TotalOrders)

	history, err := svc.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, order.StatusPending, history[0].To)
}

func TestOrderRepository_CreateRollsBack(t *testing.T) {
	ctx := context.Background()
	f := seedFixture(t)
	repo := NewOrderRepository(testPool)

	o := &order.Order{
		ID:             uuid.NewString(),
		Number:         "ORD-rollback-" + uuid.NewString()[:8],
		ClientID:       f.client.ID,
		ChefID:         f.chefA.ID,
		Status:         order.StatusPending,
		DeliveryMethod: order.DeliveryMethodPickup,
		PaymentMethod:  order.PaymentMethodCash,
		Items: []order.Item{
			{ID: uuid.NewString(), DishID: "missing-dish", Quantity: 1, Price: decimal.NewFromInt(1), Subtotal: decimal.NewFromInt(1)},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.Error(t, repo.Create(ctx, o))

	_, err := repo.Get(ctx, o.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
	chef, err := NewAccountRepository(testPool).GetChef(ctx, f.chefA.ID)
	require.NoError(t, err)
	assert.Zero(t, chef.TotalOrders)
}

func TestOrderRepository_StatusLifecycle(t *testing.T) {
	ctx := context.Background()
	f := seedFixture(t)
	svc := newService(t)
	repo := NewOrderRepository(testPool)

	o, err := svc.CreateOrder(ctx, f.client.ID, order.CreateOrderRequest{
		Items:          []order.ItemRequest{{DishID: f.dishA.ID, Quantity: 1}},
		DeliveryMethod: order.DeliveryMethodPickup,
	})
	require.NoError(t, err)

	updated, err := repo.ChangeStatus(ctx, order.StatusChange{
		OrderID: o.ID, From: order.StatusPending, To: order.StatusConfirmed,
		ChangedBy: f.chefA.ID, ChangedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, updated.Status)

	// A writer holding a stale view loses.
	_, err = repo.ChangeStatus(ctx, order.StatusChange{
		OrderID: o.ID, From: order.StatusPending, To: order.StatusConfirmed,
		ChangedBy: f.chefA.ID, ChangedAt: time.Now(),
	})
	require.ErrorIs(t, err, order.ErrStatusConflict)

	_, err = repo.ChangeStatus(ctx, order.StatusChange{
		OrderID: "missing", From: order.StatusPending, To: order.StatusConfirmed, ChangedAt: time.Now(),
	})
	require.ErrorIs(t, err, order.ErrNotFound)

	history, err := repo.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, order.StatusPending, history[1].From)
	assert.Equal(t, order.StatusConfirmed, history[1].To)
	assert.Equal(t, f.chefA.ID, history[1].ChangedBy)
}

func TestOrderRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	f := seedFixture(t)
	svc := newService(t)

	for _, id := range []string{f.dishA.ID, f.dishB.ID, f.dishB.ID} {
		_, err := svc.CreateOrder(ctx, f.client.ID, order.CreateOrderRequest{
			Items:          []order.ItemRequest{{DishID: id, Quantity: 1}},
			DeliveryMethod: order.DeliveryMethodPickup,
		})
		require.NoError(t, err)
	}

	page, err := svc.FindAll(ctx, order.ListParams{ClientID: f.client.ID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.LastPage)
	assert.Len(t, page.Data, 2)

	page, err = svc.FindAll(ctx, order.ListParams{ChefID: f.chefB.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	for _, o := range page.Data {
		assert.True(t, o.HasChef(f.chefB.ID))
	}

	page, err = svc.FindAll(ctx, order.ListParams{ClientID: f.client.ID, Status: order.StatusDelivered})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Data)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.ByStatus[order.StatusPending], 3)
	assert.GreaterOrEqual(t, stats.Total, 3)
}

func TestDishRepository_GetOrderable(t *testing.T) {
	ctx := context.Background()
	f := seedFixture(t)
	repo := NewDishRepository(testPool)

	f.dishB.IsArchived = true
	require.NoError(t, repo.Upsert(ctx, f.dishB))

	got, err := repo.GetOrderable(ctx, []string{f.dishA.ID, f.dishB.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.dishA.ID, got[0].ID)
}

func TestCorrectionStore_Versions(t *testing.T) {
	ctx := context.Background()
	s := NewCorrectionStore(testPool)
	raw := "грудка-" + uuid.NewString()[:8]

	_, ok, err := s.Get(ctx, raw)
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := s.Put(ctx, estimate.Correction{Raw: raw, Key: "куриная грудка"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Version)

	c, err = s.Put(ctx, estimate.Correction{Raw: raw, Key: "курица"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.Version)

	c, err = s.Put(ctx, estimate.Correction{Raw: raw, Key: "индейка", Version: 7})
	require.NoError(t, err)
	assert.EqualValues(t, 7, c.Version)

	_, err = s.Put(ctx, estimate.Correction{Raw: raw, Key: "свинина", Version: 5})
	require.ErrorIs(t, err, estimate.ErrStaleCorrection)

	got, ok, err := s.Get(ctx, raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "индейка", got.Key)
	assert.EqualValues(t, 7, got.Version)
}

func TestOutboxStore_PublishesOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()

	// Drain events left by other tests.
	store := NewOutboxStore(testPool)
	_, err := store.Dispatch(ctx, 10000, func(context.Context, outbox.Event) error { return nil })
	require.NoError(t, err)

	f := seedFixture(t)
	_, err = newService(t).CreateOrder(ctx, f.client.ID, order.CreateOrderRequest{
		Items:          []order.ItemRequest{{DishID: f.dishA.ID, Quantity: 1}},
		DeliveryMethod: order.DeliveryMethodPickup,
	})
	require.NoError(t, err)

	backlog, err := store.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, backlog)

	n, err := store.Dispatch(ctx, 10, func(context.Context, outbox.Event) error {
		return errors.New("broker down")
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	backlog, err = store.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, backlog)

	var got []outbox.Event
	n, err = store.Dispatch(ctx, 10, func(_ context.Context, e outbox.Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, outbox.TopicOrderCreated, got[0].Topic)
	assert.Equal(t, 1, got[0].Attempts)

	backlog, err = store.Backlog(ctx)
	require.NoError(t, err)
	assert.Zero(t, backlog)
}
