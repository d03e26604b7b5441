package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/homechef/internal/domain/account"
	"github.com/xenking/homechef/internal/domain/auth"
	"github.com/xenking/homechef/internal/domain/dish"
	"github.com/xenking/homechef/internal/domain/order"
	"github.com/xenking/homechef/internal/estimate"
)

// --- Mock implementations ---

type mockAccounts struct{}

func (mockAccounts) GetClient(_ context.Context, id string) (*account.Client, error) {
	switch id {
	case "c1":
		return &account.Client{ID: "c1", Name: "Anna", Phone: "+70000000001"}, nil
	case "c2":
		return &account.Client{ID: "c2", Name: "Boris"}, nil
	}
	return nil, account.ErrNotFound
}

func (mockAccounts) GetChef(_ context.Context, id string) (*account.Chef, error) {
	if id == "chef1" || id == "chef2" {
		return &account.Chef{ID: id, Name: "chef " + id}, nil
	}
	return nil, account.ErrNotFound
}

type mockDishes struct {
	byID map[string]dish.Dish
}

func (m *mockDishes) GetOrderable(_ context.Context, ids []string) ([]dish.Dish, error) {
	var out []dish.Dish
	for _, id := range ids {
		if d, ok := m.byID[id]; ok && d.Orderable() {
			out = append(out, d)
		}
	}
	return out, nil
}

type mockOrders struct {
	mu        sync.Mutex
	byID      map[string]*order.Order
	changes   []order.StatusChange
	changeErr error
}

func (m *mockOrders) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[o.ID] = o
	m.changes = append(m.changes, order.StatusChange{OrderID: o.ID, To: o.Status, ChangedBy: o.ClientID, ChangedAt: o.CreatedAt})
	return nil
}

func (m *mockOrders) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) List(_ context.Context, f order.Filter) ([]order.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.byID {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.ClientID != "" && o.ClientID != f.ClientID {
			continue
		}
		if f.ChefID != "" && !o.HasChef(f.ChefID) {
			continue
		}
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (m *mockOrders) ChangeStatus(_ context.Context, c order.StatusChange) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.changeErr != nil {
		return nil, m.changeErr
	}
	o, ok := m.byID[c.OrderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Status != c.From {
		return nil, order.ErrStatusConflict
	}
	o.Status = c.To
	m.changes = append(m.changes, c)
	cp := *o
	return &cp, nil
}

func (m *mockOrders) Stats(_ context.Context) (order.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := order.Stats{ByStatus: map[order.Status]int{}}
	for _, o := range m.byID {
		st.Total++
		st.ByStatus[o.Status]++
	}
	return st, nil
}

func (m *mockOrders) History(_ context.Context, id string) ([]order.StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.StatusChange
	for _, c := range m.changes {
		if c.OrderID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- Helpers ---

type testServer struct {
	handler http.Handler
	authn   *Authenticator
	orders  *mockOrders
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dishes := &mockDishes{byID: map[string]dish.Dish{
		"d1": {ID: "d1", ChefID: "chef1", Name: "Борщ", Price: decimal.RequireFromString("500"), IsAvailable: true},
		"d2": {ID: "d2", ChefID: "chef1", Name: "Пельмени", Price: decimal.RequireFromString("350.50"), IsAvailable: false},
	}}
	orders := &mockOrders{byID: map[string]*order.Order{}}

	svc, err := order.NewService(mockAccounts{}, dishes, orders)
	require.NoError(t, err)
	est, err := estimate.New(estimate.NewTableStore(estimate.DefaultTables()))
	require.NoError(t, err)

	authn := NewAuthenticator([]byte("test-secret"))
	mux := http.NewServeMux()
	NewHandler(svc, est, authn).Register(mux)

	return &testServer{
		handler: authn.Authenticate(mux),
		authn:   authn,
		orders:  orders,
	}
}

func (s *testServer) token(t *testing.T, subject string, role auth.Role) string {
	t.Helper()
	tok, err := s.authn.Issue(auth.Identity{SubjectID: subject, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (s *testServer) seed(o *order.Order) {
	s.orders.mu.Lock()
	defer s.orders.mu.Unlock()
	s.orders.byID[o.ID] = o
}

func pendingOrder(id, clientID, chefID string) *order.Order {
	return &order.Order{
		ID:       id,
		ClientID: clientID,
		ChefID:   chefID,
		Status:   order.StatusPending,
		Items:    []order.Item{{ID: "i-" + id, DishID: "d1", ChefID: chefID, Quantity: 1, Price: decimal.NewFromInt(500)}},
	}
}

// --- Orders ---

func TestCreateOrder(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "c1", auth.RoleClient)

	code, body := s.do(t, http.MethodPost, "/api/orders", tok,
		`{"items":[{"dishId":"d1","quantity":2,"notes":null}],"deliveryAddress":"Тверская 1","notes":"звонить"}`)
	require.Equal(t, http.StatusCreated, code, body)

	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "c1", body["clientId"])
	assert.Equal(t, "chef1", body["chefId"])
	assert.InDelta(t, 1000, body["subtotal"], 1e-9)
	assert.InDelta(t, 100, body["platformFee"], 1e-9)
	assert.InDelta(t, 1100, body["total"], 1e-9)
	assert.Equal(t, "Anna", body["client"].(map[string]any)["name"])

	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Борщ", items[0].(map[string]any)["dishName"])
}

func TestCreateOrder_Guards(t *testing.T) {
	s := newTestServer(t)
	body := `{"items":[{"dishId":"d1","quantity":1}],"deliveryAddress":"x"}`

	code, resp := s.do(t, http.MethodPost, "/api/orders", "", body)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.EqualValues(t, 401, resp["code"])

	code, _ = s.do(t, http.MethodPost, "/api/orders", "not-a-jwt", body)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodPost, "/api/orders", s.token(t, "chef1", auth.RoleChef), body)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestCreateOrder_BadRequests(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "c1", auth.RoleClient)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"items":`, http.StatusBadRequest},
		{"empty items", `{"items":[],"deliveryAddress":"x"}`, http.StatusBadRequest},
		{"zero quantity", `{"items":[{"dishId":"d1","quantity":0}],"deliveryAddress":"x"}`, http.StatusBadRequest},
		{"unavailable dish", `{"items":[{"dishId":"d2","quantity":1}],"deliveryAddress":"x"}`, http.StatusBadRequest},
		{"unknown dish", `{"items":[{"dishId":"nope","quantity":1}],"deliveryAddress":"x"}`, http.StatusBadRequest},
		{"missing address", `{"items":[{"dishId":"d1","quantity":1}]}`, http.StatusBadRequest},
		{"bad payment method", `{"items":[{"dishId":"d1","quantity":1}],"deliveryAddress":"x","paymentMethod":"BARTER"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.do(t, http.MethodPost, "/api/orders", tok, tt.body)
			assert.Equal(t, tt.want, code, body)
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestCreateOrder_UnknownClient(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodPost, "/api/orders", s.token(t, "ghost", auth.RoleClient),
		`{"items":[{"dishId":"d1","quantity":1}],"deliveryMethod":"PICKUP"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetOrder(t *testing.T) {
	s := newTestServer(t)
	s.seed(pendingOrder("o1", "c1", "chef1"))

	code, body := s.do(t, http.MethodGet, "/api/orders/o1", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "o1", body["id"])

	code, body = s.do(t, http.MethodGet, "/api/orders/missing", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.EqualValues(t, 404, body["code"])
}

func TestListOrders_Scopes(t *testing.T) {
	s := newTestServer(t)
	s.seed(pendingOrder("o1", "c1", "chef1"))
	s.seed(pendingOrder("o2", "c2", "chef2"))

	code, body := s.do(t, http.MethodGet, "/api/orders?page=1&limit=10", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["page"])
	assert.EqualValues(t, 1, body["lastPage"])

	code, body = s.do(t, http.MethodGet, "/api/orders/my/orders", s.token(t, "c2", auth.RoleClient), "")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "o2", data[0].(map[string]any)["id"])

	code, body = s.do(t, http.MethodGet, "/api/orders/chef/orders", s.token(t, "chef1", auth.RoleChef), "")
	require.Equal(t, http.StatusOK, code)
	data = body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "o1", data[0].(map[string]any)["id"])

	code, _ = s.do(t, http.MethodGet, "/api/orders/my/orders", s.token(t, "chef1", auth.RoleChef), "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodGet, "/api/orders?status=LOST", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestServer(t)
	s.seed(pendingOrder("o1", "c1", "chef1"))
	chef := s.token(t, "chef1", auth.RoleChef)

	code, body := s.do(t, http.MethodPatch, "/api/orders/o1/status", chef, `{"status":"CONFIRMED"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "CONFIRMED", body["status"])

	code, _ = s.do(t, http.MethodPatch, "/api/orders/o1/status", chef, `{"status":"DELIVERED"}`)
	assert.Equal(t, http.StatusBadRequest, code, "skipping steps")

	code, _ = s.do(t, http.MethodPatch, "/api/orders/o1/status", chef, `{"status":"CANCELLED"}`)
	assert.Equal(t, http.StatusBadRequest, code, "cancel is a separate operation")

	code, _ = s.do(t, http.MethodPatch, "/api/orders/o1/status", s.token(t, "chef2", auth.RoleChef), `{"status":"PREPARING"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPatch, "/api/orders/o1/status", s.token(t, "c1", auth.RoleClient), `{"status":"PREPARING"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = s.do(t, http.MethodPatch, "/api/orders/o1/status", s.token(t, "root", auth.RoleAdmin), `{"status":"PREPARING"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "PREPARING", body["status"])
}

func TestUpdateStatus_Conflict(t *testing.T) {
	s := newTestServer(t)
	s.seed(pendingOrder("o1", "c1", "chef1"))
	s.orders.changeErr = order.ErrStatusConflict

	code, body := s.do(t, http.MethodPatch, "/api/orders/o1/status", s.token(t, "chef1", auth.RoleChef), `{"status":"CONFIRMED"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.EqualValues(t, 409, body["code"])
}

func TestCancelOrder(t *testing.T) {
	s := newTestServer(t)
	s.seed(pendingOrder("o1", "c1", "chef1"))

	code, _ := s.do(t, http.MethodPatch, "/api/orders/o1/cancel", s.token(t, "c2", auth.RoleClient), "")
	assert.Equal(t, http.StatusForbidden, code)

	owner := s.token(t, "c1", auth.RoleClient)
	code, body := s.do(t, http.MethodPatch, "/api/orders/o1/cancel", owner, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "CANCELLED", body["status"])

	code, body = s.do(t, http.MethodPatch, "/api/orders/o1/cancel", owner, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, order.ErrAlreadyCancelled.Error(), body["message"])
}

func TestOrderStats(t *testing.T) {
	s := newTestServer(t)
	s.seed(pendingOrder("o1", "c1", "chef1"))
	s.seed(pendingOrder("o2", "c2", "chef1"))

	code, body := s.do(t, http.MethodGet, "/api/orders/stats/overview", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])

	byStatus := body["byStatus"].(map[string]any)
	assert.Len(t, byStatus, len(order.Statuses))
	assert.EqualValues(t, 2, byStatus["PENDING"])
	assert.EqualValues(t, 0, byStatus["DELIVERED"])
}

func TestOrderHistory(t *testing.T) {
	s := newTestServer(t)
	s.seed(pendingOrder("o1", "c1", "chef1"))

	code, _ := s.do(t, http.MethodPatch, "/api/orders/o1/status", s.token(t, "chef1", auth.RoleChef), `{"status":"CONFIRMED"}`)
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/o1/history", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var history []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "PENDING", history[0]["from"])
	assert.Equal(t, "CONFIRMED", history[0]["to"])
	assert.Equal(t, "chef1", history[0]["changedBy"])

	code, _ = s.do(t, http.MethodGet, "/api/orders/missing/history", "", "")
	assert.Equal(t, http.StatusNotFound, code)
}

// --- Estimates ---

func TestEstimateNutrition(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/estimates/nutrition", "", `{"ingredients":"100 г курица, 50 г рис"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.InDelta(t, 362, body["totals"].(map[string]any)["kcal"], 1e-9)
	assert.GreaterOrEqual(t, body["confidence"], 90.0)
	assert.Empty(t, body["unrecognized"])
	assert.Len(t, body["ingredients"], 2)
}

func TestEstimatePrice(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/estimates/price", "",
		`{"ingredients":"курица 200г","prepTimeMinutes":30,"servings":1}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Greater(t, body["recommendedPrice"], 0.0)
	assert.Greater(t, body["totalCost"], 0.0)
	assert.Contains(t, body, "recommendations")

	code, body = s.do(t, http.MethodPost, "/api/estimates/price", "",
		`{"ingredients":"курица 200г","skillLevel":"wizard"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "wizard")
}

func TestSuggestPrice(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/estimates/suggest", "", `{"ingredients":"курица 200г"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.LessOrEqual(t, body["minimum"], body["recommended"])
	assert.LessOrEqual(t, body["recommended"], body["premium"])
	assert.LessOrEqual(t, body["premium"], body["maximum"])

	code, _ = s.do(t, http.MethodPost, "/api/estimates/suggest", "", `{"ingredients":"курица 200г","marketTier":"lunar"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEstimateOptions(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/estimates/options", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["marketTier"])
	assert.NotEmpty(t, body["cookingMethod"])
}

func TestTeachCorrection(t *testing.T) {
	s := newTestServer(t)
	body := `{"raw":"нефрограм","key":"курица","version":1}`

	code, _ := s.do(t, http.MethodPut, "/api/estimates/corrections", "", body)
	assert.Equal(t, http.StatusUnauthorized, code)

	tok := s.token(t, "c1", auth.RoleClient)
	code, resp := s.do(t, http.MethodPut, "/api/estimates/corrections", tok, body)
	require.Equal(t, http.StatusOK, code, resp)
	assert.EqualValues(t, 1, resp["version"])

	code, _ = s.do(t, http.MethodPut, "/api/estimates/corrections", tok, body)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodPut, "/api/estimates/corrections", tok, `{"raw":"нефрограм","key":"нектар богов"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPut, "/api/estimates/corrections", tok, `{"raw":"нефрограм, кабачкофан","key":"курица"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, http.MethodPut, "/api/estimates/corrections", tok, `{"raw":"свежий кабачкофан","key":"курица"}`)
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, "кабачкофан", resp["raw"])

	code, resp = s.do(t, http.MethodPost, "/api/estimates/nutrition", "", `{"ingredients":"300 г нефрограм"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp["unrecognized"])

	code, _ = s.do(t, http.MethodGet, "/api/estimates/diagnostics", tok, "")
	assert.Equal(t, http.StatusForbidden, code)
}

// --- Authentication ---

func TestAuthenticator_Verify(t *testing.T) {
	a := NewAuthenticator([]byte("secret"))

	tok, err := a.Issue(auth.Identity{SubjectID: "chef1", Role: auth.RoleChef}, time.Minute)
	require.NoError(t, err)
	id, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{SubjectID: "chef1", Role: auth.RoleChef}, id)

	expired, err := a.Issue(auth.Identity{SubjectID: "chef1", Role: auth.RoleChef}, -time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(expired)
	assert.Error(t, err)

	other := NewAuthenticator([]byte("other"))
	_, err = other.Verify(tok)
	assert.Error(t, err)

	bogus, err := a.Issue(auth.Identity{SubjectID: "x", Role: "ROOT"}, time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(bogus)
	assert.Error(t, err)
}
