// Package handler exposes the order lifecycle and the estimator over HTTP.
// Requests and responses are encoded with jx.
package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/homechef/internal/domain/auth"
	"github.com/xenking/homechef/internal/domain/order"
	"github.com/xenking/homechef/internal/estimate"
)

const maxBodyBytes = 1 << 20

// errBadBody is returned when a request body is not valid JSON of the
// expected shape.
var errBadBody = errors.New("invalid request body")

// Handler serves the order and estimate endpoints.
type Handler struct {
	orders    *order.Service
	estimates *estimate.Estimator
	auth      *Authenticator
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(orders *order.Service, estimates *estimate.Estimator, authn *Authenticator) *Handler {
	return &Handler{
		orders:    orders,
		estimates: estimates,
		auth:      authn,
	}
}

// Register adds every API route to mux. Routes are public unless guarded by
// a role.
func (h *Handler) Register(mux *http.ServeMux) {
	client := h.auth.Require(auth.RoleClient)
	chef := h.auth.Require(auth.RoleChef)
	staff := h.auth.Require(auth.RoleChef, auth.RoleAdmin)
	anyone := h.auth.Require(auth.RoleClient, auth.RoleChef, auth.RoleAdmin)
	admin := h.auth.Require(auth.RoleAdmin)

	mux.Handle("POST /api/orders", client(http.HandlerFunc(h.CreateOrder)))
	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /api/orders/{id}/history", h.OrderHistory)
	mux.Handle("GET /api/orders/my/orders", client(http.HandlerFunc(h.MyOrders)))
	mux.Handle("GET /api/orders/chef/orders", chef(http.HandlerFunc(h.ChefOrders)))
	mux.Handle("PATCH /api/orders/{id}/status", staff(http.HandlerFunc(h.UpdateStatus)))
	mux.Handle("PATCH /api/orders/{id}/cancel", client(http.HandlerFunc(h.CancelOrder)))
	mux.HandleFunc("GET /api/orders/stats/overview", h.OrderStats)

	mux.HandleFunc("POST /api/estimates/nutrition", h.EstimateNutrition)
	mux.HandleFunc("POST /api/estimates/price", h.EstimatePrice)
	mux.HandleFunc("POST /api/estimates/suggest", h.SuggestPrice)
	mux.HandleFunc("GET /api/estimates/options", h.EstimateOptions)
	mux.Handle("PUT /api/estimates/corrections", anyone(http.HandlerFunc(h.TeachCorrection)))
	mux.Handle("GET /api/estimates/diagnostics", admin(http.HandlerFunc(h.EstimateDiagnostics)))
}

// readBody reads a size-limited request body and returns a decoder over it.
func readBody(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errBadBody
	}
	return jx.DecodeBytes(body), nil
}

// writeJSON writes status and the document produced by encode.
func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError maps domain errors to HTTP status codes. Unknown errors are
// logged and reported as 500 without detail.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code, msg := classify(err)
	if code == http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
	}
	writeJSON(w, code, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(code)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

func classify(err error) (int, string) {
	var (
		qtyErr        *order.InvalidQuantityError
		valueErr      *order.InvalidValueError
		transitionErr *order.InvalidTransitionError
		forbiddenErr  *order.ForbiddenError
		optionErr     *estimate.UnknownOptionError
		keyErr        *estimate.UnknownKeyError
	)
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrClientNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, errBadBody),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrDeliveryAddressRequired),
		errors.Is(err, order.ErrDishesUnavailable),
		errors.Is(err, order.ErrAlreadyCancelled),
		errors.Is(err, order.ErrAlreadyDelivered),
		errors.Is(err, estimate.ErrEmptyName),
		errors.Is(err, estimate.ErrAmbiguousName),
		errors.As(err, &qtyErr),
		errors.As(err, &valueErr),
		errors.As(err, &transitionErr),
		errors.As(err, &optionErr),
		errors.As(err, &keyErr):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, err.Error()
	case errors.As(err, &forbiddenErr):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, order.ErrStatusConflict),
		errors.Is(err, estimate.ErrStaleCorrection):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// queryInt parses an optional integer query parameter. Malformed values are
// treated as absent.
func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}
