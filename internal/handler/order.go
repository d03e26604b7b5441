package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/homechef/internal/domain/auth"
	"github.com/xenking/homechef/internal/domain/order"
)

// CreateOrder places an order on behalf of the authenticated client.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.FromContext(ctx)

	d, err := readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	req, err := decodeCreateOrder(d)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	o, err := h.orders.CreateOrder(ctx, id.SubjectID, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListOrders returns a page of orders filtered by the query string.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.listOrders(w, r, order.ListParams{
		ClientID: q.Get("clientId"),
		ChefID:   q.Get("chefId"),
	})
}

// MyOrders returns the authenticated client's orders.
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	h.listOrders(w, r, order.ListParams{ClientID: id.SubjectID})
}

// ChefOrders returns orders containing the authenticated chef's dishes.
func (h *Handler) ChefOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	h.listOrders(w, r, order.ListParams{ChefID: id.SubjectID})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, p order.ListParams) {
	p.Page = queryInt(r, "page")
	p.Limit = queryInt(r, "limit")
	p.Status = order.Status(r.URL.Query().Get("status"))

	page, err := h.orders.FindAll(r.Context(), p)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("data")
		e.ArrStart()
		for i := range page.Data {
			encodeOrder(e, &page.Data[i])
		}
		e.ArrEnd()
		e.FieldStart("total")
		e.Int(page.Total)
		e.FieldStart("page")
		e.Int(page.Page)
		e.FieldStart("lastPage")
		e.Int(page.LastPage)
		e.ObjEnd()
	})
}

// GetOrder returns a single order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.FindOne(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdateStatus moves an order to the next lifecycle status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.FromContext(ctx)

	d, err := readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var status string
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) == "status" {
			v, err := d.Str()
			status = v
			return err
		}
		return d.Skip()
	}); err != nil {
		writeError(ctx, w, errBadBody)
		return
	}

	o, err := h.orders.UpdateStatus(ctx, r.PathValue("id"), order.Status(status), id)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// CancelOrder cancels an order placed by the authenticated client.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	o, err := h.orders.CancelOrder(r.Context(), r.PathValue("id"), id.SubjectID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// OrderStats returns order counts per status.
func (h *Handler) OrderStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.orders.Stats(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("total")
		e.Int(st.Total)
		e.FieldStart("byStatus")
		e.ObjStart()
		for _, s := range order.Statuses {
			e.FieldStart(string(s))
			e.Int(st.ByStatus[s])
		}
		e.ObjEnd()
		e.ObjEnd()
	})
}

// OrderHistory returns the status changes of an order, oldest first.
func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.orders.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, c := range history {
			e.ObjStart()
			e.FieldStart("from")
			e.Str(string(c.From))
			e.FieldStart("to")
			e.Str(string(c.To))
			e.FieldStart("changedBy")
			e.Str(c.ChangedBy)
			e.FieldStart("changedAt")
			e.Str(c.ChangedAt.UTC().Format(time.RFC3339))
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

func decodeCreateOrder(d *jx.Decoder) (order.CreateOrderRequest, error) {
	var req order.CreateOrderRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				req.Items = append(req.Items, it)
				return err
			})
		case "deliveryAddress":
			req.DeliveryAddress, err = d.Str()
		case "deliveryMethod":
			var v string
			v, err = d.Str()
			req.DeliveryMethod = order.DeliveryMethod(v)
		case "paymentMethod":
			var v string
			v, err = d.Str()
			req.PaymentMethod = order.PaymentMethod(v)
		case "notes":
			req.Notes, err = optString(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return req, errors.Wrap(errBadBody, err.Error())
	}
	return req, nil
}

func decodeItem(d *jx.Decoder) (order.ItemRequest, error) {
	var it order.ItemRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "dishId":
			it.DishID, err = d.Str()
		case "quantity":
			it.Quantity, err = d.Int()
		case "notes":
			it.Notes, err = optString(d)
		default:
			return d.Skip()
		}
		return err
	})
	return it, err
}

// optString reads a string that may be null.
func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
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
	e.FieldStart("deliveryMethod")
	e.Str(string(o.DeliveryMethod))
	e.FieldStart("deliveryAddress")
	e.Str(o.DeliveryAddress)
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	e.FieldStart("subtotal")
	encodeMoney(e, o.Subtotal)
	e.FieldStart("platformFee")
	encodeMoney(e, o.PlatformFee)
	e.FieldStart("total")
	encodeMoney(e, o.Total)
	e.FieldStart("notes")
	e.Str(o.Notes)
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339))

	e.FieldStart("client")
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.Client.ID)
	e.FieldStart("name")
	e.Str(o.Client.Name)
	e.FieldStart("phone")
	e.Str(o.Client.Phone)
	e.ObjEnd()

	e.FieldStart("chef")
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.Chef.ID)
	e.FieldStart("name")
	e.Str(o.Chef.Name)
	e.FieldStart("totalOrders")
	e.Int(o.Chef.TotalOrders)
	e.ObjEnd()

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID)
		e.FieldStart("dishId")
		e.Str(it.DishID)
		e.FieldStart("dishName")
		e.Str(it.DishName)
		e.FieldStart("chefId")
		e.Str(it.ChefID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		encodeMoney(e, it.Price)
		e.FieldStart("subtotal")
		encodeMoney(e, it.Subtotal)
		e.FieldStart("notes")
		e.Str(it.Notes)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// encodeMoney writes an amount as a JSON number with two decimals.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}
