package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-faster/jx"

	"github.com/xenking/orderkeeper/pkg/httpmiddleware"
)

// CreateOrder handles POST /create_order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	ctx := r.Context()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Request body too large or unreadable")
		return
	}
	body, err := decodeCreateOrder(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !body.complete() {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	res, err := h.orders.CreateOrder(ctx, body.CreateOrderRequest)
	if err != nil {
		handleError(ctx, w, "Create order", err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOrderResult(e, res)
	httpmiddleware.WriteJSON(w, http.StatusOK, e.Bytes())
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	res, err := h.orders.Get(r.Context(), id)
	if err != nil {
		handleError(r.Context(), w, "Get order", err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeOrderResult(e, res)
	httpmiddleware.WriteJSON(w, http.StatusOK, e.Bytes())
}
