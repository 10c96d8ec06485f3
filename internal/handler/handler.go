// Package handler exposes the order services over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/xenking/orderkeeper/internal/domain/archive"
	"github.com/xenking/orderkeeper/internal/domain/order"
	"github.com/xenking/orderkeeper/internal/domain/product"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// OrderService creates and reads orders.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*order.CreateOrderResult, error)
	Get(ctx context.Context, id int64) (*order.CreateOrderResult, error)
}

// ProductLookup reads catalog entries.
type ProductLookup interface {
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

// Config holds non-dependency handler settings.
type Config struct {
	// Retention is the age past which /cleanup_orders archives orders.
	Retention time.Duration
}

// Handler serves the order endpoints.
type Handler struct {
	orders    OrderService
	archiver  archive.Archiver
	products  ProductLookup
	retention time.Duration
}

// New creates a Handler. products may be nil, in which case /items is not
// served.
func New(cfg Config, orders OrderService, archiver archive.Archiver, products ProductLookup) *Handler {
	return &Handler{
		orders:    orders,
		archiver:  archiver,
		products:  products,
		retention: cfg.Retention,
	}
}

// Register adds the handler routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/create_order", h.CreateOrder)
	mux.HandleFunc("/cleanup_orders", h.CleanupOrders)
	mux.HandleFunc("/orders/{id}", h.GetOrder)
	if h.products != nil {
		mux.HandleFunc("/items", h.ListItems)
	}
}

// allowMethod writes a 405 and reports false when r does not use method.
func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}
