package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderkeeper/internal/domain/archive"
	"github.com/xenking/orderkeeper/internal/domain/fault"
	"github.com/xenking/orderkeeper/internal/domain/order"
	"github.com/xenking/orderkeeper/internal/domain/product"
)

// --- Mock implementations ---

type mockOrders struct {
	lastReq order.CreateOrderRequest
	calls   int
	res     *order.CreateOrderResult
	err     error
}

func (m *mockOrders) CreateOrder(_ context.Context, req order.CreateOrderRequest) (*order.CreateOrderResult, error) {
	m.calls++
	m.lastReq = req
	return m.res, m.err
}

func (m *mockOrders) Get(_ context.Context, id int64) (*order.CreateOrderResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.res == nil || m.res.Order.ID != id {
		return nil, &fault.NotFoundError{Entity: "order", ID: "x"}
	}
	return m.res, nil
}

type mockArchiver struct {
	retention time.Duration
	res       *archive.Result
	err       error
}

func (m *mockArchiver) ArchiveOrdersOlderThan(_ context.Context, retention time.Duration) (*archive.Result, error) {
	m.retention = retention
	return m.res, m.err
}

type mockProducts struct {
	ids      []string
	products []product.Product
	err      error
}

func (m *mockProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	m.ids = ids
	return m.products, m.err
}

// --- Helpers ---

func sampleResult() *order.CreateOrderResult {
	return &order.CreateOrderResult{
		Order: order.Order{
			ID:              7,
			UserID:          "u1",
			RecipientName:   "Ada",
			ShippingAddress: "1 Main St",
			CreatedAt:       time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		},
		Items: []order.Item{
			{ID: 1, OrderID: 7, ItemID: "pen", Quantity: 3, PriceAtPurchase: decimal.RequireFromString("2.5")},
			{ID: 2, OrderID: 7, ItemID: "42", Quantity: 1, PriceAtPurchase: decimal.Zero},
		},
		Total: decimal.RequireFromString("7.5"),
	}
}

type fixture struct {
	orders   *mockOrders
	archiver *mockArchiver
	products *mockProducts
	mux      *http.ServeMux
}

func newFixture() *fixture {
	f := &fixture{
		orders:   &mockOrders{res: sampleResult()},
		archiver: &mockArchiver{res: &archive.Result{Total: decimal.Zero}},
		products: &mockProducts{},
		mux:      http.NewServeMux(),
	}
	New(Config{Retention: 7 * 24 * time.Hour}, f.orders, f.archiver, f.products).Register(f.mux)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func field(t *testing.T, body []byte, name string) string {
	t.Helper()
	var out string
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		raw, err := d.Raw()
		if key == name {
			out = raw.String()
		}
		return err
	})
	require.NoError(t, err)
	return out
}

const validBody = `{
	"user_id": "u1",
	"recipient_name": "Ada",
	"shipping_address": "1 Main St",
	"items": [{"item_id": "pen", "quantity": 3}, {"item_id": 42, "quantity": 1}]
}`

// --- Tests ---

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodPost, "/create_order", validBody)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, []order.LineRequest{{ItemID: "pen", Quantity: 3}, {ItemID: "42", Quantity: 1}}, f.orders.lastReq.Items)
	assert.Equal(t, "u1", f.orders.lastReq.UserID)

	assert.Equal(t, "7.50", field(t, w.Body.Bytes(), "total"))
	assert.JSONEq(t, `{"id":7,"user_id":"u1","recipient_name":"Ada","shipping_address":"1 Main St","created_at":"2024-01-01T09:00:00Z"}`,
		field(t, w.Body.Bytes(), "order"))
	assert.JSONEq(t, `[
		{"id":1,"order_id":7,"item_id":"pen","quantity":3,"price_at_purchase":2.50},
		{"id":2,"order_id":7,"item_id":"42","quantity":1,"price_at_purchase":0.00}
	]`, field(t, w.Body.Bytes(), "items"))
}

func TestCreateOrder_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"malformed json", `{"user_id":`, "Invalid JSON body"},
		{"fractional quantity", `{"user_id":"u","recipient_name":"r","shipping_address":"s","items":[{"item_id":"a","quantity":1.5}]}`, "Invalid JSON body"},
		{"missing user", `{"recipient_name":"r","shipping_address":"s","items":[]}`, "Missing required fields"},
		{"null address", `{"user_id":"u","recipient_name":"r","shipping_address":null,"items":[]}`, "Missing required fields"},
		{"items not array", `{"user_id":"u","recipient_name":"r","shipping_address":"s","items":{}}`, "Missing required fields"},
		{"items missing", `{"user_id":"u","recipient_name":"r","shipping_address":"s"}`, "Missing required fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			w := f.do(http.MethodPost, "/create_order", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, `"`+tt.msg+`"`, field(t, w.Body.Bytes(), "error"))
			assert.Zero(t, f.orders.calls)
		})
	}
}

func TestCreateOrder_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter string
		msg        string
	}{
		{
			name:   "validation",
			err:    order.ErrEmptyItems,
			status: http.StatusBadRequest,
			msg:    "invalid items: at least one item required",
		},
		{
			name:       "transient storage",
			err:        &fault.StorageError{Step: "insert order", Retryable: true, Err: errors.New("conn reset")},
			status:     http.StatusInternalServerError,
			retryAfter: "1",
			msg:        "Internal server error",
		},
		{
			name:   "permanent storage",
			err:    &fault.StorageError{Step: "insert order items", Entity: "order 5", Err: errors.New("pq: secret table detail")},
			status: http.StatusInternalServerError,
			msg:    "Internal server error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.orders.err = tt.err
			w := f.do(http.MethodPost, "/create_order", validBody)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
			assert.Equal(t, `"`+tt.msg+`"`, field(t, w.Body.Bytes(), "error"))
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	tests := []struct {
		method, target, allow string
	}{
		{http.MethodGet, "/create_order", http.MethodPost},
		{http.MethodPut, "/cleanup_orders", http.MethodPost},
		{http.MethodDelete, "/orders/7", http.MethodGet},
		{http.MethodPost, "/items?ids=a", http.MethodGet},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			w := newFixture().do(tt.method, tt.target, "")

			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
			assert.Equal(t, tt.allow, w.Header().Get("Allow"))
			assert.Equal(t, `"Method not allowed"`, field(t, w.Body.Bytes(), "error"))
		})
	}
}

func TestCleanupOrders(t *testing.T) {
	t.Run("nothing to clean", func(t *testing.T) {
		f := newFixture()
		w := f.do(http.MethodPost, "/cleanup_orders", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 7*24*time.Hour, f.archiver.retention)
		assert.JSONEq(t, `{"message":"No old orders to clean","archived":0}`, w.Body.String())
	})
	t.Run("archived", func(t *testing.T) {
		f := newFixture()
		f.archiver.res = &archive.Result{
			RunID:          "run-1",
			Cutoff:         time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC),
			ArchivedOrders: 2,
			Total:          decimal.RequireFromString("50"),
			Totals: []archive.WeeklyTotal{{
				Week:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				Total:      decimal.RequireFromString("50"),
				OrderCount: 2,
			}},
		}
		w := f.do(http.MethodPost, "/cleanup_orders", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{
			"message": "Deleted 2 old orders",
			"archived": 2,
			"run_id": "run-1",
			"cutoff": "2024-01-25T00:00:00Z",
			"total": 50.00,
			"buckets": [{"week": "2024-01-01", "total": 50.00, "order_count": 2}]
		}`, w.Body.String())
	})
	t.Run("in progress", func(t *testing.T) {
		f := newFixture()
		f.archiver.err = archive.ErrArchivalInProgress
		w := f.do(http.MethodPost, "/cleanup_orders", "")

		assert.Equal(t, http.StatusConflict, w.Code)
	})
	t.Run("storage failure", func(t *testing.T) {
		f := newFixture()
		f.archiver.err = &fault.StorageError{Step: "delete orders", Err: errors.New("boom")}
		w := f.do(http.MethodPost, "/cleanup_orders", "")

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, `"Internal server error"`, field(t, w.Body.Bytes(), "error"))
	})
}

func TestGetOrder(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/orders/7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7.50", field(t, w.Body.Bytes(), "total"))

	w = f.do(http.MethodGet, "/orders/8", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListItems(t *testing.T) {
	f := newFixture()
	f.products.products = []product.Product{{ID: "pen", Name: "Pen", Price: decimal.RequireFromString("2.5")}}

	w := f.do(http.MethodGet, "/items?ids=pen,%20ghost,,", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pen", "ghost"}, f.products.ids)
	assert.JSONEq(t, `[{"id":"pen","name":"Pen","price":2.50}]`, w.Body.String())

	w = f.do(http.MethodGet, "/items", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
