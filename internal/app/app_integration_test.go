//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/orderkeeper/internal/domain/product"
)

var (
	baseURL string
	testApp *deps
)

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

// Response types are local so the tests only see the wire format.

type orderResponse struct {
	Order struct {
		ID        int64  `json:"id"`
		UserID    string `json:"user_id"`
		CreatedAt string `json:"created_at"`
	} `json:"order"`
	Items []struct {
		ItemID          string `json:"item_id"`
		Quantity        int    `json:"quantity"`
		PriceAtPurchase json.Number `json:"price_at_purchase"`
	} `json:"items"`
	Total json.Number `json:"total"`
}

type cleanupResponse struct {
	Message  string `json:"message"`
	Archived int    `json:"archived"`
	Buckets  []struct {
		Week       string      `json:"week"`
		Total      json.Number `json:"total"`
		OrderCount int         `json:"order_count"`
	} `json:"buckets"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx,
		"postgres:18-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("orders"),
		tcpostgres.WithPassword("orders"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}

	cfg := &Config{
		Addr:        defaultAddr,
		DatabaseURL: dsn,
		Migrate:     true,
		Archive:     ArchiveConfig{Retention: 7 * 24 * time.Hour, Bucket: "week"},
		Kafka:       KafkaConfig{Topic: "orders"},
		CORS:        CORSConfig{Origins: []string{"*"}},
	}

	srvCtx, stop := context.WithCancel(zctx.Base(context.Background(), zap.NewNop()))
	defer stop()

	testApp, err = newDeps(srvCtx, zap.NewNop(), noopTelemetry{}, cfg)
	if err != nil {
		log.Fatalf("deps: %v", err)
	}
	defer testApp.Close(zap.NewNop())

	items := []product.Product{
		{ID: "item-1", Name: "Waffle", Price: decimal.RequireFromString("6.50")},
		{ID: "item-2", Name: "Brûlée", Price: decimal.RequireFromString("7.00")},
	}
	for _, p := range items {
		if err := testApp.products.Upsert(ctx, p); err != nil {
			log.Fatalf("seed %s: %v", p.ID, err)
		}
	}

	srv := httptest.NewServer(newAPIHandler(srvCtx, cfg, testApp, noopTelemetry{}))
	defer srv.Close()
	baseURL = srv.URL

	return m.Run()
}

func post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(baseURL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(baseURL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(&v))
	return v
}

func createOrder(t *testing.T) orderResponse {
	t.Helper()
	resp := post(t, "/create_order", `{
		"user_id": "u-1",
		"recipient_name": "Ada",
		"shipping_address": "1 Analytical Way",
		"items": [
			{"item_id": "item-1", "quantity": 2},
			{"item_id": "item-2", "quantity": 1},
			{"item_id": "ghost", "quantity": 3}
		]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeJSON[orderResponse](t, resp)
}

func TestCreateOrder(t *testing.T) {
	res := createOrder(t)

	assert.NotZero(t, res.Order.ID)
	assert.Equal(t, "u-1", res.Order.UserID)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "6.50", res.Items[0].PriceAtPurchase.String())
	assert.Equal(t, "0.00", res.Items[2].PriceAtPurchase.String())
	assert.Equal(t, "20.00", res.Total.String())

	got := decodeJSON[orderResponse](t, get(t, "/orders/"+strconv.FormatInt(res.Order.ID, 10)))
	assert.Equal(t, res.Order.ID, got.Order.ID)
	assert.Equal(t, "20.00", got.Total.String())
}

func TestCreateOrder_Validation(t *testing.T) {
	resp := post(t, "/create_order", `{"user_id": "u-1"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields", decodeJSON[errorResponse](t, resp).Error)

	resp = post(t, "/create_order", `{not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, "/create_order", `{
		"user_id": "u-1",
		"recipient_name": "Ada",
		"shipping_address": "1 Analytical Way",
		"items": [{"item_id": "item-1", "quantity": 3000000000}]
	}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeJSON[errorResponse](t, resp).Error, "items[0].quantity")
}

func TestCleanupOrders(t *testing.T) {
	old := createOrder(t)
	recent := createOrder(t)

	_, err := testApp.pool.Exec(context.Background(),
		`UPDATE orders SET created_at = now() - interval '30 days' WHERE id = $1`, old.Order.ID)
	require.NoError(t, err)

	resp := post(t, "/cleanup_orders", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeJSON[cleanupResponse](t, resp)
	assert.GreaterOrEqual(t, res.Archived, 1)
	assert.Contains(t, res.Message, "old orders")
	require.NotEmpty(t, res.Buckets)

	assert.Equal(t, http.StatusNotFound,
		get(t, "/orders/"+strconv.FormatInt(old.Order.ID, 10)).StatusCode)
	assert.Equal(t, http.StatusOK,
		get(t, "/orders/"+strconv.FormatInt(recent.Order.ID, 10)).StatusCode)

	resp = post(t, "/cleanup_orders", ``)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decodeJSON[cleanupResponse](t, resp)
	assert.Zero(t, res.Archived)
	assert.Equal(t, "No old orders to clean", res.Message)
}

func TestListItems(t *testing.T) {
	resp := get(t, "/items?ids=item-1,missing")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "item-1", items[0]["id"])
}

func TestMethodNotAllowed(t *testing.T) {
	resp := get(t, "/create_order")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Allow"), http.MethodPost)
}
