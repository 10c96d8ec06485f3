// Package httpcatalog resolves item prices from a remote catalog service.
//
// The service answers GET {base}/items?ids=a,b,c with a JSON array of
// {"id": "...", "price": 1.23} objects. Unknown ids are omitted.
package httpcatalog

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/orderkeeper/internal/domain/order"
)

var _ order.PriceCatalog = (*Client)(nil)

// Options configures a Client.
type Options struct {
	Timeout    time.Duration
	RetryCount int
	// Transport overrides the base HTTP transport. It is wrapped with
	// otelhttp instrumentation.
	Transport http.RoundTripper
}

// Client is a resty-backed order.PriceCatalog.
type Client struct {
	http *resty.Client
}

// New creates a Client for the catalog at baseURL.
func New(baseURL string, opts Options) *Client {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTransport(otelhttp.NewTransport(transport)).
		SetHeader("Accept", "application/json").
		SetRetryCount(opts.RetryCount).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	return &Client{http: c}
}

// GetPrices fetches current prices for ids.
func (c *Client) GetPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	if len(ids) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(ids, ",")).
		Get("/items")
	if err != nil {
		return nil, &requestError{err: err, transient: true}
	}
	if code := resp.StatusCode(); code != http.StatusOK {
		return nil, &requestError{
			err:       errors.Errorf("catalog responded %d", code),
			transient: code >= http.StatusInternalServerError || code == http.StatusTooManyRequests,
		}
	}

	prices, err := decodePrices(resp.Body())
	if err != nil {
		// Retrying returns the same body.
		return nil, &requestError{err: errors.Wrap(err, "decode catalog response")}
	}
	return prices, nil
}

func decodePrices(body []byte) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	d := jx.DecodeBytes(body)
	err := d.Arr(func(d *jx.Decoder) error {
		var (
			id    string
			price decimal.Decimal
		)
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				v, err := decodeID(d)
				id = v
				return err
			case "price":
				v, err := decodeDecimal(d)
				price = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		if id == "" {
			return errors.New("item without id")
		}
		if price.IsNegative() {
			return errors.Errorf("item %s: negative price %s", id, price)
		}
		prices[id] = price
		return nil
	})
	return prices, err
}

// decodeID accepts ids encoded as strings or integers.
func decodeID(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Number {
		n, err := d.Int64()
		return strconv.FormatInt(n, 10), err
	}
	return d.Str()
}

// decodeDecimal accepts prices encoded as numbers or numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	}
	return decimal.NewFromString(raw)
}

// requestError is a failed catalog call.
type requestError struct {
	err       error
	transient bool
}

func (e *requestError) Error() string   { return "catalog request: " + e.err.Error() }
func (e *requestError) Unwrap() error   { return e.err }
func (e *requestError) Transient() bool { return e.transient }
