package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-retail-checkout/internal/cart"
	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/logging"
	"github.com/ariefcatur/go-retail-checkout/internal/orders"
	"github.com/ariefcatur/go-retail-checkout/internal/redisx"
	"github.com/ariefcatur/go-retail-checkout/internal/reports"
	"github.com/ariefcatur/go-retail-checkout/internal/sales"
)

type fakeCart struct {
	mu        sync.Mutex
	items     map[string][]cart.Item
	addErr    error
	checkouts map[string]cart.CheckoutResult
	status    map[string]orders.Status
	cancelled []string
}

func newFakeCart() *fakeCart {
	return &fakeCart{
		items:     map[string][]cart.Item{},
		checkouts: map[string]cart.CheckoutResult{},
		status:    map[string]orders.Status{"o-1": orders.StatusPending},
	}
}

func (f *fakeCart) Cart(_ context.Context, c string) ([]cart.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[c], nil
}

func (f *fakeCart) AddToCart(_ context.Context, c, id string, qty int) ([]cart.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.items[c] = append(f.items[c], cart.Item{ProductID: id, Quantity: qty, SalePrice: decimal.NewFromInt(2)})
	return f.items[c], nil
}

func (f *fakeCart) RemoveFromCart(_ context.Context, c, _ string) ([]cart.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, c)
	return nil, nil
}

func (f *fakeCart) Resync(ctx context.Context, c string) ([]cart.Item, error) { return f.Cart(ctx, c) }

func (f *fakeCart) Checkout(_ context.Context, c string, in cart.CheckoutInput) (cart.CheckoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items[c]) == 0 {
		return cart.CheckoutResult{}, &cart.ValidationError{Fields: map[string]string{"cart": "is empty"}}
	}
	if res, ok := f.checkouts[in.IdempotencyKey]; ok {
		res.Existed = true
		return res, nil
	}
	res := cart.CheckoutResult{Order: orders.Order{ID: "o-" + in.IdempotencyKey, PaymentMethod: orders.PaymentMethod(in.Payment)}}
	f.checkouts[in.IdempotencyKey] = res
	return res, nil
}

func (f *fakeCart) Draft(context.Context, string) (cart.Draft, error) { return cart.Draft{Name: "Ana"}, nil }

func (f *fakeCart) SaveDraft(context.Context, string, cart.Draft) error { return nil }

func (f *fakeCart) SetOrderStatus(_ context.Context, id string, to orders.Status) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from, ok := f.status[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	if !orders.CanTransition(from, to) {
		return orders.Order{}, orders.ErrInvalidTransition
	}
	f.status[id] = to
	return orders.Order{ID: id, Status: to}, nil
}

func (f *fakeCart) CancelOrder(_ context.Context, id string) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.status[id]; !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	delete(f.status, id)
	f.cancelled = append(f.cancelled, id)
	return orders.Order{ID: id}, nil
}

type fakeOrders struct {
	lookups int
}

func (f *fakeOrders) Get(_ context.Context, id string) (orders.Order, error) {
	if id != "o-1" {
		return orders.Order{}, orders.ErrNotFound
	}
	return orders.Order{ID: id, Status: orders.StatusPending}, nil
}

func (f *fakeOrders) GetStatus(_ context.Context, id string) (orders.Status, error) {
	f.lookups++
	if id != "o-1" {
		return "", orders.ErrNotFound
	}
	return orders.StatusPending, nil
}

func (f *fakeOrders) List(context.Context, int, int) ([]orders.Order, error) { return []orders.Order{}, nil }

func (f *fakeOrders) ListByCustomer(_ context.Context, c string, _, _ int) ([]orders.Order, error) {
	return []orders.Order{{ID: "o-1", CustomerID: c}}, nil
}

type fakeFeed struct {
	mu        sync.Mutex
	announced []catalog.Change
	ch        chan catalog.Change
}

func (f *fakeFeed) Announce(_ context.Context, c catalog.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, c)
}

func (f *fakeFeed) Subscribe(ctx context.Context) (<-chan catalog.Change, error) { return f.ch, nil }

type fakeCatalog struct{ products []catalog.Product }

func (f *fakeCatalog) Create(_ context.Context, in catalog.NewProduct) (catalog.Product, error) {
	return catalog.Product{ID: "p-new", Name: in.Name}, nil
}

func (f *fakeCatalog) Get(_ context.Context, id string) (catalog.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func (f *fakeCatalog) List(context.Context, string) ([]catalog.Product, error) {
	return f.products, nil
}

func (f *fakeCatalog) Categories(context.Context) ([]string, error) { return []string{"grocery"}, nil }

func (f *fakeCatalog) Update(ctx context.Context, id string, _ catalog.Patch) (catalog.Product, error) {
	return f.Get(ctx, id)
}

func (f *fakeCatalog) Delete(context.Context, string) error { return nil }

func (f *fakeCatalog) AddStock(ctx context.Context, id string, qty int) (catalog.Product, error) {
	p, err := f.Get(ctx, id)
	p.Quantity += qty
	return p, err
}

type fakeSales struct{}

func (fakeSales) RecordManual(_ context.Context, id string, qty int) (sales.Record, catalog.Product, error) {
	if qty > 3 {
		return sales.Record{}, catalog.Product{}, &catalog.InsufficientStockError{ProductID: id, Requested: qty, Available: 3}
	}
	return sales.Record{ID: "s-1", ProductID: id, Quantity: qty}, catalog.Product{ID: id, Quantity: 3 - qty}, nil
}

func (fakeSales) Void(_ context.Context, id string) (sales.Record, *catalog.Product, error) {
	if id == "from-order" {
		return sales.Record{}, nil, sales.ErrOrderSale
	}
	return sales.Record{ID: id}, &catalog.Product{ID: "p"}, nil
}

func (fakeSales) Recent(context.Context, int) ([]sales.Record, error) { return []sales.Record{}, nil }

type fakeReports struct{ from, to time.Time }

func (f *fakeReports) Summary(_ context.Context, from, to time.Time) (reports.Summary, error) {
	f.from, f.to = from, to
	return reports.Summarize(nil), nil
}

func (f *fakeReports) Dashboard(context.Context) (reports.Dashboard, error) {
	return reports.Stock(nil, 5), nil
}

type env struct {
	srv     *httptest.Server
	cart    *fakeCart
	catalog *fakeCatalog
	orders  *fakeOrders
	feed    *fakeFeed
	reports *fakeReports
	mr      *miniredis.Miniredis
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	e := &env{
		cart:    newFakeCart(),
		catalog: &fakeCatalog{products: []catalog.Product{{ID: "p-1", Name: "Rice", Quantity: 12}}},
		orders:  &fakeOrders{},
		feed:    &fakeFeed{ch: make(chan catalog.Change, 1)},
		reports: &fakeReports{},
		mr:      mr,
	}
	r := NewRouter(Deps{
		Log:            logging.Discard(),
		Catalog:        e.catalog,
		Cart:           e.cart,
		Orders:         e.orders,
		Feed:           e.feed,
		Sales:          fakeSales{},
		Reports:        e.reports,
		Redis:          rdb,
		CheckoutPerMin: 3,
	})
	e.srv = httptest.NewServer(r)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, customer, body string, hdr ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if customer != "" {
		req.Header.Set(HeaderCustomer, customer)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	e := newEnv(t)
	res, err := http.Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", res.Header.Get("X-Frame-Options"))
}

func TestCartNeedsCustomer(t *testing.T) {
	e := newEnv(t)
	res, body := e.do(t, http.MethodGet, "/cart", "", "")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Contains(t, body["error"], HeaderCustomer)
}

func TestAddToCart(t *testing.T) {
	e := newEnv(t)

	res, body := e.do(t, http.MethodPost, "/cart/items", "c1", `{"product_id":"A","quantity":3}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "6", body["total"])

	res, _ = e.do(t, http.MethodPost, "/cart/items", "c1", `{"product_id":"A","quantity":0}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	e.cart.addErr = &catalog.InsufficientStockError{ProductID: "A", Requested: 9, Available: 2}
	res, body = e.do(t, http.MethodPost, "/cart/items", "c1", `{"product_id":"A","quantity":9}`)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	require.Equal(t, "A", body["product_id"])
	require.EqualValues(t, 2, body["available"])

	e.cart.addErr = &cart.WriteError{Op: "save cart", Err: context.DeadlineExceeded}
	res, _ = e.do(t, http.MethodPost, "/cart/items", "c1", `{"product_id":"A","quantity":1}`)
	require.Equal(t, http.StatusBadGateway, res.StatusCode)

	metrics, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	sc := bufio.NewScanner(metrics.Body)
	found := false
	for sc.Scan() {
		if sc.Text() == "retail_cart_reservations_rejected_total 1" {
			found = true
		}
	}
	require.True(t, found)
}

func TestBusyCartIsConflict(t *testing.T) {
	e := newEnv(t)
	e.cart.addErr = &cart.WriteError{Op: "lock cart", Err: redisx.ErrLocked}

	res, body := e.do(t, http.MethodPost, "/cart/items", "c1", `{"product_id":"A","quantity":1}`)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	require.Equal(t, "1", res.Header.Get("Retry-After"))
	require.Equal(t, "cart is busy, try again", body["error"])
}

func TestCheckoutStatusCodes(t *testing.T) {
	e := newEnv(t)
	form := `{"name":"Ana","phone":"11987654321","address":"Rua A","payment":"cash"}`

	res, body := e.do(t, http.MethodPost, "/checkout", "c1", form, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, map[string]any{"cart": "is empty"}, body["fields"])

	e.do(t, http.MethodPost, "/cart/items", "c1", `{"product_id":"A","quantity":1}`)
	res, body = e.do(t, http.MethodPost, "/checkout", "c1", form, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, false, body["idempotent"])

	res, body = e.do(t, http.MethodPost, "/checkout", "c1", form, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, true, body["idempotent"])

	// fourth attempt inside the minute trips the per-customer limiter
	res, _ = e.do(t, http.MethodPost, "/checkout", "c1", form, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	res, _ = e.do(t, http.MethodPost, "/checkout", "c2", form, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestOrderStatusIsCached(t *testing.T) {
	e := newEnv(t)

	res, body := e.do(t, http.MethodGet, "/orders/o-1/status", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "pending", body["status"])
	require.True(t, e.mr.Exists("order_status:o-1"))

	res, _ = e.do(t, http.MethodGet, "/orders/o-1/status", "", "")
	require.Equal(t, "hit", res.Header.Get("X-Cache"))
	require.Equal(t, 1, e.orders.lookups)

	res, _ = e.do(t, http.MethodGet, "/orders/nope/status", "", "")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestOrderStatusTransitions(t *testing.T) {
	e := newEnv(t)

	res, _ := e.do(t, http.MethodPatch, "/orders/o-1/status", "", `{"status":"shipped"}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body := e.do(t, http.MethodPatch, "/orders/o-1/status", "", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "completed", body["status"])
	cached, err := e.mr.Get("order_status:o-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"completed"}`, cached)

	res, _ = e.do(t, http.MethodPatch, "/orders/o-1/status", "", `{"status":"pending"}`)
	require.Equal(t, http.StatusConflict, res.StatusCode)

	res, _ = e.do(t, http.MethodDelete, "/orders/o-1", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.False(t, e.mr.Exists("order_status:o-1"))
	require.Equal(t, []string{"o-1"}, e.cart.cancelled)

	res, _ = e.do(t, http.MethodDelete, "/orders/o-1", "", "")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestMyOrdersUsesCustomerHeader(t *testing.T) {
	e := newEnv(t)
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/orders/mine", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderCustomer, "c9")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out []orders.Order
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	require.Len(t, out, 1)
	require.Equal(t, "c9", out[0].CustomerID)
}

func TestManualSales(t *testing.T) {
	e := newEnv(t)

	res, body := e.do(t, http.MethodPost, "/sales", "", `{"product_id":"p","quantity":2}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, "s-1", body["id"])

	res, _ = e.do(t, http.MethodPost, "/sales", "", `{"product_id":"p","quantity":5}`)
	require.Equal(t, http.StatusConflict, res.StatusCode)

	res, _ = e.do(t, http.MethodDelete, "/sales/from-order", "", "")
	require.Equal(t, http.StatusConflict, res.StatusCode)

	res, _ = e.do(t, http.MethodDelete, "/sales/s-1", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	e.feed.mu.Lock()
	defer e.feed.mu.Unlock()
	require.Len(t, e.feed.announced, 2)
	assert.Equal(t, 1, e.feed.announced[0].Product.Quantity)
}

func TestReportSummaryBounds(t *testing.T) {
	e := newEnv(t)

	res, _ := e.do(t, http.MethodGet, "/reports/summary?from=2024-03-01&to=2024-03-31", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), e.reports.from)
	require.Equal(t, time.Date(2024, 3, 31, 23, 59, 59, 999999999, time.UTC), e.reports.to)

	res, _ = e.do(t, http.MethodGet, "/reports/summary?from=yesterday", "", "")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

type sseEvent struct{ name, data string }

func nextEvent(t *testing.T, sc *bufio.Scanner) sseEvent {
	t.Helper()
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		case line == "" && ev.data != "":
			return ev
		}
	}
	require.NoError(t, sc.Err())
	t.Fatal("stream ended before an event arrived")
	return ev
}

func TestProductStream(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/products/stream", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))
	sc := bufio.NewScanner(res.Body)

	first := nextEvent(t, sc)
	require.Equal(t, "snapshot", first.name)
	var ps []catalog.Product
	require.NoError(t, json.Unmarshal([]byte(first.data), &ps))
	require.Len(t, ps, 1)
	require.Equal(t, "p-1", ps[0].ID)
	require.Equal(t, 12, ps[0].Quantity)

	e.feed.ch <- catalog.Change{Product: catalog.Product{ID: "p-7", Quantity: 3}}

	next := nextEvent(t, sc)
	require.Equal(t, "product", next.name)
	var c catalog.Change
	require.NoError(t, json.Unmarshal([]byte(next.data), &c))
	require.Equal(t, "p-7", c.Product.ID)
	require.Equal(t, 3, c.Product.Quantity)
}
