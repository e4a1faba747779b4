package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/unrolled/secure"

	"github.com/ariefcatur/go-retail-checkout/internal/cart"
	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/logging"
	"github.com/ariefcatur/go-retail-checkout/internal/notify"
	"github.com/ariefcatur/go-retail-checkout/internal/orders"
	"github.com/ariefcatur/go-retail-checkout/internal/reports"
	"github.com/ariefcatur/go-retail-checkout/internal/sales"
)

const HeaderCustomer = "X-Customer-Id"

var validate = validator.New()

type Catalog interface {
	Create(ctx context.Context, in catalog.NewProduct) (catalog.Product, error)
	Get(ctx context.Context, id string) (catalog.Product, error)
	List(ctx context.Context, category string) ([]catalog.Product, error)
	Categories(ctx context.Context) ([]string, error)
	Update(ctx context.Context, id string, p catalog.Patch) (catalog.Product, error)
	Delete(ctx context.Context, id string) error
	AddStock(ctx context.Context, id string, qty int) (catalog.Product, error)
}

type ProductFeed interface {
	Announce(ctx context.Context, c catalog.Change)
	Subscribe(ctx context.Context) (<-chan catalog.Change, error)
}

type CartService interface {
	Cart(ctx context.Context, customer string) ([]cart.Item, error)
	AddToCart(ctx context.Context, customer, productID string, qty int) ([]cart.Item, error)
	RemoveFromCart(ctx context.Context, customer, productID string) ([]cart.Item, error)
	Resync(ctx context.Context, customer string) ([]cart.Item, error)
	Checkout(ctx context.Context, customer string, in cart.CheckoutInput) (cart.CheckoutResult, error)
	Draft(ctx context.Context, customer string) (cart.Draft, error)
	SaveDraft(ctx context.Context, customer string, d cart.Draft) error
	SetOrderStatus(ctx context.Context, orderID string, to orders.Status) (orders.Order, error)
	CancelOrder(ctx context.Context, orderID string) (orders.Order, error)
}

type OrderReader interface {
	Get(ctx context.Context, id string) (orders.Order, error)
	GetStatus(ctx context.Context, id string) (orders.Status, error)
	List(ctx context.Context, limit, offset int) ([]orders.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]orders.Order, error)
}

type SalesBook interface {
	RecordManual(ctx context.Context, productID string, qty int) (sales.Record, catalog.Product, error)
	Void(ctx context.Context, id string) (sales.Record, *catalog.Product, error)
	Recent(ctx context.Context, limit int) ([]sales.Record, error)
}

type Reports interface {
	Summary(ctx context.Context, from, to time.Time) (reports.Summary, error)
	Dashboard(ctx context.Context) (reports.Dashboard, error)
}

type Notices interface {
	List(ctx context.Context, unreadOnly bool, limit int) ([]notify.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) (int64, error)
}

type Deps struct {
	Log            *slog.Logger
	Metrics        *Metrics
	Catalog        Catalog
	Feed           ProductFeed
	Cart           CartService
	Orders         OrderReader
	Sales          SalesBook
	Reports        Reports
	Notices        Notices
	Redis          redis.Cmdable
	Timeout        time.Duration
	CheckoutPerMin int
}

func NewRouter(d Deps) *chi.Mux {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
	if d.Timeout <= 0 {
		d.Timeout = 15 * time.Second
	}

	sec := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(sec.Handler, d.Metrics.Middleware, requestLogger(d.Log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	ph := &productsHandler{catalog: d.Catalog, feed: d.Feed}
	// streams live past the request timeout
	r.Get("/products/stream", ph.stream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(d.Timeout))
		ph.register(r)
		(&cartHandler{cart: d.Cart, metrics: d.Metrics, perMin: d.CheckoutPerMin}).register(r)
		(&ordersHandler{orders: d.Orders, cart: d.Cart, redis: d.Redis}).register(r)
		(&salesHandler{sales: d.Sales, feed: d.Feed}).register(r)
		(&reportsHandler{reports: d.Reports}).register(r)
		(&noticesHandler{notices: d.Notices}).register(r)
	})
	return r
}

func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := base.With("request_id", middleware.GetReqID(r.Context()))
			next.ServeHTTP(w, r.WithContext(logging.WithCtx(r.Context(), l)))
		})
	}
}

type customerKey struct{}

// requireCustomer reads the shopper id from X-Customer-Id.
func requireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderCustomer))
		if id == "" {
			badRequest(w, "missing "+HeaderCustomer+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), customerKey{}, id)))
	})
}

func customerFrom(ctx context.Context) string {
	id, _ := ctx.Value(customerKey{}).(string)
	return id
}

func customerRateKey(r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.Header.Get(HeaderCustomer)); id != "" {
		return "customer:" + id, nil
	}
	return httprate.KeyByIP(r)
}
