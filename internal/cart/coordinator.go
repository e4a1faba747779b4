// Package cart reserves stock for shoppers, turns a cart into an order and
// reverses orders back onto the shelf.
//
// Stock is taken when an item goes into the cart, never at checkout. Every unit
// taken is held by exactly one cart item, order line or manual sale and is put
// back exactly once when that holder goes away.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	kafkax "github.com/ariefcatur/go-retail-checkout/internal/kafka"
	"github.com/ariefcatur/go-retail-checkout/internal/orders"
)

type Stock interface {
	Get(ctx context.Context, id string) (catalog.Product, error)
	Reserve(ctx context.Context, id string, qty, held int) (catalog.Product, error)
	Release(ctx context.Context, id string, qty int) (catalog.Product, error)
}

type Orders interface {
	Place(ctx context.Context, in orders.NewOrder) (orders.Order, bool, error)
	Get(ctx context.Context, id string) (orders.Order, error)
	SetStatus(ctx context.Context, id string, to orders.Status) (orders.Order, orders.Status, orders.Restock, error)
	Cancel(ctx context.Context, id string) (orders.Order, orders.Restock, error)
}

type Store interface {
	Load(ctx context.Context, customer string) ([]Item, error)
	Save(ctx context.Context, customer string, items []Item) error
	Clear(ctx context.Context, customer string) error
	Lock(ctx context.Context, customer string) (func(), error)
	Idle(ctx context.Context, before time.Time, limit int) ([]string, error)
	Touched(ctx context.Context, customer string) (time.Time, bool, error)
	LoadDraft(ctx context.Context, customer string) (Draft, error)
	SaveDraft(ctx context.Context, customer string, d Draft) error
	RememberOrder(ctx context.Context, key, orderID string) error
	RecallOrder(ctx context.Context, key string) (string, bool, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Announcer interface {
	Announce(ctx context.Context, c catalog.Change)
}

// Publishers routes order events to their topics. Nil entries are skipped.
type Publishers struct {
	Created       Publisher
	StatusChanged Publisher
	Deleted       Publisher
}

type Coordinator struct {
	stock    Stock
	orders   Orders
	store    Store
	feed     Announcer
	pub      Publishers
	log      *slog.Logger
	validate *validator.Validate
	service  string
	now      func() time.Time
}

type Options struct {
	Stock       Stock
	Orders      Orders
	Store       Store
	Feed        Announcer
	Publishers  Publishers
	Logger      *slog.Logger
	ServiceName string
}

func NewCoordinator(o Options) *Coordinator {
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		stock:    o.Stock,
		orders:   o.Orders,
		store:    o.Store,
		feed:     o.Feed,
		pub:      o.Publishers,
		log:      log.With("component", "cart"),
		validate: validator.New(),
		service:  o.ServiceName,
		now:      time.Now,
	}
}

// CheckoutResult is the placed order; Existed is set when the idempotency key
// had already produced it.
type CheckoutResult struct {
	Order   orders.Order `json:"order"`
	Existed bool         `json:"idempotent"`
}

func (c *Coordinator) Cart(ctx context.Context, customer string) ([]Item, error) {
	return c.store.Load(ctx, customer)
}

// AddToCart reserves qty more units of a product for the customer. The stock
// guard covers what the cart already holds: held+qty must fit in on-hand.
func (c *Coordinator) AddToCart(ctx context.Context, customer, productID string, qty int) ([]Item, error) {
	if qty <= 0 {
		return nil, invalid("quantity", "must be greater than zero")
	}
	unlock, err := c.store.Lock(ctx, customer)
	if err != nil {
		return nil, &WriteError{Op: "lock cart", Err: err}
	}
	defer unlock()

	items, err := c.store.Load(ctx, customer)
	if err != nil {
		return nil, &WriteError{Op: "load cart", Err: err}
	}
	idx := find(items, productID)
	held := 0
	if idx >= 0 {
		held = items[idx].Quantity
	}

	p, err := c.stock.Reserve(ctx, productID, qty, held)
	if err != nil {
		var ise *catalog.InsufficientStockError
		if errors.As(err, &ise) || errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
		c.log.Error("reserve stock", slog.String("product_id", productID), slog.Any("error", err))
		return nil, &WriteError{Op: "reserve stock", Err: err}
	}

	if idx >= 0 {
		items[idx].Quantity += qty
	} else {
		items = append(items, itemFrom(p, qty, c.now().UTC()))
	}
	if err := c.store.Save(ctx, customer, items); err != nil {
		c.log.Error("save cart", slog.String("customer", customer), slog.Any("error", err))
		if rp, rerr := c.stock.Release(ctx, productID, qty); rerr != nil {
			c.log.Error("compensate reservation", slog.String("product_id", productID), slog.Int("qty", qty), slog.Any("error", rerr))
		} else {
			p = rp
		}
		c.announce(ctx, p)
		return nil, &WriteError{Op: "save cart", Err: err}
	}
	c.announce(ctx, p)
	return items, nil
}

// RemoveFromCart drops the item and puts its units back. Missing items are a no-op.
func (c *Coordinator) RemoveFromCart(ctx context.Context, customer, productID string) ([]Item, error) {
	unlock, err := c.store.Lock(ctx, customer)
	if err != nil {
		return nil, &WriteError{Op: "lock cart", Err: err}
	}
	defer unlock()

	items, err := c.store.Load(ctx, customer)
	if err != nil {
		return nil, &WriteError{Op: "load cart", Err: err}
	}
	idx := find(items, productID)
	if idx < 0 {
		return items, nil
	}
	item := items[idx]
	rest := append(append([]Item{}, items[:idx]...), items[idx+1:]...)
	if err := c.store.Save(ctx, customer, rest); err != nil {
		return nil, &WriteError{Op: "save cart", Err: err}
	}

	p, err := c.stock.Release(ctx, productID, item.Quantity)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		// product deleted meanwhile; nothing to put back
	case err != nil:
		c.log.Error("release stock", slog.String("product_id", productID), slog.Any("error", err))
		if serr := c.store.Save(ctx, customer, items); serr != nil {
			c.log.Error("restore cart", slog.String("customer", customer), slog.Any("error", serr))
		}
		return nil, &WriteError{Op: "release stock", Err: err}
	default:
		c.announce(ctx, p)
	}
	return rest, nil
}

// Resync reconciles the cached cart with authoritative stock: items whose
// product is gone are dropped, and reservations above current on-hand are capped
// with the trimmed units released.
//
// On-hand already excludes the units this cart holds, so the cap is strict: a
// cart holding more than what is left on the shelf is trimmed down to that
// amount. With 5 in stock and 3 in the cart (2 left), Resync leaves 2.
func (c *Coordinator) Resync(ctx context.Context, customer string) ([]Item, error) {
	unlock, err := c.store.Lock(ctx, customer)
	if err != nil {
		return nil, &WriteError{Op: "lock cart", Err: err}
	}
	defer unlock()

	items, err := c.store.Load(ctx, customer)
	if err != nil {
		return nil, &WriteError{Op: "load cart", Err: err}
	}
	kept := make([]Item, 0, len(items))
	changed := false
	for _, it := range items {
		p, err := c.stock.Get(ctx, it.ProductID)
		if errors.Is(err, catalog.ErrNotFound) {
			changed = true
			continue
		}
		if err != nil {
			return nil, &WriteError{Op: "read product", Err: err}
		}
		if it.Quantity > p.Quantity {
			excess := it.Quantity - p.Quantity
			rp, err := c.stock.Release(ctx, it.ProductID, excess)
			if err != nil && !errors.Is(err, catalog.ErrNotFound) {
				c.log.Error("release excess", slog.String("product_id", it.ProductID), slog.Int("qty", excess), slog.Any("error", err))
				kept = append(kept, it)
				continue
			}
			if err == nil {
				c.announce(ctx, rp)
			}
			it.Quantity = p.Quantity
			changed = true
		}
		if it.Quantity > 0 {
			kept = append(kept, it)
		}
	}
	if !changed {
		return items, nil
	}
	if err := c.store.Save(ctx, customer, kept); err != nil {
		return nil, &WriteError{Op: "save cart", Err: err}
	}
	return kept, nil
}

// ValidateCheckout normalises in and checks it; it never touches the store.
func (c *Coordinator) ValidateCheckout(in *CheckoutInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.Payment = strings.ToLower(strings.TrimSpace(in.Payment))
	if in.Payment == "" {
		in.Payment = string(orders.PaymentCash)
	}

	verr := &ValidationError{Fields: map[string]string{}}
	if err := c.validate.Struct(in); err != nil {
		var fe validator.ValidationErrors
		if !errors.As(err, &fe) {
			return err
		}
		for _, f := range fe {
			verr.Fields[strings.ToLower(f.Field())] = "failed " + f.Tag()
		}
	}
	if _, bad := verr.Fields["phone"]; !bad && len(PhoneDigits(in.Phone)) < 10 {
		verr.Fields["phone"] = "needs at least 10 digits including area code"
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Checkout turns the cart into one order plus one sale record per line, all in
// one transaction. The cart survives any failure. A repeated idempotency key
// returns the order it produced the first time.
func (c *Coordinator) Checkout(ctx context.Context, customer string, in CheckoutInput) (CheckoutResult, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	scoped := customer + ":" + key

	if o, ok := c.recall(ctx, scoped); ok {
		return CheckoutResult{Order: o, Existed: true}, nil
	}

	if err := c.ValidateCheckout(&in); err != nil {
		return CheckoutResult{}, err
	}

	unlock, err := c.store.Lock(ctx, customer)
	if err != nil {
		return CheckoutResult{}, &WriteError{Op: "lock cart", Err: err}
	}
	defer unlock()

	// a checkout with the same key may have finished while we waited for the lock
	if o, ok := c.recall(ctx, scoped); ok {
		return CheckoutResult{Order: o, Existed: true}, nil
	}

	items, err := c.store.Load(ctx, customer)
	if err != nil {
		return CheckoutResult{}, &WriteError{Op: "load cart", Err: err}
	}
	if len(items) == 0 {
		return CheckoutResult{}, invalid("cart", "is empty")
	}

	o, existed, err := c.orders.Place(ctx, orders.NewOrder{
		ExternalID:    scoped,
		CustomerID:    customer,
		CustomerName:  in.Name,
		Phone:         in.Phone,
		Address:       in.Address,
		PaymentMethod: orders.PaymentMethod(in.Payment),
		Items:         orderLines(items),
	})
	if err != nil {
		c.log.Error("place order", slog.String("customer", customer), slog.Any("error", err))
		return CheckoutResult{}, &WriteError{Op: "place order", Err: err}
	}

	if err := c.store.RememberOrder(ctx, scoped, o.ID); err != nil {
		c.log.Warn("remember idempotency key", slog.String("order_id", o.ID), slog.Any("error", err))
	}
	if existed {
		return CheckoutResult{Order: o, Existed: true}, nil
	}
	if err := c.store.Clear(ctx, customer); err != nil {
		// the order holds the stock now; a stale cart must not be checked out again
		c.log.Error("clear cart after checkout", slog.String("customer", customer), slog.String("order_id", o.ID), slog.Any("error", err))
	}
	if err := c.store.SaveDraft(ctx, customer, Draft{Name: in.Name, Phone: in.Phone, Address: in.Address, Payment: in.Payment}); err != nil {
		c.log.Warn("save checkout draft", slog.Any("error", err))
	}

	c.publish(c.pub.Created, orders.EventOrderCreated, o.ID, orders.OrderCreatedPayload{
		OrderID:      o.ID,
		ExternalID:   o.ExternalID,
		CustomerID:   o.CustomerID,
		CustomerName: o.CustomerName,
		Items:        o.Items,
		Total:        o.Total.StringFixed(2),
	})
	c.log.Info("order placed", slog.String("order_id", o.ID), slog.String("customer", customer),
		slog.Int("lines", len(o.Items)), slog.String("total", o.Total.StringFixed(2)))
	return CheckoutResult{Order: o}, nil
}

func (c *Coordinator) recall(ctx context.Context, scoped string) (orders.Order, bool) {
	id, ok, err := c.store.RecallOrder(ctx, scoped)
	if err != nil {
		c.log.Warn("recall idempotency key", slog.Any("error", err))
		return orders.Order{}, false
	}
	if !ok {
		return orders.Order{}, false
	}
	o, err := c.orders.Get(ctx, id)
	if err != nil {
		return orders.Order{}, false
	}
	return o, true
}

// SetOrderStatus applies an admin status change. Cancelling restores stock.
func (c *Coordinator) SetOrderStatus(ctx context.Context, orderID string, to orders.Status) (orders.Order, error) {
	o, from, stock, err := c.orders.SetStatus(ctx, orderID, to)
	if err != nil {
		return orders.Order{}, err
	}
	for _, p := range stock.Products {
		c.announce(ctx, p)
	}
	c.publish(c.pub.StatusChanged, orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID: o.ID, From: from, To: to,
	})
	return o, nil
}

// CancelOrder gives every line's units back to its product, then deletes the order.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID string) (orders.Order, error) {
	o, stock, err := c.orders.Cancel(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return orders.Order{}, err
		}
		c.log.Error("cancel order", slog.String("order_id", orderID), slog.Any("error", err))
		return orders.Order{}, &WriteError{Op: "cancel order", Err: err}
	}
	for _, p := range stock.Products {
		c.announce(ctx, p)
	}
	c.publish(c.pub.Deleted, orders.EventOrderDeleted, o.ID, orders.OrderDeletedPayload{
		OrderID: o.ID, Restored: stock.Items,
	})
	return o, nil
}

func (c *Coordinator) Draft(ctx context.Context, customer string) (Draft, error) {
	return c.store.LoadDraft(ctx, customer)
}

func (c *Coordinator) SaveDraft(ctx context.Context, customer string, d Draft) error {
	return c.store.SaveDraft(ctx, customer, d)
}

func (c *Coordinator) announce(ctx context.Context, p catalog.Product) {
	if c.feed != nil {
		c.feed.Announce(ctx, catalog.Change{Product: p})
	}
}

func (c *Coordinator) publish(p Publisher, eventType, orderID string, payload any) {
	if p == nil {
		return
	}
	ev := orders.NewEnvelope(eventType, c.service, orderID, "", kafkax.MustMarshal(payload))
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
