// Package reports aggregates the sales ledger and the catalog into the numbers
// shown on the admin dashboard.
package reports

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/sales"
)

type SalesSource interface {
	Between(ctx context.Context, from, to time.Time) ([]sales.Record, error)
}

type ProductSource interface {
	List(ctx context.Context, category string) ([]catalog.Product, error)
}

type UnreadCounter interface {
	Unread(ctx context.Context) (int, error)
}

// ProductLine is one row of the sales summary. Rows are keyed by product name
// so a product re-created under the same name reports as one line.
type ProductLine struct {
	Name    string          `json:"name"`
	Unit    string          `json:"unit"`
	Units   int             `json:"units"`
	Revenue decimal.Decimal `json:"revenue"`
	Cost    decimal.Decimal `json:"cost"`
	Margin  decimal.Decimal `json:"margin"`
}

type Summary struct {
	From     time.Time       `json:"from,omitempty"`
	To       time.Time       `json:"to,omitempty"`
	Sales    int             `json:"sales"`
	Units    int             `json:"units"`
	Revenue  decimal.Decimal `json:"revenue"`
	Cost     decimal.Decimal `json:"cost"`
	Margin   decimal.Decimal `json:"margin"`
	Products []ProductLine   `json:"products"`
}

type Dashboard struct {
	Products        int               `json:"products"`
	UnitsOnHand     int               `json:"units_on_hand"`
	InventoryAtCost decimal.Decimal   `json:"inventory_at_cost"`
	InventoryAtSale decimal.Decimal   `json:"inventory_at_sale"`
	LowStock        []catalog.Product `json:"low_stock"`
	Today           Summary           `json:"today"`
	UnreadNotices   int               `json:"unread_notifications"`
}

// Summarize folds ledger rows into totals and per-product lines ordered by
// revenue, highest first.
func Summarize(recs []sales.Record) Summary {
	s := Summary{Revenue: decimal.Zero, Cost: decimal.Zero, Margin: decimal.Zero, Products: []ProductLine{}}
	byName := map[string]*ProductLine{}
	for _, r := range recs {
		s.Sales++
		s.Units += r.Quantity
		s.Revenue = s.Revenue.Add(r.Revenue())
		s.Cost = s.Cost.Add(r.Cost())

		l, ok := byName[r.Name]
		if !ok {
			l = &ProductLine{Name: r.Name, Unit: r.Unit, Revenue: decimal.Zero, Cost: decimal.Zero}
			byName[r.Name] = l
		}
		l.Units += r.Quantity
		l.Revenue = l.Revenue.Add(r.Revenue())
		l.Cost = l.Cost.Add(r.Cost())
	}
	s.Margin = s.Revenue.Sub(s.Cost)
	for _, l := range byName {
		l.Margin = l.Revenue.Sub(l.Cost)
		s.Products = append(s.Products, *l)
	}
	sort.Slice(s.Products, func(i, j int) bool {
		if c := s.Products[i].Revenue.Cmp(s.Products[j].Revenue); c != 0 {
			return c > 0
		}
		return s.Products[i].Name < s.Products[j].Name
	})
	return s
}

// Stock values the shelf. Products at or below lowLevel are listed as low stock.
func Stock(ps []catalog.Product, lowLevel int) Dashboard {
	d := Dashboard{InventoryAtCost: decimal.Zero, InventoryAtSale: decimal.Zero, LowStock: []catalog.Product{}}
	for _, p := range ps {
		d.Products++
		d.UnitsOnHand += p.Quantity
		q := decimal.NewFromInt(int64(p.Quantity))
		d.InventoryAtCost = d.InventoryAtCost.Add(p.CostPrice.Mul(q))
		d.InventoryAtSale = d.InventoryAtSale.Add(p.SalePrice.Mul(q))
		if p.Quantity <= lowLevel {
			d.LowStock = append(d.LowStock, p)
		}
	}
	sort.SliceStable(d.LowStock, func(i, j int) bool { return d.LowStock[i].Quantity < d.LowStock[j].Quantity })
	return d
}

type Service struct {
	Sales    SalesSource
	Products ProductSource
	Notices  UnreadCounter
	LowLevel int
	Now      func() time.Time
}

func (s *Service) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	recs, err := s.Sales.Between(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}
	out := Summarize(recs)
	out.From, out.To = from, to
	return out, nil
}

// Dashboard loads stock, today's sales and the unread count concurrently.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now()
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	var (
		products []catalog.Product
		today    Summary
		unread   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = s.Products.List(gctx, "")
		return err
	})
	g.Go(func() error {
		var err error
		today, err = s.Summary(gctx, dayStart, t)
		return err
	})
	if s.Notices != nil {
		g.Go(func() error {
			var err error
			unread, err = s.Notices.Unread(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	d := Stock(products, s.LowLevel)
	d.Today = today
	d.UnreadNotices = unread
	return d, nil
}
