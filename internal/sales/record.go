package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("sales: record not found")
	ErrOrderSale     = errors.New("sales: record belongs to an order; cancel the order instead")
	ErrInvalidPeriod = errors.New("sales: period start is after its end")
)

// Record is one sold line. Rows are written once and never updated.
type Record struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	OrderID   string          `json:"order_id,omitempty"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	SoldAt    time.Time       `json:"sold_at"`
}

func (r Record) Revenue() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

func (r Record) Cost() decimal.Decimal {
	return r.UnitCost.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

func (r Record) Margin() decimal.Decimal {
	return r.Revenue().Sub(r.Cost())
}
