package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentPix  PaymentMethod = "pix"
	PaymentCard PaymentMethod = "card"
)

var ErrNotFound = errors.New("orders: order not found")

type Order struct {
	ID            string          `json:"id"`
	ExternalID    string          `json:"external_id"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	Phone         string          `json:"phone"`
	Address       string          `json:"address"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []Item          `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Status        Status          `json:"status"` // lihat status.go
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Item is a line captured at order time; prices never follow later catalog edits.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// NewOrder is what checkout hands to the repository.
type NewOrder struct {
	ExternalID    string
	CustomerID    string
	CustomerName  string
	Phone         string
	Address       string
	PaymentMethod PaymentMethod
	Items         []Item
}

func Total(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}
