package cart

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/orders"
)

// Item is a shopper's reservation of Quantity units, carrying the product as it
// looked when first added.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Unit      string          `json:"unit"`
	CostPrice decimal.Decimal `json:"cost_price"`
	SalePrice decimal.Decimal `json:"sale_price"`
	ImageRef  string          `json:"image_ref,omitempty"`
	Quantity  int             `json:"quantity"`
	AddedAt   time.Time       `json:"added_at"`
}

func itemFrom(p catalog.Product, qty int, at time.Time) Item {
	return Item{
		ProductID: p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Unit:      p.Unit,
		CostPrice: p.CostPrice,
		SalePrice: p.SalePrice,
		ImageRef:  p.ImageRef,
		Quantity:  qty,
		AddedAt:   at,
	}
}

func find(items []Item, productID string) int {
	for i := range items {
		if items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Total is Σ sale price × quantity.
func Total(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.SalePrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

func orderLines(items []Item) []orders.Item {
	out := make([]orders.Item, 0, len(items))
	for _, it := range items {
		out = append(out, orders.Item{
			ProductID: it.ProductID,
			Name:      it.Name,
			Unit:      it.Unit,
			Quantity:  it.Quantity,
			UnitPrice: it.SalePrice,
			UnitCost:  it.CostPrice,
		})
	}
	return out
}

// Draft holds checkout form fields between visits.
type Draft struct {
	Name    string `json:"name" redis:"name"`
	Phone   string `json:"phone" redis:"phone"`
	Address string `json:"address" redis:"address"`
	Payment string `json:"payment" redis:"payment"`
}

// CheckoutInput is what the shopper submits.
type CheckoutInput struct {
	Name           string `json:"name" validate:"required"`
	Phone          string `json:"phone" validate:"required"`
	Address        string `json:"address" validate:"required"`
	Payment        string `json:"payment" validate:"required,oneof=cash pix card"`
	IdempotencyKey string `json:"-"`
}

var nonDigits = regexp.MustCompile(`\D`)

// PhoneDigits strips everything but digits.
func PhoneDigits(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

// ValidationError lists rejected fields with a reason each.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "cart: invalid input: " + strings.Join(parts, "; ")
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// WriteError wraps a failed store call. Steps that completed before it are not
// undone unless the operation says otherwise.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("cart: %s: %v", e.Op, e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }
