package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-retail-checkout/internal/cart"
	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
)

type cartHandler struct {
	cart    CartService
	metrics *Metrics
	perMin  int
}

type cartResp struct {
	Items []cart.Item     `json:"items"`
	Total decimal.Decimal `json:"total"`
}

func newCartResp(items []cart.Item) cartResp {
	if items == nil {
		items = []cart.Item{}
	}
	return cartResp{Items: items, Total: cart.Total(items)}
}

func (h *cartHandler) register(r chi.Router) {
	perMin := h.perMin
	if perMin <= 0 {
		perMin = 20
	}
	limiter := httprate.Limit(perMin, time.Minute,
		httprate.WithKeyFuncs(customerRateKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many checkout attempts"})
		}),
	)

	r.Group(func(r chi.Router) {
		r.Use(requireCustomer)
		r.Get("/cart", h.get)
		r.Post("/cart/items", h.add)
		r.Delete("/cart/items/{productID}", h.remove)
		r.Post("/cart/resync", h.resync)
		r.Get("/cart/draft", h.draft)
		r.Put("/cart/draft", h.saveDraft)
		r.With(limiter).Post("/checkout", h.checkout)
	})
}

func (h *cartHandler) get(w http.ResponseWriter, r *http.Request) {
	items, err := h.cart.Cart(r.Context(), customerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResp(items))
}

func (h *cartHandler) add(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id" validate:"required"`
		Quantity  int    `json:"quantity" validate:"gt=0"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(w, err.Error())
		return
	}
	items, err := h.cart.AddToCart(r.Context(), customerFrom(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		var ise *catalog.InsufficientStockError
		if errors.As(err, &ise) && h.metrics != nil {
			h.metrics.reserveRejected.Inc()
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResp(items))
}

func (h *cartHandler) remove(w http.ResponseWriter, r *http.Request) {
	items, err := h.cart.RemoveFromCart(r.Context(), customerFrom(r.Context()), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResp(items))
}

func (h *cartHandler) resync(w http.ResponseWriter, r *http.Request) {
	items, err := h.cart.Resync(r.Context(), customerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResp(items))
}

func (h *cartHandler) draft(w http.ResponseWriter, r *http.Request) {
	d, err := h.cart.Draft(r.Context(), customerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *cartHandler) saveDraft(w http.ResponseWriter, r *http.Request) {
	var d cart.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if err := h.cart.SaveDraft(r.Context(), customerFrom(r.Context()), d); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *cartHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var in cart.CheckoutInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid json")
		return
	}
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")

	res, err := h.cart.Checkout(r.Context(), customerFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Existed {
		writeJSON(w, http.StatusOK, res)
		return
	}
	if h.metrics != nil {
		h.metrics.ordersPlaced.WithLabelValues(string(res.Order.PaymentMethod)).Inc()
	}
	writeJSON(w, http.StatusCreated, res)
}
