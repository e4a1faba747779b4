package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-retail-checkout/internal/cart"
	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/logging"
	"github.com/ariefcatur/go-retail-checkout/internal/notify"
	"github.com/ariefcatur/go-retail-checkout/internal/orders"
	"github.com/ariefcatur/go-retail-checkout/internal/redisx"
	"github.com/ariefcatur/go-retail-checkout/internal/sales"
)

type errorBody struct {
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
	Product string            `json:"product_id,omitempty"`
	Avail   *int              `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as 500 without leaking the cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *cart.ValidationError
		ise  *catalog.InsufficientStockError
		werr *cart.WriteError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: verr.Fields})
	case errors.As(err, &ise):
		avail := ise.Available
		writeJSON(w, http.StatusConflict, errorBody{Error: "insufficient stock", Product: ise.ProductID, Avail: &avail})
	case errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "product not found"})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "order not found"})
	case errors.Is(err, sales.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "sale not found"})
	case errors.Is(err, notify.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "notification not found"})
	case errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, sales.ErrOrderSale):
		writeJSON(w, http.StatusConflict, errorBody{Error: "sale belongs to an order; cancel the order instead"})
	case errors.Is(err, catalog.ErrInvalidQuantity), errors.Is(err, catalog.ErrInvalidPrice), errors.Is(err, sales.ErrInvalidPeriod):
		badRequest(w, err.Error())
	case errors.Is(err, redisx.ErrLocked):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, errorBody{Error: "cart is busy, try again"})
	case errors.As(err, &werr):
		logging.FromCtx(r.Context()).Error("write failed", slog.String("op", werr.Op),
			slog.String("request_id", middleware.GetReqID(r.Context())), slog.Any("error", werr.Err))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "could not save changes, try again"})
	default:
		logging.FromCtx(r.Context()).Error("request failed", slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
