package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
)

type salesHandler struct {
	sales SalesBook
	feed  ProductFeed
}

func (h *salesHandler) register(r chi.Router) {
	r.Post("/sales", h.record)
	r.Get("/sales", h.recent)
	r.Delete("/sales/{id}", h.void)
}

func (h *salesHandler) record(w http.ResponseWriter, r *http.Request) {
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
	rec, p, err := h.sales.RecordManual(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.feed != nil {
		h.feed.Announce(r.Context(), catalog.Change{Product: p})
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *salesHandler) recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.sales.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *salesHandler) void(w http.ResponseWriter, r *http.Request) {
	rec, p, err := h.sales.Void(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p != nil && h.feed != nil {
		h.feed.Announce(r.Context(), catalog.Change{Product: *p})
	}
	writeJSON(w, http.StatusOK, rec)
}
