package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-retail-checkout/internal/orders"
	"github.com/ariefcatur/go-retail-checkout/internal/redisx"
)

type ordersHandler struct {
	orders OrderReader
	cart   CartService
	redis  redis.Cmdable
}

type statusBody struct {
	Status orders.Status `json:"status"`
}

func (h *ordersHandler) register(r chi.Router) {
	r.Get("/orders", h.list)
	r.With(requireCustomer).Get("/orders/mine", h.mine)
	r.Get("/orders/{id}", h.get)
	r.Get("/orders/{id}/status", h.status)
	r.Patch("/orders/{id}/status", h.setStatus)
	r.Delete("/orders/{id}", h.cancel)
}

func pageParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func (h *ordersHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	out, err := h.orders.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ordersHandler) mine(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	out, err := h.orders.ListByCustomer(r.Context(), customerFrom(r.Context()), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ordersHandler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// status is served from Redis when cached; the database answers otherwise.
func (h *ordersHandler) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	key := fmt.Sprintf(redisx.KeyOrderStatus, id)

	if h.redis != nil {
		if s, err := h.redis.Get(ctx, key).Result(); err == nil && s != "" {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			_, _ = w.Write([]byte(s))
			return
		}
	}

	st, err := h.orders.GetStatus(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, _ := json.Marshal(statusBody{Status: st})
	if h.redis != nil {
		_ = h.redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (h *ordersHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if !req.Status.Valid() {
		badRequest(w, "unknown status "+strconv.Quote(string(req.Status)))
		return
	}
	o, err := h.cart.SetOrderStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.redis != nil {
		b, _ := json.Marshal(statusBody{Status: o.Status})
		_ = h.redis.Set(r.Context(), fmt.Sprintf(redisx.KeyOrderStatus, o.ID), b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, o)
}

// cancel restores the order's stock and deletes it.
func (h *ordersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.cart.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.redis != nil {
		_ = h.redis.Del(r.Context(), fmt.Sprintf(redisx.KeyOrderStatus, o.ID)).Err()
	}
	writeJSON(w, http.StatusOK, o)
}
