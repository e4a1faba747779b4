package httpx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-retail-checkout/internal/catalog"
	"github.com/ariefcatur/go-retail-checkout/internal/logging"
)

type productsHandler struct {
	catalog Catalog
	feed    ProductFeed
}

func (h *productsHandler) register(r chi.Router) {
	r.Get("/products", h.list)
	r.Get("/products/{id}", h.get)
	r.Get("/categories", h.categories)
	r.Post("/products", h.create)
	r.Patch("/products/{id}", h.update)
	r.Delete("/products/{id}", h.delete)
	r.Post("/products/{id}/stock", h.addStock)
}

func (h *productsHandler) list(w http.ResponseWriter, r *http.Request) {
	ps, err := h.catalog.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *productsHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *productsHandler) categories(w http.ResponseWriter, r *http.Request) {
	cs, err := h.catalog.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *productsHandler) create(w http.ResponseWriter, r *http.Request) {
	var in catalog.NewProduct
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if err := validate.Struct(in); err != nil {
		badRequest(w, err.Error())
		return
	}
	p, err := h.catalog.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.announce(r, catalog.Change{Product: p})
	writeJSON(w, http.StatusCreated, p)
}

func (h *productsHandler) update(w http.ResponseWriter, r *http.Request) {
	var patch catalog.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		badRequest(w, "invalid json")
		return
	}
	p, err := h.catalog.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.announce(r, catalog.Change{Product: p})
	writeJSON(w, http.StatusOK, p)
}

func (h *productsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.catalog.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.announce(r, catalog.Change{Product: catalog.Product{ID: id}, Deleted: true})
	w.WriteHeader(http.StatusNoContent)
}

func (h *productsHandler) addStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	p, err := h.catalog.AddStock(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.announce(r, catalog.Change{Product: p})
	writeJSON(w, http.StatusOK, p)
}

func (h *productsHandler) announce(r *http.Request, c catalog.Change) {
	if h.feed != nil {
		h.feed.Announce(r.Context(), c)
	}
}

// stream sends the current catalog as one "snapshot" event, then every change
// as a "product" event, until the client leaves. The feed is subscribed before
// the catalog is read so no change between the two is lost.
func (h *productsHandler) stream(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil || h.catalog == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	changes, err := h.feed.Subscribe(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snapshot, err := h.catalog.List(ctx, r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if snapshot == nil {
		snapshot = []catalog.Product{}
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(snapshot)
	if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", b); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logging.FromCtx(ctx).Warn("stream flush unsupported", slog.Any("error", err))
		return
	}

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, err = fmt.Fprint(w, ": ping\n\n")
		case c, ok := <-changes:
			if !ok {
				return
			}
			b, _ := json.Marshal(c)
			_, err = fmt.Fprintf(w, "event: product\ndata: %s\n\n", b)
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			return
		}
	}
}
