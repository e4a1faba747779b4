package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

type reportsHandler struct {
	reports Reports
}

func (h *reportsHandler) register(r chi.Router) {
	r.Get("/reports/summary", h.summary)
	r.Get("/reports/dashboard", h.dashboard)
}

// parseBound accepts RFC 3339 or a plain date. A plain upper bound covers the whole day.
func parseBound(s string, upper bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (h *reportsHandler) summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseBound(q.Get("from"), false)
	if err != nil {
		badRequest(w, "invalid from")
		return
	}
	to, err := parseBound(q.Get("to"), true)
	if err != nil {
		badRequest(w, "invalid to")
		return
	}
	s, err := h.reports.Summary(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *reportsHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.reports.Dashboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type noticesHandler struct {
	notices Notices
}

func (h *noticesHandler) register(r chi.Router) {
	r.Get("/notifications", h.list)
	r.Post("/notifications/{id}/read", h.markRead)
	r.Post("/notifications/read", h.markAll)
}

func (h *noticesHandler) list(w http.ResponseWriter, r *http.Request) {
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.notices.List(r.Context(), unread, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *noticesHandler) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notices.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *noticesHandler) markAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.notices.MarkAllRead(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
