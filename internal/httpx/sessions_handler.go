package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
	"github.com/ariefcatur/go-qr-orders/internal/session"
)

type PaidLister interface {
	ListPaidForSession(ctx context.Context, q orders.PaidQuery) ([]orders.Order, error)
}

type SessionsHandler struct {
	Store PaidLister
	Log   *logger.Logger
	Now   func() time.Time
	// SecureCookie marks the session cookie https-only.
	SecureCookie bool
}

const (
	defaultPaidLookback = 10 * time.Minute
	maxPaidResults      = 20
)

func (h *SessionsHandler) Register(r chi.Router) {
	r.Get("/sessions/current", h.current)
	r.Get("/sessions/{sid}/paid-orders", h.paidOrders)
}

func (h *SessionsHandler) current(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"session_id": session.GetOrCreate(w, r, h.SecureCookie)})
}

// paidOrders replaces a realtime subscription: the client polls for orders of
// its own session that became paid since a point in time.
func (h *SessionsHandler) paidOrders(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	if !session.Valid(sid) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}
	q := r.URL.Query()
	pq := orders.PaidQuery{
		ClientSessionID: sid,
		RestaurantID:    q.Get("restaurant_id"),
		TableID:         q.Get("table_id"),
		Limit:           1,
	}
	if pq.RestaurantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "restaurant_id is required"})
		return
	}
	pq.Takeaway, _ = strconv.ParseBool(q.Get("takeaway"))

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	pq.Since = now().Add(-defaultPaidLookback)
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		pq.Since = t
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		pq.Limit = min(l, maxPaidResults)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	list, err := h.Store.ListPaidForSession(ctx, pq)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	// the query already filters by session; this guards the response itself
	out := make([]OrderView, 0, len(list))
	for _, o := range session.Filter(list, sid) {
		out = append(out, viewOf(&o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}
