package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/mercadopago"
	"github.com/ariefcatur/go-qr-orders/internal/reconcile"
	"github.com/ariefcatur/go-qr-orders/internal/redisx"
)

type Reconciler interface {
	Webhook(ctx context.Context, n mercadopago.Notification) (*reconcile.Outcome, error)
	Confirm(ctx context.Context, in reconcile.ConfirmRequest) (*reconcile.Outcome, error)
	Redirect(ctx context.Context, q url.Values) (*reconcile.Outcome, error)
}

type PaymentsHandler struct {
	Reconciler Reconciler
	Redis      redis.Cmdable
	Log        *logger.Logger
	// WebhookBudget bounds how long a notification is worked on before replying.
	WebhookBudget time.Duration
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments/confirm", h.confirm)
	r.Get("/payments/return", h.redirectReturn)
	r.Post("/webhooks/mercadopago", h.webhook)
}

func (h *PaymentsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req reconcile.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	out, err := h.Reconciler.Confirm(ctx, req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.settled(ctx, out)
	writeJSON(w, http.StatusOK, out)
}

// redirectReturn is the processor back_url. Its status query is only a hint.
func (h *PaymentsHandler) redirectReturn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	out, err := h.Reconciler.Redirect(ctx, r.URL.Query())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.settled(ctx, out)
	writeJSON(w, http.StatusOK, out)
}

// webhook answers 200 for anything that parses; only a malformed body is a 400.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	n, err := mercadopago.ParseNotification(body, r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ack := map[string]bool{"received": true}
	if !n.IsPayment() {
		writeJSON(w, http.StatusOK, ack)
		return
	}

	budget := h.WebhookBudget
	if budget <= 0 {
		budget = 8 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), budget)
	defer cancel()

	log := h.Log.With("payment_id", n.Data.ID.String(), "mp_user_id", n.UserID.String())
	seenKey := redisx.Key(redisx.KeyWebhookPayment, n.Data.ID.String())
	if h.Redis != nil {
		if prev, _ := redisx.GetString(ctx, h.Redis, seenKey); prev != "" {
			log.Info("duplicate notification", "outcome", prev)
			writeJSON(w, http.StatusOK, ack)
			return
		}
	}

	out, err := h.Reconciler.Webhook(ctx, n)
	if err != nil {
		log.Error("webhook resolution failed", "err", err)
		writeJSON(w, http.StatusOK, ack)
		return
	}
	log.Info("webhook resolved", "order_id", out.OrderID, "outcome", string(out.Status))
	if out.Status.Terminal() && h.Redis != nil {
		_ = h.Redis.Set(ctx, seenKey, string(out.Status), redisx.TTLWebhook).Err()
	}
	h.settled(ctx, out)
	writeJSON(w, http.StatusOK, ack)
}

func (h *PaymentsHandler) settled(ctx context.Context, out *reconcile.Outcome) {
	if out.Changed {
		invalidate(ctx, h.Redis, out.OrderID)
	}
}
