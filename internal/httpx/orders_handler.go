package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-qr-orders/internal/checkout"
	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
	"github.com/ariefcatur/go-qr-orders/internal/redisx"
	"github.com/ariefcatur/go-qr-orders/internal/session"
)

const IdempotencyHeader = "Idempotency-Key"

type OrderStore interface {
	CreateOrder(ctx context.Context, in orders.NewOrder, limit orders.Limit) (*orders.Order, error)
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
}

type Limiter interface {
	Check(ctx context.Context, restaurantID, sessionID string) error
	Limit() orders.Limit
}

type CheckoutBuilder interface {
	Create(ctx context.Context, orderID, returnURL string) (*checkout.Session, error)
}

type OrdersHandler struct {
	Store    OrderStore
	Limiter  Limiter
	Checkout CheckoutBuilder
	Redis    redis.Cmdable
	Log      *logger.Logger
	// SecureCookie marks the session cookie https-only.
	SecureCookie bool
}

// OrderView is the public shape of an order; payer and processor ids stay private.
type OrderView struct {
	ID            string          `json:"id"`
	OrderNumber   int             `json:"order_number"`
	RestaurantID  string          `json:"restaurant_id"`
	TableID       string          `json:"table_id,omitempty"`
	PickupCode    string          `json:"pickup_code,omitempty"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	PaymentMethod string          `json:"payment_method"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func viewOf(o *orders.Order) OrderView {
	return OrderView{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		RestaurantID:  o.RestaurantID,
		TableID:       o.TableID,
		PickupCode:    o.PickupCode,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		PaymentMethod: string(o.PaymentMethod),
		TotalAmount:   o.TotalAmount,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

type CreateOrderResp struct {
	Order      OrderView `json:"order"`
	SessionID  string    `json:"session_id"`
	Idempotent bool      `json:"idempotent"`
}

type CheckoutReq struct {
	ReturnURL string `json:"return_url"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/checkout", h.checkout)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.NewOrder
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	in.ClientSessionID = session.GetOrCreate(w, r, h.SecureCookie)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// replayed submit with the same key returns the order it created
	idemKey := ""
	if k := r.Header.Get(IdempotencyHeader); k != "" && h.Redis != nil {
		idemKey = redisx.Key(redisx.KeyIdemOrderCreate, in.ClientSessionID+":"+k)
		if id, _ := redisx.GetString(ctx, h.Redis, idemKey); id != "" {
			if o, err := h.Store.GetOrder(ctx, id); err == nil {
				writeJSON(w, http.StatusOK, CreateOrderResp{Order: viewOf(o), SessionID: in.ClientSessionID, Idempotent: true})
				return
			}
		}
	}

	if err := in.Validate(); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Limiter.Check(ctx, in.RestaurantID, in.ClientSessionID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Store.CreateOrder(ctx, in, h.Limiter.Limit())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if idemKey != "" {
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}
	h.Log.Info("order created", "order_id", o.ID, "restaurant_id", o.RestaurantID, "order_number", o.OrderNumber)
	writeJSON(w, http.StatusCreated, CreateOrderResp{Order: viewOf(o), SessionID: in.ClientSessionID})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	key := redisx.Key(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, _ := redisx.GetString(ctx, h.Redis, key); s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	// 2) ledger
	o, err := h.Store.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	b, _ := json.Marshal(viewOf(o))
	// only paid views are cached: payment status never moves back, so a read
	// racing a reconciliation can not pin a stale unpaid view
	if h.Redis != nil && o.IsPaid() {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, json.RawMessage(b))
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sess, err := h.Checkout.Create(ctx, orderID, req.ReturnURL)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	invalidate(ctx, h.Redis, orderID)
	writeJSON(w, http.StatusOK, sess)
}

// invalidate drops the cached order view after the ledger changed.
func invalidate(ctx context.Context, rdb redis.Cmdable, orderID string) {
	if rdb == nil || orderID == "" {
		return
	}
	_ = rdb.Del(ctx, redisx.Key(redisx.KeyOrderStatus, orderID)).Err()
}
