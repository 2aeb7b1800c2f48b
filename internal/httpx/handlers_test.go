package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-qr-orders/internal/checkout"
	"github.com/ariefcatur/go-qr-orders/internal/limiter"
	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/mercadopago"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
	"github.com/ariefcatur/go-qr-orders/internal/orders/memstore"
	"github.com/ariefcatur/go-qr-orders/internal/reconcile"
	"github.com/ariefcatur/go-qr-orders/internal/session"
)

type fakeCheckout struct {
	mu  sync.Mutex
	err error
}

func (f *fakeCheckout) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCheckout) Create(_ context.Context, orderID, _ string) (*checkout.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &checkout.Session{PreferenceID: "pref-" + orderID, CheckoutURL: "https://mp/checkout"}, nil
}

type fakeReconciler struct {
	mu      sync.Mutex
	calls   atomic.Int32
	outcome *reconcile.Outcome
	err     error
}

func (f *fakeReconciler) set(out *reconcile.Outcome, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcome, f.err = out, err
}

func (f *fakeReconciler) result() (*reconcile.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome, f.err
}

func (f *fakeReconciler) Webhook(context.Context, mercadopago.Notification) (*reconcile.Outcome, error) {
	f.calls.Add(1)
	return f.result()
}

func (f *fakeReconciler) Confirm(_ context.Context, in reconcile.ConfirmRequest) (*reconcile.Outcome, error) {
	f.calls.Add(1)
	if in.OrderID == "" && in.PaymentID == "" {
		return nil, orders.InputError("test", "orderId or paymentId is required")
	}
	return f.result()
}

func (f *fakeReconciler) Redirect(ctx context.Context, q url.Values) (*reconcile.Outcome, error) {
	return f.Confirm(ctx, reconcile.ConfirmRequest{OrderID: q.Get("order_id")})
}

type env struct {
	srv   *httptest.Server
	store *memstore.Store
	rec   *fakeReconciler
	co    *fakeCheckout
	mr    *miniredis.Miniredis
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := memstore.New()
	s.PutRestaurant(orders.Restaurant{ID: "r1", Name: "Cantina", MPAccessToken: "tok"})
	s.PutTable("t1", "r1")
	s.PutMenuItem("r1", orders.CatalogItem{ID: "m1", Name: "Empanada", Price: decimal.NewFromInt(3)})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.Nop()
	e := &env{store: s, rec: &fakeReconciler{}, co: &fakeCheckout{}, mr: mr}
	router := NewRouter(
		&OrdersHandler{Store: s, Limiter: limiter.New(s, 5, time.Hour), Checkout: e.co, Redis: rdb, Log: log},
		&PaymentsHandler{Reconciler: e.rec, Redis: rdb, Log: log},
		&SessionsHandler{Store: s, Log: log},
	)
	e.srv = httptest.NewServer(router)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, sid string, body any, hdr ...string) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if sid != "" {
		req.Header.Set(session.Header, sid)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func cart() map[string]any {
	return map[string]any{
		"restaurant_id":  "r1",
		"table_id":       "t1",
		"payment_method": "mercadopago",
		"total_amount":   "6",
		"items":          []map[string]any{{"menu_item_id": "m1", "quantity": 2}},
	}
}

func TestCreateOrder(t *testing.T) {
	e := newEnv(t)
	sid := session.New()

	resp, body := e.do(t, http.MethodPost, "/orders", sid, cart())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, sid, body["session_id"])
	order := body["order"].(map[string]any)
	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, "unpaid", order["payment_status"])
	assert.Equal(t, float64(1), order["order_number"])
}

func TestCreateOrderIssuesSessionCookie(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/orders", "", cart())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, session.Valid(body["session_id"].(string)))
	require.NotEmpty(t, resp.Cookies())
	assert.Equal(t, session.CookieName, resp.Cookies()[0].Name)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	e := newEnv(t)
	sid := session.New()

	resp, _ := e.do(t, http.MethodPost, "/orders", sid, "{nope")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	c := cart()
	c["items"] = []map[string]any{{"menu_item_id": "ghost", "quantity": 1}}
	resp, body := e.do(t, http.MethodPost, "/orders", sid, c)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "input", body["kind"])

	c = cart()
	c["takeaway"] = true
	resp, _ = e.do(t, http.MethodPost, "/orders", sid, c)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateOrderLimit(t *testing.T) {
	e := newEnv(t)
	sid := session.New()
	for i := 0; i < 5; i++ {
		resp, _ := e.do(t, http.MethodPost, "/orders", sid, cart())
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp, body := e.do(t, http.MethodPost, "/orders", sid, cart())
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "limit_exceeded", body["kind"])

	resp, _ = e.do(t, http.MethodPost, "/orders", session.New(), cart())
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	e := newEnv(t)
	sid := session.New()

	resp, first := e.do(t, http.MethodPost, "/orders", sid, cart(), IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, second := e.do(t, http.MethodPost, "/orders", sid, cart(), IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, second["idempotent"])
	assert.Equal(t, first["order"].(map[string]any)["id"], second["order"].(map[string]any)["id"])
}

func TestGetOrderUsesCache(t *testing.T) {
	e := newEnv(t)
	sid := session.New()
	_, created := e.do(t, http.MethodPost, "/orders", sid, cart())
	id := created["order"].(map[string]any)["id"].(string)

	resp, body := e.do(t, http.MethodGet, "/orders/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])
	_, hasEmail := body["payer_email"]
	assert.False(t, hasEmail)
	// a read racing the paid write must not pin the unpaid view
	assert.False(t, e.mr.Exists("order_status:"+id))

	_, _, err := e.store.MarkPaid(context.Background(), id, orders.PaymentRecord{PaymentID: "p1"})
	require.NoError(t, err)
	resp, body = e.do(t, http.MethodGet, "/orders/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", body["payment_status"])
	assert.True(t, e.mr.Exists("order_status:"+id))

	resp, _ = e.do(t, http.MethodGet, "/orders/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckoutErrorMapping(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/orders/o1/checkout", "", map[string]string{"return_url": "https://x.y"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pref-o1", body["preference_id"])

	e.co.fail(orders.ConfigurationError("test", "no credentials"))
	resp, _ = e.do(t, http.MethodPost, "/orders/o1/checkout", "", map[string]string{"return_url": "https://x.y"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	e.co.fail(orders.UpstreamError("test", errors.New("timeout")))
	resp, _ = e.do(t, http.MethodPost, "/orders/o1/checkout", "", map[string]string{"return_url": "https://x.y"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	e.co.fail(errors.New("db exploded"))
	resp, body = e.do(t, http.MethodPost, "/orders/o1/checkout", "", map[string]string{"return_url": "https://x.y"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", body["error"])
}

func TestConfirmEndpoint(t *testing.T) {
	e := newEnv(t)
	total := decimal.NewFromInt(80)
	e.rec.set(&reconcile.Outcome{Status: reconcile.StatusPaid, OrderID: "o1", OrderNumber: 4, TotalAmount: &total, Changed: true}, nil)

	resp, body := e.do(t, http.MethodPost, "/payments/confirm", "", map[string]string{"orderId": "o1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", body["status"])
	assert.Equal(t, "o1", body["orderId"])
	assert.Equal(t, float64(4), body["orderNumber"])
	assert.Equal(t, "80", body["totalAmount"])

	resp, _ = e.do(t, http.MethodPost, "/payments/confirm", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	e.rec.set(&reconcile.Outcome{Status: reconcile.StatusPendingVerification, OrderID: "o1"}, nil)
	resp, body = e.do(t, http.MethodGet, "/payments/return?order_id=o1&status=approved", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending_verification", body["status"])
}

func TestWebhook(t *testing.T) {
	e := newEnv(t)
	e.rec.set(&reconcile.Outcome{Status: reconcile.StatusPaid, OrderID: "o1", Changed: true}, nil)

	resp, _ := e.do(t, http.MethodPost, "/webhooks/mercadopago", "", "{broken")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/webhooks/mercadopago", "", `{"type":"merchant_order","data":{"id":"1"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, e.rec.calls.Load())

	payment := `{"type":"payment","user_id":998,"data":{"id":"P1"}}`
	resp, body := e.do(t, http.MethodPost, "/webhooks/mercadopago", "", payment)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, int32(1), e.rec.calls.Load())
	assert.True(t, e.mr.Exists("webhook:mp:P1"))

	// resolved already: redelivery is acknowledged without work
	resp, _ = e.do(t, http.MethodPost, "/webhooks/mercadopago", "", payment)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), e.rec.calls.Load())

	// query-string form of the notification
	resp, _ = e.do(t, http.MethodPost, "/webhooks/mercadopago?topic=payment&id=P2", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), e.rec.calls.Load())
}

func TestWebhookAcknowledgesFailures(t *testing.T) {
	e := newEnv(t)
	e.rec.set(nil, errors.New("db down"))

	resp, _ := e.do(t, http.MethodPost, "/webhooks/mercadopago", "", `{"type":"payment","data":{"id":"P1"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, e.mr.Exists("webhook:mp:P1"))

	e.rec.set(&reconcile.Outcome{Status: reconcile.StatusPendingVerification}, nil)
	resp, _ = e.do(t, http.MethodPost, "/webhooks/mercadopago", "", `{"type":"payment","data":{"id":"P1"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, e.mr.Exists("webhook:mp:P1"))
}

func TestPaidOrdersSessionIsolation(t *testing.T) {
	e := newEnv(t)
	a, b := session.New(), session.New()
	e.store.PutOrder(orders.Order{
		ID: "oa", RestaurantID: "r1", TableID: "t1", ClientSessionID: a, OrderNumber: 1,
		Status: orders.StatusPaid, PaymentStatus: orders.PaymentPaid, TotalAmount: decimal.NewFromInt(10),
	}, nil)
	since := url.QueryEscape(time.Now().Add(-time.Minute).Format(time.RFC3339))

	resp, body := e.do(t, http.MethodGet, "/sessions/"+a+"/paid-orders?restaurant_id=r1&table_id=t1&since="+since, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["orders"], 1)

	resp, body = e.do(t, http.MethodGet, "/sessions/"+b+"/paid-orders?restaurant_id=r1&table_id=t1&since="+since, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["orders"], 0)

	resp, _ = e.do(t, http.MethodGet, "/sessions/not-a-session/paid-orders?restaurant_id=r1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/sessions/"+a+"/paid-orders", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCurrentSessionAndHealth(t *testing.T) {
	e := newEnv(t)
	sid := session.New()
	resp, body := e.do(t, http.MethodGet, "/sessions/current?sid="+sid, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sid, body["session_id"])

	res, err := e.srv.Client().Get(e.srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.HasPrefix(res.Header.Get("Content-Type"), "text/plain"))
}
