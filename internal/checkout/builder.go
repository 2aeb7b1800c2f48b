// Package checkout turns an audited order into a processor checkout session.
package checkout

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/mercadopago"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
	"github.com/ariefcatur/go-qr-orders/internal/pricing"
)

const (
	Currency = "ARS"
	TipTitle = "Propina"
)

type Processor interface {
	CreatePreference(ctx context.Context, token string, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
}

type Auditor interface {
	Audit(ctx context.Context, orderID string) (*pricing.Result, error)
}

type Store interface {
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	GetRestaurant(ctx context.Context, id string) (*orders.Restaurant, error)
	SetPreferenceID(ctx context.Context, orderID, preferenceID string) error
	SetRestaurantMPUser(ctx context.Context, restaurantID, mpUserID string) error
}

type Session struct {
	PreferenceID string          `json:"preference_id"`
	CheckoutURL  string          `json:"checkout_url"`
	Sandbox      bool            `json:"sandbox_mode"`
	Total        decimal.Decimal `json:"total_amount"`
	Tip          decimal.Decimal `json:"tip_amount"`
	Suspicious   bool            `json:"suspicious_tip,omitempty"`
}

type Builder struct {
	Store           Store
	Auditor         Auditor
	Processor       Processor
	NotificationURL string
	Log             *logger.Logger
}

func New(store Store, auditor Auditor, proc Processor, notificationURL string, log *logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		Store:           store,
		Auditor:         auditor,
		Processor:       proc,
		NotificationURL: notificationURL,
		Log:             log.WithComponent("checkout"),
	}
}

// Create audits orderID and opens a checkout session for the audited total.
// Calling it again opens a new session; only the latest preference id is kept.
func (b *Builder) Create(ctx context.Context, orderID, returnURL string) (*Session, error) {
	const op = "checkout.Create"
	if orderID == "" {
		return nil, orders.InputError(op, "order id is required")
	}
	ret, err := parseReturnURL(returnURL)
	if err != nil {
		return nil, orders.InputError(op, "invalid return url: %v", err)
	}

	o, err := b.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !orders.CanAdvancePayment(o.PaymentStatus, orders.PaymentPaid) {
		return nil, orders.InputError(op, "order %s cannot be paid (payment status %s)", orderID, o.PaymentStatus)
	}
	r, err := b.Store.GetRestaurant(ctx, o.RestaurantID)
	if err != nil {
		return nil, err
	}
	if !r.HasCredentials() {
		return nil, orders.ConfigurationError(op, "payment processor credentials not configured for restaurant %s", r.ID)
	}

	audit, err := b.Auditor.Audit(ctx, orderID)
	if err != nil {
		return nil, err
	}

	charges := audit.Charges(TipTitle)
	if got := pricing.ChargedTotal(charges); !got.Equal(audit.Final) {
		return nil, fmt.Errorf("%s: items add up to %s, audited total is %s", op, got.StringFixed(2), audit.Final.StringFixed(2))
	}
	req := b.preference(o, charges, ret)
	log := b.Log.With("order_id", orderID, "restaurant_id", r.ID)

	pref, err := b.Processor.CreatePreference(ctx, r.MPAccessToken, req)
	if err != nil {
		log.Error("create preference failed", "err", err)
		return nil, orders.UpstreamError(op, err)
	}

	if err := b.Store.SetPreferenceID(ctx, orderID, pref.ID); err != nil {
		return nil, fmt.Errorf("save preference id: %w", err)
	}
	if pref.CollectorID != "" && r.MPUserID == "" {
		if err := b.Store.SetRestaurantMPUser(ctx, r.ID, pref.CollectorID.String()); err != nil {
			log.Warn("collector id backfill failed", "err", err)
		}
	}

	checkoutURL := pref.InitPoint
	if r.MPSandbox {
		checkoutURL = pref.SandboxInitPoint
	}
	log.Info("checkout session created", "preference_id", pref.ID, "total", audit.Final.StringFixed(2), "sandbox", r.MPSandbox)

	return &Session{
		PreferenceID: pref.ID,
		CheckoutURL:  checkoutURL,
		Sandbox:      r.MPSandbox,
		Total:        audit.Final,
		Tip:          audit.Tip,
		Suspicious:   audit.Suspicious,
	}, nil
}

func (b *Builder) preference(o *orders.Order, charges []pricing.Charge, ret *url.URL) mercadopago.PreferenceRequest {
	items := make([]mercadopago.Item, 0, len(charges))
	for _, c := range charges {
		items = append(items, mercadopago.Item{
			Title:      c.Title,
			Quantity:   c.Quantity,
			UnitPrice:  c.UnitPrice.InexactFloat64(),
			CurrencyID: Currency,
		})
	}

	back := returnTo(ret, o)
	req := mercadopago.PreferenceRequest{
		Items:               items,
		ExternalReference:   o.ID,
		PaymentMethods:      mercadopago.PaymentMethods{Installments: 1},
		BackURLs:            mercadopago.BackURLs{Success: back, Failure: back, Pending: back},
		BinaryMode:          true,
		NotificationURL:     b.NotificationURL,
		StatementDescriptor: statementDescriptor(o),
	}
	// the processor rejects auto_return with a localhost back url
	if !isLocalhost(ret) {
		req.AutoReturn = "approved"
	}
	return req
}

func statementDescriptor(o *orders.Order) string {
	if o.OrderNumber > 0 {
		return fmt.Sprintf("ORDER #%d", o.OrderNumber)
	}
	id := o.ID
	if len(id) > 4 {
		id = id[:4]
	}
	return "ORDER #" + id
}

func parseReturnURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("must be an absolute http(s) url")
	}
	return u, nil
}

// returnTo adds order_id and sid so the return page can re-verify the payment
// and recover the browser session after the redirect.
func returnTo(ret *url.URL, o *orders.Order) string {
	u := *ret
	q := u.Query()
	q.Set("order_id", o.ID)
	if o.ClientSessionID != "" {
		q.Set("sid", o.ClientSessionID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func isLocalhost(u *url.URL) bool {
	h := strings.ToLower(u.Hostname())
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}
