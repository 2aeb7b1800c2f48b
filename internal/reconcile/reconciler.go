// Package reconcile records the true payment outcome of an order from
// processor data. Webhooks, confirmation polls and redirect returns all funnel
// into Reconciler.Resolve, which is safe to run any number of times, in any
// order, concurrently.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/mercadopago"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

type Trigger string

const (
	TriggerWebhook  Trigger = "webhook"
	TriggerConfirm  Trigger = "confirm"
	TriggerRedirect Trigger = "redirect"
)

type Status string

const (
	StatusPaid                Status = "paid"
	StatusPending             Status = "pending"
	StatusCancelled           Status = "cancelled"
	StatusPendingVerification Status = "pending_verification"
	// StatusIgnored: the event does not resolve to an order this service owns.
	StatusIgnored Status = "ignored"
)

// Terminal outcomes will not change on a later run for the same payment.
func (s Status) Terminal() bool { return s == StatusPaid || s == StatusCancelled }

type Request struct {
	Trigger   Trigger
	OrderID   string
	PaymentID string
	TableID   string // lets a payment-only request find restaurant credentials
	MPUserID  string // processor account that sent a webhook
	// StatusHint is whatever the caller claims the status is. Logged, never trusted.
	StatusHint string
}

type Outcome struct {
	Status        Status           `json:"status"`
	OrderID       string           `json:"orderId,omitempty"`
	OrderNumber   int              `json:"orderNumber,omitempty"`
	TotalAmount   *decimal.Decimal `json:"totalAmount,omitempty"`
	PickupCode    string           `json:"pickupCode,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"` // snake_case is what clients read
	Message       string           `json:"message,omitempty"`

	PaymentID string `json:"-"`
	// Changed is true only for the invocation whose conditional write applied.
	Changed  bool `json:"-"`
	Notified bool `json:"-"`
}

type Processor interface {
	GetPayment(ctx context.Context, token, paymentID string) (*mercadopago.Payment, error)
	SearchPayments(ctx context.Context, token, externalRef string) ([]mercadopago.Payment, error)
}

type Store interface {
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	MarkPaid(ctx context.Context, orderID string, rec orders.PaymentRecord) (*orders.Order, bool, error)
	CancelIfPending(ctx context.Context, orderID string) (bool, error)
	GetRestaurant(ctx context.Context, id string) (*orders.Restaurant, error)
	GetRestaurantByMPUser(ctx context.Context, mpUserID string) (*orders.Restaurant, error)
	RestaurantIDForTable(ctx context.Context, tableID string) (string, error)
}

// Notifier is best effort. Errors are logged and never undo a ledger write.
type Notifier interface {
	OrderPaid(ctx context.Context, p orders.OrderPaidPayload) error
	OrderCancelled(ctx context.Context, p orders.OrderCancelledPayload) error
}

type Reconciler struct {
	Store     Store
	Processor Processor
	Notifier  Notifier
	Log       *logger.Logger
}

func New(store Store, proc Processor, n Notifier, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	if n == nil {
		n = nopNotifier{}
	}
	return &Reconciler{Store: store, Processor: proc, Notifier: n, Log: log.WithComponent("reconcile")}
}

// Resolve determines the verified payment state of one order and applies it.
// It never marks an order paid without a processor lookup returning approved.
func (r *Reconciler) Resolve(ctx context.Context, req Request) (*Outcome, error) {
	const op = "reconcile.Resolve"
	log := r.Log.With("trigger", string(req.Trigger), "order_id", req.OrderID, "payment_id", req.PaymentID)

	orderID := req.OrderID
	var (
		fetched     *mercadopago.Payment
		fetchedWith string // restaurant whose token fetched the payment
	)

	if orderID == "" {
		if req.PaymentID == "" {
			return ignored("no order or payment id"), nil
		}
		rest, err := r.lookupRestaurant(ctx, req)
		if err != nil {
			if orders.KindOf(err) == orders.KindNotFound {
				log.Warn("no restaurant for payment-only request", "mp_user_id", req.MPUserID, "table_id", req.TableID)
				return ignored("restaurant could not be determined"), nil
			}
			return nil, err
		}
		p, err := r.Processor.GetPayment(ctx, rest.MPAccessToken, req.PaymentID)
		switch {
		case errors.Is(err, mercadopago.ErrPaymentNotFound):
			return ignored("payment not found"), nil
		case err != nil:
			log.Warn("payment lookup failed", "err", err)
			return &Outcome{Status: StatusPendingVerification, PaymentID: req.PaymentID, Message: "awaiting processor confirmation"}, nil
		}
		if p.ExternalReference == "" {
			return ignored("payment carries no external reference"), nil
		}
		orderID, fetched, fetchedWith = p.ExternalReference, p, rest.ID
		log = log.With("order_id", orderID)
	}

	o, err := r.Store.GetOrder(ctx, orderID)
	if err != nil {
		if orders.KindOf(err) == orders.KindNotFound {
			log.Info("order not found")
			return ignored("order not found"), nil
		}
		return nil, fmt.Errorf("%s: load order: %w", op, err)
	}
	if o.IsPaid() {
		return paidOutcome(o, "payment already confirmed"), nil
	}

	rest, err := r.Store.GetRestaurant(ctx, o.RestaurantID)
	if err != nil {
		return nil, fmt.Errorf("%s: load restaurant: %w", op, err)
	}
	if !rest.HasCredentials() {
		return nil, orders.ConfigurationError(op, "payment credentials not configured for restaurant %s", rest.ID)
	}

	payment := fetched
	if payment != nil && fetchedWith != rest.ID {
		// fetched with another account's token; verify again with the owner's
		payment = nil
	}
	if payment == nil {
		payment, err = r.verify(ctx, rest.MPAccessToken, o.ID, req.PaymentID)
		switch {
		case errors.Is(err, orders.ErrVerificationInconclusive):
			log.Warn("payment verification failed", "err", err)
		case err != nil:
			return nil, err
		}
	}
	if payment == nil {
		if req.StatusHint != "" {
			log.Info("unverified status hint ignored", "hint", req.StatusHint)
		}
		return &Outcome{Status: StatusPendingVerification, OrderID: o.ID, Message: "awaiting processor confirmation"}, nil
	}

	log = log.With("payment_id", payment.ID.String(), "mp_status", payment.Status)
	switch payment.Status {
	case mercadopago.StatusApproved:
		return r.applyApproved(ctx, log, o, rest, payment)
	case mercadopago.StatusPending, mercadopago.StatusInProcess:
		return &Outcome{Status: StatusPending, OrderID: o.ID, PaymentID: payment.ID.String(), Message: "payment is still pending"}, nil
	case mercadopago.StatusRejected, mercadopago.StatusCancelled:
		return r.applyRejected(ctx, log, o, payment)
	case mercadopago.StatusRefunded, mercadopago.StatusChargeBack:
		// money went back before the order was ever marked paid
		log.Warn("payment reversed by processor")
		return r.applyRejected(ctx, log, o, payment)
	default:
		log.Info("unhandled processor status")
		return &Outcome{Status: StatusPendingVerification, OrderID: o.ID, PaymentID: payment.ID.String(), Message: "awaiting processor confirmation"}, nil
	}
}

// verify asks the processor directly: payment id first, then the most recent
// approved payment for the order's external reference.
func (r *Reconciler) verify(ctx context.Context, token, orderID, paymentID string) (*mercadopago.Payment, error) {
	if paymentID != "" {
		p, err := r.Processor.GetPayment(ctx, token, paymentID)
		switch {
		case err == nil && p.ExternalReference == orderID:
			return p, nil
		case err == nil:
			r.Log.Warn("payment belongs to another order", "payment_id", paymentID, "order_id", orderID, "external_reference", p.ExternalReference)
		case !errors.Is(err, mercadopago.ErrPaymentNotFound):
			r.Log.Info("direct payment lookup failed, falling back to search", "payment_id", paymentID, "err", err)
		}
	}
	results, err := r.Processor.SearchPayments(ctx, token, orderID)
	if err != nil {
		return nil, orders.VerificationInconclusive("reconcile.verify", err)
	}
	for i := range results {
		if results[i].Status == mercadopago.StatusApproved && results[i].ExternalReference == orderID {
			return &results[i], nil
		}
	}
	return nil, nil
}

func (r *Reconciler) applyApproved(ctx context.Context, log *logger.Logger, o *orders.Order, rest *orders.Restaurant, p *mercadopago.Payment) (*Outcome, error) {
	rec := orders.PaymentRecord{
		PaymentID:    p.ID.String(),
		MethodDetail: p.PaymentMethodID,
		CollectionID: p.CollectionID.String(),
		PayerEmail:   p.PayerEmail(),
		PayerName:    p.PayerName(),
	}
	if rec.CollectionID == "" {
		rec.CollectionID = rec.PaymentID
	}

	updated, err := r.markPaid(ctx, o.ID, rec)
	if err != nil && !errors.Is(err, orders.ErrConflictResolved) {
		return nil, err
	}
	out := paidOutcome(updated, "payment confirmed via processor verification")
	out.PaymentMethod = p.PaymentMethodID
	out.PaymentID = rec.PaymentID
	if err != nil {
		log.Info("order already resolved by a concurrent confirmation")
		return out, nil
	}
	out.Changed = true
	log.Info("order marked paid", "total", updated.TotalAmount.StringFixed(2))

	if rec.PayerEmail == "" {
		log.Warn("payer email not available, confirmation not sent")
		return out, nil
	}
	if err := r.Notifier.OrderPaid(ctx, paidPayload(updated, rest, rec)); err != nil {
		log.Error("confirmation dispatch failed", "err", err)
		return out, nil
	}
	out.Notified = true
	return out, nil
}

// markPaid returns ErrConflictResolved with the current row when another
// invocation already wrote the paid state.
func (r *Reconciler) markPaid(ctx context.Context, orderID string, rec orders.PaymentRecord) (*orders.Order, error) {
	const op = "reconcile.markPaid"
	updated, changed, err := r.Store.MarkPaid(ctx, orderID, rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !changed {
		return updated, orders.ConflictResolved(op, orderID)
	}
	return updated, nil
}

func (r *Reconciler) applyRejected(ctx context.Context, log *logger.Logger, o *orders.Order, p *mercadopago.Payment) (*Outcome, error) {
	changed := false
	if orders.CanTransition(o.Status, orders.StatusCustomerCancelled) {
		var err error
		if changed, err = r.Store.CancelIfPending(ctx, o.ID); err != nil {
			return nil, fmt.Errorf("cancel order: %w", err)
		}
	}
	if changed {
		log.Info("order marked customer_cancelled")
		if err := r.Notifier.OrderCancelled(ctx, orders.OrderCancelledPayload{OrderID: o.ID, Reason: p.Status}); err != nil {
			log.Error("cancel event dispatch failed", "err", err)
		}
	}
	total := o.TotalAmount
	return &Outcome{
		Status:      StatusCancelled,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		TotalAmount: &total,
		PaymentID:   p.ID.String(),
		Changed:     changed,
		Message:     "payment was not approved",
	}, nil
}

func (r *Reconciler) lookupRestaurant(ctx context.Context, req Request) (*orders.Restaurant, error) {
	if req.MPUserID != "" {
		return r.Store.GetRestaurantByMPUser(ctx, req.MPUserID)
	}
	if req.TableID != "" {
		id, err := r.Store.RestaurantIDForTable(ctx, req.TableID)
		if err != nil {
			return nil, err
		}
		return r.Store.GetRestaurant(ctx, id)
	}
	return nil, orders.NotFound("reconcile.lookupRestaurant", "no processor user or table to resolve restaurant")
}

func paidOutcome(o *orders.Order, msg string) *Outcome {
	total := o.TotalAmount
	out := &Outcome{
		Status:        StatusPaid,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		TotalAmount:   &total,
		PaymentID:     o.PaymentID,
		PaymentMethod: o.PaymentMethodDetail,
		Message:       msg,
	}
	if o.IsTakeaway() {
		out.PickupCode = o.PickupCode
	}
	return out
}

func paidPayload(o *orders.Order, r *orders.Restaurant, rec orders.PaymentRecord) orders.OrderPaidPayload {
	name := r.Name
	if name == "" {
		name = "Restaurant"
	}
	color := r.PrimaryColor
	if color == "" {
		color = orders.DefaultPrimaryColor
	}
	p := orders.OrderPaidPayload{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		TotalAmount:    o.TotalAmount,
		PayerEmail:     rec.PayerEmail,
		PayerName:      rec.PayerName,
		RestaurantName: name,
		RestaurantLogo: r.LogoURL,
		CoverImageURL:  r.CoverImageURL,
		PrimaryColor:   color,
		Sandbox:        r.MPSandbox,
		Takeaway:       o.IsTakeaway(),
	}
	if p.Takeaway {
		p.PickupCode = o.PickupCode
	}
	return p
}

func ignored(msg string) *Outcome { return &Outcome{Status: StatusIgnored, Message: msg} }

type nopNotifier struct{}

func (nopNotifier) OrderPaid(context.Context, orders.OrderPaidPayload) error           { return nil }
func (nopNotifier) OrderCancelled(context.Context, orders.OrderCancelledPayload) error { return nil }
