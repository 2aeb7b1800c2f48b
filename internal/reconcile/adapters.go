package reconcile

import (
	"context"
	"net/url"

	"github.com/ariefcatur/go-qr-orders/internal/mercadopago"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

// Webhook handles a processor push. Non-payment topics are ignored.
func (r *Reconciler) Webhook(ctx context.Context, n mercadopago.Notification) (*Outcome, error) {
	if !n.IsPayment() {
		return ignored("not a payment notification"), nil
	}
	return r.Resolve(ctx, Request{
		Trigger:   TriggerWebhook,
		PaymentID: n.Data.ID.String(),
		MPUserID:  n.UserID.String(),
	})
}

type ConfirmRequest struct {
	OrderID       string `json:"orderId"`
	PaymentID     string `json:"paymentId"`
	TableID       string `json:"tableId"`
	PaymentStatus string `json:"paymentStatus"`
}

// Confirm is the client poll. Unlike the webhook, an order that cannot be
// resolved is the caller's problem and comes back as an input error.
func (r *Reconciler) Confirm(ctx context.Context, in ConfirmRequest) (*Outcome, error) {
	return r.confirm(ctx, TriggerConfirm, in)
}

func (r *Reconciler) confirm(ctx context.Context, trigger Trigger, in ConfirmRequest) (*Outcome, error) {
	const op = "reconcile.Confirm"
	if in.OrderID == "" && in.PaymentID == "" {
		return nil, orders.InputError(op, "orderId or paymentId is required")
	}
	out, err := r.Resolve(ctx, Request{
		Trigger:    trigger,
		OrderID:    in.OrderID,
		PaymentID:  in.PaymentID,
		TableID:    in.TableID,
		StatusHint: in.PaymentStatus,
	})
	if err != nil {
		return nil, err
	}
	if out.Status == StatusIgnored {
		if in.OrderID != "" {
			return nil, orders.NotFound(op, "order %s not found", in.OrderID)
		}
		return nil, orders.InputError(op, "order id could not be determined: %s", out.Message)
	}
	return out, nil
}

// Redirect reads the processor's back_url query. The status in it is a hint
// that triggers verification, nothing more.
func (r *Reconciler) Redirect(ctx context.Context, q url.Values) (*Outcome, error) {
	return r.confirm(ctx, TriggerRedirect, ConfirmRequest{
		OrderID:       first(q.Get("order_id"), q.Get("external_reference")),
		PaymentID:     first(q.Get("payment_id"), q.Get("collection_id")),
		TableID:       q.Get("table_id"),
		PaymentStatus: first(q.Get("status"), q.Get("collection_status")),
	})
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" && v != "null" {
			return v
		}
	}
	return ""
}
