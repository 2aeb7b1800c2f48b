package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-qr-orders/internal/kafka"
	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
	"github.com/ariefcatur/go-qr-orders/internal/redisx"
)

const dedupService = "notifier"

type OrderReader interface {
	orders.Catalog
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	GetOrderLines(ctx context.Context, orderID string) ([]orders.OrderLine, error)
}

// Mailer consumes order.paid events and sends one confirmation per order.
type Mailer struct {
	Store  OrderReader
	Sender Sender
	Redis  redis.Cmdable
	From   string
	// SandboxTo receives every mail of a sandbox restaurant instead of the payer.
	SandboxTo string
	Log       *logger.Logger
}

func (m *Mailer) Handle(ctx context.Context, msg kafkago.Message) error {
	env, err := kafka.UnmarshalEnvelope(msg.Value)
	if err != nil {
		m.Log.Error("dropping undecodable message", "offset", msg.Offset, "err", err)
		return nil
	}
	if env.EventType != orders.EventOrderPaid {
		return nil
	}
	p, err := kafka.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	if err != nil {
		m.Log.Error("dropping undecodable payload", "event_id", env.EventID, "err", err)
		return nil
	}
	return m.Send(ctx, p)
}

// Send mails the confirmation for p unless one was already sent. A failed
// send releases the claim so the consumer's next attempt can claim it again.
func (m *Mailer) Send(ctx context.Context, p orders.OrderPaidPayload) error {
	log := m.Log.With("order_id", p.OrderID)
	if p.PayerEmail == "" {
		log.Warn("no payer email, skipping confirmation")
		return nil
	}

	key := redisx.Key(redisx.KeyDedup, dedupService, p.OrderID)
	claimed, err := redisx.Claim(ctx, m.Redis, key, "sent", redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("claim %s: %w", key, err)
	}
	if !claimed {
		log.Info("confirmation already sent")
		return nil
	}
	release := func() {
		if err := m.Redis.Del(context.Background(), key).Err(); err != nil {
			log.Warn("release dedup key failed", "err", err)
		}
	}

	// never mail on the event alone: the ledger must agree the order is paid
	o, err := m.Store.GetOrder(ctx, p.OrderID)
	if err != nil {
		release()
		if orders.KindOf(err) == orders.KindNotFound {
			log.Warn("order vanished, skipping confirmation")
			return nil
		}
		return err
	}
	if !o.IsPaid() {
		release()
		log.Warn("order is not paid, confirmation not sent", "payment_status", string(o.PaymentStatus))
		return nil
	}

	lines, err := m.Store.GetOrderLines(ctx, o.ID)
	if err != nil {
		release()
		return err
	}
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.MenuItemID)
	}
	names, err := m.Store.MenuItems(ctx, ids)
	if err != nil {
		release()
		return err
	}

	to, original := p.PayerEmail, ""
	if p.Sandbox && m.SandboxTo != "" {
		to, original = m.SandboxTo, p.PayerEmail
	}
	html, err := render(p, lines, names, original)
	if err != nil {
		release()
		return fmt.Errorf("render confirmation: %w", err)
	}

	// keyed by order, so a redelivered event still collapses to one mail
	err = m.Sender.Send(ctx, Email{
		From:           fmt.Sprintf("%s <%s>", p.RestaurantName, m.From),
		To:             []string{to},
		Subject:        subject(p),
		HTML:           html,
		IdempotencyKey: "order-confirmation/" + o.ID,
	})
	if err != nil {
		release()
		log.Error("confirmation send failed", "err", err)
		return err
	}
	log.Info("confirmation sent", "sandbox", p.Sandbox)
	return nil
}
