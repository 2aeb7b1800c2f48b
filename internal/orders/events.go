package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPaid      = "OrderPaid"
	EventOrderCancelled = "OrderCancelled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g. "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// OrderPaidPayload carries everything the confirmation mail needs, so the
// notifier only has to re-check the paid flag and read the lines.
type OrderPaidPayload struct {
	OrderID        string          `json:"order_id"`
	OrderNumber    int             `json:"order_number"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PayerEmail     string          `json:"payer_email"`
	PayerName      string          `json:"payer_name,omitempty"`
	RestaurantName string          `json:"restaurant_name"`
	RestaurantLogo string          `json:"restaurant_logo,omitempty"`
	CoverImageURL  string          `json:"cover_image_url,omitempty"`
	PrimaryColor   string          `json:"primary_color"`
	Sandbox        bool            `json:"sandbox"`
	Takeaway       bool            `json:"takeaway"`
	PickupCode     string          `json:"pickup_code,omitempty"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"` // processor status, e.g. rejected
}

const DefaultPrimaryColor = "#059669"
