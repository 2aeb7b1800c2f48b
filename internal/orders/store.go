package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Limit bounds how many active orders one client session may hold per restaurant.
// The count and the insert happen under the same lock, so a burst of submits
// cannot overshoot Max.
type Limit struct {
	Max   int
	Since time.Time
}

type Catalog interface {
	MenuItems(ctx context.Context, ids []string) (map[string]CatalogItem, error)
	Extras(ctx context.Context, ids []string) (map[string]CatalogItem, error)
}

// Store is the order ledger. Implementations must make MarkPaid and
// CancelIfPending single atomic conditional writes.
type Store interface {
	Catalog

	CreateOrder(ctx context.Context, in NewOrder, limit Limit) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrderLines(ctx context.Context, orderID string) ([]OrderLine, error)
	UpdateTotal(ctx context.Context, orderID string, total decimal.Decimal) error
	SetPreferenceID(ctx context.Context, orderID, preferenceID string) error

	// MarkPaid sets payment_status=paid only if it is unpaid or pending, and moves a
	// pending kitchen status to paid. changed is false when another writer won;
	// the returned order is then the current row.
	MarkPaid(ctx context.Context, orderID string, rec PaymentRecord) (o *Order, changed bool, err error)
	// CancelIfPending moves status pending -> customer_cancelled, payment_status untouched.
	CancelIfPending(ctx context.Context, orderID string) (changed bool, err error)

	CountActive(ctx context.Context, restaurantID, sessionID string, since time.Time) (int, error)
	ListPaidForSession(ctx context.Context, q PaidQuery) ([]Order, error)

	GetRestaurant(ctx context.Context, id string) (*Restaurant, error)
	GetRestaurantByMPUser(ctx context.Context, mpUserID string) (*Restaurant, error)
	RestaurantIDForTable(ctx context.Context, tableID string) (string, error)
	// SetRestaurantMPUser records the processor collector id if none is stored yet.
	SetRestaurantMPUser(ctx context.Context, restaurantID, mpUserID string) error
}
