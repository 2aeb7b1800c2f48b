// Package limiter caps how many live orders one client session can hold at a
// restaurant.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

const (
	DefaultMax    = 5
	DefaultWindow = time.Hour
)

type Counter interface {
	CountActive(ctx context.Context, restaurantID, sessionID string, since time.Time) (int, error)
}

type Limiter struct {
	Store  Counter
	Max    int
	Window time.Duration
	Now    func() time.Time
}

func New(store Counter, max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{Store: store, Max: max, Window: window, Now: time.Now}
}

// Limit is what the store enforces again inside the order insert transaction.
func (l *Limiter) Limit() orders.Limit {
	return orders.Limit{Max: l.Max, Since: l.Now().Add(-l.Window)}
}

// Check counts orders not in {cancelled, delivered, completed} created inside
// the window and fails with LimitExceeded at or above Max.
func (l *Limiter) Check(ctx context.Context, restaurantID, sessionID string) error {
	const op = "limiter.Check"
	lim := l.Limit()
	n, err := l.Store.CountActive(ctx, restaurantID, sessionID, lim.Since)
	if err != nil {
		return fmt.Errorf("count active orders: %w", err)
	}
	if n >= lim.Max {
		return orders.LimitExceeded(op, n, lim.Max)
	}
	return nil
}
