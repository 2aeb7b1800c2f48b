// Package session identifies "this browser" for soft rate limiting and for
// filtering payment-success events. A session id is forgeable and never
// authorizes anything else.
package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

const (
	// QueryParam carries the session through the processor redirect hop,
	// which can wipe browser storage.
	QueryParam = "sid"
	CookieName = "tpay_client_session_id"
	Header     = "X-Client-Session"

	cookieMaxAge = 365 * 24 * time.Hour
)

func New() string { return uuid.NewString() }

// Valid reports whether id looks like a token this service would have issued.
func Valid(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Resolve reads the session id from the request, in order: ?sid=, cookie,
// header. fresh is true when none was valid and a new id was generated.
func Resolve(r *http.Request) (id string, fresh bool) {
	if v := r.URL.Query().Get(QueryParam); Valid(v) {
		return v, false
	}
	if c, err := r.Cookie(CookieName); err == nil && Valid(c.Value) {
		return c.Value, false
	}
	if v := r.Header.Get(Header); Valid(v) {
		return v, false
	}
	return New(), true
}

// GetOrCreate resolves the session and persists it as a cookie, so a
// recovered ?sid= sticks for the following requests. secure marks the cookie
// https-only.
func GetOrCreate(w http.ResponseWriter, r *http.Request, secure bool) string {
	id, _ := Resolve(r)
	if c, err := r.Cookie(CookieName); err != nil || c.Value != id {
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    id,
			Path:     "/",
			MaxAge:   int(cookieMaxAge.Seconds()),
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return id
}

// Owns reports whether an event tagged with eventSession may be shown to a
// client presenting presented. Both must be present and equal.
func Owns(eventSession, presented string) bool {
	if eventSession == "" || presented == "" {
		return false
	}
	return eventSession == presented
}

// Filter keeps only the orders that belong to presented.
func Filter(list []orders.Order, presented string) []orders.Order {
	out := make([]orders.Order, 0, len(list))
	for _, o := range list {
		if Owns(o.ClientSessionID, presented) {
			out = append(out, o)
		}
	}
	return out
}
