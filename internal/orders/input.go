package orders

import (
	"crypto/rand"
	"math/big"

	"github.com/shopspring/decimal"
)

type ExtraInput struct {
	ExtraID  string `json:"extra_id"`
	Quantity int    `json:"quantity"`
}

type LineInput struct {
	MenuItemID          string       `json:"menu_item_id"`
	Quantity            int          `json:"quantity"`
	SpecialInstructions string       `json:"special_instructions,omitempty"`
	Extras              []ExtraInput `json:"extras,omitempty"`
}

// NewOrder is a cart submitted by a client. DeclaredTotal is whatever the client
// computed (tip included); it is stored as-is and re-audited before any charge.
type NewOrder struct {
	RestaurantID    string          `json:"restaurant_id"`
	TableID         string          `json:"table_id,omitempty"`
	Takeaway        bool            `json:"takeaway"`
	ClientSessionID string          `json:"-"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	DeclaredTotal   decimal.Decimal `json:"total_amount"`
	Notes           string          `json:"notes,omitempty"`
	Lines           []LineInput     `json:"items"`
}

const maxInstructionsLen = 500

func (n NewOrder) Validate() error {
	const op = "orders.NewOrder.Validate"
	if n.RestaurantID == "" {
		return InputError(op, "restaurant_id is required")
	}
	if n.Takeaway == (n.TableID != "") {
		return InputError(op, "order must have exactly one of table_id or takeaway")
	}
	if n.ClientSessionID == "" {
		return InputError(op, "client session is required")
	}
	if !n.PaymentMethod.Valid() {
		return InputError(op, "unknown payment method %q", n.PaymentMethod)
	}
	if n.DeclaredTotal.IsNegative() {
		return InputError(op, "total_amount must not be negative")
	}
	if len(n.Lines) == 0 {
		return InputError(op, "order has no items")
	}
	for i, l := range n.Lines {
		if l.MenuItemID == "" {
			return InputError(op, "item %d: menu_item_id is required", i)
		}
		if l.Quantity <= 0 {
			return InputError(op, "item %d: quantity must be positive", i)
		}
		if len(l.SpecialInstructions) > maxInstructionsLen {
			return InputError(op, "item %d: special_instructions too long", i)
		}
		for j, x := range l.Extras {
			if x.ExtraID == "" || x.Quantity <= 0 {
				return InputError(op, "item %d extra %d: extra_id and positive quantity required", i, j)
			}
		}
	}
	return nil
}

// MenuItemIDs and ExtraIDs return the distinct catalog ids referenced by the cart.
func (n NewOrder) MenuItemIDs() []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(n.Lines))
	for _, l := range n.Lines {
		if !seen[l.MenuItemID] {
			seen[l.MenuItemID] = true
			out = append(out, l.MenuItemID)
		}
	}
	return out
}

func (n NewOrder) ExtraIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range n.Lines {
		for _, x := range l.Extras {
			if !seen[x.ExtraID] {
				seen[x.ExtraID] = true
				out = append(out, x.ExtraID)
			}
		}
	}
	return out
}

// Subtotal prices the cart from catalog prices. Unknown ids are an input error.
func (n NewOrder) Subtotal(items, extras map[string]CatalogItem) (decimal.Decimal, error) {
	const op = "orders.NewOrder.Subtotal"
	total := decimal.Zero
	for _, l := range n.Lines {
		it, ok := items[l.MenuItemID]
		if !ok {
			return decimal.Zero, InputError(op, "menu item not found: %s", l.MenuItemID)
		}
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
		for _, x := range l.Extras {
			ex, ok := extras[x.ExtraID]
			if !ok {
				return decimal.Zero, InputError(op, "extra not found: %s", x.ExtraID)
			}
			if !ExtraFits(ex, l.MenuItemID) {
				return decimal.Zero, InputError(op, "extra %s does not belong to menu item %s", x.ExtraID, l.MenuItemID)
			}
			total = total.Add(ex.Price.Mul(decimal.NewFromInt(int64(x.Quantity))))
		}
	}
	return total, nil
}

const (
	pickupAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	pickupCodeLength = 5
)

// NewPickupCode returns a short code without look-alike characters (no I, O, 0, 1).
func NewPickupCode() string {
	b := make([]byte, pickupCodeLength)
	max := big.NewInt(int64(len(pickupAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = pickupAlphabet[n.Int64()]
	}
	return string(b)
}
