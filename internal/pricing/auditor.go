// Package pricing recomputes what an order really costs from current catalog
// prices before anything is charged.
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-qr-orders/internal/logger"
	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

var (
	// Tolerance is how far the stored total may drift from the audited one
	// before it is overwritten.
	Tolerance = decimal.RequireFromString("0.05")
	// SuspiciousTipRatio flags tips above this share of the calculated total.
	SuspiciousTipRatio = decimal.RequireFromString("0.5")
)

// Ledger is the part of orders.Store the auditor needs.
type Ledger interface {
	orders.Catalog
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	GetOrderLines(ctx context.Context, orderID string) ([]orders.OrderLine, error)
	UpdateTotal(ctx context.Context, orderID string, total decimal.Decimal) error
}

type LinePrice struct {
	LineID      string
	MenuItemID  string
	Title       string
	Quantity    int
	UnitPrice   decimal.Decimal // current catalog price of the menu item
	Extras      []ExtraPrice
	ExtrasTotal decimal.Decimal // sum of extra price x extra quantity for the whole line
	Total       decimal.Decimal
}

type ExtraPrice struct {
	ExtraID   string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Charge is one item as it is sent to the processor.
type Charge struct {
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Charges lists the menu items, the extras and the tip as separate items.
// Catalog prices carry two decimals, so the sum of unit price x quantity is
// exactly Final.
func (r *Result) Charges(tipTitle string) []Charge {
	out := make([]Charge, 0, len(r.Lines)+1)
	for _, l := range r.Lines {
		out = append(out, Charge{Title: l.Title, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
		for _, x := range l.Extras {
			out = append(out, Charge{Title: x.Title, Quantity: x.Quantity, UnitPrice: x.UnitPrice})
		}
	}
	if r.Tip.IsPositive() {
		out = append(out, Charge{Title: tipTitle, Quantity: 1, UnitPrice: r.Tip})
	}
	return out
}

// ChargedTotal is the sum of Charges.
func ChargedTotal(cs []Charge) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range cs {
		sum = sum.Add(c.UnitPrice.Mul(decimal.NewFromInt(int64(c.Quantity))))
	}
	return sum
}

type Result struct {
	OrderID    string
	Calculated decimal.Decimal
	Reported   decimal.Decimal
	Tip        decimal.Decimal
	Final      decimal.Decimal
	Lines      []LinePrice
	Suspicious bool
	Corrected  bool
}

type Auditor struct {
	Store Ledger
	Log   *logger.Logger
}

func New(store Ledger, log *logger.Logger) *Auditor {
	if log == nil {
		log = logger.Nop()
	}
	return &Auditor{Store: store, Log: log.WithComponent("pricing")}
}

// Audit reprices orderID and, when the stored total is off by more than
// Tolerance, overwrites it with the audited final total.
func (a *Auditor) Audit(ctx context.Context, orderID string) (*Result, error) {
	const op = "pricing.Audit"

	o, err := a.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	lines, err := a.Store.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, orders.InputError(op, "order %s has no items", orderID)
	}

	// harga selalu dari catalog, snapshot unit_price tidak dipakai
	items, err := a.Store.MenuItems(ctx, menuItemIDs(lines))
	if err != nil {
		return nil, fmt.Errorf("load menu items: %w", err)
	}
	extras, err := a.Store.Extras(ctx, extraIDs(lines))
	if err != nil {
		return nil, fmt.Errorf("load extras: %w", err)
	}

	res, err := Compute(lines, items, extras, o.TotalAmount)
	if err != nil {
		return nil, err
	}
	res.OrderID = orderID

	log := a.Log.With("order_id", orderID)
	if res.Suspicious {
		log.Warn("suspicious tip", "tip", res.Tip.StringFixed(2), "calculated", res.Calculated.StringFixed(2))
	}
	if res.Corrected {
		if o.IsPaid() {
			// paid totals are history; never rewrite them
			res.Corrected = false
			return res, nil
		}
		log.Info("price mismatch, correcting order total",
			"stored", res.Reported.StringFixed(2), "audited", res.Final.StringFixed(2))
		if err := a.Store.UpdateTotal(ctx, orderID, res.Final); err != nil {
			return nil, fmt.Errorf("correct total: %w", err)
		}
	}
	return res, nil
}

// Compute is the pure pricing rule: every line from current catalog prices,
// the positive difference to reported is tip.
func Compute(lines []orders.OrderLine, items, extras map[string]orders.CatalogItem, reported decimal.Decimal) (*Result, error) {
	const op = "pricing.Compute"
	res := &Result{Reported: reported, Calculated: decimal.Zero, Tip: decimal.Zero}

	for _, l := range lines {
		it, ok := items[l.MenuItemID]
		if !ok {
			return nil, orders.InputError(op, "menu item %s no longer exists", l.MenuItemID)
		}
		lp := LinePrice{
			LineID:      l.ID,
			MenuItemID:  l.MenuItemID,
			Title:       it.Name,
			Quantity:    l.Quantity,
			UnitPrice:   it.Price,
			ExtrasTotal: decimal.Zero,
		}
		for _, x := range l.Extras {
			ex, ok := extras[x.ExtraID]
			if !ok {
				return nil, orders.InputError(op, "extra %s no longer exists", x.ExtraID)
			}
			if !orders.ExtraFits(ex, l.MenuItemID) {
				return nil, orders.InputError(op, "extra %s does not belong to menu item %s", x.ExtraID, l.MenuItemID)
			}
			lp.ExtrasTotal = lp.ExtrasTotal.Add(ex.Price.Mul(decimal.NewFromInt(int64(x.Quantity))))
			lp.Extras = append(lp.Extras, ExtraPrice{
				ExtraID: x.ExtraID, Title: it.Name + " + " + ex.Name, Quantity: x.Quantity, UnitPrice: ex.Price,
			})
		}
		lp.Total = it.Price.Mul(decimal.NewFromInt(int64(l.Quantity))).Add(lp.ExtrasTotal)
		res.Calculated = res.Calculated.Add(lp.Total)
		res.Lines = append(res.Lines, lp)
	}

	if reported.GreaterThan(res.Calculated) {
		res.Tip = reported.Sub(res.Calculated)
		res.Suspicious = res.Tip.GreaterThan(res.Calculated.Mul(SuspiciousTipRatio))
	}
	res.Final = res.Calculated.Add(res.Tip)
	res.Corrected = res.Final.Sub(reported).Abs().GreaterThan(Tolerance)
	return res, nil
}

func menuItemIDs(lines []orders.OrderLine) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range lines {
		if !seen[l.MenuItemID] {
			seen[l.MenuItemID] = true
			out = append(out, l.MenuItemID)
		}
	}
	return out
}

func extraIDs(lines []orders.OrderLine) []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range lines {
		for _, x := range l.Extras {
			if !seen[x.ExtraID] {
				seen[x.ExtraID] = true
				out = append(out, x.ExtraID)
			}
		}
	}
	return out
}
