package orders_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

func validOrder() orders.NewOrder {
	return orders.NewOrder{
		RestaurantID:    "r1",
		TableID:         "t1",
		ClientSessionID: "s1",
		PaymentMethod:   orders.MethodMercadoPago,
		Lines: []orders.LineInput{
			{MenuItemID: "burger", Quantity: 2, Extras: []orders.ExtraInput{{ExtraID: "cheese", Quantity: 1}}},
			{MenuItemID: "soda", Quantity: 1},
		},
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, orders.CanTransition(orders.StatusPending, orders.StatusPaid))
	assert.True(t, orders.CanTransition(orders.StatusPending, orders.StatusCustomerCancelled))
	assert.True(t, orders.CanTransition(orders.StatusPaid, orders.StatusPreparation))
	assert.False(t, orders.CanTransition(orders.StatusPaid, orders.StatusPending))
	assert.False(t, orders.CanTransition(orders.StatusDelivered, orders.StatusCompleted))
	assert.False(t, orders.CanTransition(orders.StatusCustomerCancelled, orders.StatusPaid))

	assert.True(t, orders.StatusCompleted.Terminal())
	assert.False(t, orders.StatusPaid.Terminal())
	assert.False(t, orders.Status("bogus").Valid())
}

func TestActiveStatuses(t *testing.T) {
	assert.True(t, orders.StatusPending.Active())
	assert.True(t, orders.StatusCustomerCancelled.Active())
	assert.False(t, orders.StatusCancelled.Active())
	assert.False(t, orders.StatusDelivered.Active())
	assert.False(t, orders.StatusCompleted.Active())
}

func TestPaymentStatusOnlyMovesForward(t *testing.T) {
	assert.True(t, orders.CanAdvancePayment(orders.PaymentUnpaid, orders.PaymentPending))
	assert.True(t, orders.CanAdvancePayment(orders.PaymentPending, orders.PaymentPaid))
	assert.False(t, orders.CanAdvancePayment(orders.PaymentPaid, orders.PaymentPending))
	assert.False(t, orders.CanAdvancePayment(orders.PaymentPaid, orders.PaymentPaid))
	assert.False(t, orders.CanAdvancePayment("refunded", orders.PaymentPaid))
}

func TestValidate(t *testing.T) {
	require.NoError(t, validOrder().Validate())

	cases := map[string]func(*orders.NewOrder){
		"no restaurant":  func(n *orders.NewOrder) { n.RestaurantID = "" },
		"table+takeaway": func(n *orders.NewOrder) { n.Takeaway = true },
		"neither":        func(n *orders.NewOrder) { n.TableID = "" },
		"no session":     func(n *orders.NewOrder) { n.ClientSessionID = "" },
		"bad method":     func(n *orders.NewOrder) { n.PaymentMethod = "card" },
		"negative total": func(n *orders.NewOrder) { n.DeclaredTotal = decimal.NewFromInt(-1) },
		"no lines":       func(n *orders.NewOrder) { n.Lines = nil },
		"zero qty":       func(n *orders.NewOrder) { n.Lines[1].Quantity = 0 },
		"no menu item":   func(n *orders.NewOrder) { n.Lines[0].MenuItemID = "" },
		"bad extra":      func(n *orders.NewOrder) { n.Lines[0].Extras[0].Quantity = 0 },
		"long notes":     func(n *orders.NewOrder) { n.Lines[0].SpecialInstructions = strings.Repeat("x", 501) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			n := validOrder()
			n.Lines = append([]orders.LineInput(nil), n.Lines...)
			n.Lines[0].Extras = append([]orders.ExtraInput(nil), n.Lines[0].Extras...)
			mutate(&n)
			err := n.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, orders.ErrInput))
		})
	}
}

func TestSubtotalUsesCatalogPrices(t *testing.T) {
	n := validOrder()
	items := map[string]orders.CatalogItem{
		"burger": {ID: "burger", Price: decimal.NewFromInt(30)},
		"soda":   {ID: "soda", Price: decimal.RequireFromString("12.5")},
	}
	extras := map[string]orders.CatalogItem{"cheese": {ID: "cheese", Price: decimal.NewFromInt(5)}}

	got, err := n.Subtotal(items, extras)
	require.NoError(t, err)
	assert.Equal(t, "77.5", got.String())

	delete(extras, "cheese")
	_, err = n.Subtotal(items, extras)
	assert.Equal(t, orders.KindInput, orders.KindOf(err))
}

func TestDistinctCatalogIDs(t *testing.T) {
	n := validOrder()
	n.Lines = append(n.Lines, orders.LineInput{MenuItemID: "burger", Quantity: 1,
		Extras: []orders.ExtraInput{{ExtraID: "cheese", Quantity: 2}}})
	assert.Equal(t, []string{"burger", "soda"}, n.MenuItemIDs())
	assert.Equal(t, []string{"cheese"}, n.ExtraIDs())
}

func TestPickupCode(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := orders.NewPickupCode()
		require.Len(t, c, 5)
		assert.False(t, strings.ContainsAny(c, "IO01"), c)
		assert.Equal(t, strings.ToUpper(c), c)
	}
}

func TestErrorKinds(t *testing.T) {
	err := orders.LimitExceeded("op", 5, 5)
	assert.True(t, errors.Is(err, orders.ErrLimitExceeded))
	assert.False(t, errors.Is(err, orders.ErrInput))
	assert.Equal(t, orders.KindLimitExceeded, orders.KindOf(err))
	assert.Equal(t, orders.Kind(""), orders.KindOf(errors.New("plain")))

	up := orders.UpstreamError("op", errors.New("boom"))
	assert.Contains(t, up.Error(), "boom")
	assert.Equal(t, orders.KindUpstream, orders.KindOf(up))
}

func TestPayableMatchesForwardMove(t *testing.T) {
	for _, s := range []orders.PaymentStatus{orders.PaymentUnpaid, orders.PaymentPending, orders.PaymentPaid, "refunded"} {
		assert.Equal(t, orders.CanAdvancePayment(s, orders.PaymentPaid), s.Payable(), s)
	}
}

func TestSubtotalRejectsExtraOfAnotherItem(t *testing.T) {
	n := validOrder()
	items := map[string]orders.CatalogItem{
		"burger": {ID: "burger", Price: decimal.NewFromInt(30)},
		"soda":   {ID: "soda", Price: decimal.NewFromInt(10)},
	}
	extras := map[string]orders.CatalogItem{"cheese": {ID: "cheese", Price: decimal.NewFromInt(5), MenuItemID: "pizza"}}
	_, err := n.Subtotal(items, extras)
	assert.Equal(t, orders.KindInput, orders.KindOf(err))

	extras["cheese"] = orders.CatalogItem{ID: "cheese", Price: decimal.NewFromInt(5), MenuItemID: "burger"}
	got, err := n.Subtotal(items, extras)
	require.NoError(t, err)
	assert.Equal(t, "75", got.String())
}

func TestTaxonomyConstructors(t *testing.T) {
	c := orders.ConflictResolved("op", "o1")
	assert.ErrorIs(t, c, orders.ErrConflictResolved)
	assert.Contains(t, c.Error(), "o1")

	v := orders.VerificationInconclusive("op", errors.New("timeout"))
	assert.ErrorIs(t, v, orders.ErrVerificationInconclusive)
	assert.Contains(t, v.Error(), "timeout")
}
