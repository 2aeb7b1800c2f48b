// Package memstore is an in-memory orders.Store. Conditional writes hold the
// store lock for the whole compare-and-set, matching the guarded UPDATEs of
// orders.Repo.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	restaurants map[string]orders.Restaurant
	tables      map[string]string // table id -> restaurant id
	items       map[string]catalogEntry
	extras      map[string]orders.CatalogItem
	orders      map[string]orders.Order
	lines       map[string][]orders.OrderLine

	paidWrites int
}

type catalogEntry struct {
	orders.CatalogItem
	restaurantID string
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:         time.Now,
		restaurants: map[string]orders.Restaurant{},
		tables:      map[string]string{},
		items:       map[string]catalogEntry{},
		extras:      map[string]orders.CatalogItem{},
		orders:      map[string]orders.Order{},
		lines:       map[string][]orders.OrderLine{},
	}
}

// SetClock replaces the time source used for created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) PutRestaurant(r orders.Restaurant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants[r.ID] = r
}

func (s *Store) PutTable(tableID, restaurantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[tableID] = restaurantID
}

func (s *Store) PutMenuItem(restaurantID string, it orders.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ID] = catalogEntry{CatalogItem: it, restaurantID: restaurantID}
}

func (s *Store) PutExtra(it orders.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extras[it.ID] = it
}

// PutOrder stores an order and its lines verbatim, bypassing pricing and limits.
func (s *Store) PutOrder(o orders.Order, lines []orders.OrderLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	for i := range lines {
		lines[i].OrderID = o.ID
		if lines[i].ID == "" {
			lines[i].ID = uuid.NewString()
		}
	}
	s.orders[o.ID] = o
	s.lines[o.ID] = lines
}

// PaidWrites counts MarkPaid calls that actually changed a row.
func (s *Store) PaidWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paidWrites
}

// SetStatus is the kitchen-side status update, outside the reconciliation core.
func (s *Store) SetStatus(orderID string, st orders.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	o.Status = st
	o.UpdatedAt = s.now()
	s.orders[orderID] = o
}

func (s *Store) CreateOrder(_ context.Context, in orders.NewOrder, limit orders.Limit) (*orders.Order, error) {
	const op = "memstore.CreateOrder"
	if err := in.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit.Max > 0 {
		if n := s.countActiveLocked(in.RestaurantID, in.ClientSessionID, limit.Since); n >= limit.Max {
			return nil, orders.LimitExceeded(op, n, limit.Max)
		}
	}
	if !in.Takeaway && s.tables[in.TableID] != in.RestaurantID {
		return nil, orders.InputError(op, "table %s not found", in.TableID)
	}
	items := map[string]orders.CatalogItem{}
	for _, id := range in.MenuItemIDs() {
		if e, ok := s.items[id]; ok && e.restaurantID == in.RestaurantID {
			items[id] = e.CatalogItem
		}
	}
	subtotal, err := in.Subtotal(items, s.extras)
	if err != nil {
		return nil, err
	}
	total := in.DeclaredTotal
	if !total.IsPositive() {
		total = subtotal
	}

	number := 1
	for _, o := range s.orders {
		if o.RestaurantID == in.RestaurantID && o.OrderNumber >= number {
			number = o.OrderNumber + 1
		}
	}
	now := s.now()
	o := orders.Order{
		ID:              uuid.NewString(),
		RestaurantID:    in.RestaurantID,
		TableID:         in.TableID,
		ClientSessionID: in.ClientSessionID,
		Status:          orders.StatusPending,
		PaymentStatus:   orders.PaymentUnpaid,
		PaymentMethod:   in.PaymentMethod,
		TotalAmount:     total,
		OrderNumber:     number,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.Takeaway {
		o.PickupCode = orders.NewPickupCode()
	}
	lines := make([]orders.OrderLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		line := orders.OrderLine{
			ID:                  uuid.NewString(),
			OrderID:             o.ID,
			MenuItemID:          l.MenuItemID,
			Quantity:            l.Quantity,
			UnitPrice:           items[l.MenuItemID].Price,
			SpecialInstructions: l.SpecialInstructions,
		}
		for _, x := range l.Extras {
			line.Extras = append(line.Extras, orders.AddedExtra{
				ID: uuid.NewString(), ExtraID: x.ExtraID, Quantity: x.Quantity, UnitPrice: s.extras[x.ExtraID].Price,
			})
		}
		lines = append(lines, line)
	}
	s.orders[o.ID] = o
	s.lines[o.ID] = lines
	return &o, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.NotFound("memstore.GetOrder", "order %s not found", id)
	}
	return &o, nil
}

func (s *Store) GetOrderLines(_ context.Context, orderID string) ([]orders.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.lines[orderID]
	out := make([]orders.OrderLine, len(src))
	for i, l := range src {
		l.Extras = append([]orders.AddedExtra(nil), l.Extras...)
		out[i] = l
	}
	return out, nil
}

func (s *Store) UpdateTotal(_ context.Context, orderID string, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.IsPaid() {
		return orders.InputError("memstore.UpdateTotal", "order %s is paid or missing", orderID)
	}
	o.TotalAmount = total
	o.UpdatedAt = s.now()
	s.orders[orderID] = o
	return nil
}

func (s *Store) SetPreferenceID(_ context.Context, orderID, preferenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.NotFound("memstore.SetPreferenceID", "order %s not found", orderID)
	}
	o.PreferenceID = preferenceID
	o.UpdatedAt = s.now()
	s.orders[orderID] = o
	return nil
}

func (s *Store) MarkPaid(_ context.Context, orderID string, rec orders.PaymentRecord) (*orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, false, orders.NotFound("memstore.MarkPaid", "order %s not found", orderID)
	}
	if !o.PaymentStatus.Payable() {
		return &o, false, nil
	}
	o.PaymentStatus = orders.PaymentPaid
	if orders.CanTransition(o.Status, orders.StatusPaid) {
		o.Status = orders.StatusPaid
	}
	o.PaymentID = rec.PaymentID
	o.PaymentMethodDetail = rec.MethodDetail
	o.CollectionID = rec.CollectionID
	o.PayerEmail = rec.PayerEmail
	o.PayerName = rec.PayerName
	o.UpdatedAt = s.now()
	s.orders[orderID] = o
	s.paidWrites++
	return &o, true, nil
}

func (s *Store) CancelIfPending(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != orders.StatusPending || !o.PaymentStatus.Payable() {
		return false, nil
	}
	o.Status = orders.StatusCustomerCancelled
	o.UpdatedAt = s.now()
	s.orders[orderID] = o
	return true, nil
}

func (s *Store) CountActive(_ context.Context, restaurantID, sessionID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveLocked(restaurantID, sessionID, since), nil
}

func (s *Store) countActiveLocked(restaurantID, sessionID string, since time.Time) int {
	n := 0
	for _, o := range s.orders {
		if o.RestaurantID == restaurantID && o.ClientSessionID == sessionID &&
			o.Status.Active() && !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}

func (s *Store) ListPaidForSession(_ context.Context, q orders.PaidQuery) ([]orders.Order, error) {
	if q.ClientSessionID == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if !o.IsPaid() || o.ClientSessionID != q.ClientSessionID || o.RestaurantID != q.RestaurantID {
			continue
		}
		if o.UpdatedAt.Before(q.Since) {
			continue
		}
		if q.Takeaway && !o.IsTakeaway() {
			continue
		}
		if !q.Takeaway && q.TableID != "" && o.TableID != q.TableID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	limit := q.Limit
	if limit <= 0 {
		limit = 1
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetRestaurant(_ context.Context, id string) (*orders.Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.restaurants[id]
	if !ok {
		return nil, orders.NotFound("memstore.GetRestaurant", "restaurant %s not found", id)
	}
	return &r, nil
}

func (s *Store) GetRestaurantByMPUser(_ context.Context, mpUserID string) (*orders.Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.restaurants {
		if mpUserID != "" && r.MPUserID == mpUserID {
			return &r, nil
		}
	}
	return nil, orders.NotFound("memstore.GetRestaurantByMPUser", "no restaurant for processor user %s", mpUserID)
}

func (s *Store) RestaurantIDForTable(_ context.Context, tableID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tables[tableID]
	if !ok {
		return "", orders.NotFound("memstore.RestaurantIDForTable", "table %s not found", tableID)
	}
	return id, nil
}

func (s *Store) SetRestaurantMPUser(_ context.Context, restaurantID, mpUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.restaurants[restaurantID]
	if ok && r.MPUserID == "" {
		r.MPUserID = mpUserID
		s.restaurants[restaurantID] = r
	}
	return nil
}

func (s *Store) MenuItems(_ context.Context, ids []string) (map[string]orders.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]orders.CatalogItem{}
	for _, id := range ids {
		if e, ok := s.items[id]; ok {
			out[id] = e.CatalogItem
		}
	}
	return out, nil
}

func (s *Store) Extras(_ context.Context, ids []string) (map[string]orders.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]orders.CatalogItem{}
	for _, id := range ids {
		if e, ok := s.extras[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// SetPrice changes a catalog price after orders were placed.
func (s *Store) SetPrice(itemID string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[itemID]; ok {
		e.Price = price
		s.items[itemID] = e
		return
	}
	if e, ok := s.extras[itemID]; ok {
		e.Price = price
		s.extras[itemID] = e
	}
}
