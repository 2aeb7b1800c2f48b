package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DB is the part of *pgxpool.Pool the ledger uses.
type DB interface {
	querier
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Repo is the Postgres ledger.
type Repo struct{ DB DB }

var _ Store = (*Repo)(nil)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = `id, restaurant_id, COALESCE(table_id, ''), COALESCE(pickup_code, ''),
	COALESCE(client_session_id, ''), status, payment_status, payment_method, total_amount,
	order_number, COALESCE(notes, ''), COALESCE(mercadopago_payment_id, ''),
	COALESCE(mercadopago_preference_id, ''), COALESCE(mercadopago_collection_id, ''),
	COALESCE(mercadopago_payment_method, ''), COALESCE(payer_email, ''), COALESCE(payer_name, ''),
	created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status, payStatus, method string
	err := row.Scan(&o.ID, &o.RestaurantID, &o.TableID, &o.PickupCode, &o.ClientSessionID,
		&status, &payStatus, &method, &o.TotalAmount, &o.OrderNumber, &o.Notes,
		&o.PaymentID, &o.PreferenceID, &o.CollectionID, &o.PaymentMethodDetail,
		&o.PayerEmail, &o.PayerName, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status, o.PaymentStatus, o.PaymentMethod = Status(status), PaymentStatus(payStatus), PaymentMethod(method)
	return &o, nil
}

// CreateOrder prices the cart from the catalog and inserts order + lines + extras in one tx.
// The per-restaurant advisory lock serializes order_number assignment and the active-order count.
func (r *Repo) CreateOrder(ctx context.Context, in NewOrder, limit Limit) (*Order, error) {
	const op = "orders.Repo.CreateOrder"
	if err := in.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, in.RestaurantID); err != nil {
		return nil, fmt.Errorf("%s: lock: %w", op, err)
	}

	if limit.Max > 0 {
		n, err := countActive(ctx, tx, in.RestaurantID, in.ClientSessionID, limit.Since)
		if err != nil {
			return nil, err
		}
		if n >= limit.Max {
			return nil, LimitExceeded(op, n, limit.Max)
		}
	}

	if !in.Takeaway {
		var owner string
		err := tx.QueryRow(ctx, `SELECT restaurant_id FROM tables WHERE id=$1`, in.TableID).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != in.RestaurantID) {
			return nil, InputError(op, "table %s not found", in.TableID)
		}
		if err != nil {
			return nil, err
		}
	}

	// hitung harga dari catalog, client price tidak dipakai
	items, err := menuItems(ctx, tx, in.RestaurantID, in.MenuItemIDs())
	if err != nil {
		return nil, err
	}
	extras, err := extrasByID(ctx, tx, in.ExtraIDs())
	if err != nil {
		return nil, err
	}
	subtotal, err := in.Subtotal(items, extras)
	if err != nil {
		return nil, err
	}
	total := in.DeclaredTotal
	if !total.IsPositive() {
		total = subtotal
	}

	o := &Order{
		ID:              uuid.NewString(),
		RestaurantID:    in.RestaurantID,
		TableID:         in.TableID,
		ClientSessionID: in.ClientSessionID,
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		PaymentMethod:   in.PaymentMethod,
		TotalAmount:     total,
		Notes:           in.Notes,
	}
	if in.Takeaway {
		o.PickupCode = NewPickupCode()
	}

	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(order_number), 0) + 1 FROM orders WHERE restaurant_id=$1`,
		in.RestaurantID).Scan(&o.OrderNumber); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, restaurant_id, table_id, pickup_code, client_session_id, status,
		                   payment_status, payment_method, total_amount, order_number, notes)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, NULLIF($11, ''))
		RETURNING created_at, updated_at`,
		o.ID, o.RestaurantID, o.TableID, o.PickupCode, o.ClientSessionID, string(o.Status),
		string(o.PaymentStatus), string(o.PaymentMethod), o.TotalAmount, o.OrderNumber, o.Notes,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for _, l := range in.Lines {
		var lineID string
		err := tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, menu_item_id, quantity, unit_price, special_instructions)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			RETURNING id`,
			o.ID, l.MenuItemID, l.Quantity, items[l.MenuItemID].Price, l.SpecialInstructions,
		).Scan(&lineID)
		if err != nil {
			return nil, err
		}
		for _, x := range l.Extras {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_item_added_extras(order_item_id, extra_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4)`,
				lineID, x.ExtraID, x.Quantity, extras[x.ExtraID].Price,
			); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repo) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFound("orders.Repo.GetOrder", "order %s not found", id)
	}
	return o, err
}

func (r *Repo) GetOrderLines(ctx context.Context, orderID string) ([]OrderLine, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, menu_item_id, quantity, unit_price, COALESCE(special_instructions, '')
		FROM order_items WHERE order_id=$1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	var lines []OrderLine
	idx := map[string]int{}
	ids := []string{}
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.MenuItemID, &l.Quantity, &l.UnitPrice, &l.SpecialInstructions); err != nil {
			rows.Close()
			return nil, err
		}
		idx[l.ID] = len(lines)
		ids = append(ids, l.ID)
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return lines, nil
	}

	xrows, err := r.DB.Query(ctx, `
		SELECT id, order_item_id, extra_id, quantity, unit_price
		FROM order_item_added_extras WHERE order_item_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer xrows.Close()
	for xrows.Next() {
		var x AddedExtra
		var lineID string
		if err := xrows.Scan(&x.ID, &lineID, &x.ExtraID, &x.Quantity, &x.UnitPrice); err != nil {
			return nil, err
		}
		i := idx[lineID]
		lines[i].Extras = append(lines[i].Extras, x)
	}
	return lines, xrows.Err()
}

func (r *Repo) UpdateTotal(ctx context.Context, orderID string, total decimal.Decimal) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET total_amount=$2, updated_at=now()
		WHERE id=$1 AND payment_status <> 'paid'`, orderID, total)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return InputError("orders.Repo.UpdateTotal", "order %s is paid or missing", orderID)
	}
	return nil
}

func (r *Repo) SetPreferenceID(ctx context.Context, orderID, preferenceID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET mercadopago_preference_id=$2, updated_at=now()
		WHERE id=$1`, orderID, preferenceID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return NotFound("orders.Repo.SetPreferenceID", "order %s not found", orderID)
	}
	return nil
}

// MarkPaid is a single guarded UPDATE; the loser of a race sees zero rows and reads back.
func (r *Repo) MarkPaid(ctx context.Context, orderID string, rec PaymentRecord) (*Order, bool, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders SET
			payment_status='paid',
			status = CASE WHEN status='pending' THEN 'paid' ELSE status END,
			mercadopago_payment_id=NULLIF($2, ''),
			mercadopago_payment_method=NULLIF($3, ''),
			mercadopago_collection_id=NULLIF($4, ''),
			payer_email=NULLIF($5, ''),
			payer_name=NULLIF($6, ''),
			updated_at=now()
		WHERE id=$1 AND payment_status = ANY($7)
		RETURNING `+orderColumns,
		orderID, rec.PaymentID, rec.MethodDetail, rec.CollectionID, rec.PayerEmail, rec.PayerName, payable()))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	cur, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

func (r *Repo) CancelIfPending(ctx context.Context, orderID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='customer_cancelled', updated_at=now()
		WHERE id=$1 AND status='pending' AND payment_status = ANY($2)`, orderID, payable())
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func payable() []string {
	out := make([]string, 0, len(PayableStatuses))
	for _, s := range PayableStatuses {
		out = append(out, string(s))
	}
	return out
}

func (r *Repo) CountActive(ctx context.Context, restaurantID, sessionID string, since time.Time) (int, error) {
	return countActive(ctx, r.DB, restaurantID, sessionID, since)
}

func countActive(ctx context.Context, q querier, restaurantID, sessionID string, since time.Time) (int, error) {
	inactive := make([]string, 0, len(InactiveStatuses))
	for _, s := range InactiveStatuses {
		inactive = append(inactive, string(s))
	}
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE restaurant_id=$1 AND client_session_id=$2
		  AND status <> ALL($3) AND created_at >= $4`,
		restaurantID, sessionID, inactive, since).Scan(&n)
	return n, err
}

func (r *Repo) ListPaidForSession(ctx context.Context, q PaidQuery) ([]Order, error) {
	if q.ClientSessionID == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 1
	}
	sql := `SELECT ` + orderColumns + ` FROM orders
		WHERE payment_status='paid' AND client_session_id=$1 AND client_session_id <> ''
		  AND restaurant_id=$2 AND updated_at >= $3`
	args := []any{q.ClientSessionID, q.RestaurantID, q.Since}
	switch {
	case q.Takeaway:
		sql += ` AND table_id IS NULL`
	case q.TableID != "":
		sql += ` AND table_id=$4`
		args = append(args, q.TableID)
	}
	sql += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT %d`, limit)

	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

const restaurantColumns = `id, name, COALESCE(logo_url, ''), COALESCE(cover_image_url, ''),
	COALESCE(primary_color, ''), COALESCE(mercadopago_access_token, ''),
	COALESCE(mercadopago_user_id, ''), COALESCE(mercadopago_sandbox_mode, false)`

func scanRestaurant(row pgx.Row) (*Restaurant, error) {
	var rs Restaurant
	if err := row.Scan(&rs.ID, &rs.Name, &rs.LogoURL, &rs.CoverImageURL, &rs.PrimaryColor,
		&rs.MPAccessToken, &rs.MPUserID, &rs.MPSandbox); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (r *Repo) GetRestaurant(ctx context.Context, id string) (*Restaurant, error) {
	rs, err := scanRestaurant(r.DB.QueryRow(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFound("orders.Repo.GetRestaurant", "restaurant %s not found", id)
	}
	return rs, err
}

func (r *Repo) GetRestaurantByMPUser(ctx context.Context, mpUserID string) (*Restaurant, error) {
	rs, err := scanRestaurant(r.DB.QueryRow(ctx, `SELECT `+restaurantColumns+`
		FROM restaurants WHERE mercadopago_user_id=$1 ORDER BY created_at LIMIT 1`, mpUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFound("orders.Repo.GetRestaurantByMPUser", "no restaurant for processor user %s", mpUserID)
	}
	return rs, err
}

func (r *Repo) RestaurantIDForTable(ctx context.Context, tableID string) (string, error) {
	var id string
	err := r.DB.QueryRow(ctx, `SELECT restaurant_id FROM tables WHERE id=$1`, tableID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", NotFound("orders.Repo.RestaurantIDForTable", "table %s not found", tableID)
	}
	return id, err
}

func (r *Repo) SetRestaurantMPUser(ctx context.Context, restaurantID, mpUserID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE restaurants SET mercadopago_user_id=$2, updated_at=now()
		WHERE id=$1 AND COALESCE(mercadopago_user_id, '') = ''`, restaurantID, mpUserID)
	return err
}

func (r *Repo) MenuItems(ctx context.Context, ids []string) (map[string]CatalogItem, error) {
	return menuItems(ctx, r.DB, "", ids)
}

func (r *Repo) Extras(ctx context.Context, ids []string) (map[string]CatalogItem, error) {
	return extrasByID(ctx, r.DB, ids)
}

// menuItems scopes to restaurantID when it is set.
func menuItems(ctx context.Context, q querier, restaurantID string, ids []string) (map[string]CatalogItem, error) {
	out := map[string]CatalogItem{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT id, name, price FROM menu_items
		WHERE id = ANY($1) AND ($2 = '' OR restaurant_id::text = $2)`, ids, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it CatalogItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Price); err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}

func extrasByID(ctx context.Context, q querier, ids []string) (map[string]CatalogItem, error) {
	out := map[string]CatalogItem{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT id, name, price, menu_item_id FROM menu_item_extras WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it CatalogItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Price, &it.MenuItemID); err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}
