package orders_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-qr-orders/internal/orders"
)

var payableArg = []string{"unpaid", "pending"}

func newMockRepo(t *testing.T) (*orders.Repo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &orders.Repo{DB: mock}, mock
}

func orderRows(id, status, paymentStatus string) *pgxmock.Rows {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return pgxmock.NewRows([]string{
		"id", "restaurant_id", "table_id", "pickup_code", "client_session_id", "status", "payment_status",
		"payment_method", "total_amount", "order_number", "notes", "payment_id", "preference_id",
		"collection_id", "payment_method_detail", "payer_email", "payer_name", "created_at", "updated_at",
	}).AddRow(id, "r1", "t1", "", "s1", status, paymentStatus,
		"mercadopago", decimal.NewFromInt(80), 4, "", "P1", "pref-1",
		"C1", "visa", "ana@example.com", "Ana", now, now)
}

func TestRepoMarkPaidWinsGuardedUpdate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id=$1 AND payment_status = ANY($7)")).
		WithArgs("o1", "P1", "visa", "C1", "ana@example.com", "Ana", payableArg).
		WillReturnRows(orderRows("o1", "paid", "paid"))

	o, changed, err := repo.MarkPaid(context.Background(), "o1", orders.PaymentRecord{
		PaymentID: "P1", MethodDetail: "visa", CollectionID: "C1", PayerEmail: "ana@example.com", PayerName: "Ana",
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(80)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoMarkPaidLoserReadsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("payment_status = ANY($7)")).
		WithArgs("o1", "P1", "", "", "", "", payableArg).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id=$1")).
		WithArgs("o1").
		WillReturnRows(orderRows("o1", "preparation", "paid"))

	o, changed, err := repo.MarkPaid(context.Background(), "o1", orders.PaymentRecord{PaymentID: "P1"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, orders.StatusPreparation, o.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoCancelIfPending(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	cancel := regexp.QuoteMeta("SET status='customer_cancelled'")
	mock.ExpectExec(cancel).WithArgs("o1", payableArg).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(cancel).WithArgs("o1", payableArg).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	changed, err := repo.CancelIfPending(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.CancelIfPending(ctx, "o1")
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func repoCart() orders.NewOrder {
	return orders.NewOrder{
		RestaurantID:    "r1",
		TableID:         "t1",
		ClientSessionID: "s1",
		PaymentMethod:   orders.MethodMercadoPago,
		Lines:           []orders.LineInput{{MenuItemID: "burger", Quantity: 1}},
	}
}

func TestRepoCreateOrderCountsUnderAdvisoryLock(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM orders")).
		WithArgs("r1", "s1", []string{"cancelled", "delivered", "completed"}, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectRollback()

	_, err := repo.CreateOrder(context.Background(), repoCart(), orders.Limit{Max: 5, Since: time.Now().Add(-time.Hour)})
	assert.ErrorIs(t, err, orders.ErrLimitExceeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoCreateOrderRejectsForeignTable(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT restaurant_id FROM tables WHERE id=$1")).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"restaurant_id"}).AddRow("r2"))
	mock.ExpectRollback()

	_, err := repo.CreateOrder(context.Background(), repoCart(), orders.Limit{})
	assert.ErrorIs(t, err, orders.ErrInput)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoExtrasCarryTheirMenuItem(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, price, menu_item_id FROM menu_item_extras")).
		WithArgs([]string{"cheese"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "price", "menu_item_id"}).
			AddRow("cheese", "Cheese", decimal.NewFromInt(5), "burger"))

	got, err := repo.Extras(context.Background(), []string{"cheese"})
	require.NoError(t, err)
	assert.Equal(t, "burger", got["cheese"].MenuItemID)
	assert.False(t, orders.ExtraFits(got["cheese"], "taco"))
	require.NoError(t, mock.ExpectationsWereMet())
}
