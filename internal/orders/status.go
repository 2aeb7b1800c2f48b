package orders

// Status is the kitchen-facing order status.
type Status string

const (
	StatusPending           Status = "pending"
	StatusPaid              Status = "paid"
	StatusPreparation       Status = "preparation"
	StatusReadyToDeliver    Status = "ready_to_deliver"
	StatusDelivered         Status = "delivered"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusCustomerCancelled Status = "customer_cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending: {
		StatusPaid: true, StatusPreparation: true, StatusReadyToDeliver: true,
		StatusDelivered: true, StatusCompleted: true,
		StatusCancelled: true, StatusCustomerCancelled: true,
	},
	StatusPaid:              {StatusPreparation: true, StatusReadyToDeliver: true, StatusDelivered: true, StatusCompleted: true, StatusCancelled: true},
	StatusPreparation:       {StatusReadyToDeliver: true, StatusDelivered: true, StatusCompleted: true, StatusCancelled: true},
	StatusReadyToDeliver:    {StatusDelivered: true, StatusCompleted: true, StatusCancelled: true},
	StatusDelivered:         {},
	StatusCompleted:         {},
	StatusCancelled:         {},
	StatusCustomerCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// InactiveStatuses are excluded when counting a session's active orders.
// customer_cancelled still counts as active, its payment can be retried.
var InactiveStatuses = []Status{StatusCancelled, StatusDelivered, StatusCompleted}

func (s Status) Active() bool {
	for _, x := range InactiveStatuses {
		if s == x {
			return false
		}
	}
	return true
}

// PaymentStatus only moves forward; paid is terminal.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

var paymentRank = map[PaymentStatus]int{
	PaymentUnpaid:  0,
	PaymentPending: 1,
	PaymentPaid:    2,
}

func CanAdvancePayment(from, to PaymentStatus) bool {
	f, ok1 := paymentRank[from]
	t, ok2 := paymentRank[to]
	return ok1 && ok2 && t > f
}

// PayableStatuses are the payment statuses a paid write may be applied on.
var PayableStatuses = []PaymentStatus{PaymentUnpaid, PaymentPending}

func (p PaymentStatus) Payable() bool {
	for _, s := range PayableStatuses {
		if p == s {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	MethodCash        PaymentMethod = "cash"
	MethodMercadoPago PaymentMethod = "mercadopago"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodCash || m == MethodMercadoPago
}
