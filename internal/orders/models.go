package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Restaurant struct {
	ID            string
	Name          string
	LogoURL       string
	CoverImageURL string
	PrimaryColor  string
	MPAccessToken string
	MPUserID      string
	MPSandbox     bool
}

func (r Restaurant) HasCredentials() bool { return r.MPAccessToken != "" }

// CatalogItem is the authoritative current price of a menu item or extra.
type CatalogItem struct {
	ID    string
	Name  string
	Price decimal.Decimal
	// MenuItemID is set on extras: the only menu item the extra may be added to.
	MenuItemID string
}

// ExtraFits reports whether extra may be added to a line of menuItemID.
func ExtraFits(extra CatalogItem, menuItemID string) bool {
	return extra.MenuItemID == "" || extra.MenuItemID == menuItemID
}

// Order: TableID empty means takeaway, in which case PickupCode is set.
type Order struct {
	ID              string
	RestaurantID    string
	TableID         string
	PickupCode      string
	ClientSessionID string
	Status          Status
	PaymentStatus   PaymentStatus
	PaymentMethod   PaymentMethod
	TotalAmount     decimal.Decimal
	OrderNumber     int
	Notes           string

	PaymentID           string
	PreferenceID        string
	CollectionID        string
	PaymentMethodDetail string
	PayerEmail          string
	PayerName           string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o Order) IsTakeaway() bool { return o.TableID == "" }

func (o Order) IsPaid() bool { return o.PaymentStatus == PaymentPaid }

type OrderLine struct {
	ID                  string
	OrderID             string
	MenuItemID          string
	Quantity            int
	UnitPrice           decimal.Decimal // snapshot at order time, never used for repricing
	SpecialInstructions string
	Extras              []AddedExtra
}

type AddedExtra struct {
	ID        string
	ExtraID   string
	Quantity  int
	UnitPrice decimal.Decimal // snapshot
}

// PaymentRecord is what a verified approved payment writes onto the order.
type PaymentRecord struct {
	PaymentID    string
	MethodDetail string
	CollectionID string
	PayerEmail   string
	PayerName    string
}

// PaidQuery selects paid orders a client session may be told about.
type PaidQuery struct {
	ClientSessionID string
	RestaurantID    string
	TableID         string // empty with Takeaway=true selects takeaway orders only
	Takeaway        bool
	Since           time.Time
	Limit           int
}
