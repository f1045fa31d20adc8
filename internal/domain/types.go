package domain

import (
	"time"
)

// Pagination defines standard page/limit paging inputs for list operations.
type Pagination struct {
	Page  int
	Limit int
}

// PageInfo summarizes a paginated result set for list responses.
type PageInfo struct {
	Page  int
	Limit int
	Total int64
	Pages int
}

// Page packages list results together with paging metadata.
type Page[T any] struct {
	Items []T
	Info  PageInfo
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// ProductSort enumerates the supported orderings for catalog listings.
type ProductSort string

const (
	// ProductSortNewest orders products by creation time, newest first.
	ProductSortNewest ProductSort = "newest"
	// ProductSortPriceAsc orders products by price, cheapest first.
	ProductSortPriceAsc ProductSort = "price_asc"
	// ProductSortPriceDesc orders products by price, most expensive first.
	ProductSortPriceDesc ProductSort = "price_desc"
	// ProductSortRating orders products by aggregated rating, highest first.
	ProductSortRating ProductSort = "rating"
	// ProductSortBestselling orders products by units sold, highest first.
	ProductSortBestselling ProductSort = "bestselling"
)

// Product is the canonical catalog item shared across layers. Monetary
// fields are minor currency units (paise).
type Product struct {
	ID                string
	Name              string
	Slug              string
	Description       string
	Price             int64
	ComparePrice      int64
	Stock             int
	LowStockThreshold int
	SoldCount         int
	CategoryID        string
	Material          string
	Metal             string
	Gemstone          string
	WeightCentigrams  int
	Images            []string
	Keywords          []string
	IsActive          bool
	IsFeatured        bool
	Rating            float64
	ReviewCount       int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LowOnStock reports whether available stock has reached the alert threshold.
func (p Product) LowOnStock() bool {
	return p.Stock <= p.LowStockThreshold
}

// Category groups products into a shallow tree managed by administrators.
type Category struct {
	ID          string
	Name        string
	Slug        string
	ParentID    string
	Description string
	IsActive    bool
	SortOrder   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Cart aggregates the mutable shopping cart state for a user. A user has
// at most one cart, keyed by their user ID.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem stores a single product line within a cart. PriceSnapshot is the
// product price observed when the line was added or last updated; it is not
// refreshed by later catalog price changes.
type CartItem struct {
	ID            string
	ProductID     string
	Quantity      int
	PriceSnapshot int64
	AddedAt       time.Time
}

// Subtotal sums the snapshot price of every line in the cart.
func (c Cart) Subtotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.PriceSnapshot * int64(item.Quantity)
	}
	return total
}

// PaymentMethod enumerates the payment rails accepted at checkout.
type PaymentMethod string

const (
	// PaymentMethodCard settles via a card network.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodUPI settles via a UPI handle.
	PaymentMethodUPI PaymentMethod = "upi"
	// PaymentMethodNetbanking settles via a bank transfer rail.
	PaymentMethodNetbanking PaymentMethod = "netbanking"
	// PaymentMethodCOD is cash collected on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodWallet settles via an on-chain cryptocurrency transfer.
	PaymentMethodWallet PaymentMethod = "wallet"
)

// Valid reports whether the payment method is one of the accepted rails.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodUPI, PaymentMethodNetbanking, PaymentMethodCOD, PaymentMethodWallet:
		return true
	default:
		return false
	}
}

// PaymentStatus enumerates payment capture states for an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no successful capture has been recorded.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates payment was verified and captured.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates a capture attempt failed terminally.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the captured amount was returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid reports whether the payment status is a known capture state.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed but not yet confirmed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment was verified.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions is the legal order status graph. Cancelled is reachable
// from every pre-delivered state; delivered and cancelled are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  nil,
	OrderStatusCancelled:  nil,
}

// Valid reports whether the status is a known lifecycle state.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next follows the legal
// status graph.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order captures a placed order with its immutable item snapshot and
// payment state.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderItem
	ShippingAddress Address
	BillingAddress  Address
	Totals          OrderTotals
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	Status          OrderStatus
	StatusHistory   []OrderStatusChange
	Payment         *PaymentCapture
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeliveredAt     *time.Time
}

// OrderItem is an immutable snapshot of a purchased product line, decoupled
// from later catalog mutations.
type OrderItem struct {
	ProductID string
	Name      string
	Price     int64
	Quantity  int
	Image     string
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
// Invariant: Total = Subtotal + Tax + Shipping - Discount.
type OrderTotals struct {
	Subtotal int64
	Tax      int64
	Shipping int64
	Discount int64
	Total    int64
}

// Consistent reports whether the totals satisfy the order total invariant.
func (t OrderTotals) Consistent() bool {
	return t.Total == t.Subtotal+t.Tax+t.Shipping-t.Discount
}

// OrderStatusChange is one entry in an order's append-only status log.
type OrderStatusChange struct {
	Status OrderStatus
	Note   string
	At     time.Time
}

// PaymentCapture records the verified payment attached to an order.
type PaymentCapture struct {
	TransactionID string
	Currency      string
	AmountPaid    int64
	PaidAt        time.Time
	BlockNumber   uint64
	Confirmations uint64
}

// Role is the closed set of access roles.
type Role string

const (
	// RoleUser is a regular storefront customer.
	RoleUser Role = "user"
	// RoleAdmin can manage catalog, orders and moderation.
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is a member of the closed role set.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is an account with credentials, address book and wishlist.
type User struct {
	ID                  string
	Email               string
	Name                string
	PasswordHash        string
	Role                Role
	Phone               string
	WalletAddress       string
	Addresses           []UserAddress
	Wishlist            []string
	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time
	PasswordChangedAt   time.Time
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DefaultAddress returns the address flagged as default, if any.
func (u User) DefaultAddress() *UserAddress {
	for i := range u.Addresses {
		if u.Addresses[i].IsDefault {
			return &u.Addresses[i]
		}
	}
	return nil
}

// UserAddress is an entry in a user's address book. At most one entry per
// user carries IsDefault.
type UserAddress struct {
	ID        string
	Label     string
	Address   Address
	IsDefault bool
}

// Address represents postal address structures shared by user and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Review captures user feedback on a product. The (UserID, ProductID) pair
// is unique.
type Review struct {
	ID         string
	ProductID  string
	UserID     string
	UserName   string
	Rating     int
	Title      string
	Comment    string
	IsApproved bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RatingSummary is the derived aggregate stored on a product.
type RatingSummary struct {
	Rating      float64
	ReviewCount int
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
