package services

import (
	"context"
	"time"

	domain "github.com/aurelia-jewels/api/internal/domain"
)

// Aliases for domain types so handlers depend on the services package alone.
type (
	Pagination    = domain.Pagination
	PageInfo      = domain.PageInfo
	Product       = domain.Product
	Category      = domain.Category
	Cart          = domain.Cart
	CartItem      = domain.CartItem
	Order         = domain.Order
	OrderItem     = domain.OrderItem
	OrderTotals   = domain.OrderTotals
	OrderStatus   = domain.OrderStatus
	PaymentMethod = domain.PaymentMethod
	Review        = domain.Review
	RatingSummary = domain.RatingSummary
	User          = domain.User
	UserAddress   = domain.UserAddress
	Address       = domain.Address
	Role          = domain.Role

	SystemHealthReport = domain.SystemHealthReport
)

// Actor identifies the authenticated caller for ownership and role checks.
type Actor struct {
	UserID string
	Role   domain.Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == domain.RoleAdmin
}

// ProductQuery captures catalog listing filters after handler-side coercion.
type ProductQuery struct {
	CategoryID      string
	Search          string
	Material        string
	Metal           string
	MinPrice        *int64
	MaxPrice        *int64
	FeaturedOnly    bool
	IncludeInactive bool
	Sort            domain.ProductSort
	SortOrder       domain.SortOrder
	Pagination      domain.Pagination
}

// ProductCreateCommand carries the write payload for a new catalog product.
type ProductCreateCommand struct {
	Name              string
	Slug              string
	Description       string
	Price             int64
	ComparePrice      int64
	Stock             int
	LowStockThreshold int
	CategoryID        string
	Material          string
	Metal             string
	Gemstone          string
	WeightCentigrams  int
	Images            []string
	IsActive          *bool
	IsFeatured        bool
}

// ProductUpdateCommand carries a full-document product update.
type ProductUpdateCommand struct {
	ProductID string
	ProductCreateCommand
}

// CategoryCommand carries the write payload for category create/update.
type CategoryCommand struct {
	CategoryID  string
	Name        string
	Slug        string
	ParentID    string
	Description string
	IsActive    *bool
	SortOrder   int
}

// CatalogService exposes public catalog reads and admin catalog management.
type CatalogService interface {
	ListProducts(ctx context.Context, query ProductQuery) (domain.Page[domain.Product], error)
	// GetProduct resolves a product by ID or, failing that, by slug.
	GetProduct(ctx context.Context, idOrSlug string, includeInactive bool) (domain.Product, error)
	FeaturedProducts(ctx context.Context, limit int) ([]domain.Product, error)
	RelatedProducts(ctx context.Context, productID string, limit int) ([]domain.Product, error)
	SearchSuggestions(ctx context.Context, prefix string, limit int) ([]string, error)

	CreateProduct(ctx context.Context, cmd ProductCreateCommand) (domain.Product, error)
	UpdateProduct(ctx context.Context, cmd ProductUpdateCommand) (domain.Product, error)
	// DeleteProduct soft-disables the product unless hard is set.
	DeleteProduct(ctx context.Context, productID string, hard bool) error
	LowStockProducts(ctx context.Context) ([]domain.Product, error)

	ListCategories(ctx context.Context, includeInactive bool) ([]domain.Category, error)
	CreateCategory(ctx context.Context, cmd CategoryCommand) (domain.Category, error)
	UpdateCategory(ctx context.Context, cmd CategoryCommand) (domain.Category, error)
	DeleteCategory(ctx context.Context, categoryID string) error
}

// CartLine pairs a stored cart item with the live product fields clients render.
type CartLine struct {
	Item    domain.CartItem
	Name    string
	Image   string
	Price   int64
	InStock bool
}

// CartView is the populated cart returned by every cart operation.
type CartView struct {
	Cart     domain.Cart
	Lines    []CartLine
	Subtotal int64
}

// CartAddCommand adds (or merges) a product line into the caller's cart.
type CartAddCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// CartUpdateCommand replaces the quantity of an existing cart line.
type CartUpdateCommand struct {
	UserID   string
	ItemID   string
	Quantity int
}

// CartService owns cart reads and mutations for the authenticated user.
type CartService interface {
	Get(ctx context.Context, userID string) (CartView, error)
	AddItem(ctx context.Context, cmd CartAddCommand) (CartView, error)
	UpdateItem(ctx context.Context, cmd CartUpdateCommand) (CartView, error)
	RemoveItem(ctx context.Context, userID, itemID string) (CartView, error)
	Clear(ctx context.Context, userID string) error
}

// OrderItemInput names a product line requested at order placement.
type OrderItemInput struct {
	ProductID string
	Quantity  int
}

// OrderCreateCommand captures the order placement payload.
type OrderCreateCommand struct {
	UserID          string
	Items           []OrderItemInput
	FromCart        bool
	ShippingAddress domain.Address
	BillingAddress  *domain.Address
	PaymentMethod   domain.PaymentMethod
	Notes           string
}

// OrderAdminQuery filters the admin order listing.
type OrderAdminQuery struct {
	Status        []domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	UserID        string
	Pagination    domain.Pagination
}

// OrderStatusCommand moves an order along the status graph.
type OrderStatusCommand struct {
	OrderID string
	Status  domain.OrderStatus
	Note    string
}

// OrderService places orders transactionally and manages their lifecycle.
type OrderService interface {
	Create(ctx context.Context, cmd OrderCreateCommand) (domain.Order, error)
	// Get enforces ownership: non-admin actors only see their own orders.
	Get(ctx context.Context, actor Actor, orderID string) (domain.Order, error)
	ListMine(ctx context.Context, userID string, page domain.Pagination) (domain.Page[domain.Order], error)
	List(ctx context.Context, query OrderAdminQuery) (domain.Page[domain.Order], error)
	UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (domain.Order, error)
}

// PaymentOrderCommand requests a provider-side order for a pending order.
type PaymentOrderCommand struct {
	Actor    Actor
	OrderID  string
	Currency string
}

// PaymentOrder is the provider order reference handed to the client SDK.
type PaymentOrder struct {
	Provider        string
	ProviderOrderID string
	KeyID           string
	Amount          int64
	Currency        string
}

// PaymentVerifyCommand carries the gateway callback fields for HMAC verification.
type PaymentVerifyCommand struct {
	Actor           Actor
	OrderID         string
	ProviderOrderID string
	PaymentID       string
	Signature       string
}

// CryptoVerifyCommand carries an on-chain transaction hash for verification.
type CryptoVerifyCommand struct {
	Actor           Actor
	OrderID         string
	TransactionHash string
}

// PaymentRefundCommand requests a gateway refund for a captured payment.
type PaymentRefundCommand struct {
	OrderID string
	Reason  string
}

// ExchangeRateQuote is the ETH/INR conversion snapshot served to clients.
type ExchangeRateQuote struct {
	EthPriceInInr float64
	InrToEthRate  float64
	FetchedAt     time.Time
}

// PaymentService verifies payments and marks orders paid.
type PaymentService interface {
	CreateProviderOrder(ctx context.Context, cmd PaymentOrderCommand) (PaymentOrder, error)
	VerifyPayment(ctx context.Context, cmd PaymentVerifyCommand) (domain.Order, error)
	VerifyCryptoPayment(ctx context.Context, cmd CryptoVerifyCommand) (domain.Order, error)
	// Refund returns the captured amount through the gateway and marks the
	// order refunded. Admin only; routing enforces the role.
	Refund(ctx context.Context, cmd PaymentRefundCommand) (domain.Order, error)
	ExchangeRate(ctx context.Context) (ExchangeRateQuote, error)
}

// ReviewCreateCommand carries a new product review from an authenticated user.
type ReviewCreateCommand struct {
	ProductID string
	UserID    string
	UserName  string
	Rating    int
	Title     string
	Comment   string
}

// ReviewListQuery filters the per-product review listing.
type ReviewListQuery struct {
	ProductID string
	// ViewerID lets an owner see their own unapproved review in the listing.
	ViewerID   string
	Pagination domain.Pagination
}

// ReviewModerateCommand approves or rejects a review.
type ReviewModerateCommand struct {
	ReviewID string
	Approve  bool
}

// ReviewService stores reviews and keeps product rating aggregates current.
type ReviewService interface {
	Create(ctx context.Context, cmd ReviewCreateCommand) (domain.Review, error)
	ListForProduct(ctx context.Context, query ReviewListQuery) (domain.Page[domain.Review], error)
	Moderate(ctx context.Context, cmd ReviewModerateCommand) (domain.Review, error)
}

// RegisterCommand carries a new account registration.
type RegisterCommand struct {
	Email    string
	Name     string
	Password string
	Phone    string
}

// LoginCommand carries a credentials login attempt.
type LoginCommand struct {
	Email    string
	Password string
}

// AuthSession bundles the authenticated user with their issued token.
type AuthSession struct {
	User      domain.User
	Token     string
	ExpiresAt time.Time
}

// ProfileUpdateCommand updates mutable profile fields.
type ProfileUpdateCommand struct {
	UserID string
	Name   *string
	Phone  *string
}

// AddressCommand carries address book create/update payloads.
type AddressCommand struct {
	UserID    string
	AddressID string
	Label     string
	Address   domain.Address
	IsDefault bool
}

// ResetPasswordCommand consumes a reset token and sets a new password.
type ResetPasswordCommand struct {
	Token       string
	NewPassword string
}

// UserAdminQuery filters the admin user listing.
type UserAdminQuery struct {
	Role       *domain.Role
	Pagination domain.Pagination
}

// UserService owns accounts, credentials, tokens, addresses, wallet and wishlist.
type UserService interface {
	Register(ctx context.Context, cmd RegisterCommand) (AuthSession, error)
	Login(ctx context.Context, cmd LoginCommand) (AuthSession, error)
	// ForgotPassword records a hashed single-use reset token and returns the
	// plaintext token for delivery.
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, cmd ResetPasswordCommand) error

	Profile(ctx context.Context, userID string) (domain.User, error)
	UpdateProfile(ctx context.Context, cmd ProfileUpdateCommand) (domain.User, error)

	ListAddresses(ctx context.Context, userID string) ([]domain.UserAddress, error)
	AddAddress(ctx context.Context, cmd AddressCommand) (domain.User, error)
	UpdateAddress(ctx context.Context, cmd AddressCommand) (domain.User, error)
	RemoveAddress(ctx context.Context, userID, addressID string) (domain.User, error)

	LinkWallet(ctx context.Context, userID, walletAddress string) (domain.User, error)
	UnlinkWallet(ctx context.Context, userID string) (domain.User, error)

	Wishlist(ctx context.Context, userID string) ([]domain.Product, error)
	AddToWishlist(ctx context.Context, userID, productID string) error
	RemoveFromWishlist(ctx context.Context, userID, productID string) error

	ListUsers(ctx context.Context, query UserAdminQuery) (domain.Page[domain.User], error)
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

// CounterValue is the raw and formatted result of a counter increment.
type CounterValue struct {
	Value     int64
	Formatted string
}

// CounterService hands out transaction-safe sequence numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService surfaces operational utilities for health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
