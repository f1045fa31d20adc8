package repositories

import (
	"context"
	"time"

	domain "github.com/aurelia-jewels/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Categories() CategoryRepository
	Carts() CartRepository
	Orders() OrderRepository
	Reviews() ReviewRepository
	Users() UserRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists product documents and their denormalised rating fields.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.Page[domain.Product], error)
	ListFeatured(ctx context.Context, limit int) ([]domain.Product, error)
	// UpdateRating replaces the denormalised rating fields on a product document.
	UpdateRating(ctx context.Context, productID string, summary domain.RatingSummary) error
}

// CategoryRepository stores the category tree used for catalog navigation.
type CategoryRepository interface {
	Insert(ctx context.Context, category domain.Category) error
	Update(ctx context.Context, category domain.Category) error
	Delete(ctx context.Context, categoryID string) error
	FindByID(ctx context.Context, categoryID string) (domain.Category, error)
	FindBySlug(ctx context.Context, slug string) (domain.Category, error)
	List(ctx context.Context, includeInactive bool) ([]domain.Category, error)
}

// CartRepository owns cart persistence keyed by user ID.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Clear(ctx context.Context, userID string) error
}

// OrderRepository persists orders and executes the transactional creation flow that
// decrements stock together with the order write.
type OrderRepository interface {
	// Create runs the stock check, stock decrement, order insert, and optional cart
	// clear inside a single transaction. All document reads happen before any write.
	Create(ctx context.Context, req OrderCreate) (OrderCreateResult, error)
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
}

// OrderCreate bundles the prepared order document with creation-time options.
type OrderCreate struct {
	Order     domain.Order
	ClearCart bool
	Now       time.Time
}

// OrderCreateResult reports the persisted order and any products that crossed their
// low-stock threshold during the decrement.
type OrderCreateResult struct {
	Order    domain.Order
	LowStock []LowStockItem
}

// LowStockItem identifies a product whose remaining stock dropped to or below its threshold.
type LowStockItem struct {
	ProductID string
	Name      string
	Stock     int
	Threshold int
}

// ReviewRepository stores product reviews and computes rating summaries.
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) error
	Update(ctx context.Context, review domain.Review) error
	Delete(ctx context.Context, reviewID string) error
	FindByID(ctx context.Context, reviewID string) (domain.Review, error)
	// FindByProductAndUser returns the review a user left on a product, used to
	// enforce the one-review-per-product rule.
	FindByProductAndUser(ctx context.Context, productID string, userID string) (domain.Review, error)
	List(ctx context.Context, filter ReviewListFilter) (domain.Page[domain.Review], error)
	// Summarize recomputes the average rating and count over approved reviews.
	Summarize(ctx context.Context, productID string) (domain.RatingSummary, error)
}

// UserRepository stores user accounts including credentials, addresses, and wishlist.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) error
	Update(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindByWallet(ctx context.Context, walletAddress string) (domain.User, error)
	List(ctx context.Context, filter UserListFilter) (domain.Page[domain.User], error)
	// AddWishlistItem and RemoveWishlistItem mutate the wishlist array without
	// rewriting the rest of the user document.
	AddWishlistItem(ctx context.Context, userID string, productID string) error
	RemoveWishlistItem(ctx context.Context, userID string, productID string) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	CategoryID      string
	Search          string
	MinPrice        *int64
	MaxPrice        *int64
	FeaturedOnly    bool
	IncludeInactive bool
	Sort            domain.ProductSort
	SortOrder       domain.SortOrder
	Pagination      domain.Pagination
}

type OrderListFilter struct {
	UserID        string
	Status        []domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	Pagination    domain.Pagination
}

type ReviewListFilter struct {
	ProductID    string
	UserID       string
	ApprovedOnly bool
	Pagination   domain.Pagination
}

type UserListFilter struct {
	Role       *domain.Role
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
