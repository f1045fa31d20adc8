package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/repositories"
)

// notFoundError satisfies repositories.RepositoryError for test fixtures.
type notFoundError struct{ msg string }

func (e notFoundError) Error() string       { return e.msg }
func (e notFoundError) IsNotFound() bool    { return true }
func (e notFoundError) IsConflict() bool    { return false }
func (e notFoundError) IsUnavailable() bool { return false }

type fakeProductRepository struct {
	mu            sync.Mutex
	products      map[string]domain.Product
	ratingUpdates map[string]domain.RatingSummary
	listErr       error
}

func newFakeProductRepository(products ...domain.Product) *fakeProductRepository {
	repo := &fakeProductRepository{
		products:      make(map[string]domain.Product),
		ratingUpdates: make(map[string]domain.RatingSummary),
	}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (r *fakeProductRepository) Insert(ctx context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.ID] = product
	return nil
}

func (r *fakeProductRepository) Update(ctx context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[product.ID]; !ok {
		return notFoundError{msg: "product not found"}
	}
	r.products[product.ID] = product
	return nil
}

func (r *fakeProductRepository) Delete(ctx context.Context, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[productID]; !ok {
		return notFoundError{msg: "product not found"}
	}
	delete(r.products, productID)
	return nil
}

func (r *fakeProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, notFoundError{msg: "product not found"}
	}
	return product, nil
}

func (r *fakeProductRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, product := range r.products {
		if product.Slug == slug {
			return product, nil
		}
	}
	return domain.Product{}, notFoundError{msg: "product not found"}
}

func (r *fakeProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.Page[domain.Product], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return domain.Page[domain.Product]{}, r.listErr
	}

	var items []domain.Product
	for _, product := range r.products {
		if !filter.IncludeInactive && !product.IsActive {
			continue
		}
		if filter.CategoryID != "" && product.CategoryID != filter.CategoryID {
			continue
		}
		if filter.FeaturedOnly && !product.IsFeatured {
			continue
		}
		if filter.Search != "" {
			matched := false
			for _, term := range strings.Fields(strings.ToLower(filter.Search)) {
				if strings.Contains(strings.ToLower(product.Name), term) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		items = append(items, product)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	total := int64(len(items))
	limit := filter.Pagination.Limit
	if limit <= 0 {
		limit = 12
	}
	page := filter.Pagination.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	pages := int((total + int64(limit) - 1) / int64(limit))
	return domain.Page[domain.Product]{
		Items: items[start:end],
		Info:  domain.PageInfo{Page: page, Limit: limit, Total: total, Pages: pages},
	}, nil
}

func (r *fakeProductRepository) ListFeatured(ctx context.Context, limit int) ([]domain.Product, error) {
	page, err := r.List(ctx, repositories.ProductListFilter{
		FeaturedOnly: true,
		Pagination:   domain.Pagination{Page: 1, Limit: limit},
	})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (r *fakeProductRepository) UpdateRating(ctx context.Context, productID string, summary domain.RatingSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[productID]
	if !ok {
		return notFoundError{msg: "product not found"}
	}
	product.Rating = summary.Rating
	product.ReviewCount = summary.ReviewCount
	r.products[productID] = product
	r.ratingUpdates[productID] = summary
	return nil
}

type fakeCategoryRepository struct {
	mu         sync.Mutex
	categories map[string]domain.Category
}

func newFakeCategoryRepository(categories ...domain.Category) *fakeCategoryRepository {
	repo := &fakeCategoryRepository{categories: make(map[string]domain.Category)}
	for _, c := range categories {
		repo.categories[c.ID] = c
	}
	return repo
}

func (r *fakeCategoryRepository) Insert(ctx context.Context, category domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[category.ID] = category
	return nil
}

func (r *fakeCategoryRepository) Update(ctx context.Context, category domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[category.ID]; !ok {
		return notFoundError{msg: "category not found"}
	}
	r.categories[category.ID] = category
	return nil
}

func (r *fakeCategoryRepository) Delete(ctx context.Context, categoryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[categoryID]; !ok {
		return notFoundError{msg: "category not found"}
	}
	delete(r.categories, categoryID)
	return nil
}

func (r *fakeCategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	category, ok := r.categories[categoryID]
	if !ok {
		return domain.Category{}, notFoundError{msg: "category not found"}
	}
	return category, nil
}

func (r *fakeCategoryRepository) FindBySlug(ctx context.Context, slug string) (domain.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, category := range r.categories {
		if category.Slug == slug {
			return category, nil
		}
	}
	return domain.Category{}, notFoundError{msg: "category not found"}
}

func (r *fakeCategoryRepository) List(ctx context.Context, includeInactive bool) ([]domain.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Category
	for _, category := range r.categories {
		if !includeInactive && !category.IsActive {
			continue
		}
		out = append(out, category)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

type fakeCartRepository struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
}

func newFakeCartRepository() *fakeCartRepository {
	return &fakeCartRepository{carts: make(map[string]domain.Cart)}
}

func (r *fakeCartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	if !ok {
		return domain.Cart{ID: userID, UserID: userID, Items: []domain.CartItem{}}, nil
	}
	return cart, nil
}

func (r *fakeCartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[cart.UserID] = cart
	return cart, nil
}

func (r *fakeCartRepository) Clear(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}

type fakeOrderRepository struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	createErr error
	updateErr error
	lowStock  []repositories.LowStockItem
	created   []repositories.OrderCreate
}

func newFakeOrderRepository(orders ...domain.Order) *fakeOrderRepository {
	repo := &fakeOrderRepository{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		repo.orders[o.ID] = o
	}
	return repo
}

func (r *fakeOrderRepository) Create(ctx context.Context, req repositories.OrderCreate) (repositories.OrderCreateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return repositories.OrderCreateResult{}, r.createErr
	}
	r.created = append(r.created, req)
	r.orders[req.Order.ID] = req.Order
	return repositories.OrderCreateResult{Order: req.Order, LowStock: r.lowStock}, nil
}

func (r *fakeOrderRepository) Update(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.orders[order.ID]; !ok {
		return notFoundError{msg: "order not found"}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundError{msg: "order not found"}
	}
	return order, nil
}

func (r *fakeOrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.OrderNumber == orderNumber {
			return order, nil
		}
	}
	return domain.Order{}, notFoundError{msg: "order not found"}
}

func (r *fakeOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Order
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 {
			matched := false
			for _, status := range filter.Status {
				if order.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if filter.PaymentStatus != "" && order.PaymentStatus != filter.PaymentStatus {
			continue
		}
		items = append(items, order)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return domain.Page[domain.Order]{
		Items: items,
		Info:  domain.PageInfo{Page: 1, Limit: len(items), Total: int64(len(items)), Pages: 1},
	}, nil
}

type fakeReviewRepository struct {
	mu      sync.Mutex
	reviews map[string]domain.Review
	summary domain.RatingSummary
}

func newFakeReviewRepository(reviews ...domain.Review) *fakeReviewRepository {
	repo := &fakeReviewRepository{reviews: make(map[string]domain.Review)}
	for _, rv := range reviews {
		repo.reviews[rv.ID] = rv
	}
	return repo
}

func (r *fakeReviewRepository) Insert(ctx context.Context, review domain.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.reviews {
		if existing.ProductID == review.ProductID && existing.UserID == review.UserID {
			return repositories.ErrDuplicateReview
		}
	}
	r.reviews[review.ID] = review
	return nil
}

func (r *fakeReviewRepository) Update(ctx context.Context, review domain.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reviews[review.ID]; !ok {
		return notFoundError{msg: "review not found"}
	}
	r.reviews[review.ID] = review
	return nil
}

func (r *fakeReviewRepository) Delete(ctx context.Context, reviewID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reviews, reviewID)
	return nil
}

func (r *fakeReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	review, ok := r.reviews[reviewID]
	if !ok {
		return domain.Review{}, notFoundError{msg: "review not found"}
	}
	return review, nil
}

func (r *fakeReviewRepository) FindByProductAndUser(ctx context.Context, productID, userID string) (domain.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, review := range r.reviews {
		if review.ProductID == productID && review.UserID == userID {
			return review, nil
		}
	}
	return domain.Review{}, notFoundError{msg: "review not found"}
}

func (r *fakeReviewRepository) List(ctx context.Context, filter repositories.ReviewListFilter) (domain.Page[domain.Review], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Review
	for _, review := range r.reviews {
		if filter.ProductID != "" && review.ProductID != filter.ProductID {
			continue
		}
		if filter.UserID != "" && review.UserID != filter.UserID {
			continue
		}
		if filter.ApprovedOnly && !review.IsApproved {
			continue
		}
		items = append(items, review)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return domain.Page[domain.Review]{
		Items: items,
		Info:  domain.PageInfo{Page: 1, Limit: len(items), Total: int64(len(items)), Pages: 1},
	}, nil
}

func (r *fakeReviewRepository) Summarize(ctx context.Context, productID string) (domain.RatingSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum, count int
	for _, review := range r.reviews {
		if review.ProductID != productID || !review.IsApproved {
			continue
		}
		sum += review.Rating
		count++
	}
	if count == 0 {
		return domain.RatingSummary{}, nil
	}
	return domain.RatingSummary{
		Rating:      float64(sum) / float64(count),
		ReviewCount: count,
	}, nil
}

type fakeUserRepository struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newFakeUserRepository(users ...domain.User) *fakeUserRepository {
	repo := &fakeUserRepository{users: make(map[string]domain.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *fakeUserRepository) Insert(ctx context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return repositories.ErrEmailInUse
		}
		if user.WalletAddress != "" && existing.WalletAddress == user.WalletAddress {
			return repositories.ErrWalletInUse
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepository) Update(ctx context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return notFoundError{msg: "user not found"}
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return domain.User{}, notFoundError{msg: "user not found"}
	}
	return user, nil
}

func (r *fakeUserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, notFoundError{msg: "user not found"}
}

func (r *fakeUserRepository) FindByWallet(ctx context.Context, walletAddress string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.WalletAddress != "" && user.WalletAddress == walletAddress {
			return user, nil
		}
	}
	return domain.User{}, notFoundError{msg: "user not found"}
}

func (r *fakeUserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.Page[domain.User], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.User
	for _, user := range r.users {
		if filter.Role != nil && user.Role != *filter.Role {
			continue
		}
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return domain.Page[domain.User]{
		Items: items,
		Info:  domain.PageInfo{Page: 1, Limit: len(items), Total: int64(len(items)), Pages: 1},
	}, nil
}

func (r *fakeUserRepository) AddWishlistItem(ctx context.Context, userID, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return notFoundError{msg: "user not found"}
	}
	for _, existing := range user.Wishlist {
		if existing == productID {
			return nil
		}
	}
	user.Wishlist = append(user.Wishlist, productID)
	r.users[userID] = user
	return nil
}

func (r *fakeUserRepository) RemoveWishlistItem(ctx context.Context, userID, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return notFoundError{msg: "user not found"}
	}
	filtered := user.Wishlist[:0]
	for _, existing := range user.Wishlist {
		if existing != productID {
			filtered = append(filtered, existing)
		}
	}
	user.Wishlist = filtered
	r.users[userID] = user
	return nil
}

// fixedCounterService hands out a deterministic order number for tests.
type fixedCounterService struct {
	number string
	err    error
	calls  int
}

func (s *fixedCounterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	return CounterValue{}, errors.New("not implemented")
}

func (s *fixedCounterService) NextOrderNumber(ctx context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if s.number == "" {
		return fmt.Sprintf("ORD2501010000%04d", s.calls), nil
	}
	return s.number, nil
}

var (
	_ repositories.ProductRepository  = (*fakeProductRepository)(nil)
	_ repositories.CategoryRepository = (*fakeCategoryRepository)(nil)
	_ repositories.CartRepository     = (*fakeCartRepository)(nil)
	_ repositories.OrderRepository    = (*fakeOrderRepository)(nil)
	_ repositories.ReviewRepository   = (*fakeReviewRepository)(nil)
	_ repositories.UserRepository     = (*fakeUserRepository)(nil)
	_ CounterService                  = (*fixedCounterService)(nil)
)
