package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/repositories"
)

const cartItemIDPrefix = "ci_"

var (
	// ErrCartInvalidInput indicates validation failures for cart operations.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates the referenced cart line does not exist.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartProductUnavailable indicates the product is missing or inactive.
	ErrCartProductUnavailable = errors.New("cart: product unavailable")
	// ErrCartInsufficientStock indicates the requested quantity exceeds stock.
	ErrCartInsufficientStock = errors.New("cart: insufficient stock")
)

// CartServiceDeps bundles collaborators required to construct a CartService.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	clock    func() time.Time
	newID    func() string
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return cartItemIDPrefix + ulid.Make().String()
		}
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

func (s *cartService) Get(ctx context.Context, userID string) (CartView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	return s.populate(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, cmd CartAddCommand) (CartView, error) {
	if err := validateCartAdd(cmd); err != nil {
		return CartView{}, err
	}

	product, err := s.loadSellableProduct(ctx, cmd.ProductID)
	if err != nil {
		return CartView{}, err
	}

	cart, err := s.carts.Get(ctx, cmd.UserID)
	if err != nil {
		return CartView{}, err
	}

	now := s.clock()
	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID != cmd.ProductID {
			continue
		}
		// Re-adding a product merges quantities and refreshes the snapshot.
		newQuantity := cart.Items[i].Quantity + cmd.Quantity
		if newQuantity > product.Stock {
			return CartView{}, fmt.Errorf("%w: only %d units of %s available", ErrCartInsufficientStock, product.Stock, product.Name)
		}
		cart.Items[i].Quantity = newQuantity
		cart.Items[i].PriceSnapshot = product.Price
		merged = true
		break
	}
	if !merged {
		if cmd.Quantity > product.Stock {
			return CartView{}, fmt.Errorf("%w: only %d units of %s available", ErrCartInsufficientStock, product.Stock, product.Name)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:            s.newID(),
			ProductID:     cmd.ProductID,
			Quantity:      cmd.Quantity,
			PriceSnapshot: product.Price,
			AddedAt:       now,
		})
	}
	cart.ID = cmd.UserID
	cart.UserID = cmd.UserID
	cart.UpdatedAt = now

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return CartView{}, err
	}
	return s.populate(ctx, saved)
}

func (s *cartService) UpdateItem(ctx context.Context, cmd CartUpdateCommand) (CartView, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if strings.TrimSpace(cmd.ItemID) == "" {
		return CartView{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return CartView{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, cmd.UserID)
	if err != nil {
		return CartView{}, err
	}

	index := -1
	for i := range cart.Items {
		if cart.Items[i].ID == cmd.ItemID {
			index = i
			break
		}
	}
	if index == -1 {
		return CartView{}, ErrCartItemNotFound
	}

	product, err := s.loadSellableProduct(ctx, cart.Items[index].ProductID)
	if err != nil {
		return CartView{}, err
	}
	if cmd.Quantity > product.Stock {
		return CartView{}, fmt.Errorf("%w: only %d units of %s available", ErrCartInsufficientStock, product.Stock, product.Name)
	}

	cart.Items[index].Quantity = cmd.Quantity
	cart.UpdatedAt = s.clock()

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return CartView{}, err
	}
	return s.populate(ctx, saved)
}

func (s *cartService) RemoveItem(ctx context.Context, userID, itemID string) (CartView, error) {
	userID = strings.TrimSpace(userID)
	itemID = strings.TrimSpace(itemID)
	if userID == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if itemID == "" {
		return CartView{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return CartView{}, err
	}

	filtered := cart.Items[:0]
	removed := false
	for _, item := range cart.Items {
		if item.ID == itemID {
			removed = true
			continue
		}
		filtered = append(filtered, item)
	}
	if !removed {
		return CartView{}, ErrCartItemNotFound
	}
	cart.Items = filtered
	cart.UpdatedAt = s.clock()

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return CartView{}, err
	}
	return s.populate(ctx, saved)
}

func (s *cartService) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	return s.carts.Clear(ctx, userID)
}

func (s *cartService) loadSellableProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, fmt.Errorf("%w: product %s", ErrCartProductUnavailable, productID)
		}
		return domain.Product{}, err
	}
	if !product.IsActive {
		return domain.Product{}, fmt.Errorf("%w: product %s", ErrCartProductUnavailable, productID)
	}
	return product, nil
}

// populate decorates stored cart lines with the live product fields. Lines
// whose product has vanished are still returned so clients can show them.
func (s *cartService) populate(ctx context.Context, cart domain.Cart) (CartView, error) {
	lines := make([]CartLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		line := CartLine{Item: item, Price: item.PriceSnapshot}
		product, err := s.products.FindByID(ctx, item.ProductID)
		if err == nil {
			line.Name = product.Name
			line.Price = product.Price
			line.InStock = product.IsActive && product.Stock >= item.Quantity
			if len(product.Images) > 0 {
				line.Image = product.Images[0]
			}
		} else {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return CartView{}, err
			}
		}
		lines = append(lines, line)
	}
	return CartView{
		Cart:     cart,
		Lines:    lines,
		Subtotal: cart.Subtotal(),
	}, nil
}

func validateCartAdd(cmd CartAddCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if strings.TrimSpace(cmd.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	return nil
}
