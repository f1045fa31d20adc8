package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/aurelia-jewels/api/internal/domain"
	pfirestore "github.com/aurelia-jewels/api/internal/platform/firestore"
	"github.com/aurelia-jewels/api/internal/repositories"
)

const cartsCollection = "carts"

// CartRepository persists carts as a single document per user, keyed by the
// user ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil)
	return &CartRepository{base: base}, nil
}

// Get loads the cart for the given user. A missing document is an empty cart.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Cart{ID: uid, UserID: uid, Items: []domain.CartItem{}}, nil
		}
		return domain.Cart{}, err
	}

	return doc.Data.toDomain(doc.ID, doc.UpdateTime), nil
}

// Save upserts the cart document.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		uid = strings.TrimSpace(cart.ID)
	}
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	doc := fromDomainCart(cart, updatedAt)

	result, err := r.base.Set(ctx, uid, doc)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(uid, result.UpdateTime), nil
}

// Clear deletes the cart document. Clearing an absent cart is a no-op.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}
	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.clear", err)
	}
	return nil
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID            string    `firestore:"id"`
	ProductID     string    `firestore:"productId"`
	Quantity      int       `firestore:"qty"`
	PriceSnapshot int64     `firestore:"priceSnapshot"`
	AddedAt       time.Time `firestore:"addedAt"`
}

func fromDomainCart(cart domain.Cart, updatedAt time.Time) cartDocument {
	items := make([]cartItemDocument, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = cartItemDocument{
			ID:            strings.TrimSpace(item.ID),
			ProductID:     strings.TrimSpace(item.ProductID),
			Quantity:      item.Quantity,
			PriceSnapshot: item.PriceSnapshot,
			AddedAt:       item.AddedAt.UTC(),
		}
	}
	return cartDocument{Items: items, UpdatedAt: updatedAt}
}

func (d cartDocument) toDomain(userID string, updateTime time.Time) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ID:            item.ID,
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			PriceSnapshot: item.PriceSnapshot,
			AddedAt:       item.AddedAt,
		}
	}
	updatedAt := d.UpdatedAt
	if !updateTime.IsZero() {
		updatedAt = updateTime
	}
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Items:     items,
		UpdatedAt: updatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
