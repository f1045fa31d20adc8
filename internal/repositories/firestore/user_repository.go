package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/aurelia-jewels/api/internal/domain"
	pfirestore "github.com/aurelia-jewels/api/internal/platform/firestore"
	"github.com/aurelia-jewels/api/internal/repositories"
)

const usersCollection = "users"

// UserRepository persists user accounts in Firestore. Email and wallet
// uniqueness are enforced transactionally at insert time.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil)
	return &UserRepository{base: base, provider: provider}, nil
}

// Insert creates the user document after verifying the email (and wallet,
// when present) are not already claimed.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	if r == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user repository: user id is required")
	}
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" {
		return errors.New("user repository: email is required")
	}
	wallet := strings.ToLower(strings.TrimSpace(user.WalletAddress))

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		emailQuery := client.Collection(usersCollection).Where("email", "==", email).Limit(1)
		taken, err := queryHasResults(tx, emailQuery)
		if err != nil {
			return err
		}
		if taken {
			return repositories.ErrEmailInUse
		}

		if wallet != "" {
			walletQuery := client.Collection(usersCollection).Where("walletAddress", "==", wallet).Limit(1)
			taken, err := queryHasResults(tx, walletQuery)
			if err != nil {
				return err
			}
			if taken {
				return repositories.ErrWalletInUse
			}
		}

		ref, err := r.base.DocumentRef(ctx, user.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, fromDomainUser(user))
	})
	if err != nil {
		if errors.Is(err, repositories.ErrEmailInUse) || errors.Is(err, repositories.ErrWalletInUse) {
			return err
		}
		return pfirestore.WrapError("users.insert", err)
	}
	return nil
}

// Update replaces the user document.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user repository: user id is required")
	}
	_, err := r.base.Set(ctx, user.ID, fromDomainUser(user))
	return err
}

// FindByID loads the user by document ID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByEmail loads the user owning the email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.User{}, errors.New("user repository: email is required")
	}
	return r.findOne(ctx, "users.findByEmail", func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", email).Limit(1)
	})
}

// FindByWallet loads the user linked to the wallet address.
func (r *UserRepository) FindByWallet(ctx context.Context, walletAddress string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	wallet := strings.ToLower(strings.TrimSpace(walletAddress))
	if wallet == "" {
		return domain.User{}, errors.New("user repository: wallet address is required")
	}
	return r.findOne(ctx, "users.findByWallet", func(q firestore.Query) firestore.Query {
		return q.Where("walletAddress", "==", wallet).Limit(1)
	})
}

// List returns an offset page of users for admin management, newest first.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.Page[domain.User], error) {
	if r == nil || r.provider == nil {
		return domain.Page[domain.User]{}, errors.New("user repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Page[domain.User]{}, err
	}

	query := client.Collection(usersCollection).Query
	if filter.Role != nil {
		query = query.Where("role", "==", string(*filter.Role))
	}

	total, err := countDocuments(ctx, query)
	if err != nil {
		return domain.Page[domain.User]{}, pfirestore.WrapError("users.count", err)
	}

	pager := normalisePager(filter.Pagination)
	iter := applyPager(query.OrderBy("createdAt", firestore.Desc), pager).Documents(ctx)
	defer iter.Stop()

	var users []domain.User
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.Page[domain.User]{}, pfirestore.WrapError("users.list", err)
		}
		var doc userDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Page[domain.User]{}, fmt.Errorf("decode user %s: %w", snap.Ref.ID, err)
		}
		users = append(users, doc.toDomain(snap.Ref.ID))
	}

	return pageOf(users, pager, total), nil
}

// AddWishlistItem appends the product to the wishlist array.
func (r *UserRepository) AddWishlistItem(ctx context.Context, userID string, productID string) error {
	return r.mutateWishlist(ctx, userID, productID, true)
}

// RemoveWishlistItem drops the product from the wishlist array.
func (r *UserRepository) RemoveWishlistItem(ctx context.Context, userID string, productID string) error {
	return r.mutateWishlist(ctx, userID, productID, false)
}

func (r *UserRepository) mutateWishlist(ctx context.Context, userID string, productID string, add bool) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("user repository: product id is required")
	}
	var value any = firestore.ArrayRemove(productID)
	if add {
		value = firestore.ArrayUnion(productID)
	}
	_, err := r.base.Update(ctx, userID, []firestore.Update{
		{Path: "wishlist", Value: value},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	return err
}

func (r *UserRepository) findOne(ctx context.Context, op string, build pfirestore.QueryBuilder) (domain.User, error) {
	docs, err := r.base.Query(ctx, build)
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError(op, status.Error(codes.NotFound, "user not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// queryHasResults reports whether the query matches at least one document
// within the transaction.
func queryHasResults(tx *firestore.Transaction, query firestore.Query) (bool, error) {
	iter := tx.Documents(query)
	defer iter.Stop()
	_, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Document structures -------------------------------------------------------

type userDocument struct {
	Email               string                `firestore:"email"`
	Name                string                `firestore:"name"`
	PasswordHash        string                `firestore:"passwordHash"`
	Role                string                `firestore:"role"`
	Phone               string                `firestore:"phone,omitempty"`
	WalletAddress       string                `firestore:"walletAddress,omitempty"`
	Addresses           []userAddressDocument `firestore:"addresses,omitempty"`
	Wishlist            []string              `firestore:"wishlist"`
	ResetTokenHash      string                `firestore:"resetTokenHash,omitempty"`
	ResetTokenExpiresAt *time.Time            `firestore:"resetTokenExpiresAt,omitempty"`
	PasswordChangedAt   time.Time             `firestore:"passwordChangedAt"`
	IsActive            bool                  `firestore:"isActive"`
	CreatedAt           time.Time             `firestore:"createdAt"`
	UpdatedAt           time.Time             `firestore:"updatedAt"`
}

type userAddressDocument struct {
	ID        string          `firestore:"id"`
	Label     string          `firestore:"label,omitempty"`
	Address   addressDocument `firestore:"address"`
	IsDefault bool            `firestore:"isDefault"`
}

func fromDomainUser(user domain.User) userDocument {
	addresses := make([]userAddressDocument, len(user.Addresses))
	for i, entry := range user.Addresses {
		addresses[i] = userAddressDocument{
			ID:        strings.TrimSpace(entry.ID),
			Label:     strings.TrimSpace(entry.Label),
			Address:   fromDomainAddress(entry.Address),
			IsDefault: entry.IsDefault,
		}
	}
	wishlist := user.Wishlist
	if wishlist == nil {
		wishlist = []string{}
	}
	return userDocument{
		Email:               strings.ToLower(strings.TrimSpace(user.Email)),
		Name:                strings.TrimSpace(user.Name),
		PasswordHash:        user.PasswordHash,
		Role:                string(user.Role),
		Phone:               strings.TrimSpace(user.Phone),
		WalletAddress:       strings.ToLower(strings.TrimSpace(user.WalletAddress)),
		Addresses:           addresses,
		Wishlist:            wishlist,
		ResetTokenHash:      user.ResetTokenHash,
		ResetTokenExpiresAt: user.ResetTokenExpiresAt,
		PasswordChangedAt:   user.PasswordChangedAt.UTC(),
		IsActive:            user.IsActive,
		CreatedAt:           user.CreatedAt.UTC(),
		UpdatedAt:           user.UpdatedAt.UTC(),
	}
}

func (d userDocument) toDomain(id string) domain.User {
	addresses := make([]domain.UserAddress, len(d.Addresses))
	for i, entry := range d.Addresses {
		addresses[i] = domain.UserAddress{
			ID:        entry.ID,
			Label:     entry.Label,
			Address:   entry.Address.toDomain(),
			IsDefault: entry.IsDefault,
		}
	}
	return domain.User{
		ID:                  id,
		Email:               d.Email,
		Name:                d.Name,
		PasswordHash:        d.PasswordHash,
		Role:                domain.Role(d.Role),
		Phone:               d.Phone,
		WalletAddress:       d.WalletAddress,
		Addresses:           addresses,
		Wishlist:            append([]string(nil), d.Wishlist...),
		ResetTokenHash:      d.ResetTokenHash,
		ResetTokenExpiresAt: d.ResetTokenExpiresAt,
		PasswordChangedAt:   d.PasswordChangedAt,
		IsActive:            d.IsActive,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

var _ repositories.UserRepository = (*UserRepository)(nil)
