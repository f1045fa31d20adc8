package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
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

const reviewsCollection = "reviews"

// ReviewRepository persists product reviews in Firestore.
type ReviewRepository struct {
	base     *pfirestore.BaseRepository[reviewDocument]
	provider *pfirestore.Provider
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[reviewDocument](provider, reviewsCollection, nil, nil)
	return &ReviewRepository{base: base, provider: provider}, nil
}

// Insert creates the review document after verifying the user has not
// reviewed the product before.
func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) error {
	if r == nil || r.provider == nil {
		return errors.New("review repository not initialised")
	}
	if strings.TrimSpace(review.ID) == "" {
		return errors.New("review repository: review id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		dupQuery := client.Collection(reviewsCollection).
			Where("productId", "==", strings.TrimSpace(review.ProductID)).
			Where("userId", "==", strings.TrimSpace(review.UserID)).
			Limit(1)
		taken, err := queryHasResults(tx, dupQuery)
		if err != nil {
			return err
		}
		if taken {
			return repositories.ErrDuplicateReview
		}

		ref, err := r.base.DocumentRef(ctx, review.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, fromDomainReview(review))
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateReview) {
			return err
		}
		return pfirestore.WrapError("reviews.insert", err)
	}
	return nil
}

// Update replaces the review document.
func (r *ReviewRepository) Update(ctx context.Context, review domain.Review) error {
	if r == nil || r.base == nil {
		return errors.New("review repository not initialised")
	}
	if strings.TrimSpace(review.ID) == "" {
		return errors.New("review repository: review id is required")
	}
	_, err := r.base.Set(ctx, review.ID, fromDomainReview(review))
	return err
}

// Delete removes the review document.
func (r *ReviewRepository) Delete(ctx context.Context, reviewID string) error {
	if r == nil || r.base == nil {
		return errors.New("review repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, reviewID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("reviews.delete", err)
	}
	return nil
}

// FindByID loads a review by document ID.
func (r *ReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	doc, err := r.base.Get(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByProductAndUser returns the review a user left on a product.
func (r *ReviewRepository) FindByProductAndUser(ctx context.Context, productID string, userID string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", strings.TrimSpace(productID)).
			Where("userId", "==", strings.TrimSpace(userID)).
			Limit(1)
	})
	if err != nil {
		return domain.Review{}, err
	}
	if len(docs) == 0 {
		return domain.Review{}, pfirestore.WrapError("reviews.findByProductAndUser", status.Error(codes.NotFound, "review not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns an offset page of reviews, newest first.
func (r *ReviewRepository) List(ctx context.Context, filter repositories.ReviewListFilter) (domain.Page[domain.Review], error) {
	if r == nil || r.provider == nil {
		return domain.Page[domain.Review]{}, errors.New("review repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Page[domain.Review]{}, err
	}

	query := client.Collection(reviewsCollection).Query
	if pid := strings.TrimSpace(filter.ProductID); pid != "" {
		query = query.Where("productId", "==", pid)
	}
	if uid := strings.TrimSpace(filter.UserID); uid != "" {
		query = query.Where("userId", "==", uid)
	}
	if filter.ApprovedOnly {
		query = query.Where("isApproved", "==", true)
	}

	total, err := countDocuments(ctx, query)
	if err != nil {
		return domain.Page[domain.Review]{}, pfirestore.WrapError("reviews.count", err)
	}

	pager := normalisePager(filter.Pagination)
	iter := applyPager(query.OrderBy("createdAt", firestore.Desc), pager).Documents(ctx)
	defer iter.Stop()

	var reviews []domain.Review
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.Page[domain.Review]{}, pfirestore.WrapError("reviews.list", err)
		}
		var doc reviewDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Page[domain.Review]{}, fmt.Errorf("decode review %s: %w", snap.Ref.ID, err)
		}
		reviews = append(reviews, doc.toDomain(snap.Ref.ID))
	}

	return pageOf(reviews, pager, total), nil
}

// Summarize recomputes the average rating over approved reviews, rounded to
// one decimal place.
func (r *ReviewRepository) Summarize(ctx context.Context, productID string) (domain.RatingSummary, error) {
	if r == nil || r.base == nil {
		return domain.RatingSummary{}, errors.New("review repository not initialised")
	}
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return domain.RatingSummary{}, errors.New("review repository: product id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", pid).Where("isApproved", "==", true)
	})
	if err != nil {
		return domain.RatingSummary{}, err
	}
	if len(docs) == 0 {
		return domain.RatingSummary{}, nil
	}

	var sum int
	for _, doc := range docs {
		sum += doc.Data.Rating
	}
	average := float64(sum) / float64(len(docs))
	return domain.RatingSummary{
		Rating:      math.Round(average*10) / 10,
		ReviewCount: len(docs),
	}, nil
}

type reviewDocument struct {
	ProductID  string    `firestore:"productId"`
	UserID     string    `firestore:"userId"`
	UserName   string    `firestore:"userName"`
	Rating     int       `firestore:"rating"`
	Title      string    `firestore:"title,omitempty"`
	Comment    string    `firestore:"comment,omitempty"`
	IsApproved bool      `firestore:"isApproved"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func fromDomainReview(review domain.Review) reviewDocument {
	return reviewDocument{
		ProductID:  strings.TrimSpace(review.ProductID),
		UserID:     strings.TrimSpace(review.UserID),
		UserName:   strings.TrimSpace(review.UserName),
		Rating:     review.Rating,
		Title:      strings.TrimSpace(review.Title),
		Comment:    strings.TrimSpace(review.Comment),
		IsApproved: review.IsApproved,
		CreatedAt:  review.CreatedAt.UTC(),
		UpdatedAt:  review.UpdatedAt.UTC(),
	}
}

func (d reviewDocument) toDomain(id string) domain.Review {
	return domain.Review{
		ID:         id,
		ProductID:  d.ProductID,
		UserID:     d.UserID,
		UserName:   d.UserName,
		Rating:     d.Rating,
		Title:      d.Title,
		Comment:    d.Comment,
		IsApproved: d.IsApproved,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)
