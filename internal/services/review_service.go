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

const reviewIDPrefix = "rev_"

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewNotFound indicates a review could not be located.
	ErrReviewNotFound = errors.New("review: not found")
	// ErrReviewDuplicate signals the user already reviewed the product.
	ErrReviewDuplicate = errors.New("review: already reviewed")
)

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews     repositories.ReviewRepository
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
	Sanitizer   func(string) string
}

type reviewService struct {
	reviews  repositories.ReviewRepository
	products repositories.ProductRepository
	clock    func() time.Time
	newID    func() string
	sanitize func(string) string
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("review service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return reviewIDPrefix + ulid.Make().String()
		}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}

	return &reviewService{
		reviews:  deps.Reviews,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
	}, nil
}

func (s *reviewService) Create(ctx context.Context, cmd ReviewCreateCommand) (domain.Review, error) {
	if err := s.validateCreateCommand(cmd); err != nil {
		return domain.Review{}, err
	}

	product, err := s.products.FindByID(ctx, cmd.ProductID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Review{}, fmt.Errorf("%w: product not found", ErrReviewInvalidInput)
		}
		return domain.Review{}, err
	}

	now := s.clock()
	review := domain.Review{
		ID:         s.newID(),
		ProductID:  cmd.ProductID,
		UserID:     cmd.UserID,
		UserName:   strings.TrimSpace(cmd.UserName),
		Rating:     cmd.Rating,
		Title:      s.sanitize(cmd.Title),
		Comment:    s.sanitize(cmd.Comment),
		IsApproved: false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.reviews.Insert(ctx, review); err != nil {
		if errors.Is(err, repositories.ErrDuplicateReview) {
			return domain.Review{}, ErrReviewDuplicate
		}
		return domain.Review{}, s.mapReviewError(err)
	}

	if err := s.refreshProductRating(ctx, product, &review); err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

func (s *reviewService) ListForProduct(ctx context.Context, query ReviewListQuery) (domain.Page[domain.Review], error) {
	if strings.TrimSpace(query.ProductID) == "" {
		return domain.Page[domain.Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}

	page, err := s.reviews.List(ctx, repositories.ReviewListFilter{
		ProductID:    query.ProductID,
		ApprovedOnly: true,
		Pagination:   query.Pagination,
	})
	if err != nil {
		return domain.Page[domain.Review]{}, s.mapReviewError(err)
	}

	// The owner also sees their own review while it awaits moderation.
	if viewer := strings.TrimSpace(query.ViewerID); viewer != "" {
		own, err := s.reviews.FindByProductAndUser(ctx, query.ProductID, viewer)
		if err == nil && !own.IsApproved {
			page.Items = append([]domain.Review{own}, page.Items...)
		}
	}
	return page, nil
}

func (s *reviewService) Moderate(ctx context.Context, cmd ReviewModerateCommand) (domain.Review, error) {
	if strings.TrimSpace(cmd.ReviewID) == "" {
		return domain.Review{}, fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}

	review, err := s.reviews.FindByID(ctx, cmd.ReviewID)
	if err != nil {
		return domain.Review{}, s.mapReviewError(err)
	}

	if review.IsApproved == cmd.Approve {
		return review, nil
	}

	review.IsApproved = cmd.Approve
	review.UpdatedAt = s.clock()
	if err := s.reviews.Update(ctx, review); err != nil {
		return domain.Review{}, s.mapReviewError(err)
	}

	product, err := s.products.FindByID(ctx, review.ProductID)
	if err != nil {
		return domain.Review{}, s.mapReviewError(err)
	}
	if err := s.refreshProductRating(ctx, product, nil); err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

// refreshProductRating recomputes the aggregate over approved reviews. A
// non-nil seed is the just-created review whose rating stands in while no
// approved review exists yet, so a product never shows an empty rating after
// its first review. Moderation passes no seed: rejecting the last approved
// review legitimately zeroes the aggregate.
func (s *reviewService) refreshProductRating(ctx context.Context, product domain.Product, seed *domain.Review) error {
	summary, err := s.reviews.Summarize(ctx, product.ID)
	if err != nil {
		return s.mapReviewError(err)
	}
	if summary.ReviewCount == 0 && seed != nil {
		summary = domain.RatingSummary{
			Rating:      float64(seed.Rating),
			ReviewCount: 1,
		}
	}
	if err := s.products.UpdateRating(ctx, product.ID, summary); err != nil {
		return s.mapReviewError(err)
	}
	return nil
}

func (s *reviewService) validateCreateCommand(cmd ReviewCreateCommand) error {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}
	if s.sanitize(cmd.Comment) == "" {
		return fmt.Errorf("%w: comment is required", ErrReviewInvalidInput)
	}
	return nil
}

func (s *reviewService) mapReviewError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrReviewNotFound
		case repoErr.IsConflict():
			return ErrReviewDuplicate
		}
	}
	return err
}
