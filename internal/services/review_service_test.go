package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/aurelia-jewels/api/internal/domain"
)

func newReviewForTest(t *testing.T, reviews *fakeReviewRepository, products *fakeProductRepository) ReviewService {
	t.Helper()
	n := 0
	svc, err := NewReviewService(ReviewServiceDeps{
		Reviews:  reviews,
		Products: products,
		Clock:    fixedClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)),
		IDGenerator: func() string {
			n++
			return "rev_" + itoa(n)
		},
		Sanitizer: func(s string) string {
			return strings.TrimSpace(strings.ReplaceAll(s, "<script>", ""))
		},
	})
	if err != nil {
		t.Fatalf("NewReviewService: %v", err)
	}
	return svc
}

func TestReviewCreateAwaitsModeration(t *testing.T) {
	products := newFakeProductRepository(domain.Product{ID: "prod_1", Name: "Ring", IsActive: true})
	reviews := newFakeReviewRepository()
	svc := newReviewForTest(t, reviews, products)

	review, err := svc.Create(context.Background(), ReviewCreateCommand{
		ProductID: "prod_1",
		UserID:    "usr_1",
		UserName:  "Asha",
		Rating:    4,
		Title:     "  Lovely  ",
		Comment:   "Sparkles nicely.<script>",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if review.IsApproved {
		t.Fatalf("new reviews must start unapproved")
	}
	if review.Title != "Lovely" || review.Comment != "Sparkles nicely." {
		t.Fatalf("expected sanitised text, got %q / %q", review.Title, review.Comment)
	}
}

func TestReviewCreateDuplicate(t *testing.T) {
	products := newFakeProductRepository(domain.Product{ID: "prod_1", Name: "Ring", IsActive: true})
	reviews := newFakeReviewRepository(domain.Review{ID: "rev_0", ProductID: "prod_1", UserID: "usr_1", Rating: 5})
	svc := newReviewForTest(t, reviews, products)

	_, err := svc.Create(context.Background(), ReviewCreateCommand{
		ProductID: "prod_1",
		UserID:    "usr_1",
		Rating:    3,
		Comment:   "Second thoughts.",
	})
	if !errors.Is(err, ErrReviewDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestReviewCreateRejectsUnknownProduct(t *testing.T) {
	svc := newReviewForTest(t, newFakeReviewRepository(), newFakeProductRepository())

	_, err := svc.Create(context.Background(), ReviewCreateCommand{
		ProductID: "prod_missing",
		UserID:    "usr_1",
		Rating:    3,
		Comment:   "Nice.",
	})
	if !errors.Is(err, ErrReviewInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestReviewCreateValidatesRating(t *testing.T) {
	products := newFakeProductRepository(domain.Product{ID: "prod_1", IsActive: true})
	svc := newReviewForTest(t, newFakeReviewRepository(), products)

	for _, rating := range []int{0, 6} {
		_, err := svc.Create(context.Background(), ReviewCreateCommand{
			ProductID: "prod_1",
			UserID:    "usr_1",
			Rating:    rating,
			Comment:   "x",
		})
		if !errors.Is(err, ErrReviewInvalidInput) {
			t.Fatalf("rating %d: expected invalid input, got %v", rating, err)
		}
	}
}

func TestReviewCreateSeedsProductRating(t *testing.T) {
	products := newFakeProductRepository(domain.Product{ID: "prod_1", Name: "Ring", IsActive: true})
	svc := newReviewForTest(t, newFakeReviewRepository(), products)

	if _, err := svc.Create(context.Background(), ReviewCreateCommand{
		ProductID: "prod_1",
		UserID:    "usr_1",
		Rating:    4,
		Comment:   "Sparkles.",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// No approved review exists yet, so the new review's own rating seeds
	// the aggregate.
	summary, ok := products.ratingUpdates["prod_1"]
	if !ok {
		t.Fatalf("expected a rating update")
	}
	if summary.Rating != 4 || summary.ReviewCount != 1 {
		t.Fatalf("unexpected seeded summary: %+v", summary)
	}
}

func TestReviewModerateRecomputesAggregate(t *testing.T) {
	products := newFakeProductRepository(domain.Product{ID: "prod_1", Name: "Ring", IsActive: true})
	reviews := newFakeReviewRepository(
		domain.Review{ID: "rev_1", ProductID: "prod_1", UserID: "usr_1", Rating: 5, IsApproved: true},
		domain.Review{ID: "rev_2", ProductID: "prod_1", UserID: "usr_2", Rating: 3},
	)
	svc := newReviewForTest(t, reviews, products)

	review, err := svc.Moderate(context.Background(), ReviewModerateCommand{ReviewID: "rev_2", Approve: true})
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if !review.IsApproved {
		t.Fatalf("expected approval")
	}

	summary := products.ratingUpdates["prod_1"]
	if summary.Rating != 4 || summary.ReviewCount != 2 {
		t.Fatalf("expected aggregate over both approved reviews, got %+v", summary)
	}
}

func TestReviewModerateRejectingLastApprovedZeroesAggregate(t *testing.T) {
	products := newFakeProductRepository(domain.Product{
		ID: "prod_1", Name: "Ring", IsActive: true, Rating: 5, ReviewCount: 1,
	})
	reviews := newFakeReviewRepository(
		domain.Review{ID: "rev_1", ProductID: "prod_1", UserID: "usr_1", Rating: 5, IsApproved: true},
	)
	svc := newReviewForTest(t, reviews, products)

	review, err := svc.Moderate(context.Background(), ReviewModerateCommand{ReviewID: "rev_1", Approve: false})
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if review.IsApproved {
		t.Fatalf("expected rejection")
	}

	summary, ok := products.ratingUpdates["prod_1"]
	if !ok {
		t.Fatalf("expected a rating update")
	}
	if summary.Rating != 0 || summary.ReviewCount != 0 {
		t.Fatalf("rejecting the only approved review must zero the aggregate, got %+v", summary)
	}
}

func TestReviewModerateNoOp(t *testing.T) {
	products := newFakeProductRepository(domain.Product{ID: "prod_1", IsActive: true})
	reviews := newFakeReviewRepository(
		domain.Review{ID: "rev_1", ProductID: "prod_1", UserID: "usr_1", Rating: 5, IsApproved: true},
	)
	svc := newReviewForTest(t, reviews, products)

	if _, err := svc.Moderate(context.Background(), ReviewModerateCommand{ReviewID: "rev_1", Approve: true}); err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if len(products.ratingUpdates) != 0 {
		t.Fatalf("approving an already approved review must not re-aggregate")
	}
}

func TestReviewListShowsOwnPendingReview(t *testing.T) {
	products := newFakeProductRepository(domain.Product{ID: "prod_1", IsActive: true})
	reviews := newFakeReviewRepository(
		domain.Review{ID: "rev_1", ProductID: "prod_1", UserID: "usr_1", Rating: 5, IsApproved: true},
		domain.Review{ID: "rev_2", ProductID: "prod_1", UserID: "usr_2", Rating: 3},
	)
	svc := newReviewForTest(t, reviews, products)

	page, err := svc.ListForProduct(context.Background(), ReviewListQuery{
		ProductID:  "prod_1",
		Pagination: domain.Pagination{Page: 1, Limit: 10},
	})
	if err != nil {
		t.Fatalf("ListForProduct: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "rev_1" {
		t.Fatalf("anonymous listing must only show approved reviews, got %+v", page.Items)
	}

	page, err = svc.ListForProduct(context.Background(), ReviewListQuery{
		ProductID:  "prod_1",
		ViewerID:   "usr_2",
		Pagination: domain.Pagination{Page: 1, Limit: 10},
	})
	if err != nil {
		t.Fatalf("ListForProduct with viewer: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "rev_2" {
		t.Fatalf("owner must see their pending review first, got %+v", page.Items)
	}
}
