package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/services"
)

type stubReviewService struct {
	createFunc   func(ctx context.Context, cmd services.ReviewCreateCommand) (domain.Review, error)
	listFunc     func(ctx context.Context, query services.ReviewListQuery) (domain.Page[domain.Review], error)
	moderateFunc func(ctx context.Context, cmd services.ReviewModerateCommand) (domain.Review, error)
}

func (s *stubReviewService) Create(ctx context.Context, cmd services.ReviewCreateCommand) (domain.Review, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return domain.Review{}, nil
}

func (s *stubReviewService) ListForProduct(ctx context.Context, query services.ReviewListQuery) (domain.Page[domain.Review], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, query)
	}
	return domain.Page[domain.Review]{}, nil
}

func (s *stubReviewService) Moderate(ctx context.Context, cmd services.ReviewModerateCommand) (domain.Review, error) {
	if s.moderateFunc != nil {
		return s.moderateFunc(ctx, cmd)
	}
	return domain.Review{}, nil
}

func reviewRoutes(handler *ReviewHandlers) RouteRegistrar {
	return func(r chi.Router) {
		handler.Routes(r)
		handler.AdminRoutes(r)
	}
}

func TestReviewHandlersListForProduct(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	service := &stubReviewService{
		listFunc: func(ctx context.Context, query services.ReviewListQuery) (domain.Page[domain.Review], error) {
			if query.ProductID != "prod_1" {
				t.Fatalf("unexpected product id %q", query.ProductID)
			}
			if query.ViewerID != "" {
				t.Fatalf("anonymous listing must not carry a viewer, got %q", query.ViewerID)
			}
			return domain.Page[domain.Review]{
				Items: []domain.Review{
					{ID: "rev_1", ProductID: "prod_1", UserID: "usr_2", UserName: "Meera", Rating: 5, IsApproved: true, CreatedAt: now},
				},
				Info: domain.PageInfo{Page: 1, Limit: 12, Total: 1, Pages: 1},
			}, nil
		},
	}

	router := NewRouter(WithReviewRoutes(reviewRoutes(NewReviewHandlers(nil, service))))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/product/prod_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Reviews []reviewPayload `json:"reviews"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Reviews) != 1 || resp.Reviews[0].Rating != 5 {
		t.Fatalf("unexpected reviews %#v", resp.Reviews)
	}
}

func TestReviewHandlersListForProductWithViewer(t *testing.T) {
	service := &stubReviewService{
		listFunc: func(ctx context.Context, query services.ReviewListQuery) (domain.Page[domain.Review], error) {
			if query.ViewerID != "usr_1" {
				t.Fatalf("expected viewer usr_1, got %q", query.ViewerID)
			}
			return domain.Page[domain.Review]{}, nil
		},
	}

	router := NewRouter(WithReviewRoutes(reviewRoutes(NewReviewHandlers(nil, service))))

	req := identityRequest(httptest.NewRequest(http.MethodGet, "/api/v1/reviews/product/prod_1", nil), &auth.Identity{UserID: "usr_1"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestReviewHandlersCreate(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var captured services.ReviewCreateCommand
	service := &stubReviewService{
		createFunc: func(ctx context.Context, cmd services.ReviewCreateCommand) (domain.Review, error) {
			captured = cmd
			return domain.Review{
				ID:        "rev_1",
				ProductID: cmd.ProductID,
				UserID:    cmd.UserID,
				UserName:  cmd.UserName,
				Rating:    cmd.Rating,
				Title:     cmd.Title,
				CreatedAt: now,
			}, nil
		},
	}

	router := NewRouter(WithReviewRoutes(reviewRoutes(NewReviewHandlers(nil, service))))

	identity := &auth.Identity{
		UserID: "usr_1",
		Email:  "asha@example.com",
		User:   domain.User{ID: "usr_1", Name: "Asha Rao"},
	}
	body := strings.NewReader(`{"product_id":"prod_1","rating":4,"title":"Lovely","comment":"Sparkles beautifully"}`)
	req := identityRequest(httptest.NewRequest(http.MethodPost, "/api/v1/reviews", body), identity)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "usr_1" || captured.UserName != "Asha Rao" || captured.Rating != 4 {
		t.Fatalf("unexpected command %#v", captured)
	}
	if !strings.Contains(rr.Body.String(), `"is_approved":false`) {
		t.Fatalf("expected new review to be unapproved, got %s", rr.Body.String())
	}
}

func TestReviewHandlersCreateDuplicate(t *testing.T) {
	service := &stubReviewService{
		createFunc: func(ctx context.Context, cmd services.ReviewCreateCommand) (domain.Review, error) {
			return domain.Review{}, services.ErrReviewDuplicate
		},
	}

	router := NewRouter(WithReviewRoutes(reviewRoutes(NewReviewHandlers(nil, service))))

	body := strings.NewReader(`{"product_id":"prod_1","rating":4}`)
	req := identityRequest(httptest.NewRequest(http.MethodPost, "/api/v1/reviews", body), &auth.Identity{UserID: "usr_1"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "review_duplicate") {
		t.Fatalf("expected review_duplicate code, got %s", rr.Body.String())
	}
}

func TestReviewHandlersApprove(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var captured services.ReviewModerateCommand
	service := &stubReviewService{
		moderateFunc: func(ctx context.Context, cmd services.ReviewModerateCommand) (domain.Review, error) {
			captured = cmd
			return domain.Review{ID: cmd.ReviewID, IsApproved: cmd.Approve, UpdatedAt: now}, nil
		},
	}

	router := NewRouter(WithReviewRoutes(reviewRoutes(NewReviewHandlers(nil, service))))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/reviews/rev_1/approve", strings.NewReader(`{"approve":true}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ReviewID != "rev_1" || !captured.Approve {
		t.Fatalf("unexpected command %#v", captured)
	}
	if !strings.Contains(rr.Body.String(), `"is_approved":true`) {
		t.Fatalf("expected approved review, got %s", rr.Body.String())
	}
}
