package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/httpx"
	"github.com/aurelia-jewels/api/internal/services"
)

const maxReviewBodySize = 32 * 1024

// ReviewHandlers serves product reviews and the admin moderation endpoint.
type ReviewHandlers struct {
	authn   *auth.Authenticator
	reviews services.ReviewService
}

// NewReviewHandlers constructs a new ReviewHandlers instance.
func NewReviewHandlers(authn *auth.Authenticator, reviews services.ReviewService) *ReviewHandlers {
	return &ReviewHandlers{
		authn:   authn,
		reviews: reviews,
	}
}

// Routes registers the /reviews endpoints. Listing is public; submission
// requires authentication.
func (h *ReviewHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.OptionalAuth())
		}
		r.Get("/product/{productId}", h.listForProduct)
	})

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireAuth())
		}
		r.Post("/", h.createReview)
	})
}

// AdminRoutes registers the review moderation endpoint.
func (h *ReviewHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Put("/{reviewId}/approve", h.moderateReview)
}

func (h *ReviewHandlers) listForProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := services.ReviewListQuery{
		ProductID:  strings.TrimSpace(chi.URLParam(r, "productId")),
		Pagination: paginationFrom(r),
	}
	// A signed-in viewer also sees their own pending review.
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		query.ViewerID = identity.UserID
	}

	page, err := h.reviews.ListForProduct(ctx, query)
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"reviews":    buildReviewList(page.Items),
		"pagination": pageInfoPayload(page.Info),
	})
}

func (h *ReviewHandlers) createReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req reviewCreateRequest
	if err := decodeBody(r, maxReviewBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	userName := identity.User.Name
	if userName == "" {
		userName = identity.Email
	}

	review, err := h.reviews.Create(ctx, services.ReviewCreateCommand{
		ProductID: strings.TrimSpace(req.ProductID),
		UserID:    identity.UserID,
		UserName:  userName,
		Rating:    req.Rating,
		Title:     req.Title,
		Comment:   req.Comment,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"review": buildReviewPayload(review)})
}

func (h *ReviewHandlers) moderateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req reviewModerateRequest
	if err := decodeBody(r, maxReviewBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	approve := true
	if req.Approve != nil {
		approve = *req.Approve
	}

	review, err := h.reviews.Moderate(ctx, services.ReviewModerateCommand{
		ReviewID: strings.TrimSpace(chi.URLParam(r, "reviewId")),
		Approve:  approve,
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"review": buildReviewPayload(review)})
}

type reviewCreateRequest struct {
	ProductID string `json:"product_id"`
	Rating    int    `json:"rating"`
	Title     string `json:"title"`
	Comment   string `json:"comment"`
}

type reviewModerateRequest struct {
	Approve *bool `json:"approve"`
}

type reviewPayload struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name"`
	Rating     int    `json:"rating"`
	Title      string `json:"title,omitempty"`
	Comment    string `json:"comment,omitempty"`
	IsApproved bool   `json:"is_approved"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func buildReviewPayload(review domain.Review) reviewPayload {
	return reviewPayload{
		ID:         review.ID,
		ProductID:  review.ProductID,
		UserID:     review.UserID,
		UserName:   review.UserName,
		Rating:     review.Rating,
		Title:      review.Title,
		Comment:    review.Comment,
		IsApproved: review.IsApproved,
		CreatedAt:  formatTime(review.CreatedAt),
		UpdatedAt:  formatTime(review.UpdatedAt),
	}
}

func buildReviewList(reviews []domain.Review) []reviewPayload {
	payloads := make([]reviewPayload, 0, len(reviews))
	for _, review := range reviews {
		payloads = append(payloads, buildReviewPayload(review))
	}
	return payloads
}

func writeReviewError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReviewInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReviewNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("review_not_found", "review not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReviewDuplicate):
		httpx.WriteError(ctx, w, httpx.NewError("review_duplicate", "product already reviewed by this user", http.StatusConflict))
	default:
		writeServiceError(ctx, w, err, "review_error")
	}
}
