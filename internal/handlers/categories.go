package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/httpx"
	"github.com/aurelia-jewels/api/internal/services"
)

const maxCategoryBodySize = 16 * 1024

// CategoryHandlers serves the public category listing and the admin
// category management endpoints.
type CategoryHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewCategoryHandlers constructs a new CategoryHandlers instance.
func NewCategoryHandlers(authn *auth.Authenticator, catalog services.CatalogService) *CategoryHandlers {
	return &CategoryHandlers{
		authn:   authn,
		catalog: catalog,
	}
}

// Routes registers the public /categories endpoints.
func (h *CategoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalAuth())
	}
	r.Get("/", h.listCategories)
}

// AdminRoutes registers the admin category mutations.
func (h *CategoryHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createCategory)
	r.Put("/{categoryId}", h.updateCategory)
	r.Delete("/{categoryId}", h.deleteCategory)
}

func (h *CategoryHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	includeInactive := false
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.IsAdmin() {
		includeInactive = r.URL.Query().Get("includeInactive") == "true"
	}

	categories, err := h.catalog.ListCategories(ctx, includeInactive)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": buildCategoryList(categories)})
}

func (h *CategoryHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req categoryRequest
	if err := decodeBody(r, maxCategoryBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	category, err := h.catalog.CreateCategory(ctx, req.toCommand(""))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"category": buildCategoryPayload(category)})
}

func (h *CategoryHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryId"))

	var req categoryRequest
	if err := decodeBody(r, maxCategoryBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	category, err := h.catalog.UpdateCategory(ctx, req.toCommand(categoryID))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"category": buildCategoryPayload(category)})
}

func (h *CategoryHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryId"))

	if err := h.catalog.DeleteCategory(ctx, categoryID); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "category deleted")
}

type categoryRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	ParentID    string `json:"parent_id"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
	SortOrder   int    `json:"sort_order"`
}

func (req categoryRequest) toCommand(categoryID string) services.CategoryCommand {
	return services.CategoryCommand{
		CategoryID:  categoryID,
		Name:        strings.TrimSpace(req.Name),
		Slug:        strings.TrimSpace(req.Slug),
		ParentID:    strings.TrimSpace(req.ParentID),
		Description: strings.TrimSpace(req.Description),
		IsActive:    req.IsActive,
		SortOrder:   req.SortOrder,
	}
}

type categoryPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	ParentID    string `json:"parent_id,omitempty"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
	SortOrder   int    `json:"sort_order"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func buildCategoryPayload(category domain.Category) categoryPayload {
	return categoryPayload{
		ID:          category.ID,
		Name:        category.Name,
		Slug:        category.Slug,
		ParentID:    category.ParentID,
		Description: category.Description,
		IsActive:    category.IsActive,
		SortOrder:   category.SortOrder,
		CreatedAt:   formatTime(category.CreatedAt),
		UpdatedAt:   formatTime(category.UpdatedAt),
	}
}

func buildCategoryList(categories []domain.Category) []categoryPayload {
	payloads := make([]categoryPayload, 0, len(categories))
	for _, category := range categories {
		payloads = append(payloads, buildCategoryPayload(category))
	}
	return payloads
}
