package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/platform/auth"
	"github.com/aurelia-jewels/api/internal/platform/httpx"
	"github.com/aurelia-jewels/api/internal/services"
)

const maxProductBodySize = 64 * 1024

// ProductHandlers serves the public catalog and the admin product management
// endpoints.
type ProductHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{
		authn:   authn,
		catalog: catalog,
	}
}

// Routes registers the public /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalAuth())
	}
	r.Get("/", h.listProducts)
	r.Get("/featured/list", h.featuredProducts)
	r.Get("/search/suggestions", h.searchSuggestions)
	r.Get("/{idOrSlug}", h.getProduct)
	r.Get("/{idOrSlug}/related", h.relatedProducts)
}

// AdminRoutes registers the admin product mutations. The caller mounts these
// behind RequireAuth(admin).
func (h *ProductHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createProduct)
	r.Get("/low-stock/list", h.lowStockProducts)
	r.Put("/{productId}", h.updateProduct)
	r.Delete("/{productId}", h.deleteProduct)
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := services.ProductQuery{
		CategoryID: strings.TrimSpace(r.URL.Query().Get("category")),
		Search:     strings.TrimSpace(r.URL.Query().Get("search")),
		Material:   strings.TrimSpace(r.URL.Query().Get("material")),
		Metal:      strings.TrimSpace(r.URL.Query().Get("metal")),
		MinPrice:   parsePricePaise(r.URL.Query().Get("minPrice")),
		MaxPrice:   parsePricePaise(r.URL.Query().Get("maxPrice")),
		Sort:       domain.ProductSort(strings.TrimSpace(r.URL.Query().Get("sort"))),
		Pagination: paginationFrom(r),
	}
	if order := strings.TrimSpace(r.URL.Query().Get("order")); order != "" {
		query.SortOrder = domain.SortOrder(order)
	}
	if r.URL.Query().Get("featured") == "true" {
		query.FeaturedOnly = true
	}

	// Only admins may see inactive products in listings.
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.IsAdmin() {
		query.IncludeInactive = r.URL.Query().Get("includeInactive") == "true"
	}

	page, err := h.catalog.ListProducts(ctx, query)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"products":   buildProductList(page.Items),
		"pagination": pageInfoPayload(page.Info),
	})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idOrSlug := strings.TrimSpace(chi.URLParam(r, "idOrSlug"))

	includeInactive := false
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.IsAdmin() {
		includeInactive = true
	}

	product, err := h.catalog.GetProduct(ctx, idOrSlug, includeInactive)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"product": buildProductPayload(product)})
}

func (h *ProductHandlers) featuredProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := coerceLimit(r.URL.Query().Get("limit"))

	products, err := h.catalog.FeaturedProducts(ctx, limit)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": buildProductList(products)})
}

func (h *ProductHandlers) relatedProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(chi.URLParam(r, "idOrSlug"))
	limit := coerceLimit(r.URL.Query().Get("limit"))

	products, err := h.catalog.RelatedProducts(ctx, productID, limit)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": buildProductList(products)})
}

func (h *ProductHandlers) searchSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prefix := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := coerceLimit(r.URL.Query().Get("limit"))

	suggestions, err := h.catalog.SearchSuggestions(ctx, prefix, limit)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req productRequest
	if err := decodeBody(r, maxProductBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	product, err := h.catalog.CreateProduct(ctx, req.toCreateCommand())
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"product": buildProductPayload(product)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))

	var req productRequest
	if err := decodeBody(r, maxProductBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, services.ProductUpdateCommand{
		ProductID:            productID,
		ProductCreateCommand: req.toCreateCommand(),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"product": buildProductPayload(product)})
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	hard := r.URL.Query().Get("hard") == "true"

	if err := h.catalog.DeleteProduct(ctx, productID, hard); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteMessage(w, http.StatusOK, "product deleted")
}

func (h *ProductHandlers) lowStockProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	products, err := h.catalog.LowStockProducts(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": buildProductList(products)})
}

type productRequest struct {
	Name              string   `json:"name"`
	Slug              string   `json:"slug"`
	Description       string   `json:"description"`
	Price             int64    `json:"price"`
	ComparePrice      int64    `json:"compare_price"`
	Stock             int      `json:"stock"`
	LowStockThreshold int      `json:"low_stock_threshold"`
	CategoryID        string   `json:"category_id"`
	Material          string   `json:"material"`
	Metal             string   `json:"metal"`
	Gemstone          string   `json:"gemstone"`
	WeightCentigrams  int      `json:"weight_centigrams"`
	Images            []string `json:"images"`
	IsActive          *bool    `json:"is_active"`
	IsFeatured        bool     `json:"is_featured"`
}

func (req productRequest) toCreateCommand() services.ProductCreateCommand {
	return services.ProductCreateCommand{
		Name:              strings.TrimSpace(req.Name),
		Slug:              strings.TrimSpace(req.Slug),
		Description:       strings.TrimSpace(req.Description),
		Price:             req.Price,
		ComparePrice:      req.ComparePrice,
		Stock:             req.Stock,
		LowStockThreshold: req.LowStockThreshold,
		CategoryID:        strings.TrimSpace(req.CategoryID),
		Material:          strings.TrimSpace(req.Material),
		Metal:             strings.TrimSpace(req.Metal),
		Gemstone:          strings.TrimSpace(req.Gemstone),
		WeightCentigrams:  req.WeightCentigrams,
		Images:            req.Images,
		IsActive:          req.IsActive,
		IsFeatured:        req.IsFeatured,
	}
}

type productPayload struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Slug              string   `json:"slug"`
	Description       string   `json:"description,omitempty"`
	Price             int64    `json:"price"`
	ComparePrice      int64    `json:"compare_price,omitempty"`
	Stock             int      `json:"stock"`
	LowStockThreshold int      `json:"low_stock_threshold,omitempty"`
	SoldCount         int      `json:"sold_count"`
	CategoryID        string   `json:"category_id,omitempty"`
	Material          string   `json:"material,omitempty"`
	Metal             string   `json:"metal,omitempty"`
	Gemstone          string   `json:"gemstone,omitempty"`
	WeightCentigrams  int      `json:"weight_centigrams,omitempty"`
	Images            []string `json:"images"`
	IsActive          bool     `json:"is_active"`
	IsFeatured        bool     `json:"is_featured"`
	Rating            float64  `json:"rating"`
	ReviewCount       int      `json:"review_count"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
}

func buildProductPayload(product domain.Product) productPayload {
	images := product.Images
	if images == nil {
		images = []string{}
	}
	return productPayload{
		ID:                product.ID,
		Name:              product.Name,
		Slug:              product.Slug,
		Description:       product.Description,
		Price:             product.Price,
		ComparePrice:      product.ComparePrice,
		Stock:             product.Stock,
		LowStockThreshold: product.LowStockThreshold,
		SoldCount:         product.SoldCount,
		CategoryID:        product.CategoryID,
		Material:          product.Material,
		Metal:             product.Metal,
		Gemstone:          product.Gemstone,
		WeightCentigrams:  product.WeightCentigrams,
		Images:            images,
		IsActive:          product.IsActive,
		IsFeatured:        product.IsFeatured,
		Rating:            product.Rating,
		ReviewCount:       product.ReviewCount,
		CreatedAt:         formatTime(product.CreatedAt),
		UpdatedAt:         formatTime(product.UpdatedAt),
	}
}

func buildProductList(products []domain.Product) []productPayload {
	payloads := make([]productPayload, 0, len(products))
	for _, product := range products {
		payloads = append(payloads, buildProductPayload(product))
	}
	return payloads
}

func parsePricePaise(raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return nil
	}
	return &value
}

func coerceLimit(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return 0
	}
	return value
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "product or category not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", err.Error(), http.StatusConflict))
	default:
		writeServiceError(ctx, w, err, "catalog_error")
	}
}
