package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/platform/textutil"
	"github.com/aurelia-jewels/api/internal/repositories"
)

const (
	productIDPrefix  = "prod_"
	categoryIDPrefix = "cat_"

	catalogEventProductCreated = "catalog.product.created"
	catalogEventProductUpdated = "catalog.product.updated"
	catalogEventProductRemoved = "catalog.product.removed"

	maxRelatedProducts    = 8
	maxSearchSuggestions  = 8
	maxFeaturedProducts   = 12
	catalogSuggestionScan = 50
)

var (
	// ErrCatalogInvalidInput indicates validation failures for catalog operations.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates a product or category could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogConflict signals slug collisions or conflicting writes.
	ErrCatalogConflict = errors.New("catalog: conflict")
)

// CatalogEventPublisher emits catalog lifecycle events to downstream consumers.
type CatalogEventPublisher interface {
	PublishCatalogEvent(ctx context.Context, event CatalogEvent) error
}

// CatalogEvent captures metadata for product lifecycle events.
type CatalogEvent struct {
	Type       string
	ProductID  string
	Name       string
	Stock      int
	OccurredAt time.Time
}

// CatalogServiceDeps bundles collaborators required to construct a CatalogService.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Categories  repositories.CategoryRepository
	Clock       func() time.Time
	IDGenerator func(prefix string) string
	Events      CatalogEventPublisher
}

type catalogService struct {
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	clock      func() time.Time
	newID      func(prefix string) string
	events     CatalogEventPublisher
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Categories == nil {
		return nil, errors.New("catalog service: category repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func(prefix string) string {
			return prefix + ulid.Make().String()
		}
	}

	return &catalogService{
		products:   deps.Products,
		categories: deps.Categories,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, query ProductQuery) (domain.Page[domain.Product], error) {
	filter := repositories.ProductListFilter{
		CategoryID:      strings.TrimSpace(query.CategoryID),
		Search:          strings.TrimSpace(query.Search),
		MinPrice:        query.MinPrice,
		MaxPrice:        query.MaxPrice,
		FeaturedOnly:    query.FeaturedOnly,
		IncludeInactive: query.IncludeInactive,
		Sort:            query.Sort,
		SortOrder:       query.SortOrder,
		Pagination:      query.Pagination,
	}

	// Material and metal are narrow enumerations in practice; they fold into
	// the keyword search terms rather than dedicated composite indexes.
	var extraTerms []string
	if term := strings.TrimSpace(query.Material); term != "" {
		extraTerms = append(extraTerms, term)
	}
	if term := strings.TrimSpace(query.Metal); term != "" {
		extraTerms = append(extraTerms, term)
	}
	if len(extraTerms) > 0 {
		if filter.Search != "" {
			extraTerms = append([]string{filter.Search}, extraTerms...)
		}
		filter.Search = strings.Join(extraTerms, " ")
	}

	page, err := s.products.List(ctx, filter)
	if err != nil {
		return domain.Page[domain.Product]{}, s.mapCatalogError(err)
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, idOrSlug string, includeInactive bool) (domain.Product, error) {
	key := strings.TrimSpace(idOrSlug)
	if key == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, key)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			product, err = s.products.FindBySlug(ctx, key)
		}
	}
	if err != nil {
		return domain.Product{}, s.mapCatalogError(err)
	}
	if !product.IsActive && !includeInactive {
		return domain.Product{}, ErrCatalogNotFound
	}
	return product, nil
}

func (s *catalogService) FeaturedProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 || limit > maxFeaturedProducts {
		limit = maxFeaturedProducts
	}
	products, err := s.products.ListFeatured(ctx, limit)
	if err != nil {
		return nil, s.mapCatalogError(err)
	}
	return products, nil
}

func (s *catalogService) RelatedProducts(ctx context.Context, productID string, limit int) ([]domain.Product, error) {
	if limit <= 0 || limit > maxRelatedProducts {
		limit = maxRelatedProducts
	}

	product, err := s.GetProduct(ctx, productID, false)
	if err != nil {
		return nil, err
	}
	if product.CategoryID == "" {
		return []domain.Product{}, nil
	}

	page, err := s.products.List(ctx, repositories.ProductListFilter{
		CategoryID: product.CategoryID,
		Pagination: domain.Pagination{Page: 1, Limit: limit + 1},
	})
	if err != nil {
		return nil, s.mapCatalogError(err)
	}

	related := make([]domain.Product, 0, limit)
	for _, candidate := range page.Items {
		if candidate.ID == product.ID {
			continue
		}
		related = append(related, candidate)
		if len(related) == limit {
			break
		}
	}
	return related, nil
}

func (s *catalogService) SearchSuggestions(ctx context.Context, prefix string, limit int) ([]string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return []string{}, nil
	}
	if limit <= 0 || limit > maxSearchSuggestions {
		limit = maxSearchSuggestions
	}

	page, err := s.products.List(ctx, repositories.ProductListFilter{
		Search:     prefix,
		Pagination: domain.Pagination{Page: 1, Limit: catalogSuggestionScan},
	})
	if err != nil {
		return nil, s.mapCatalogError(err)
	}

	seen := make(map[string]struct{}, limit)
	suggestions := make([]string, 0, limit)
	for _, product := range page.Items {
		name := strings.TrimSpace(product.Name)
		key := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		suggestions = append(suggestions, name)
		if len(suggestions) == limit {
			break
		}
	}
	return suggestions, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd ProductCreateCommand) (domain.Product, error) {
	if err := s.validateProductCommand(cmd); err != nil {
		return domain.Product{}, err
	}

	slug, err := s.resolveProductSlug(ctx, cmd, "")
	if err != nil {
		return domain.Product{}, err
	}

	if cmd.CategoryID != "" {
		if _, err := s.categories.FindByID(ctx, cmd.CategoryID); err != nil {
			return domain.Product{}, fmt.Errorf("%w: unknown category %s", ErrCatalogInvalidInput, cmd.CategoryID)
		}
	}

	now := s.clock()
	active := true
	if cmd.IsActive != nil {
		active = *cmd.IsActive
	}
	product := domain.Product{
		ID:                s.newID(productIDPrefix),
		Name:              strings.TrimSpace(cmd.Name),
		Slug:              slug,
		Description:       strings.TrimSpace(cmd.Description),
		Price:             cmd.Price,
		ComparePrice:      cmd.ComparePrice,
		Stock:             cmd.Stock,
		LowStockThreshold: cmd.LowStockThreshold,
		CategoryID:        strings.TrimSpace(cmd.CategoryID),
		Material:          strings.TrimSpace(cmd.Material),
		Metal:             strings.TrimSpace(cmd.Metal),
		Gemstone:          strings.TrimSpace(cmd.Gemstone),
		WeightCentigrams:  cmd.WeightCentigrams,
		Images:            cmd.Images,
		Keywords:          productKeywords(cmd),
		IsActive:          active,
		IsFeatured:        cmd.IsFeatured,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return domain.Product{}, s.mapCatalogError(err)
	}

	s.emitEvent(ctx, catalogEventProductCreated, product)
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd ProductUpdateCommand) (domain.Product, error) {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.validateProductCommand(cmd.ProductCreateCommand); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.products.FindByID(ctx, cmd.ProductID)
	if err != nil {
		return domain.Product{}, s.mapCatalogError(err)
	}

	slug, err := s.resolveProductSlug(ctx, cmd.ProductCreateCommand, existing.ID)
	if err != nil {
		return domain.Product{}, err
	}

	if cmd.CategoryID != "" && cmd.CategoryID != existing.CategoryID {
		if _, err := s.categories.FindByID(ctx, cmd.CategoryID); err != nil {
			return domain.Product{}, fmt.Errorf("%w: unknown category %s", ErrCatalogInvalidInput, cmd.CategoryID)
		}
	}

	updated := existing
	updated.Name = strings.TrimSpace(cmd.Name)
	updated.Slug = slug
	updated.Description = strings.TrimSpace(cmd.Description)
	updated.Price = cmd.Price
	updated.ComparePrice = cmd.ComparePrice
	updated.Stock = cmd.Stock
	updated.LowStockThreshold = cmd.LowStockThreshold
	updated.CategoryID = strings.TrimSpace(cmd.CategoryID)
	updated.Material = strings.TrimSpace(cmd.Material)
	updated.Metal = strings.TrimSpace(cmd.Metal)
	updated.Gemstone = strings.TrimSpace(cmd.Gemstone)
	updated.WeightCentigrams = cmd.WeightCentigrams
	updated.Images = cmd.Images
	updated.Keywords = productKeywords(cmd.ProductCreateCommand)
	if cmd.IsActive != nil {
		updated.IsActive = *cmd.IsActive
	}
	updated.IsFeatured = cmd.IsFeatured
	updated.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, updated); err != nil {
		return domain.Product{}, s.mapCatalogError(err)
	}

	s.emitEvent(ctx, catalogEventProductUpdated, updated)
	return updated, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string, hard bool) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return s.mapCatalogError(err)
	}

	if hard {
		if err := s.products.Delete(ctx, productID); err != nil {
			return s.mapCatalogError(err)
		}
	} else {
		product.IsActive = false
		product.UpdatedAt = s.clock()
		if err := s.products.Update(ctx, product); err != nil {
			return s.mapCatalogError(err)
		}
	}

	s.emitEvent(ctx, catalogEventProductRemoved, product)
	return nil
}

func (s *catalogService) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	// Threshold comparison across two document fields needs a client-side
	// filter; the scan is bounded by the active catalog size.
	var low []domain.Product
	page := 1
	for {
		result, err := s.products.List(ctx, repositories.ProductListFilter{
			IncludeInactive: false,
			Pagination:      domain.Pagination{Page: page, Limit: 100},
		})
		if err != nil {
			return nil, s.mapCatalogError(err)
		}
		for _, product := range result.Items {
			if product.LowOnStock() {
				low = append(low, product)
			}
		}
		if page >= result.Info.Pages || len(result.Items) == 0 {
			break
		}
		page++
	}
	if low == nil {
		low = []domain.Product{}
	}
	return low, nil
}

func (s *catalogService) ListCategories(ctx context.Context, includeInactive bool) ([]domain.Category, error) {
	categories, err := s.categories.List(ctx, includeInactive)
	if err != nil {
		return nil, s.mapCatalogError(err)
	}
	return categories, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, cmd CategoryCommand) (domain.Category, error) {
	if err := s.validateCategoryCommand(cmd); err != nil {
		return domain.Category{}, err
	}

	slug, err := s.resolveCategorySlug(ctx, cmd, "")
	if err != nil {
		return domain.Category{}, err
	}

	now := s.clock()
	active := true
	if cmd.IsActive != nil {
		active = *cmd.IsActive
	}
	category := domain.Category{
		ID:          s.newID(categoryIDPrefix),
		Name:        strings.TrimSpace(cmd.Name),
		Slug:        slug,
		ParentID:    strings.TrimSpace(cmd.ParentID),
		Description: strings.TrimSpace(cmd.Description),
		IsActive:    active,
		SortOrder:   cmd.SortOrder,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if category.ParentID != "" {
		parent, err := s.categories.FindByID(ctx, category.ParentID)
		if err != nil {
			return domain.Category{}, fmt.Errorf("%w: unknown parent category %s", ErrCatalogInvalidInput, category.ParentID)
		}
		if parent.ParentID != "" {
			return domain.Category{}, fmt.Errorf("%w: categories nest one level deep", ErrCatalogInvalidInput)
		}
	}

	if err := s.categories.Insert(ctx, category); err != nil {
		return domain.Category{}, s.mapCatalogError(err)
	}
	return category, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, cmd CategoryCommand) (domain.Category, error) {
	if strings.TrimSpace(cmd.CategoryID) == "" {
		return domain.Category{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	if err := s.validateCategoryCommand(cmd); err != nil {
		return domain.Category{}, err
	}

	existing, err := s.categories.FindByID(ctx, cmd.CategoryID)
	if err != nil {
		return domain.Category{}, s.mapCatalogError(err)
	}

	slug, err := s.resolveCategorySlug(ctx, cmd, existing.ID)
	if err != nil {
		return domain.Category{}, err
	}

	updated := existing
	updated.Name = strings.TrimSpace(cmd.Name)
	updated.Slug = slug
	updated.ParentID = strings.TrimSpace(cmd.ParentID)
	updated.Description = strings.TrimSpace(cmd.Description)
	if cmd.IsActive != nil {
		updated.IsActive = *cmd.IsActive
	}
	updated.SortOrder = cmd.SortOrder
	updated.UpdatedAt = s.clock()

	if updated.ParentID == updated.ID {
		return domain.Category{}, fmt.Errorf("%w: category cannot be its own parent", ErrCatalogInvalidInput)
	}

	if err := s.categories.Update(ctx, updated); err != nil {
		return domain.Category{}, s.mapCatalogError(err)
	}
	return updated, nil
}

func (s *catalogService) DeleteCategory(ctx context.Context, categoryID string) error {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}

	// Refuse to orphan products still listed under the category.
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		CategoryID:      categoryID,
		IncludeInactive: true,
		Pagination:      domain.Pagination{Page: 1, Limit: 1},
	})
	if err != nil {
		return s.mapCatalogError(err)
	}
	if page.Info.Total > 0 {
		return fmt.Errorf("%w: category still has products", ErrCatalogConflict)
	}

	if err := s.categories.Delete(ctx, categoryID); err != nil {
		return s.mapCatalogError(err)
	}
	return nil
}

func (s *catalogService) validateProductCommand(cmd ProductCreateCommand) error {
	if strings.TrimSpace(cmd.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if cmd.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.ComparePrice < 0 {
		return fmt.Errorf("%w: compare price must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.LowStockThreshold < 0 {
		return fmt.Errorf("%w: low stock threshold must not be negative", ErrCatalogInvalidInput)
	}
	return nil
}

func (s *catalogService) validateCategoryCommand(cmd CategoryCommand) error {
	if strings.TrimSpace(cmd.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	return nil
}

// resolveProductSlug derives or validates the slug and enforces uniqueness,
// ignoring the document identified by selfID on updates.
func (s *catalogService) resolveProductSlug(ctx context.Context, cmd ProductCreateCommand, selfID string) (string, error) {
	slug := strings.TrimSpace(cmd.Slug)
	if slug == "" {
		slug = textutil.Slugify(cmd.Name)
	} else {
		slug = textutil.Slugify(slug)
	}
	if slug == "" {
		return "", fmt.Errorf("%w: name does not yield a usable slug", ErrCatalogInvalidInput)
	}

	existing, err := s.products.FindBySlug(ctx, slug)
	if err == nil {
		if existing.ID != selfID {
			return "", fmt.Errorf("%w: slug %q already in use", ErrCatalogConflict, slug)
		}
		return slug, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return slug, nil
	}
	return "", s.mapCatalogError(err)
}

func (s *catalogService) resolveCategorySlug(ctx context.Context, cmd CategoryCommand, selfID string) (string, error) {
	slug := strings.TrimSpace(cmd.Slug)
	if slug == "" {
		slug = textutil.Slugify(cmd.Name)
	} else {
		slug = textutil.Slugify(slug)
	}
	if slug == "" {
		return "", fmt.Errorf("%w: name does not yield a usable slug", ErrCatalogInvalidInput)
	}

	existing, err := s.categories.FindBySlug(ctx, slug)
	if err == nil {
		if existing.ID != selfID {
			return "", fmt.Errorf("%w: slug %q already in use", ErrCatalogConflict, slug)
		}
		return slug, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return slug, nil
	}
	return "", s.mapCatalogError(err)
}

func productKeywords(cmd ProductCreateCommand) []string {
	return textutil.Keywords(cmd.Name, cmd.Material, cmd.Metal, cmd.Gemstone)
}

func (s *catalogService) emitEvent(ctx context.Context, eventType string, product domain.Product) {
	if s.events == nil {
		return
	}
	event := CatalogEvent{
		Type:       eventType,
		ProductID:  product.ID,
		Name:       product.Name,
		Stock:      product.Stock,
		OccurredAt: s.clock(),
	}
	_ = s.events.PublishCatalogEvent(ctx, event)
}

func (s *catalogService) mapCatalogError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCatalogNotFound
		case repoErr.IsConflict():
			return ErrCatalogConflict
		}
	}
	return err
}
