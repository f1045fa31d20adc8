package firestore

import (
	"context"
	"errors"
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

const productsCollection = "products"

// ProductRepository persists catalog products in Firestore.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{base: base, provider: provider}, nil
}

// Insert creates the product document, failing when the ID already exists.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product repository: product id is required")
	}
	ref, err := r.base.DocumentRef(ctx, product.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, fromDomainProduct(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update replaces the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product repository: product id is required")
	}
	_, err := r.base.Set(ctx, product.ID, fromDomainProduct(product))
	return err
}

// Delete removes the product document.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("products.delete", err)
	}
	return nil
}

// FindByID loads a product by document ID.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindBySlug loads a product by its unique slug.
func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return domain.Product{}, errors.New("product repository: slug is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.WrapError("products.findBySlug", status.Error(codes.NotFound, "product not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns an offset page of products honouring the filter and sort.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.Page[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.Page[domain.Product]{}, errors.New("product repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}

	query := client.Collection(productsCollection).Query
	if !filter.IncludeInactive {
		query = query.Where("isActive", "==", true)
	}
	if category := strings.TrimSpace(filter.CategoryID); category != "" {
		query = query.Where("categoryId", "==", category)
	}
	if filter.FeaturedOnly {
		query = query.Where("isFeatured", "==", true)
	}
	if terms := searchTerms(filter.Search); len(terms) > 0 {
		query = query.Where("keywords", "array-contains-any", terms)
	}
	priceFiltered := false
	if filter.MinPrice != nil {
		query = query.Where("price", ">=", *filter.MinPrice)
		priceFiltered = true
	}
	if filter.MaxPrice != nil {
		query = query.Where("price", "<=", *filter.MaxPrice)
		priceFiltered = true
	}

	total, err := countDocuments(ctx, query)
	if err != nil {
		return domain.Page[domain.Product]{}, pfirestore.WrapError("products.count", err)
	}

	query = orderProducts(query, filter.Sort, filter.SortOrder, priceFiltered)
	pager := normalisePager(filter.Pagination)

	iter := applyPager(query, pager).Documents(ctx)
	defer iter.Stop()

	products, err := collectProducts(iter)
	if err != nil {
		return domain.Page[domain.Product]{}, pfirestore.WrapError("products.list", err)
	}
	return pageOf(products, pager, total), nil
}

// ListFeatured returns active featured products, newest first.
func (r *ProductRepository) ListFeatured(ctx context.Context, limit int) ([]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}
	if limit <= 0 {
		limit = 8
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isActive", "==", true).
			Where("isFeatured", "==", true).
			OrderBy("createdAt", firestore.Desc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, doc.Data.toDomain(doc.ID))
	}
	return products, nil
}

// UpdateRating rewrites the denormalised rating fields.
func (r *ProductRepository) UpdateRating(ctx context.Context, productID string, summary domain.RatingSummary) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	_, err := r.base.Update(ctx, productID, []firestore.Update{
		{Path: "rating", Value: summary.Rating},
		{Path: "reviewCount", Value: summary.ReviewCount},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	return err
}

func collectProducts(iter *firestore.DocumentIterator) ([]domain.Product, error) {
	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}
	return products, nil
}

// orderProducts maps the catalog sort onto Firestore order clauses. When a
// price range filter is present Firestore requires price as the first order
// field.
func orderProducts(query firestore.Query, sort domain.ProductSort, order domain.SortOrder, priceFiltered bool) firestore.Query {
	direction := firestore.Desc
	if order == domain.SortAsc {
		direction = firestore.Asc
	}
	if priceFiltered && sort != domain.ProductSortPriceAsc && sort != domain.ProductSortPriceDesc {
		query = query.OrderBy("price", firestore.Asc)
	}
	switch sort {
	case domain.ProductSortPriceAsc:
		return query.OrderBy("price", firestore.Asc)
	case domain.ProductSortPriceDesc:
		return query.OrderBy("price", firestore.Desc)
	case domain.ProductSortRating:
		return query.OrderBy("rating", firestore.Desc).OrderBy("reviewCount", firestore.Desc)
	case domain.ProductSortBestselling:
		return query.OrderBy("soldCount", firestore.Desc)
	case domain.ProductSortNewest:
		return query.OrderBy("createdAt", firestore.Desc)
	default:
		return query.OrderBy("createdAt", direction)
	}
}

// searchTerms folds the free-text query into lowercase keywords. Firestore
// caps array-contains-any at ten values.
func searchTerms(search string) []string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(search)))
	if len(fields) > 10 {
		fields = fields[:10]
	}
	return fields
}

type productDocument struct {
	Name              string    `firestore:"name"`
	Slug              string    `firestore:"slug"`
	Description       string    `firestore:"description,omitempty"`
	Price             int64     `firestore:"price"`
	ComparePrice      int64     `firestore:"comparePrice,omitempty"`
	Stock             int       `firestore:"stock"`
	LowStockThreshold int       `firestore:"lowStockThreshold"`
	SoldCount         int       `firestore:"soldCount"`
	CategoryID        string    `firestore:"categoryId"`
	Material          string    `firestore:"material,omitempty"`
	Metal             string    `firestore:"metal,omitempty"`
	Gemstone          string    `firestore:"gemstone,omitempty"`
	WeightCentigrams  int       `firestore:"weightCentigrams,omitempty"`
	Images            []string  `firestore:"images,omitempty"`
	Keywords          []string  `firestore:"keywords,omitempty"`
	IsActive          bool      `firestore:"isActive"`
	IsFeatured        bool      `firestore:"isFeatured"`
	Rating            float64   `firestore:"rating"`
	ReviewCount       int       `firestore:"reviewCount"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func fromDomainProduct(product domain.Product) productDocument {
	return productDocument{
		Name:              strings.TrimSpace(product.Name),
		Slug:              strings.ToLower(strings.TrimSpace(product.Slug)),
		Description:       strings.TrimSpace(product.Description),
		Price:             product.Price,
		ComparePrice:      product.ComparePrice,
		Stock:             product.Stock,
		LowStockThreshold: product.LowStockThreshold,
		SoldCount:         product.SoldCount,
		CategoryID:        strings.TrimSpace(product.CategoryID),
		Material:          strings.TrimSpace(product.Material),
		Metal:             strings.TrimSpace(product.Metal),
		Gemstone:          strings.TrimSpace(product.Gemstone),
		WeightCentigrams:  product.WeightCentigrams,
		Images:            append([]string(nil), product.Images...),
		Keywords:          append([]string(nil), product.Keywords...),
		IsActive:          product.IsActive,
		IsFeatured:        product.IsFeatured,
		Rating:            product.Rating,
		ReviewCount:       product.ReviewCount,
		CreatedAt:         product.CreatedAt.UTC(),
		UpdatedAt:         product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:                id,
		Name:              d.Name,
		Slug:              d.Slug,
		Description:       d.Description,
		Price:             d.Price,
		ComparePrice:      d.ComparePrice,
		Stock:             d.Stock,
		LowStockThreshold: d.LowStockThreshold,
		SoldCount:         d.SoldCount,
		CategoryID:        d.CategoryID,
		Material:          d.Material,
		Metal:             d.Metal,
		Gemstone:          d.Gemstone,
		WeightCentigrams:  d.WeightCentigrams,
		Images:            d.Images,
		Keywords:          d.Keywords,
		IsActive:          d.IsActive,
		IsFeatured:        d.IsFeatured,
		Rating:            d.Rating,
		ReviewCount:       d.ReviewCount,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
