package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/aurelia-jewels/api/internal/domain"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func(string) string {
	n := 0
	return func(p string) string {
		n++
		if prefix != "" {
			p = prefix
		}
		return p + itoa(n)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func newCatalogForTest(t *testing.T, products *fakeProductRepository, categories *fakeCategoryRepository) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:    products,
		Categories:  categories,
		Clock:       fixedClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs(""),
	})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}

func TestCatalogCreateProductGeneratesSlug(t *testing.T) {
	products := newFakeProductRepository()
	categories := newFakeCategoryRepository(domain.Category{ID: "cat_1", Name: "Rings", IsActive: true})
	svc := newCatalogForTest(t, products, categories)

	created, err := svc.CreateProduct(context.Background(), ProductCreateCommand{
		Name:       "Solitaire Diamond Ring",
		Price:      1_000_000,
		Stock:      5,
		CategoryID: "cat_1",
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if created.Slug != "solitaire-diamond-ring" {
		t.Fatalf("expected generated slug, got %q", created.Slug)
	}
	if !created.IsActive {
		t.Fatalf("expected product active by default")
	}
	if len(created.Keywords) == 0 {
		t.Fatalf("expected search keywords to be derived")
	}
}

func TestCatalogCreateProductRejectsDuplicateSlug(t *testing.T) {
	products := newFakeProductRepository(domain.Product{
		ID: "prod_existing", Name: "Gold Band", Slug: "gold-band", IsActive: true,
	})
	svc := newCatalogForTest(t, products, newFakeCategoryRepository())

	_, err := svc.CreateProduct(context.Background(), ProductCreateCommand{Name: "Gold Band", Price: 100})
	if !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected slug conflict, got %v", err)
	}
}

func TestCatalogGetProductFallsBackToSlug(t *testing.T) {
	products := newFakeProductRepository(domain.Product{
		ID: "prod_1", Name: "Pearl Pendant", Slug: "pearl-pendant", IsActive: true,
	})
	svc := newCatalogForTest(t, products, newFakeCategoryRepository())

	product, err := svc.GetProduct(context.Background(), "pearl-pendant", false)
	if err != nil {
		t.Fatalf("GetProduct by slug: %v", err)
	}
	if product.ID != "prod_1" {
		t.Fatalf("expected prod_1, got %s", product.ID)
	}
}

func TestCatalogGetProductHidesInactive(t *testing.T) {
	products := newFakeProductRepository(domain.Product{
		ID: "prod_1", Name: "Retired Ring", Slug: "retired-ring", IsActive: false,
	})
	svc := newCatalogForTest(t, products, newFakeCategoryRepository())

	if _, err := svc.GetProduct(context.Background(), "prod_1", false); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found for inactive product, got %v", err)
	}
	if _, err := svc.GetProduct(context.Background(), "prod_1", true); err != nil {
		t.Fatalf("admin view should see inactive product: %v", err)
	}
}

func TestCatalogDeleteProductSoftDisables(t *testing.T) {
	products := newFakeProductRepository(domain.Product{
		ID: "prod_1", Name: "Emerald Ring", Slug: "emerald-ring", IsActive: true,
	})
	svc := newCatalogForTest(t, products, newFakeCategoryRepository())

	if err := svc.DeleteProduct(context.Background(), "prod_1", false); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	stored, err := products.FindByID(context.Background(), "prod_1")
	if err != nil {
		t.Fatalf("soft delete must keep the document: %v", err)
	}
	if stored.IsActive {
		t.Fatalf("expected product disabled")
	}

	if err := svc.DeleteProduct(context.Background(), "prod_1", true); err != nil {
		t.Fatalf("hard delete: %v", err)
	}
	if _, err := products.FindByID(context.Background(), "prod_1"); err == nil {
		t.Fatalf("expected document removed after hard delete")
	}
}

func TestCatalogRelatedProductsExcludesSelf(t *testing.T) {
	products := newFakeProductRepository(
		domain.Product{ID: "prod_1", Name: "Ring A", Slug: "ring-a", CategoryID: "cat_1", IsActive: true},
		domain.Product{ID: "prod_2", Name: "Ring B", Slug: "ring-b", CategoryID: "cat_1", IsActive: true},
		domain.Product{ID: "prod_3", Name: "Ring C", Slug: "ring-c", CategoryID: "cat_2", IsActive: true},
	)
	svc := newCatalogForTest(t, products, newFakeCategoryRepository())

	related, err := svc.RelatedProducts(context.Background(), "prod_1", 4)
	if err != nil {
		t.Fatalf("RelatedProducts: %v", err)
	}
	if len(related) != 1 || related[0].ID != "prod_2" {
		t.Fatalf("expected only prod_2, got %+v", related)
	}
}

func TestCatalogLowStockProducts(t *testing.T) {
	products := newFakeProductRepository(
		domain.Product{ID: "prod_1", Name: "A", Slug: "a", Stock: 2, LowStockThreshold: 3, IsActive: true},
		domain.Product{ID: "prod_2", Name: "B", Slug: "b", Stock: 10, LowStockThreshold: 3, IsActive: true},
	)
	svc := newCatalogForTest(t, products, newFakeCategoryRepository())

	low, err := svc.LowStockProducts(context.Background())
	if err != nil {
		t.Fatalf("LowStockProducts: %v", err)
	}
	if len(low) != 1 || low[0].ID != "prod_1" {
		t.Fatalf("expected only prod_1 below threshold, got %+v", low)
	}
}

func TestCatalogDeleteCategoryWithProducts(t *testing.T) {
	products := newFakeProductRepository(domain.Product{
		ID: "prod_1", Name: "Ring", Slug: "ring", CategoryID: "cat_1", IsActive: true,
	})
	categories := newFakeCategoryRepository(domain.Category{ID: "cat_1", Name: "Rings", IsActive: true})
	svc := newCatalogForTest(t, products, categories)

	if err := svc.DeleteCategory(context.Background(), "cat_1"); !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected conflict deleting populated category, got %v", err)
	}
}
