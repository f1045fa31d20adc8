//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/aurelia-jewels/api/internal/domain"
	pconfig "github.com/aurelia-jewels/api/internal/platform/config"
	pfirestore "github.com/aurelia-jewels/api/internal/platform/firestore"
	"github.com/aurelia-jewels/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "orders-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	seedProduct := map[string]any{
		"name":              "Solitaire Ring",
		"slug":              "solitaire-ring",
		"price":             int64(1_000_000),
		"stock":             5,
		"lowStockThreshold": 3,
		"soldCount":         0,
		"categoryId":        "cat_rings",
		"isActive":          true,
		"isFeatured":        false,
		"createdAt":         now,
		"updatedAt":         now,
	}
	if _, err := client.Collection(productsCollection).Doc("prod_001").Set(ctx, seedProduct); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	seedCart := map[string]any{
		"items": []map[string]any{
			{"id": "ci_1", "productId": "prod_001", "qty": 3, "priceSnapshot": int64(1_000_000), "addedAt": now},
		},
		"updatedAt": now,
	}
	if _, err := client.Collection(cartsCollection).Doc("usr_test").Set(ctx, seedCart); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	// The submitted prices are deliberately stale; Create must reprice the
	// items and totals from the product documents read under the transaction.
	order := domain.Order{
		ID:          "ord_test_1",
		OrderNumber: "ORD2501010001",
		UserID:      "usr_test",
		Items: []domain.OrderItem{
			{ProductID: "prod_001", Name: "Solitaire Ring", Price: 900_000, Quantity: 3},
		},
		Totals: domain.OrderTotals{
			Subtotal: 2_700_000,
			Tax:      486_000,
			Shipping: 0,
			Total:    3_186_000,
		},
		PaymentMethod: domain.PaymentMethodCard,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPending,
		StatusHistory: []domain.OrderStatusChange{{Status: domain.OrderStatusPending, At: now}},
	}

	result, err := repo.Create(ctx, repositories.OrderCreate{Order: order, ClearCart: true, Now: now})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Order.ID != order.ID {
		t.Fatalf("expected order id %s, got %s", order.ID, result.Order.ID)
	}
	if len(result.LowStock) != 1 || result.LowStock[0].Stock != 2 {
		t.Fatalf("expected low stock alert at 2 units, got %+v", result.LowStock)
	}
	if result.Order.Items[0].Price != 1_000_000 {
		t.Fatalf("expected item repriced from product document, got %d", result.Order.Items[0].Price)
	}
	wantTotals := domain.ComputeTotals(3_000_000, 0)
	if result.Order.Totals != wantTotals {
		t.Fatalf("expected recomputed totals %+v, got %+v", wantTotals, result.Order.Totals)
	}

	snap, err := client.Collection(productsCollection).Doc("prod_001").Get(ctx)
	if err != nil {
		t.Fatalf("read product: %v", err)
	}
	var productDoc productDocument
	if err := snap.DataTo(&productDoc); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if productDoc.Stock != 2 || productDoc.SoldCount != 3 {
		t.Fatalf("expected stock=2 soldCount=3, got stock=%d soldCount=%d", productDoc.Stock, productDoc.SoldCount)
	}

	cartSnap, err := client.Collection(cartsCollection).Doc("usr_test").Get(ctx)
	if err == nil && cartSnap.Exists() {
		t.Fatalf("expected cart to be cleared")
	}

	// Duplicate order IDs must be rejected.
	if _, err := repo.Create(ctx, repositories.OrderCreate{Order: order, Now: now.Add(time.Second)}); err == nil {
		t.Fatalf("expected duplicate order error")
	}

	// Ordering more than the remaining stock must fail without mutating it.
	over := order
	over.ID = "ord_test_2"
	over.Items = []domain.OrderItem{{ProductID: "prod_001", Name: "Solitaire Ring", Price: 1_000_000, Quantity: 3}}
	_, err = repo.Create(ctx, repositories.OrderCreate{Order: over, Now: now.Add(time.Second)})
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	snap, err = client.Collection(productsCollection).Doc("prod_001").Get(ctx)
	if err != nil {
		t.Fatalf("re-read product: %v", err)
	}
	if err := snap.DataTo(&productDoc); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if productDoc.Stock != 2 {
		t.Fatalf("failed order must not change stock, got %d", productDoc.Stock)
	}

	fetched, err := repo.FindByNumber(ctx, "ORD2501010001")
	if err != nil {
		t.Fatalf("find by number: %v", err)
	}
	if fetched.ID != order.ID || !strings.EqualFold(fetched.UserID, "usr_test") {
		t.Fatalf("unexpected order fetched: %+v", fetched)
	}

	page, err := repo.List(ctx, repositories.OrderListFilter{
		UserID:     "usr_test",
		Pagination: domain.Pagination{Page: 1, Limit: 10},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Info.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("expected one order, got total=%d items=%d", page.Info.Total, len(page.Items))
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
