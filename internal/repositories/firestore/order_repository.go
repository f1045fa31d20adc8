package firestore

import (
	"context"
	"errors"
	"fmt"
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

const ordersCollection = "orders"

// OrderRepository persists orders and runs the transactional creation flow
// that couples stock decrement with the order write.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
	carts    *pfirestore.BaseRepository[cartDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		carts:    pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil),
	}, nil
}

// Create validates stock, decrements it, writes the order, and optionally
// clears the user's cart inside one transaction. Every document read happens
// before the first write so the transaction can retry cleanly.
func (r *OrderRepository) Create(ctx context.Context, req repositories.OrderCreate) (repositories.OrderCreateResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderCreateResult{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: order id is required")
	}
	if strings.TrimSpace(order.UserID) == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: user id is required")
	}
	if len(order.Items) == 0 {
		return repositories.OrderCreateResult{}, errors.New("order create: at least one item is required")
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	var result repositories.OrderCreateResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(orderRef); err == nil {
			return pfirestore.WrapError("orders.create", status.Errorf(codes.AlreadyExists, "order %s already exists", order.ID))
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		type pendingStock struct {
			ref *firestore.DocumentRef
			doc productDocument
			qty int
		}
		pending := make([]pendingStock, 0, len(order.Items))
		var subtotal int64
		for i := range order.Items {
			item := &order.Items[i]
			productID := strings.TrimSpace(item.ProductID)
			if productID == "" {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, "order create: product id is required", nil)
			}
			if item.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, productID, fmt.Sprintf("order create: quantity for %s must be > 0", productID), nil)
			}

			productRef, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var productDoc productDocument
			if err := snap.DataTo(&productDoc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			if !productDoc.IsActive {
				return repositories.NewStockError(repositories.StockErrorProductInactive, productID, fmt.Sprintf("product %s is unavailable", productID), nil)
			}
			if productDoc.Stock < item.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, productID, fmt.Sprintf("insufficient stock for %s", productID), nil)
			}

			// Prices the caller supplied may be stale; the document read under
			// the transaction is authoritative.
			item.Name = productDoc.Name
			item.Price = productDoc.Price
			if item.Image == "" && len(productDoc.Images) > 0 {
				item.Image = productDoc.Images[0]
			}
			subtotal += productDoc.Price * int64(item.Quantity)

			pending = append(pending, pendingStock{ref: productRef, doc: productDoc, qty: item.Quantity})
		}
		order.Totals = domain.ComputeTotals(subtotal, order.Totals.Discount)

		var cartRef *firestore.DocumentRef
		if req.ClearCart {
			cartRef, err = r.carts.DocumentRef(ctx, order.UserID)
			if err != nil {
				return err
			}
		}

		lowStock := make([]repositories.LowStockItem, 0)
		for _, p := range pending {
			p.doc.Stock -= p.qty
			p.doc.SoldCount += p.qty
			p.doc.UpdatedAt = now
			if err := tx.Set(p.ref, p.doc); err != nil {
				return err
			}
			if p.doc.Stock <= p.doc.LowStockThreshold {
				lowStock = append(lowStock, repositories.LowStockItem{
					ProductID: p.ref.ID,
					Name:      p.doc.Name,
					Stock:     p.doc.Stock,
					Threshold: p.doc.LowStockThreshold,
				})
			}
		}

		if err := tx.Create(orderRef, fromDomainOrder(order)); err != nil {
			return err
		}
		if cartRef != nil {
			if err := tx.Delete(cartRef); err != nil {
				return err
			}
		}

		result = repositories.OrderCreateResult{Order: order, LowStock: lowStock}
		return nil
	})
	if err != nil {
		return repositories.OrderCreateResult{}, wrapStockError("orders.create", err)
	}
	return result, nil
}

// Update replaces the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.orders.Set(ctx, order.ID, fromDomainOrder(order))
	return err
}

// FindByID loads an order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByNumber loads an order by its human-facing order number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", number).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", status.Error(codes.NotFound, "order not found"))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns an offset page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.Page[domain.Order]{}, errors.New("order repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	query := client.Collection(ordersCollection).Query
	if uid := strings.TrimSpace(filter.UserID); uid != "" {
		query = query.Where("userId", "==", uid)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.PaymentStatus != "" {
		query = query.Where("paymentStatus", "==", string(filter.PaymentStatus))
	}

	total, err := countDocuments(ctx, query)
	if err != nil {
		return domain.Page[domain.Order]{}, pfirestore.WrapError("orders.count", err)
	}

	pager := normalisePager(filter.Pagination)
	iter := applyPager(query.OrderBy("createdAt", firestore.Desc), pager).Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.Page[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Page[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	return pageOf(orders, pager, total), nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

// Document structures -------------------------------------------------------

type orderDocument struct {
	OrderNumber     string                `firestore:"orderNumber"`
	UserID          string                `firestore:"userId"`
	Items           []orderItemDocument   `firestore:"items"`
	ShippingAddress addressDocument       `firestore:"shippingAddress"`
	BillingAddress  addressDocument       `firestore:"billingAddress"`
	Totals          orderTotalsDocument   `firestore:"totals"`
	PaymentMethod   string                `firestore:"paymentMethod"`
	PaymentStatus   string                `firestore:"paymentStatus"`
	Status          string                `firestore:"status"`
	StatusHistory   []statusEntryDocument `firestore:"statusHistory"`
	Payment         *captureDocument      `firestore:"payment,omitempty"`
	Notes           string                `firestore:"notes,omitempty"`
	CreatedAt       time.Time             `firestore:"createdAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
	DeliveredAt     *time.Time            `firestore:"deliveredAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Price     int64  `firestore:"price"`
	Quantity  int    `firestore:"qty"`
	Image     string `firestore:"image,omitempty"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Tax      int64 `firestore:"tax"`
	Shipping int64 `firestore:"shipping"`
	Discount int64 `firestore:"discount"`
	Total    int64 `firestore:"total"`
}

type statusEntryDocument struct {
	Status string    `firestore:"status"`
	Note   string    `firestore:"note,omitempty"`
	At     time.Time `firestore:"at"`
}

type captureDocument struct {
	TransactionID string    `firestore:"transactionId"`
	Currency      string    `firestore:"currency"`
	AmountPaid    int64     `firestore:"amountPaid"`
	PaidAt        time.Time `firestore:"paidAt"`
	BlockNumber   uint64    `firestore:"blockNumber,omitempty"`
	Confirmations uint64    `firestore:"confirmations,omitempty"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Price:     item.Price,
			Quantity:  item.Quantity,
			Image:     strings.TrimSpace(item.Image),
		}
	}
	history := make([]statusEntryDocument, len(order.StatusHistory))
	for i, entry := range order.StatusHistory {
		history[i] = statusEntryDocument{
			Status: string(entry.Status),
			Note:   strings.TrimSpace(entry.Note),
			At:     entry.At.UTC(),
		}
	}
	doc := orderDocument{
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		UserID:          strings.TrimSpace(order.UserID),
		Items:           items,
		ShippingAddress: fromDomainAddress(order.ShippingAddress),
		BillingAddress:  fromDomainAddress(order.BillingAddress),
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Tax:      order.Totals.Tax,
			Shipping: order.Totals.Shipping,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		Status:        string(order.Status),
		StatusHistory: history,
		Notes:         strings.TrimSpace(order.Notes),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		DeliveredAt:   order.DeliveredAt,
	}
	if order.Payment != nil {
		doc.Payment = &captureDocument{
			TransactionID: strings.TrimSpace(order.Payment.TransactionID),
			Currency:      strings.ToUpper(strings.TrimSpace(order.Payment.Currency)),
			AmountPaid:    order.Payment.AmountPaid,
			PaidAt:        order.Payment.PaidAt.UTC(),
			BlockNumber:   order.Payment.BlockNumber,
			Confirmations: order.Payment.Confirmations,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}
	history := make([]domain.OrderStatusChange, len(d.StatusHistory))
	for i, entry := range d.StatusHistory {
		history[i] = domain.OrderStatusChange{
			Status: domain.OrderStatus(entry.Status),
			Note:   entry.Note,
			At:     entry.At,
		}
	}
	order := domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		UserID:          d.UserID,
		Items:           items,
		ShippingAddress: d.ShippingAddress.toDomain(),
		BillingAddress:  d.BillingAddress.toDomain(),
		Totals: domain.OrderTotals{
			Subtotal: d.Totals.Subtotal,
			Tax:      d.Totals.Tax,
			Shipping: d.Totals.Shipping,
			Discount: d.Totals.Discount,
			Total:    d.Totals.Total,
		},
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		Status:        domain.OrderStatus(d.Status),
		StatusHistory: history,
		Notes:         d.Notes,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		DeliveredAt:   d.DeliveredAt,
	}
	if d.Payment != nil {
		order.Payment = &domain.PaymentCapture{
			TransactionID: d.Payment.TransactionID,
			Currency:      d.Payment.Currency,
			AmountPaid:    d.Payment.AmountPaid,
			PaidAt:        d.Payment.PaidAt,
			BlockNumber:   d.Payment.BlockNumber,
			Confirmations: d.Payment.Confirmations,
		}
	}
	return order
}

func fromDomainAddress(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
		Phone:      strings.TrimSpace(addr.Phone),
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Recipient:  d.Recipient,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
