package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderPlacedNote         = "Order placed"
)

var (
	// ErrOrderInvalidInput indicates validation failures for order operations.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates an order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not access the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderProductUnavailable indicates an ordered product is missing or inactive.
	ErrOrderProductUnavailable = errors.New("order: product unavailable")
	// ErrOrderInsufficientStock indicates an ordered quantity exceeds stock.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderIllegalTransition is returned for moves outside the status graph.
	ErrOrderIllegalTransition = errors.New("order: illegal status transition")
)

// OrderEventPublisher emits order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for order lifecycle events.
type OrderEvent struct {
	Type        string
	OrderID     string
	OrderNumber string
	UserID      string
	Status      domain.OrderStatus
	Total       int64
	OccurredAt  time.Time
}

// LowStockPublisher notifies listeners of products that crossed their threshold.
type LowStockPublisher interface {
	PublishLowStock(ctx context.Context, items []repositories.LowStockItem) error
}

// OrderServiceDeps bundles collaborators required to construct an OrderService.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Carts       repositories.CartRepository
	Counters    CounterService
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	LowStock    LowStockPublisher
}

type orderService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	carts    repositories.CartRepository
	counters CounterService
	clock    func() time.Time
	newID    func() string
	events   OrderEventPublisher
	lowStock LowStockPublisher
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}

	return &orderService{
		orders:   deps.Orders,
		products: deps.Products,
		carts:    deps.Carts,
		counters: deps.Counters,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		events:   deps.Events,
		lowStock: deps.LowStock,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd OrderCreateCommand) (domain.Order, error) {
	if err := s.validateCreateCommand(cmd); err != nil {
		return domain.Order{}, err
	}

	items := cmd.Items
	if cmd.FromCart {
		cart, err := s.carts.Get(ctx, cmd.UserID)
		if err != nil {
			return domain.Order{}, err
		}
		if len(cart.Items) == 0 {
			return domain.Order{}, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
		}
		items = make([]OrderItemInput, 0, len(cart.Items))
		for _, line := range cart.Items {
			items = append(items, OrderItemInput{ProductID: line.ProductID, Quantity: line.Quantity})
		}
	}
	if len(items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	// The final price and stock reads happen inside the creation transaction;
	// this pre-pass snapshots names and images and rejects obvious failures
	// before a sequence number is drawn.
	orderItems := make([]domain.OrderItem, 0, len(items))
	var subtotal int64
	for _, input := range items {
		if input.Quantity < 1 {
			return domain.Order{}, fmt.Errorf("%w: quantity for %s must be at least 1", ErrOrderInvalidInput, input.ProductID)
		}
		product, err := s.products.FindByID(ctx, input.ProductID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderProductUnavailable, input.ProductID)
			}
			return domain.Order{}, err
		}
		if !product.IsActive {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderProductUnavailable, product.Name)
		}
		if product.Stock < input.Quantity {
			return domain.Order{}, fmt.Errorf("%w: only %d units of %s available", ErrOrderInsufficientStock, product.Stock, product.Name)
		}
		item := domain.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  input.Quantity,
		}
		if len(product.Images) > 0 {
			item.Image = product.Images[0]
		}
		orderItems = append(orderItems, item)
		subtotal += product.Price * int64(input.Quantity)
	}

	orderNumber, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.clock()
	billing := cmd.ShippingAddress
	if cmd.BillingAddress != nil {
		billing = *cmd.BillingAddress
	}
	order := domain.Order{
		ID:              s.newID(),
		OrderNumber:     orderNumber,
		UserID:          cmd.UserID,
		Items:           orderItems,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  billing,
		Totals:          domain.ComputeTotals(subtotal, 0),
		PaymentMethod:   cmd.PaymentMethod,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.OrderStatusPending,
		StatusHistory: []domain.OrderStatusChange{
			{Status: domain.OrderStatusPending, Note: orderPlacedNote, At: now},
		},
		Notes:     strings.TrimSpace(cmd.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := s.orders.Create(ctx, repositories.OrderCreate{
		Order:     order,
		ClearCart: cmd.FromCart,
		Now:       now,
	})
	if err != nil {
		return domain.Order{}, s.mapCreateError(err)
	}

	s.emitEvent(ctx, orderEventCreated, result.Order)
	if s.lowStock != nil && len(result.LowStock) > 0 {
		_ = s.lowStock.PublishLowStock(ctx, result.LowStock)
	}
	return result.Order, nil
}

func (s *orderService) Get(ctx context.Context, actor Actor, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}
	if !actor.IsAdmin() && order.UserID != actor.UserID {
		return domain.Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListMine(ctx context.Context, userID string, page domain.Pagination) (domain.Page[domain.Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Page[domain.Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Pagination: page,
	})
	if err != nil {
		return domain.Page[domain.Order]{}, s.mapOrderError(err)
	}
	return result, nil
}

func (s *orderService) List(ctx context.Context, query OrderAdminQuery) (domain.Page[domain.Order], error) {
	for _, status := range query.Status {
		if !status.Valid() {
			return domain.Page[domain.Order]{}, fmt.Errorf("%w: unknown status %s", ErrOrderInvalidInput, status)
		}
	}

	if query.PaymentStatus != "" && !query.PaymentStatus.Valid() {
		return domain.Page[domain.Order]{}, fmt.Errorf("%w: unknown payment status %s", ErrOrderInvalidInput, query.PaymentStatus)
	}

	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:        strings.TrimSpace(query.UserID),
		Status:        query.Status,
		PaymentStatus: query.PaymentStatus,
		Pagination:    query.Pagination,
	})
	if err != nil {
		return domain.Page[domain.Order]{}, s.mapOrderError(err)
	}
	return result, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (domain.Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %s", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}

	if !order.Status.CanTransitionTo(cmd.Status) {
		return domain.Order{}, fmt.Errorf("%w: %s to %s", ErrOrderIllegalTransition, order.Status, cmd.Status)
	}

	now := s.clock()
	order.Status = cmd.Status
	order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
		Status: cmd.Status,
		Note:   strings.TrimSpace(cmd.Note),
		At:     now,
	})
	if cmd.Status == domain.OrderStatusDelivered {
		deliveredAt := now
		order.DeliveredAt = &deliveredAt
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, s.mapOrderError(err)
	}

	s.emitEvent(ctx, orderEventStatusChanged, order)
	return order, nil
}

func (s *orderService) validateCreateCommand(cmd OrderCreateCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if !cmd.FromCart && len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %s", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if err := validateAddress(cmd.ShippingAddress); err != nil {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if cmd.BillingAddress != nil {
		if err := validateAddress(*cmd.BillingAddress); err != nil {
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}
	return nil
}

func validateAddress(addr domain.Address) error {
	if strings.TrimSpace(addr.Line1) == "" {
		return errors.New("address line is required")
	}
	if strings.TrimSpace(addr.City) == "" {
		return errors.New("address city is required")
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return errors.New("address postal code is required")
	}
	return nil
}

func (s *orderService) emitEvent(ctx context.Context, eventType string, order domain.Order) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Totals.Total,
		OccurredAt:  s.clock(),
	}
	_ = s.events.PublishOrderEvent(ctx, event)
}

// mapCreateError translates the repository's stock error taxonomy into the
// service sentinels the handlers switch on.
func (s *orderService) mapCreateError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrOrderInsufficientStock, stockErr.Message)
		case repositories.StockErrorProductNotFound, repositories.StockErrorProductInactive:
			return fmt.Errorf("%w: %s", ErrOrderProductUnavailable, stockErr.Message)
		}
	}
	return s.mapOrderError(err)
}

func (s *orderService) mapOrderError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: conflicting write", ErrOrderInvalidInput)
		}
	}
	return err
}
