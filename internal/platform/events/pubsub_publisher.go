package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/aurelia-jewels/api/internal/repositories"
	"github.com/aurelia-jewels/api/internal/services"
)

// PubSubPublisher fans storefront events out to Pub/Sub topics. Order
// lifecycle events and low stock alerts go to separate topics so the
// fulfilment worker and the replenishment alerting can subscribe
// independently. Catalog events share the order topic's delivery
// guarantees but carry their own payload shape.
type PubSubPublisher struct {
	orders   *pubsub.Topic
	lowStock *pubsub.Topic
	catalog  *pubsub.Topic
	marshal  func(any) ([]byte, error)
}

// PubSubPublisherConfig names the topics to publish on. Nil topics disable
// the corresponding event stream.
type PubSubPublisherConfig struct {
	Orders   *pubsub.Topic
	LowStock *pubsub.Topic
	Catalog  *pubsub.Topic
}

// NewPubSubPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubPublisher(cfg PubSubPublisherConfig) (*PubSubPublisher, error) {
	if cfg.Orders == nil && cfg.LowStock == nil && cfg.Catalog == nil {
		return nil, errors.New("pubsub publisher: at least one topic is required")
	}
	return &PubSubPublisher{
		orders:   cfg.Orders,
		lowStock: cfg.LowStock,
		catalog:  cfg.Catalog,
		marshal:  json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues an order lifecycle event.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orders == nil {
		return nil
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", string(event.Status))

	return p.publish(ctx, p.orders, data, attrs, "order event")
}

// PublishLowStock raises one alert message covering every product that
// crossed its threshold in a single order.
func (p *PubSubPublisher) PublishLowStock(ctx context.Context, items []repositories.LowStockItem) error {
	if p == nil || p.lowStock == nil || len(items) == 0 {
		return nil
	}

	data, err := p.marshal(items)
	if err != nil {
		return fmt.Errorf("marshal low stock alert: %w", err)
	}

	attrs := map[string]string{"itemCount": fmt.Sprintf("%d", len(items))}
	return p.publish(ctx, p.lowStock, data, attrs, "low stock alert")
}

// PublishCatalogEvent enqueues a catalog change notification.
func (p *PubSubPublisher) PublishCatalogEvent(ctx context.Context, event services.CatalogEvent) error {
	if p == nil || p.catalog == nil {
		return nil
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal catalog event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "productId", event.ProductID)

	return p.publish(ctx, p.catalog, data, attrs, "catalog event")
}

func (p *PubSubPublisher) publish(ctx context.Context, topic *pubsub.Topic, data []byte, attrs map[string]string, kind string) error {
	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
