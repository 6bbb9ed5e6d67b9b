package broker

import (
	"context"
	"time"

	"storefront-orders/internal/models"

	"github.com/google/uuid"
)

// EventPublisher turns order lifecycle changes into domain events
type EventPublisher struct {
	producer *Producer
	now      func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer, now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: ep.now().UTC(),
	}
}

func orderKey(o *models.Order) string {
	return "order-" + o.OrderCode
}

// PublishOrderCreated publishes ORDER_CREATED
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, models.OrderItemData{ItemID: it.ItemID, Quantity: it.Quantity, PricePerUnit: it.PricePerUnit})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   ep.base(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		OrderCode:   order.OrderCode,
		UserID:      order.UserID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
		Items:       items,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order), event)
}

// PublishStatusChanged publishes the event matching the order's new status
func (ep *EventPublisher) PublishStatusChanged(ctx context.Context, order *models.Order, from models.Status, reason string) error {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: ep.base(models.EventTypeForStatus(order.Status)),
		OrderID:   order.ID,
		OrderCode: order.OrderCode,
		UserID:    order.UserID,
		From:      from,
		To:        order.Status,
		Reason:    reason,
	}
	if order.PaymentResult != nil {
		event.TransID = order.PaymentResult.TransID
	}
	return ep.producer.PublishEvent(ctx, orderKey(order), event)
}

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

// PublishOrderCreated does nothing
func (NopPublisher) PublishOrderCreated(context.Context, *models.Order) error { return nil }

// PublishStatusChanged does nothing
func (NopPublisher) PublishStatusChanged(context.Context, *models.Order, models.Status, string) error {
	return nil
}
