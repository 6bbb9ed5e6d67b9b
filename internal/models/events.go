package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is persisted at checkout
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	OrderCode   string          `json:"order_code"`
	UserID      string          `json:"user_id"`
	Status      Status          `json:"status"`
	TotalAmount float64         `json:"total_amount"`
	Currency    string          `json:"currency"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every persisted status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	OrderCode string `json:"order_code"`
	UserID    string `json:"user_id"`
	From      Status `json:"from"`
	To        Status `json:"to"`
	Reason    string `json:"reason,omitempty"`
	TransID   string `json:"trans_id,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ItemID       string  `json:"item_id"`
	Quantity     int     `json:"quantity"`
	PricePerUnit float64 `json:"price_per_unit"`
}

// EventTypeForStatus picks the event type announcing a move into status
func EventTypeForStatus(to Status) string {
	switch to {
	case StatusPaid:
		return EventTypeOrderPaid
	case StatusCancelled:
		return EventTypeOrderCancelled
	case StatusFailed:
		return EventTypePaymentFailed
	}
	return EventTypeOrderStatusChanged
}
