package models

import (
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle state of an order
type Status string

// Order statuses
const (
	StatusPending        Status = "pending"
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
)

// Payment methods
const (
	PaymentMethodCOD  = "cod"
	PaymentMethodCard = "card_on_delivery"
	PaymentMethodMomo = "momo"
)

// DefaultCurrency is used when no currency is configured
const DefaultCurrency = "VND"

// transitions lists every permitted status move. Anything absent is rejected,
// including a move to the same status.
var transitions = map[Status][]Status{
	StatusPending:        {StatusShipped, StatusCancelled},
	StatusPendingPayment: {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:           {StatusShipped},
	StatusShipped:        {StatusDelivered},
}

// CanTransition reports whether an order may move from one status to another
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a raw string into a known Status
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	switch s {
	case StatusPending, StatusPendingPayment, StatusPaid, StatusShipped,
		StatusDelivered, StatusCancelled, StatusFailed:
		return s, true
	}
	return "", false
}

// IsTerminal reports whether no transition out of the status exists
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Cancellable reports whether a user or admin may cancel an order in this status
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

// RequiresExternalSettlement reports whether the payment method is settled by
// the external payment provider
func RequiresExternalSettlement(method string) bool {
	return method == PaymentMethodMomo
}

// KnownPaymentMethod reports whether the payment method is accepted at checkout
func KnownPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodMomo:
		return true
	}
	return false
}

// InitialStatus returns the status a new order starts in for a payment method
func InitialStatus(paymentMethod string) Status {
	if RequiresExternalSettlement(paymentMethod) {
		return StatusPendingPayment
	}
	return StatusPending
}

// LineItem is a snapshot of a purchased catalog item taken at checkout
type LineItem struct {
	ItemID       string  `json:"itemId"`
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Quantity     int     `json:"quantity"`
	PricePerUnit float64 `json:"pricePerUnit"`
}

// ShippingAddress is where an order is delivered
type ShippingAddress struct {
	Recipient string `json:"recipient"`
	Street    string `json:"street"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

// PaymentResult holds what the payment provider reported for an order
type PaymentResult struct {
	TransID         string         `json:"transId,omitempty"`
	ProviderMessage string         `json:"providerMessage,omitempty"`
	ResultCode      int            `json:"resultCode"`
	Raw             map[string]any `json:"raw,omitempty"`
}

// Order is the aggregate root of a checkout
type Order struct {
	ID              string          `json:"id"`
	OrderCode       string          `json:"orderCode"`
	UserID          string          `json:"userId"`
	Status          Status          `json:"status"`
	Items           []LineItem      `json:"items"`
	Subtotal        float64         `json:"subtotal"`
	ShippingPrice   float64         `json:"shippingPrice"`
	Discount        float64         `json:"discount"`
	TotalAmount     float64         `json:"totalAmount"`
	Currency        string          `json:"currency"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	ShippingMethod  string          `json:"shippingMethod"`
	PaymentMethod   string          `json:"paymentMethod"`
	PaymentResult   *PaymentResult  `json:"paymentResult,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// StockLines returns the stock movements needed to reserve or release the order
func (o *Order) StockLines() ([]StockLine, error) {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{ItemID: item.ItemID, Quantity: item.Quantity, Name: item.Name})
	}
	return MergeStockLines(lines)
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	if o.PaymentResult != nil {
		pr := *o.PaymentResult
		if o.PaymentResult.Raw != nil {
			pr.Raw = make(map[string]any, len(o.PaymentResult.Raw))
			for k, v := range o.PaymentResult.Raw {
				pr.Raw[k] = v
			}
		}
		c.PaymentResult = &pr
	}
	return &c
}

// StockRecord is the purchasable quantity of a catalog item
type StockRecord struct {
	ItemID    string    `json:"itemId"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StockLine is a single reserve or release movement
type StockLine struct {
	ItemID   string
	Quantity int
	Name     string
}

// MaxLineQuantity bounds the quantity of one item in a single stock movement
const MaxLineQuantity = 10000

// MergeStockLines folds repeated items into one line per item, keeping the
// order of first appearance. Every input line must be positive and no merged
// line may exceed MaxLineQuantity.
func MergeStockLines(lines []StockLine) ([]StockLine, error) {
	index := make(map[string]int, len(lines))
	merged := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 || line.Quantity > MaxLineQuantity {
			return nil, quantityError(line.ItemID)
		}
		if i, ok := index[line.ItemID]; ok {
			if merged[i].Quantity > MaxLineQuantity-line.Quantity {
				return nil, quantityError(line.ItemID)
			}
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ItemID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

func quantityError(itemID string) error {
	return NewValidationError("quantity",
		fmt.Sprintf("item %s must total between 1 and %d units", itemID, MaxLineQuantity))
}

// StatusCount is the number of orders in a status
type StatusCount struct {
	Status Status `json:"status"`
	Count  int    `json:"count"`
}

// Stats summarises orders for the admin dashboard
type Stats struct {
	TotalOrders  int           `json:"totalOrders"`
	TotalRevenue float64       `json:"totalRevenue"`
	ByStatus     []StatusCount `json:"byStatus"`
}

// RevenueStatuses are the statuses whose totals count as revenue
var RevenueStatuses = []Status{StatusPaid, StatusShipped, StatusDelivered}

// SummarizeOrders builds admin stats from a set of orders
func SummarizeOrders(orders []Order) Stats {
	counts := make(map[Status]int)
	stats := Stats{TotalOrders: len(orders), ByStatus: []StatusCount{}}
	for _, o := range orders {
		counts[o.Status]++
		for _, s := range RevenueStatuses {
			if o.Status == s {
				stats.TotalRevenue += o.TotalAmount
				break
			}
		}
	}
	for s, n := range counts {
		stats.ByStatus = append(stats.ByStatus, StatusCount{Status: s, Count: n})
	}
	sort.Slice(stats.ByStatus, func(i, j int) bool {
		return stats.ByStatus[i].Status < stats.ByStatus[j].Status
	})
	return stats
}
