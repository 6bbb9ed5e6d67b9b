package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"storefront-orders/internal/models"

	"github.com/shopspring/decimal"
)

// amountTolerance absorbs float rounding in client supplied totals
var amountTolerance = decimal.NewFromFloat(0.01)

// CreateOrderRequest is the checkout payload
type CreateOrderRequest struct {
	UserID          string                  `json:"userId"`
	Items           []OrderItemRequest      `json:"items"`
	ShippingAddress *models.ShippingAddress `json:"shippingAddress"`
	ShippingMethod  string                  `json:"shippingMethod"`
	PaymentMethod   string                  `json:"paymentMethod"`
	Subtotal        float64                 `json:"subtotal"`
	ShippingPrice   float64                 `json:"shippingPrice"`
	Discount        float64                 `json:"discount"`
	TotalAmount     float64                 `json:"totalAmount"`
}

// OrderItemRequest is one cart line at checkout
type OrderItemRequest struct {
	ItemID       string  `json:"itemId"`
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Quantity     int     `json:"quantity"`
	PricePerUnit float64 `json:"pricePerUnit"`
}

// ValidateForCreation checks a checkout payload and builds the order snapshot
// it describes. The order has no ID or code yet.
func ValidateForCreation(req *CreateOrderRequest, currency string) (*models.Order, error) {
	verr := &models.ValidationError{}

	if strings.TrimSpace(req.UserID) == "" {
		verr.Add("userId", "is required")
	}
	if len(req.Items) == 0 {
		verr.Add("items", "must contain at least one item")
	}

	computed := decimal.Zero
	items := make([]models.LineItem, 0, len(req.Items))
	perItem := make(map[string]int, len(req.Items))
	for i, it := range req.Items {
		field := fmt.Sprintf("items[%d]", i)
		itemID := strings.TrimSpace(it.ItemID)
		if itemID == "" {
			verr.Add(field+".itemId", "is required")
		}
		if it.Quantity <= 0 || it.Quantity > models.MaxLineQuantity {
			verr.Add(field+".quantity", fmt.Sprintf("must be between 1 and %d", models.MaxLineQuantity))
		} else if itemID != "" {
			perItem[itemID] += it.Quantity
			if perItem[itemID] > models.MaxLineQuantity {
				verr.Add(field+".quantity", fmt.Sprintf("item %s exceeds %d units in total", itemID, models.MaxLineQuantity))
			}
		}
		if it.PricePerUnit < 0 {
			verr.Add(field+".pricePerUnit", "must not be negative")
		}

		sku := strings.TrimSpace(it.SKU)
		if sku == "" && itemID != "" {
			sku = "SKU-" + strings.ToUpper(itemID)
		}
		items = append(items, models.LineItem{
			ItemID:       itemID,
			SKU:          sku,
			Name:         strings.TrimSpace(it.Name),
			Quantity:     it.Quantity,
			PricePerUnit: it.PricePerUnit,
		})
		computed = computed.Add(decimal.NewFromFloat(it.PricePerUnit).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	for field, v := range map[string]float64{
		"subtotal":      req.Subtotal,
		"shippingPrice": req.ShippingPrice,
		"discount":      req.Discount,
		"totalAmount":   req.TotalAmount,
	} {
		if v < 0 {
			verr.Add(field, "must not be negative")
		}
	}

	subtotal := decimal.NewFromFloat(req.Subtotal)
	if len(req.Items) > 0 && subtotal.Sub(computed).Abs().GreaterThan(amountTolerance) {
		verr.Add("subtotal", fmt.Sprintf("does not match items (expected %s)", computed.StringFixed(2)))
	}
	expectedTotal := subtotal.Add(decimal.NewFromFloat(req.ShippingPrice)).Sub(decimal.NewFromFloat(req.Discount))
	if decimal.NewFromFloat(req.TotalAmount).Sub(expectedTotal).Abs().GreaterThan(amountTolerance) {
		verr.Add("totalAmount", fmt.Sprintf("must equal subtotal + shippingPrice - discount (expected %s)", expectedTotal.StringFixed(2)))
	}

	if req.ShippingAddress == nil {
		verr.Add("shippingAddress", "is required")
	} else {
		addr := req.ShippingAddress
		for field, v := range map[string]string{
			"recipient": addr.Recipient,
			"street":    addr.Street,
			"city":      addr.City,
			"country":   addr.Country,
		} {
			if strings.TrimSpace(v) == "" {
				verr.Add("shippingAddress."+field, "is required")
			}
		}
	}

	paymentMethod := strings.TrimSpace(req.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = models.PaymentMethodCOD
	}
	if !models.KnownPaymentMethod(paymentMethod) {
		verr.Add("paymentMethod", fmt.Sprintf("unsupported payment method %q", paymentMethod))
	}

	if verr.HasErrors() {
		return nil, verr
	}

	shippingMethod := strings.TrimSpace(req.ShippingMethod)
	if shippingMethod == "" {
		shippingMethod = "standard"
	}
	if currency == "" {
		currency = models.DefaultCurrency
	}

	return &models.Order{
		UserID:          strings.TrimSpace(req.UserID),
		Status:          models.InitialStatus(paymentMethod),
		Items:           items,
		Subtotal:        req.Subtotal,
		ShippingPrice:   req.ShippingPrice,
		Discount:        req.Discount,
		TotalAmount:     req.TotalAmount,
		Currency:        currency,
		ShippingAddress: *req.ShippingAddress,
		ShippingMethod:  shippingMethod,
		PaymentMethod:   paymentMethod,
	}, nil
}

// GenerateOrderCode returns ORD-<YYYYMMDD>-<6 uppercase hex> for the UTC date of now
func GenerateOrderCode(now time.Time) (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate order code: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(buf))), nil
}
