package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront-orders/internal/auth"
	"storefront-orders/internal/models"
	"storefront-orders/internal/momo"
	"storefront-orders/internal/store"

	"github.com/stretchr/testify/require"
)

var (
	customer = auth.Principal{UserID: "user-1", Role: auth.RoleCustomer}
	admin    = auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}
)

type fakeGateway struct {
	mu       sync.Mutex
	verifier *momo.Client
	link     *momo.PaymentLink
	linkErr  error
	statuses map[string]*momo.ProviderStatus
	queryErr error
	queries  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		verifier: momo.NewClient(momo.Config{PartnerCode: "MOMOTEST", AccessKey: "AK", SecretKey: "secret"}, nil),
		link:     &momo.PaymentLink{PayURL: "https://pay.example/abc"},
		statuses: make(map[string]*momo.ProviderStatus),
	}
}

func (g *fakeGateway) CreatePaymentLink(ctx context.Context, order *models.Order) (*momo.PaymentLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.linkErr != nil {
		return nil, g.linkErr
	}
	return g.link, nil
}

func (g *fakeGateway) VerifyCallback(cb *momo.Callback) (*momo.VerifiedResult, error) {
	return g.verifier.VerifyCallback(cb)
}

func (g *fakeGateway) QueryStatus(ctx context.Context, orderCode string) (*momo.ProviderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries++
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	if st, ok := g.statuses[orderCode]; ok {
		return st, nil
	}
	outcome, _ := momo.MapResultCode(1000)
	return &momo.ProviderStatus{OrderCode: orderCode, ResultCode: 1000, Outcome: outcome}, nil
}

type recordedEvent struct {
	OrderCode string
	From, To  models.Status
}

type recordingEvents struct {
	mu      sync.Mutex
	created []string
	changes []recordedEvent
}

func (r *recordingEvents) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, order.OrderCode)
	return nil
}

func (r *recordingEvents) PublishStatusChanged(ctx context.Context, order *models.Order, from models.Status, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, recordedEvent{OrderCode: order.OrderCode, From: from, To: order.Status})
	return nil
}

func (r *recordingEvents) changeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

type memoryIdempotency struct {
	mu     sync.Mutex
	values map[string]string
	locks  map[string]string
	seq    int
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{values: make(map[string]string), locks: make(map[string]string)}
}

func (m *memoryIdempotency) Lookup(ctx context.Context, scope, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[scope+":"+key], nil
}

func (m *memoryIdempotency) Remember(ctx context.Context, scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[scope+":"+key] = value
	return nil
}

func (m *memoryIdempotency) AcquireLock(ctx context.Context, scope, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[scope+":"+key] != "" {
		return "", false, nil
	}
	m.seq++
	token := fmt.Sprintf("lock-%d", m.seq)
	m.locks[scope+":"+key] = token
	return token, true, nil
}

func (m *memoryIdempotency) ReleaseLock(ctx context.Context, scope, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[scope+":"+key] == token {
		delete(m.locks, scope+":"+key)
	}
	return nil
}

type fixture struct {
	orders   *store.MemoryOrderRepository
	ledger   *store.MemoryStockLedger
	gateway  *fakeGateway
	events   *recordingEvents
	idem     *memoryIdempotency
	svc      *OrderService
	payments *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:  store.NewMemoryOrderRepository(),
		ledger:  store.NewMemoryStockLedger(),
		gateway: newFakeGateway(),
		events:  &recordingEvents{},
		idem:    newMemoryIdempotency(),
	}
	f.svc = NewOrderService(f.orders, NewInventoryService(f.ledger), f.gateway, f.events, f.idem, Config{Currency: "VND"})
	f.payments = NewPaymentService(f.svc, f.gateway, 15*time.Minute)
	return f
}

func (f *fixture) setStock(t *testing.T, itemID string, qty int) {
	t.Helper()
	require.NoError(t, f.ledger.Set(context.Background(), models.StockRecord{ItemID: itemID, Name: "Item " + itemID, Quantity: qty}))
}

func (f *fixture) stock(t *testing.T, itemID string) int {
	t.Helper()
	rec, err := f.ledger.Get(context.Background(), itemID)
	require.NoError(t, err)
	return rec.Quantity
}

func checkoutRequest(paymentMethod string, items ...OrderItemRequest) *CreateOrderRequest {
	subtotal := 0.0
	for _, it := range items {
		subtotal += it.PricePerUnit * float64(it.Quantity)
	}
	return &CreateOrderRequest{
		UserID:          "user-1",
		Items:           items,
		ShippingAddress: &models.ShippingAddress{Recipient: "An", Street: "1 Le Loi", City: "Hanoi", Country: "VN"},
		ShippingMethod:  "express",
		PaymentMethod:   paymentMethod,
		Subtotal:        subtotal,
		ShippingPrice:   30000,
		TotalAmount:     subtotal + 30000,
	}
}

func item(id string, qty int, price float64) OrderItemRequest {
	return OrderItemRequest{ItemID: id, Name: "Item " + id, Quantity: qty, PricePerUnit: price}
}

func signedCallback(order *models.Order, resultCode string) *momo.Callback {
	cb := &momo.Callback{
		PartnerCode:  "MOMOTEST",
		OrderID:      order.OrderCode,
		RequestID:    "MOMOTEST-1",
		Amount:       json.Number(jsonAmount(order.TotalAmount)),
		OrderInfo:    "Payment for order " + order.OrderCode,
		OrderType:    "momo_wallet",
		TransID:      json.Number("4088878653"),
		ResultCode:   json.Number(resultCode),
		Message:      "message",
		PayType:      "qr",
		ResponseTime: json.Number("1704067200000"),
	}
	cb.Signature = momo.SignFields("secret", cb.SignedFields("AK"))
	return cb
}

func jsonAmount(total float64) string {
	raw, _ := json.Marshal(momo.Amount(total))
	return string(raw)
}
