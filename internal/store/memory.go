package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront-orders/internal/models"

	"github.com/google/uuid"
)

// MemoryOrderRepository keeps orders in process memory
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
	codes  map[string]string
	now    func() time.Time
}

// NewMemoryOrderRepository creates a new in-memory order repository
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[string]*models.Order),
		codes:  make(map[string]string),
		now:    time.Now,
	}
}

func parseMemoryID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &models.InvalidIdentifierError{Resource: "order", ID: id}
	}
	return nil
}

// Create stores a new order
func (r *MemoryOrderRepository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.codes[order.OrderCode]; taken {
		return nil, &models.DuplicateOrderCodeError{Code: order.OrderCode}
	}

	stored := order.Clone()
	stored.ID = uuid.NewString()
	now := r.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.orders[stored.ID] = stored
	r.codes[stored.OrderCode] = stored.ID
	return stored.Clone(), nil
}

// FindByID retrieves an order by ID
func (r *MemoryOrderRepository) FindByID(ctx context.Context, id string) (*models.Order, error) {
	if err := parseMemoryID(id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "order", ID: id}
	}
	return o.Clone(), nil
}

// FindByOrderCode retrieves an order by its public code
func (r *MemoryOrderRepository) FindByOrderCode(ctx context.Context, code string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.codes[code]
	if !ok {
		return nil, &models.NotFoundError{Resource: "order", ID: code}
	}
	return r.orders[id].Clone(), nil
}

// FindByUser retrieves a user's orders, newest first
func (r *MemoryOrderRepository) FindByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return r.filter(func(o *models.Order) bool { return o.UserID == userID }, true), nil
}

// List retrieves all orders, newest first
func (r *MemoryOrderRepository) List(ctx context.Context) ([]models.Order, error) {
	return r.filter(func(*models.Order) bool { return true }, true), nil
}

// ListByStatusBefore retrieves orders in a status created before a cutoff
func (r *MemoryOrderRepository) ListByStatusBefore(ctx context.Context, status models.Status, before time.Time) ([]models.Order, error) {
	return r.filter(func(o *models.Order) bool {
		return o.Status == status && o.CreatedAt.Before(before)
	}, false), nil
}

func (r *MemoryOrderRepository) filter(keep func(*models.Order) bool, newestFirst bool) []models.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Order, 0)
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, *o.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateStatus applies a permitted status change atomically
func (r *MemoryOrderRepository) UpdateStatus(ctx context.Context, id string, to models.Status, update *StatusUpdate) (*models.Order, models.Status, error) {
	if err := parseMemoryID(id); err != nil {
		return nil, "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, "", &models.NotFoundError{Resource: "order", ID: id}
	}
	from := o.Status
	if !models.CanTransition(from, to) {
		return nil, from, &models.InvalidTransitionError{From: from, To: to}
	}

	o.Status = to
	o.UpdatedAt = r.now().UTC()
	if update != nil && update.PaymentResult != nil {
		pr := *update.PaymentResult
		o.PaymentResult = &pr
	}
	return o.Clone(), from, nil
}

// Delete removes an order
func (r *MemoryOrderRepository) Delete(ctx context.Context, id string) error {
	if err := parseMemoryID(id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return &models.NotFoundError{Resource: "order", ID: id}
	}
	delete(r.codes, o.OrderCode)
	delete(r.orders, id)
	return nil
}

// Stats summarises all stored orders
func (r *MemoryOrderRepository) Stats(ctx context.Context) (models.Stats, error) {
	orders, _ := r.List(ctx)
	return models.SummarizeOrders(orders), nil
}

// MemoryStockLedger keeps stock records in process memory
type MemoryStockLedger struct {
	mu    sync.Mutex
	items map[string]*models.StockRecord
}

// NewMemoryStockLedger creates a new in-memory stock ledger
func NewMemoryStockLedger() *MemoryStockLedger {
	return &MemoryStockLedger{items: make(map[string]*models.StockRecord)}
}

// Reserve checks every line before decrementing any of them
func (l *MemoryStockLedger) Reserve(ctx context.Context, lines []models.StockLine) error {
	lines, err := models.MergeStockLines(lines)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, line := range lines {
		rec, ok := l.items[line.ItemID]
		if !ok {
			return &models.InsufficientStockError{ItemID: line.ItemID, Name: line.Name, Requested: line.Quantity, Unknown: true}
		}
		if rec.Quantity < line.Quantity {
			return &models.InsufficientStockError{
				ItemID:    line.ItemID,
				Name:      nameOr(line.Name, rec.Name),
				Requested: line.Quantity,
				Available: rec.Quantity,
			}
		}
	}

	now := time.Now().UTC()
	for _, line := range lines {
		rec := l.items[line.ItemID]
		rec.Quantity -= line.Quantity
		rec.UpdatedAt = now
	}
	return nil
}

// Release returns quantities to stock, skipping unknown items
func (l *MemoryStockLedger) Release(ctx context.Context, lines []models.StockLine) ([]string, error) {
	lines, err := models.MergeStockLines(lines)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var skipped []string
	now := time.Now().UTC()
	for _, line := range lines {
		rec, ok := l.items[line.ItemID]
		if !ok {
			skipped = append(skipped, line.ItemID)
			continue
		}
		rec.Quantity += line.Quantity
		rec.UpdatedAt = now
	}
	return skipped, nil
}

// Get retrieves the stock record of an item
func (l *MemoryStockLedger) Get(ctx context.Context, itemID string) (*models.StockRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.items[itemID]
	if !ok {
		return nil, &models.NotFoundError{Resource: "stock item", ID: itemID}
	}
	cp := *rec
	return &cp, nil
}

// Set creates or overwrites an item's stock record
func (l *MemoryStockLedger) Set(ctx context.Context, record models.StockRecord) error {
	if record.Quantity < 0 {
		return models.NewValidationError("quantity", "must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	record.UpdatedAt = time.Now().UTC()
	l.items[record.ItemID] = &record
	return nil
}

func nameOr(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}
