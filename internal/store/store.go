package store

import (
	"context"
	"time"

	"storefront-orders/internal/models"
)

// MaxStatusUpdateAttempts bounds the read-check-write loop used by conditional
// status updates when a concurrent writer changed the order in between.
const MaxStatusUpdateAttempts = 3

// StatusUpdate carries optional fields written together with a status change
type StatusUpdate struct {
	PaymentResult *models.PaymentResult
}

// OrderRepository persists orders. Implementations must enforce order code
// uniqueness and apply status changes only when the transition is permitted
// from the status currently stored.
type OrderRepository interface {
	// Create stores a new order, assigning ID and timestamps. A taken order
	// code yields *models.DuplicateOrderCodeError.
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id string) (*models.Order, error)
	FindByOrderCode(ctx context.Context, code string) (*models.Order, error)
	// FindByUser returns the user's orders, newest first
	FindByUser(ctx context.Context, userID string) ([]models.Order, error)
	// List returns every order, newest first
	List(ctx context.Context) ([]models.Order, error)
	// ListByStatusBefore returns orders in status created before the cutoff, oldest first
	ListByStatusBefore(ctx context.Context, status models.Status, before time.Time) ([]models.Order, error)
	// UpdateStatus moves the order to a new status and returns the updated
	// order with the status it moved from. A forbidden move yields
	// *models.InvalidTransitionError.
	UpdateStatus(ctx context.Context, id string, to models.Status, update *StatusUpdate) (*models.Order, models.Status, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (models.Stats, error)
}

// StockLedger tracks purchasable quantities per catalog item
type StockLedger interface {
	// Reserve decrements every line or none of them. The first line that cannot
	// be covered is reported as *models.InsufficientStockError.
	Reserve(ctx context.Context, lines []models.StockLine) error
	// Release increments every line. Items that no longer exist are skipped and
	// returned so the caller can log them.
	Release(ctx context.Context, lines []models.StockLine) ([]string, error)
	Get(ctx context.Context, itemID string) (*models.StockRecord, error)
	// Set creates or overwrites the stock record of an item
	Set(ctx context.Context, record models.StockRecord) error
}
