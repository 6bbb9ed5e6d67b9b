package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"storefront-orders/internal/models"
	"storefront-orders/internal/store"
	"storefront-orders/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InventoryService fronts the stock ledger with tracing, metrics and logging
type InventoryService struct {
	ledger store.StockLedger
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(ledger store.StockLedger) *InventoryService {
	return &InventoryService{
		ledger: ledger,
		logger: util.ComponentLogger("inventory"),
	}
}

// Reserve reserves stock for every line or fails without touching any
func (s *InventoryService) Reserve(ctx context.Context, lines []models.StockLine) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reserve", attribute.Int("lines", len(lines)))
	defer span.End()

	start := time.Now()
	err := s.ledger.Reserve(ctx, lines)
	util.StockReserveLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.FailSpan(span, err)
		var insufficient *models.InsufficientStockError
		if errors.As(err, &insufficient) {
			util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			s.logger.Info("Stock reservation rejected",
				zap.String("item_id", insufficient.ItemID),
				zap.Int("requested", insufficient.Requested),
				zap.Int("available", insufficient.Available))
			return err
		}
		util.StockReservationsFailed.WithLabelValues("error").Inc()
		s.logger.Error("Stock reservation failed", zap.Error(err))
		return err
	}
	return nil
}

// Release returns stock for every line. Items that no longer exist are
// logged and skipped.
func (s *InventoryService) Release(ctx context.Context, orderRef string, lines []models.StockLine) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.Release", attribute.Int("lines", len(lines)))
	defer span.End()

	skipped, err := s.ledger.Release(ctx, lines)
	if len(skipped) > 0 {
		util.StockReleaseSkippedTotal.Add(float64(len(skipped)))
		s.logger.Warn("Skipped stock release for items missing from the catalog",
			zap.String("order_code", orderRef),
			zap.String("item_id", strings.Join(skipped, ",")))
	}
	if err != nil {
		util.FailSpan(span, err)
		s.logger.Error("Stock release failed",
			zap.String("order_code", orderRef),
			zap.Error(err))
		return err
	}
	return nil
}

// GetStock returns the stock record of an item
func (s *InventoryService) GetStock(ctx context.Context, itemID string) (*models.StockRecord, error) {
	return s.ledger.Get(ctx, itemID)
}

// SetStock overwrites the stock record of an item
func (s *InventoryService) SetStock(ctx context.Context, record models.StockRecord) error {
	if strings.TrimSpace(record.ItemID) == "" {
		return models.NewValidationError("itemId", "is required")
	}
	if err := s.ledger.Set(ctx, record); err != nil {
		return err
	}
	s.logger.Info("Stock updated",
		zap.String("item_id", record.ItemID),
		zap.Int("quantity", record.Quantity))
	return nil
}
