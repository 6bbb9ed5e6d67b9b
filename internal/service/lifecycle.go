package service

import (
	"context"

	"storefront-orders/internal/models"
	"storefront-orders/internal/store"
	"storefront-orders/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// holdsStock reports whether an order in this status still has its stock reserved
func holdsStock(s models.Status) bool {
	return s != models.StatusCancelled && s != models.StatusFailed
}

// transition persists a status change through the repository, which checks it
// against the stored status. Moving out of a stock holding status into
// cancelled or failed releases the order's stock after the write succeeds, so
// concurrent attempts release at most once.
func (s *OrderService) transition(ctx context.Context, orderID string, to models.Status, update *store.StatusUpdate, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.transition",
		attribute.String("order_id", orderID),
		attribute.String("to", string(to)))
	defer span.End()

	updated, from, err := s.orders.UpdateStatus(ctx, orderID, to, update)
	if err != nil {
		util.FailSpan(span, err)
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("Order status changed",
		zap.String("order_id", updated.ID),
		zap.String("order_code", updated.OrderCode),
		zap.String("from", string(from)),
		zap.String("status", string(to)),
		zap.String("reason", reason))

	if holdsStock(from) && !holdsStock(to) {
		lines, err := updated.StockLines()
		if err == nil {
			err = s.inventory.Release(ctx, updated.OrderCode, lines)
		}
		if err != nil {
			s.logger.Error("Order left its stock reserved after status change",
				zap.String("order_code", updated.OrderCode),
				zap.String("status", string(to)),
				zap.Error(err))
		}
	}

	if err := s.events.PublishStatusChanged(ctx, updated, from, reason); err != nil {
		s.logger.Error("Failed to publish status change event",
			zap.String("order_code", updated.OrderCode),
			zap.Error(err))
	}
	return updated, nil
}
