package service

import (
	"context"
	"errors"
	"time"

	"storefront-orders/internal/auth"
	"storefront-orders/internal/models"
	"storefront-orders/internal/momo"
	"storefront-orders/internal/store"
	"storefront-orders/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ExpiryFactor is how many payment timeouts an unsettled order may age before
// reconciliation gives up on it
const ExpiryFactor = 4

// PaymentService applies payment provider results to orders
type PaymentService struct {
	orders         *OrderService
	gateway        PaymentGateway
	paymentTimeout time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(orders *OrderService, gateway PaymentGateway, paymentTimeout time.Duration) *PaymentService {
	return &PaymentService{
		orders:         orders,
		gateway:        gateway,
		paymentTimeout: paymentTimeout,
		now:            time.Now,
		logger:         util.ComponentLogger("payments"),
	}
}

// HandleCallback verifies a provider callback and applies its outcome
func (ps *PaymentService) HandleCallback(ctx context.Context, cb *momo.Callback) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleCallback", attribute.String("order_code", cb.OrderID))
	defer span.End()

	verified, err := ps.gateway.VerifyCallback(cb)
	if err != nil {
		util.FailSpan(span, err)
		var mismatch *models.SignatureMismatchError
		if errors.As(err, &mismatch) {
			util.PaymentCallbacksTotal.WithLabelValues("signature_mismatch").Inc()
			ps.logger.Warn("Rejected payment callback with invalid signature",
				zap.String("order_code", cb.OrderID),
				zap.String("reason", mismatch.Reason))
		}
		return nil, err
	}

	order, err := ps.orders.orders.FindByOrderCode(ctx, verified.OrderCode)
	if err != nil {
		util.FailSpan(span, err)
		util.PaymentCallbacksTotal.WithLabelValues("unknown_order").Inc()
		return nil, err
	}

	if verified.Amount != momo.Amount(order.TotalAmount) {
		util.PaymentCallbacksTotal.WithLabelValues("amount_mismatch").Inc()
		ps.logger.Error("Payment callback amount does not match order total",
			zap.String("order_code", order.OrderCode),
			zap.Int64("amount", verified.Amount),
			zap.Float64("total_amount", order.TotalAmount))
		return nil, models.NewValidationError("amount", "does not match the order total")
	}

	util.PaymentCallbacksTotal.WithLabelValues(string(verified.Outcome)).Inc()
	return ps.apply(ctx, order, verified.Outcome, verified.PaymentResult(), "payment callback")
}

// SyncStatus polls the provider for an order code and applies the result
func (ps *PaymentService) SyncStatus(ctx context.Context, principal auth.Principal, orderCode string) (*models.Order, *momo.ProviderStatus, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.SyncStatus", attribute.String("order_code", orderCode))
	defer span.End()

	order, err := ps.orders.orders.FindByOrderCode(ctx, orderCode)
	if err != nil {
		util.FailSpan(span, err)
		return nil, nil, err
	}
	if !principal.CanAccess(order.UserID) {
		return nil, nil, models.ErrForbidden
	}

	status, err := ps.gateway.QueryStatus(ctx, orderCode)
	if err != nil {
		util.FailSpan(span, err)
		return nil, nil, err
	}

	updated, err := ps.apply(ctx, order, status.Outcome, statusPaymentResult(status), "status query")
	if err != nil {
		util.FailSpan(span, err)
		return nil, nil, err
	}
	return updated, status, nil
}

func statusPaymentResult(status *momo.ProviderStatus) *models.PaymentResult {
	return &models.PaymentResult{
		TransID:         status.TransID,
		ProviderMessage: status.Message,
		ResultCode:      status.ResultCode,
		Raw:             status.Raw,
	}
}

// apply moves the order according to a provider outcome. Repeated outcomes
// are acknowledged without a write.
func (ps *PaymentService) apply(ctx context.Context, order *models.Order, outcome momo.Outcome, result *models.PaymentResult, reason string) (*models.Order, error) {
	var target models.Status
	switch outcome {
	case momo.OutcomePaid:
		target = models.StatusPaid
	case momo.OutcomeFailed:
		target = models.StatusFailed
	default:
		ps.logger.Info("Payment still pending",
			zap.String("order_code", order.OrderCode),
			zap.Int("result_code", result.ResultCode))
		return order, nil
	}

	if order.Status == target {
		ps.logger.Info("Duplicate payment result acknowledged",
			zap.String("order_code", order.OrderCode),
			zap.String("status", string(target)))
		return order, nil
	}

	updated, err := ps.orders.transition(ctx, order.ID, target, &store.StatusUpdate{PaymentResult: result}, reason)
	if err == nil {
		return updated, nil
	}

	var invalid *models.InvalidTransitionError
	if !errors.As(err, &invalid) {
		return nil, err
	}
	if invalid.From == target {
		return ps.orders.orders.FindByID(ctx, order.ID)
	}
	if target == models.StatusPaid {
		ps.logger.Error("Payment settled for an order that is no longer awaiting payment",
			zap.String("order_code", order.OrderCode),
			zap.String("status", string(invalid.From)),
			zap.String("trans_id", result.TransID))
	} else {
		ps.logger.Info("Ignoring payment failure for an order that is no longer awaiting payment",
			zap.String("order_code", order.OrderCode),
			zap.String("status", string(invalid.From)))
	}
	return ps.orders.orders.FindByID(ctx, order.ID)
}

// ReconcileReport counts what a reconciliation pass did
type ReconcileReport struct {
	Checked int
	Paid    int
	Failed  int
	Pending int
	Errors  int
}

// ReconcileStale queries the provider for pending_payment orders older than
// the payment timeout. Orders the provider reports failed, and orders still
// unresolved after ExpiryFactor timeouts, are failed and their stock released.
func (ps *PaymentService) ReconcileStale(ctx context.Context) (ReconcileReport, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ReconcileStale")
	defer span.End()

	now := ps.now()
	stale, err := ps.orders.orders.ListByStatusBefore(ctx, models.StatusPendingPayment, now.Add(-ps.paymentTimeout))
	if err != nil {
		util.FailSpan(span, err)
		return ReconcileReport{}, err
	}

	var report ReconcileReport
	for i := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		order := &stale[i]
		report.Checked++

		expired := now.Sub(order.CreatedAt) > ExpiryFactor*ps.paymentTimeout
		outcome := momo.OutcomePending
		result := &models.PaymentResult{}

		status, err := ps.gateway.QueryStatus(ctx, order.OrderCode)
		if err != nil {
			ps.logger.Warn("Status query failed during reconciliation",
				zap.String("order_code", order.OrderCode),
				zap.Error(err))
			if !expired {
				report.Errors++
				util.ReconciledOrdersTotal.WithLabelValues("error").Inc()
				continue
			}
		} else {
			outcome = status.Outcome
			result = statusPaymentResult(status)
		}

		reason := "reconciliation"
		if outcome == momo.OutcomePending && expired {
			outcome = momo.OutcomeFailed
			reason = "payment window expired"
			if result.ProviderMessage == "" {
				result.ProviderMessage = reason
			}
		}

		updated, err := ps.apply(ctx, order, outcome, result, reason)
		if err != nil {
			report.Errors++
			util.ReconciledOrdersTotal.WithLabelValues("error").Inc()
			ps.logger.Error("Failed to apply reconciliation result",
				zap.String("order_code", order.OrderCode),
				zap.Error(err))
			continue
		}

		switch updated.Status {
		case models.StatusPaid:
			report.Paid++
		case models.StatusFailed:
			report.Failed++
		default:
			report.Pending++
		}
		util.ReconciledOrdersTotal.WithLabelValues(string(updated.Status)).Inc()
	}

	ps.logger.Info("Reconciliation pass finished",
		zap.Int("checked", report.Checked),
		zap.Int("paid", report.Paid),
		zap.Int("failed", report.Failed),
		zap.Int("pending", report.Pending),
		zap.Int("errors", report.Errors))
	return report, nil
}

// Reconcile runs one reconciliation pass; used by the background worker
func (ps *PaymentService) Reconcile(ctx context.Context) error {
	_, err := ps.ReconcileStale(ctx)
	return err
}
