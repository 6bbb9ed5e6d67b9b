package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/auth"
	"storefront-orders/internal/models"
	"storefront-orders/internal/momo"
	"storefront-orders/internal/store"
	"storefront-orders/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// MaxOrderCodeAttempts bounds order code regeneration on collision
const MaxOrderCodeAttempts = 3

const (
	idempotencyScopeCheckout = "checkout"
	idempotencyLockTTL       = 30 * time.Second
)

// PaymentGateway is the external wallet payment provider
type PaymentGateway interface {
	CreatePaymentLink(ctx context.Context, order *models.Order) (*momo.PaymentLink, error)
	VerifyCallback(cb *momo.Callback) (*momo.VerifiedResult, error)
	QueryStatus(ctx context.Context, orderCode string) (*momo.ProviderStatus, error)
}

// EventPublisher announces order lifecycle changes
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishStatusChanged(ctx context.Context, order *models.Order, from models.Status, reason string) error
}

// IdempotencyStore remembers checkout results by client supplied key
type IdempotencyStore interface {
	Lookup(ctx context.Context, scope, key string) (string, error)
	Remember(ctx context.Context, scope, key, value string) error
	AcquireLock(ctx context.Context, scope, key string, ttl time.Duration) (token string, acquired bool, err error)
	ReleaseLock(ctx context.Context, scope, key, token string) error
}

// Config holds business settings of the order service
type Config struct {
	Currency string
}

// CheckoutResult is what a successful checkout returns
type CheckoutResult struct {
	Order           *models.Order `json:"order"`
	PayURL          string        `json:"payUrl,omitempty"`
	PaymentFallback bool          `json:"paymentFallback,omitempty"`
	Replayed        bool          `json:"-"`
}

// PaymentLinkError reports that the order was persisted but no payment link
// could be obtained. Order holds the order as it stands after the failure.
type PaymentLinkError struct {
	Order *models.Order
	Err   error
}

func (e *PaymentLinkError) Error() string {
	return fmt.Sprintf("order %s created but payment link failed: %v", e.Order.OrderCode, e.Err)
}

func (e *PaymentLinkError) Unwrap() error { return e.Err }

// OrderService handles order business logic
type OrderService struct {
	orders    store.OrderRepository
	inventory *InventoryService
	gateway   PaymentGateway
	events    EventPublisher
	idem      IdempotencyStore
	cfg       Config
	codeGen   func(time.Time) (string, error)
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrderService creates a new order service. idem may be nil, in which
// case Idempotency-Key headers are ignored.
func NewOrderService(
	orders store.OrderRepository,
	inventory *InventoryService,
	gateway PaymentGateway,
	events EventPublisher,
	idem IdempotencyStore,
	cfg Config,
) *OrderService {
	if cfg.Currency == "" {
		cfg.Currency = models.DefaultCurrency
	}
	return &OrderService{
		orders:    orders,
		inventory: inventory,
		gateway:   gateway,
		events:    events,
		idem:      idem,
		cfg:       cfg,
		codeGen:   GenerateOrderCode,
		now:       time.Now,
		logger:    util.ComponentLogger("orders"),
	}
}

// Payment link failure kinds kept with an idempotency record
const (
	linkFailureRejected    = "rejected"
	linkFailureTimeout     = "timeout"
	linkFailureUnavailable = "unavailable"
)

type idempotentRecord struct {
	OrderID         string `json:"orderId"`
	PayURL          string `json:"payUrl,omitempty"`
	PaymentFallback bool   `json:"paymentFallback,omitempty"`
	LinkFailure     string `json:"linkFailure,omitempty"`
	ResultCode      int    `json:"resultCode,omitempty"`
	FailureMessage  string `json:"failureMessage,omitempty"`
}

// cause rebuilds the payment link error the record was stored with
func (r idempotentRecord) cause() error {
	switch r.LinkFailure {
	case linkFailureRejected:
		return &models.ProviderRejectedError{ResultCode: r.ResultCode, Message: r.FailureMessage}
	case linkFailureTimeout:
		return &models.UpstreamTimeoutError{Op: "create", Err: errors.New(r.FailureMessage)}
	default:
		return &models.UpstreamUnavailableError{Op: "create", Err: errors.New(r.FailureMessage)}
	}
}

// CreateOrder validates the checkout, reserves stock, persists the order and,
// for externally settled payment methods, obtains a payment link.
func (s *OrderService) CreateOrder(ctx context.Context, principal auth.Principal, req *CreateOrderRequest, idempotencyKey string) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if req.UserID == "" {
		req.UserID = principal.UserID
	}
	if req.UserID != principal.UserID && !principal.IsAdmin() {
		return nil, models.ErrForbidden
	}

	if idempotencyKey != "" && s.idem != nil {
		scopedKey := req.UserID + ":" + idempotencyKey
		if res, err := s.replay(ctx, scopedKey, false); err != nil || res != nil {
			return res, err
		}

		token, acquired, err := s.idem.AcquireLock(ctx, idempotencyScopeCheckout, scopedKey, idempotencyLockTTL)
		switch {
		case err != nil:
			s.logger.Warn("Idempotency lock unavailable, continuing without it", zap.Error(err))
		case !acquired:
			return nil, models.ErrCheckoutInProgress
		default:
			defer func() {
				if err := s.idem.ReleaseLock(context.WithoutCancel(ctx), idempotencyScopeCheckout, scopedKey, token); err != nil {
					s.logger.Warn("Failed to release idempotency lock", zap.Error(err))
				}
			}()
		}
		// a request holding the lock may have finished just before we took it
		if res, err := s.replay(ctx, scopedKey, true); err != nil || res != nil {
			return res, err
		}

		res, err := s.checkout(ctx, req)
		s.rememberOutcome(ctx, scopedKey, res, err)
		if err != nil {
			util.FailSpan(span, err)
		}
		return res, err
	}

	res, err := s.checkout(ctx, req)
	if err != nil {
		util.FailSpan(span, err)
	}
	return res, err
}

// replay answers a repeated checkout from its idempotency record. An order
// still waiting for a payment link gets a new link attempt, which only runs
// once the caller holds the checkout lock. A rejected link is reported again.
func (s *OrderService) replay(ctx context.Context, scopedKey string, locked bool) (*CheckoutResult, error) {
	raw, err := s.idem.Lookup(ctx, idempotencyScopeCheckout, scopedKey)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed, continuing without it", zap.Error(err))
		return nil, nil
	}
	if raw == "" {
		return nil, nil
	}

	var rec idempotentRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.Warn("Discarding unreadable idempotency record", zap.Error(err))
		return nil, nil
	}
	order, err := s.orders.FindByID(ctx, rec.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load replayed order: %w", err)
	}

	s.logger.Info("Duplicate checkout request detected",
		zap.String("order_code", order.OrderCode),
		zap.String("link_failure", rec.LinkFailure))

	if rec.LinkFailure != "" {
		switch {
		case order.Status == models.StatusPendingPayment:
			if !locked {
				return nil, nil
			}
			res, err := s.requestPaymentLink(ctx, order)
			s.rememberOutcome(ctx, scopedKey, res, err)
			if res != nil {
				res.Replayed = true
			}
			return res, err
		case rec.LinkFailure == linkFailureRejected:
			return nil, &PaymentLinkError{Order: order, Err: rec.cause()}
		}
	}

	return &CheckoutResult{Order: order, PayURL: rec.PayURL, PaymentFallback: rec.PaymentFallback, Replayed: true}, nil
}

// rememberOutcome stores a checkout result, or the payment link failure of a
// persisted order, under the idempotency key
func (s *OrderService) rememberOutcome(ctx context.Context, scopedKey string, res *CheckoutResult, err error) {
	var rec idempotentRecord
	var order *models.Order
	var linkErr *PaymentLinkError
	switch {
	case res != nil:
		order = res.Order
		rec = idempotentRecord{OrderID: order.ID, PayURL: res.PayURL, PaymentFallback: res.PaymentFallback}
	case errors.As(err, &linkErr):
		order = linkErr.Order
		rec = idempotentRecord{OrderID: order.ID, LinkFailure: linkFailureUnavailable, FailureMessage: linkErr.Err.Error()}
		var rejected *models.ProviderRejectedError
		var timeout *models.UpstreamTimeoutError
		if errors.As(linkErr.Err, &rejected) {
			rec.LinkFailure = linkFailureRejected
			rec.ResultCode = rejected.ResultCode
			rec.FailureMessage = rejected.Message
		} else if errors.As(linkErr.Err, &timeout) {
			rec.LinkFailure = linkFailureTimeout
		}
	default:
		return
	}

	raw, _ := json.Marshal(rec)
	if err := s.idem.Remember(ctx, idempotencyScopeCheckout, scopedKey, string(raw)); err != nil {
		s.logger.Warn("Failed to store idempotency record",
			zap.String("order_code", order.OrderCode),
			zap.Error(err))
	}
}

func (s *OrderService) checkout(ctx context.Context, req *CreateOrderRequest) (*CheckoutResult, error) {
	order, err := ValidateForCreation(req, s.cfg.Currency)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	lines, err := order.StockLines()
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}
	if err := s.inventory.Reserve(ctx, lines); err != nil {
		util.OrdersFailedTotal.WithLabelValues("stock").Inc()
		return nil, err
	}

	created, err := s.persist(ctx, order)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("persist").Inc()
		if relErr := s.inventory.Release(context.WithoutCancel(ctx), order.OrderCode, lines); relErr != nil {
			s.logger.Error("Failed to release stock after persistence failure",
				zap.String("order_code", order.OrderCode),
				zap.Error(relErr))
		}
		return nil, err
	}

	util.OrdersCreatedTotal.WithLabelValues(created.PaymentMethod).Inc()
	s.logger.Info("Order created",
		zap.String("order_id", created.ID),
		zap.String("order_code", created.OrderCode),
		zap.String("status", string(created.Status)))

	if err := s.events.PublishOrderCreated(ctx, created); err != nil {
		s.logger.Error("Failed to publish order created event",
			zap.String("order_code", created.OrderCode),
			zap.Error(err))
	}

	if !models.RequiresExternalSettlement(created.PaymentMethod) {
		return &CheckoutResult{Order: created}, nil
	}
	return s.requestPaymentLink(ctx, created)
}

// requestPaymentLink asks the provider for a payment link of a pending_payment
// order, applying the compensation policy when it cannot be obtained
func (s *OrderService) requestPaymentLink(ctx context.Context, order *models.Order) (*CheckoutResult, error) {
	link, err := s.gateway.CreatePaymentLink(ctx, order)
	if err != nil {
		return nil, s.paymentLinkFailed(ctx, order, err)
	}

	outcome := "created"
	if link.Fallback {
		outcome = "fallback"
		s.logger.Warn("Checkout continued with sandbox payment link",
			zap.String("order_code", order.OrderCode))
	}
	util.PaymentLinkAttemptsTotal.WithLabelValues(outcome).Inc()

	return &CheckoutResult{Order: order, PayURL: link.PayURL, PaymentFallback: link.Fallback}, nil
}

// persist stores the order, regenerating its code on collision
func (s *OrderService) persist(ctx context.Context, order *models.Order) (*models.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxOrderCodeAttempts; attempt++ {
		code, err := s.codeGen(s.now())
		if err != nil {
			return nil, err
		}
		order.OrderCode = code

		created, err := s.orders.Create(ctx, order)
		if err == nil {
			return created, nil
		}

		var dup *models.DuplicateOrderCodeError
		if !errors.As(err, &dup) {
			return nil, fmt.Errorf("failed to create order: %w", err)
		}
		util.OrderCodeCollisionsTotal.Inc()
		s.logger.Warn("Order code collision, regenerating",
			zap.String("order_code", code),
			zap.Int("attempt", attempt))
		lastErr = err
	}
	return nil, fmt.Errorf("failed to allocate a unique order code after %d attempts: %w", MaxOrderCodeAttempts, lastErr)
}

// paymentLinkFailed applies the checkout compensation policy. An affirmative
// rejection fails the order and releases its stock; timeouts and outages leave
// it pending_payment for reconciliation.
func (s *OrderService) paymentLinkFailed(ctx context.Context, order *models.Order, cause error) error {
	var rejected *models.ProviderRejectedError
	if !errors.As(cause, &rejected) {
		util.PaymentLinkAttemptsTotal.WithLabelValues("unreachable").Inc()
		s.logger.Error("Payment link unavailable, order left pending payment",
			zap.String("order_code", order.OrderCode),
			zap.String("operation", "create_payment_link"),
			zap.Error(cause))
		return &PaymentLinkError{Order: order, Err: cause}
	}

	util.PaymentLinkAttemptsTotal.WithLabelValues("rejected").Inc()
	s.logger.Warn("Payment provider rejected checkout, compensating",
		zap.String("order_code", order.OrderCode),
		zap.Int("result_code", rejected.ResultCode))

	failed, err := s.transition(context.WithoutCancel(ctx), order.ID, models.StatusFailed, &store.StatusUpdate{
		PaymentResult: &models.PaymentResult{ResultCode: rejected.ResultCode, ProviderMessage: rejected.Message},
	}, "payment link rejected")
	if err != nil {
		s.logger.Error("Failed to compensate rejected checkout",
			zap.String("order_code", order.OrderCode),
			zap.Error(err))
		return &PaymentLinkError{Order: order, Err: cause}
	}
	return &PaymentLinkError{Order: failed, Err: cause}
}

// GetOrder returns an order the principal may see
func (s *OrderService) GetOrder(ctx context.Context, principal auth.Principal, id string) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !principal.CanAccess(order.UserID) {
		return nil, models.ErrForbidden
	}
	return order, nil
}

// ListUserOrders returns a user's orders, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, principal auth.Principal, userID string) ([]models.Order, error) {
	if userID == "" {
		return nil, models.NewValidationError("userId", "is required")
	}
	if !principal.CanAccess(userID) {
		return nil, models.ErrForbidden
	}
	return s.orders.FindByUser(ctx, userID)
}

// ListOrders returns every order, newest first
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.orders.List(ctx)
}

// CancelOrder cancels a pending or pending_payment order and returns its stock
func (s *OrderService) CancelOrder(ctx context.Context, principal auth.Principal, id string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder", attribute.String("order_id", id))
	defer span.End()

	order, err := s.GetOrder(ctx, principal, id)
	if err != nil {
		util.FailSpan(span, err)
		return nil, err
	}
	if !order.Status.Cancellable() {
		err := &models.InvalidTransitionError{From: order.Status, To: models.StatusCancelled}
		util.FailSpan(span, err)
		return nil, err
	}

	reason := "cancelled by customer"
	if principal.IsAdmin() {
		reason = "cancelled by admin"
	}
	return s.transition(ctx, order.ID, models.StatusCancelled, nil, reason)
}

// UpdateStatus applies an admin status change. Payment statuses are reachable
// only through the payment flows.
func (s *OrderService) UpdateStatus(ctx context.Context, principal auth.Principal, id, rawStatus string) (*models.Order, error) {
	status, ok := models.ParseStatus(rawStatus)
	if !ok {
		return nil, models.NewValidationError("status", fmt.Sprintf("unknown status %q", rawStatus))
	}

	switch status {
	case models.StatusCancelled:
		return s.CancelOrder(ctx, principal, id)
	case models.StatusShipped, models.StatusDelivered:
		return s.transition(ctx, id, status, nil, "updated by admin")
	default:
		return nil, models.NewValidationError("status", fmt.Sprintf("status %q cannot be set manually", status))
	}
}

// DeleteOrder hard deletes an order without touching stock
func (s *OrderService) DeleteOrder(ctx context.Context, id string) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Order deleted", zap.String("order_id", id))
	return nil
}

// Stats summarises orders for the admin dashboard
func (s *OrderService) Stats(ctx context.Context) (models.Stats, error) {
	return s.orders.Stats(ctx)
}

// Inventory exposes the inventory service used by the order service
func (s *OrderService) Inventory() *InventoryService {
	return s.inventory
}
