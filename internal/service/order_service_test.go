package service

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sync"
	"testing"
	"time"

	"storefront-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCodePattern = regexp.MustCompile(`^ORD-\d{8}-[0-9A-F]{6}$`)

func TestCreateOrderReservesStock(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)

	res, err := f.svc.CreateOrder(context.Background(), customer, checkoutRequest(models.PaymentMethodCOD, item("A", 2, 100000)), "")
	require.NoError(t, err)

	order := res.Order
	assert.Equal(t, models.StatusPending, order.Status)
	assert.InDelta(t, 200000, order.Subtotal, 0.001)
	assert.InDelta(t, 230000, order.TotalAmount, 0.001)
	assert.InDelta(t, order.Subtotal+order.ShippingPrice-order.Discount, order.TotalAmount, 0.001)
	assert.Regexp(t, orderCodePattern, order.OrderCode)
	assert.Equal(t, "SKU-A", order.Items[0].SKU)
	assert.Empty(t, res.PayURL)
	assert.Equal(t, 3, f.stock(t, "A"))
	assert.Equal(t, []string{order.OrderCode}, f.events.created)
}

func TestCancelRestoresStockExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodCOD, item("A", 2, 100000)), "")
	require.NoError(t, err)
	require.Equal(t, 3, f.stock(t, "A"))

	cancelled, err := f.svc.CancelOrder(ctx, customer, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.stock(t, "A"))

	_, err = f.svc.CancelOrder(ctx, customer, res.Order.ID)
	var invalid *models.InvalidTransitionError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Equal(t, models.StatusCancelled, invalid.From)
	assert.Equal(t, 5, f.stock(t, "A"))
}

func TestConcurrentCancelReleasesOnce(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodCOD, item("A", 2, 100000)), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.CancelOrder(ctx, customer, res.Order.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, f.stock(t, "A"))
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	f.setStock(t, "B", 1)

	_, err := f.svc.CreateOrder(context.Background(), customer,
		checkoutRequest(models.PaymentMethodCOD, item("A", 1, 50000), item("B", 2, 70000)), "")

	var insufficient *models.InsufficientStockError
	require.True(t, errors.As(err, &insufficient), "got %v", err)
	assert.Equal(t, "B", insufficient.ItemID)
	assert.Equal(t, 5, f.stock(t, "A"))
	assert.Equal(t, 1, f.stock(t, "B"))

	all, err := f.orders.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateOrderRejectsWrappingQuantities(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 0)

	_, err := f.svc.CreateOrder(context.Background(), customer,
		checkoutRequest(models.PaymentMethodCOD, item("A", math.MaxInt, 0), item("A", math.MaxInt, 0), item("A", 1, 0)), "")

	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, 0, f.stock(t, "A"))
}

func TestConcurrentCheckoutForLastUnit(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "B", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOrder(context.Background(), customer, checkoutRequest(models.PaymentMethodCOD, item("B", 1, 70000)), "")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var insufficient *models.InsufficientStockError
		assert.True(t, errors.As(err, &insufficient), "got %v", err)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, f.stock(t, "B"))
}

func TestOrderCodeCollisionRetriesOnce(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	ctx := context.Background()

	taken := "ORD-20240101-AAAAAA"
	_, err := f.orders.Create(ctx, &models.Order{OrderCode: taken, UserID: "someone", Status: models.StatusPending})
	require.NoError(t, err)

	codes := []string{taken, "ORD-20240101-BBBBBB"}
	calls := 0
	f.svc.codeGen = func(time.Time) (string, error) {
		code := codes[calls]
		calls++
		return code, nil
	}

	res, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodCOD, item("A", 1, 100000)), "")
	require.NoError(t, err)
	assert.Equal(t, "ORD-20240101-BBBBBB", res.Order.OrderCode)
	assert.Equal(t, 2, calls)
}

func TestOrderCodeCollisionExhaustedReleasesStock(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	ctx := context.Background()

	taken := "ORD-20240101-AAAAAA"
	_, err := f.orders.Create(ctx, &models.Order{OrderCode: taken, UserID: "someone", Status: models.StatusPending})
	require.NoError(t, err)
	f.svc.codeGen = func(time.Time) (string, error) { return taken, nil }

	_, err = f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodCOD, item("A", 1, 100000)), "")
	var dup *models.DuplicateOrderCodeError
	assert.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, 5, f.stock(t, "A"))
}

func TestConcurrentOrdersGetDistinctCodes(t *testing.T) {
	f := newFixture(t)
	const n = 50
	f.setStock(t, "A", n)

	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := make(map[string]bool)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.CreateOrder(context.Background(), customer, checkoutRequest(models.PaymentMethodCOD, item("A", 1, 1000)), "")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			codes[res.Order.OrderCode] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, codes, n)
	assert.Equal(t, 0, f.stock(t, "A"))
}

func TestAdminStatusProgression(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	ctx := context.Background()

	res, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodCOD, item("A", 1, 100000)), "")
	require.NoError(t, err)
	id := res.Order.ID

	shipped, err := f.svc.UpdateStatus(ctx, admin, id, "shipped")
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipped, shipped.Status)

	_, err = f.svc.CancelOrder(ctx, admin, id)
	var invalid *models.InvalidTransitionError
	assert.True(t, errors.As(err, &invalid))

	delivered, err := f.svc.UpdateStatus(ctx, admin, id, "delivered")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, delivered.Status)

	for _, to := range []string{"shipped", "delivered", "cancelled"} {
		_, err := f.svc.UpdateStatus(ctx, admin, id, to)
		assert.True(t, errors.As(err, &invalid), "delivered -> %s: %v", to, err)
	}
	assert.Equal(t, 4, f.stock(t, "A"))
}

func TestAdminCannotSetPaymentStatuses(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	res, err := f.svc.CreateOrder(context.Background(), customer, checkoutRequest(models.PaymentMethodCOD, item("A", 1, 100000)), "")
	require.NoError(t, err)

	for _, status := range []string{"paid", "failed", "pending", "completed"} {
		_, err := f.svc.UpdateStatus(context.Background(), admin, res.Order.ID, status)
		var verr *models.ValidationError
		assert.True(t, errors.As(err, &verr), "%s: %v", status, err)
	}
}

func TestAdminCancelGoesThroughCancelFlow(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	res, err := f.svc.CreateOrder(context.Background(), customer, checkoutRequest(models.PaymentMethodCOD, item("A", 2, 100000)), "")
	require.NoError(t, err)

	cancelled, err := f.svc.UpdateStatus(context.Background(), admin, res.Order.ID, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.stock(t, "A"))
}

func TestOwnershipIsEnforced(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	ctx := context.Background()
	other := customer
	other.UserID = "user-2"

	req := checkoutRequest(models.PaymentMethodCOD, item("A", 1, 100000))
	_, err := f.svc.CreateOrder(ctx, other, req, "")
	assert.ErrorIs(t, err, models.ErrForbidden)

	res, err := f.svc.CreateOrder(ctx, customer, req, "")
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, other, res.Order.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = f.svc.CancelOrder(ctx, other, res.Order.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = f.svc.ListUserOrders(ctx, other, "user-1")
	assert.ErrorIs(t, err, models.ErrForbidden)

	got, err := f.svc.GetOrder(ctx, admin, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, got.ID)
}

func TestListUserOrdersNewestFirst(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodCOD, item("A", 1, 100000)), "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodCOD, item("A", 1, 100000)), "")
	require.NoError(t, err)

	orders, err := f.svc.ListUserOrders(ctx, customer, "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.Order.ID, orders[0].ID)
	assert.Equal(t, first.Order.ID, orders[1].ID)

	_, err = f.svc.ListUserOrders(ctx, customer, "")
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestMomoCheckoutReturnsPayURL(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)

	res, err := f.svc.CreateOrder(context.Background(), customer, checkoutRequest(models.PaymentMethodMomo, item("A", 1, 100000)), "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingPayment, res.Order.Status)
	assert.Equal(t, "https://pay.example/abc", res.PayURL)
	assert.Equal(t, 4, f.stock(t, "A"))
}

func TestMomoRejectionFailsOrderAndReleasesStock(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	f.gateway.linkErr = &models.ProviderRejectedError{ResultCode: 21, Message: "Invalid amount"}

	_, err := f.svc.CreateOrder(context.Background(), customer, checkoutRequest(models.PaymentMethodMomo, item("A", 2, 100000)), "")

	var linkErr *PaymentLinkError
	require.True(t, errors.As(err, &linkErr), "got %v", err)
	assert.Equal(t, models.StatusFailed, linkErr.Order.Status)
	var rejected *models.ProviderRejectedError
	assert.True(t, errors.As(err, &rejected))
	assert.Equal(t, 5, f.stock(t, "A"))
}

func TestMomoTimeoutLeavesOrderPendingPayment(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	f.gateway.linkErr = &models.UpstreamTimeoutError{Op: "create", Err: context.DeadlineExceeded}

	_, err := f.svc.CreateOrder(context.Background(), customer, checkoutRequest(models.PaymentMethodMomo, item("A", 2, 100000)), "")

	var linkErr *PaymentLinkError
	require.True(t, errors.As(err, &linkErr), "got %v", err)
	assert.Equal(t, models.StatusPendingPayment, linkErr.Order.Status)
	var timeout *models.UpstreamTimeoutError
	assert.True(t, errors.As(err, &timeout))
	assert.Equal(t, 3, f.stock(t, "A"))

	stored, err := f.orders.FindByID(context.Background(), linkErr.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingPayment, stored.Status)
}

func TestIdempotentCheckoutReplaysOrder(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodMomo, item("A", 2, 100000)), "key-1")
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodMomo, item("A", 2, 100000)), "key-1")
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, first.PayURL, second.PayURL)
	assert.Equal(t, 3, f.stock(t, "A"))

	third, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodCOD, item("A", 1, 100000)), "key-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.Order.ID, third.Order.ID)
}

func TestIdempotentReplayAfterTimeoutRetriesPaymentLink(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	ctx := context.Background()
	f.gateway.linkErr = &models.UpstreamTimeoutError{Op: "create", Err: context.DeadlineExceeded}

	_, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodMomo, item("A", 2, 100000)), "key-1")
	var linkErr *PaymentLinkError
	require.True(t, errors.As(err, &linkErr), "got %v", err)

	// provider still down: the retry reports the failure again
	_, err = f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodMomo, item("A", 2, 100000)), "key-1")
	var again *PaymentLinkError
	require.True(t, errors.As(err, &again), "got %v", err)
	assert.Equal(t, linkErr.Order.ID, again.Order.ID)
	var timeout *models.UpstreamTimeoutError
	assert.True(t, errors.As(err, &timeout))

	f.gateway.mu.Lock()
	f.gateway.linkErr = nil
	f.gateway.mu.Unlock()

	res, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodMomo, item("A", 2, 100000)), "key-1")
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, linkErr.Order.ID, res.Order.ID)
	assert.Equal(t, "https://pay.example/abc", res.PayURL)
	assert.Equal(t, 3, f.stock(t, "A"))

	// the link is now remembered with the key
	res, err = f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodMomo, item("A", 2, 100000)), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/abc", res.PayURL)

	all, err := f.orders.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIdempotentReplayAfterRejectionReportsRejection(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	ctx := context.Background()
	f.gateway.linkErr = &models.ProviderRejectedError{ResultCode: 21, Message: "invalid amount"}

	_, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodMomo, item("A", 2, 100000)), "key-1")
	require.Error(t, err)

	f.gateway.mu.Lock()
	f.gateway.linkErr = nil
	f.gateway.mu.Unlock()

	_, err = f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodMomo, item("A", 2, 100000)), "key-1")
	var linkErr *PaymentLinkError
	require.True(t, errors.As(err, &linkErr), "got %v", err)
	assert.Equal(t, models.StatusFailed, linkErr.Order.Status)
	var rejected *models.ProviderRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, 21, rejected.ResultCode)
	assert.Equal(t, 5, f.stock(t, "A"))
}

func TestIdempotentCheckoutInProgress(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 5)
	_, ok, err := f.idem.AcquireLock(context.Background(), idempotencyScopeCheckout, "user-1:key-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.CreateOrder(context.Background(), customer, checkoutRequest(models.PaymentMethodCOD, item("A", 1, 100000)), "key-1")
	assert.ErrorIs(t, err, models.ErrCheckoutInProgress)
	assert.Equal(t, 5, f.stock(t, "A"))
}

func TestStatsAndDelete(t *testing.T) {
	f := newFixture(t)
	f.setStock(t, "A", 10)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := f.svc.CreateOrder(ctx, customer, checkoutRequest(models.PaymentMethodCOD, item("A", 1, 100000)), "")
		require.NoError(t, err)
		ids = append(ids, res.Order.ID)
	}
	_, err := f.svc.UpdateStatus(ctx, admin, ids[0], "shipped")
	require.NoError(t, err)
	_, err = f.svc.CancelOrder(ctx, customer, ids[1])
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalOrders)
	assert.InDelta(t, 130000, stats.TotalRevenue, 0.001)

	require.NoError(t, f.svc.DeleteOrder(ctx, ids[2]))
	_, err = f.svc.GetOrder(ctx, admin, ids[2])
	assert.True(t, models.IsNotFound(err))
	assert.Equal(t, 8, f.stock(t, "A"))
}
