// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront-orders/internal/models"
	"storefront-orders/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SampleOrder builds a valid order in the given status
func SampleOrder(code, userID string, status models.Status) *models.Order {
	return &models.Order{
		OrderCode: code,
		UserID:    userID,
		Status:    status,
		Items: []models.LineItem{
			{ItemID: "A", SKU: "SKU-A", Name: "Red Car", Quantity: 2, PricePerUnit: 100000},
		},
		Subtotal:        200000,
		ShippingPrice:   30000,
		TotalAmount:     230000,
		Currency:        models.DefaultCurrency,
		ShippingAddress: models.ShippingAddress{Recipient: "An", Street: "1 Le Loi", City: "Hanoi", Country: "VN"},
		ShippingMethod:  "standard",
		PaymentMethod:   models.PaymentMethodCOD,
	}
}

// OrderRepository exercises an order repository. missingID must be a well
// formed identifier that is not stored.
func OrderRepository(t *testing.T, repo store.OrderRepository, missingID string) {
	ctx := context.Background()

	t.Run("stats on empty store", func(t *testing.T) {
		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.TotalOrders)
		assert.NotNil(t, stats.ByStatus)
		assert.Empty(t, stats.ByStatus)
	})

	t.Run("create and find", func(t *testing.T) {
		created, err := repo.Create(ctx, SampleOrder("ORD-20240101-AAAAAA", "user-1", models.StatusPending))
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())

		byID, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "ORD-20240101-AAAAAA", byID.OrderCode)
		assert.Equal(t, 2, byID.Items[0].Quantity)
		assert.InDelta(t, 230000, byID.TotalAmount, 0.001)

		byCode, err := repo.FindByOrderCode(ctx, "ORD-20240101-AAAAAA")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byCode.ID)
	})

	t.Run("duplicate code rejected", func(t *testing.T) {
		_, err := repo.Create(ctx, SampleOrder("ORD-20240101-BBBBBB", "user-1", models.StatusPending))
		require.NoError(t, err)

		_, err = repo.Create(ctx, SampleOrder("ORD-20240101-BBBBBB", "user-2", models.StatusPending))
		var dup *models.DuplicateOrderCodeError
		assert.True(t, errors.As(err, &dup), "got %v", err)
	})

	t.Run("missing and malformed ids", func(t *testing.T) {
		_, err := repo.FindByID(ctx, missingID)
		assert.True(t, models.IsNotFound(err), "got %v", err)

		_, err = repo.FindByID(ctx, "not-an-id")
		var invalid *models.InvalidIdentifierError
		assert.True(t, errors.As(err, &invalid), "got %v", err)

		_, err = repo.FindByOrderCode(ctx, "ORD-19990101-000000")
		assert.True(t, models.IsNotFound(err))
	})

	t.Run("status transitions", func(t *testing.T) {
		created, err := repo.Create(ctx, SampleOrder("ORD-20240101-CCCCCC", "user-3", models.StatusPendingPayment))
		require.NoError(t, err)

		updated, from, err := repo.UpdateStatus(ctx, created.ID, models.StatusPaid, &store.StatusUpdate{
			PaymentResult: &models.PaymentResult{TransID: "T1", ResultCode: 0},
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPendingPayment, from)
		assert.Equal(t, models.StatusPaid, updated.Status)
		require.NotNil(t, updated.PaymentResult)
		assert.Equal(t, "T1", updated.PaymentResult.TransID)

		_, from, err = repo.UpdateStatus(ctx, created.ID, models.StatusPaid, nil)
		var invalid *models.InvalidTransitionError
		require.True(t, errors.As(err, &invalid), "got %v", err)
		assert.Equal(t, models.StatusPaid, from)

		_, _, err = repo.UpdateStatus(ctx, created.ID, models.StatusCancelled, nil)
		assert.True(t, errors.As(err, &invalid))

		_, _, err = repo.UpdateStatus(ctx, missingID, models.StatusCancelled, nil)
		assert.True(t, models.IsNotFound(err))
	})

	t.Run("concurrent cancel applies once", func(t *testing.T) {
		created, err := repo.Create(ctx, SampleOrder("ORD-20240101-DDDDDD", "user-4", models.StatusPending))
		require.NoError(t, err)

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := repo.UpdateStatus(ctx, created.ID, models.StatusCancelled, nil); err == nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("listing", func(t *testing.T) {
		first, err := repo.Create(ctx, SampleOrder("ORD-20240102-EEEEEE", "user-5", models.StatusPendingPayment))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		second, err := repo.Create(ctx, SampleOrder("ORD-20240102-FFFFFF", "user-5", models.StatusPending))
		require.NoError(t, err)

		mine, err := repo.FindByUser(ctx, "user-5")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, second.ID, mine[0].ID)

		stale, err := repo.ListByStatusBefore(ctx, models.StatusPendingPayment, time.Now().Add(time.Minute))
		require.NoError(t, err)
		ids := make([]string, 0, len(stale))
		for _, o := range stale {
			assert.Equal(t, models.StatusPendingPayment, o.Status)
			ids = append(ids, o.ID)
		}
		assert.Contains(t, ids, first.ID)

		none, err := repo.ListByStatusBefore(ctx, models.StatusPendingPayment, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, none)

		all, err := repo.List(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 2)
	})

	t.Run("stats and delete", func(t *testing.T) {
		before, err := repo.Stats(ctx)
		require.NoError(t, err)

		created, err := repo.Create(ctx, SampleOrder("ORD-20240103-ABCDEF", "user-6", models.StatusPendingPayment))
		require.NoError(t, err)
		_, _, err = repo.UpdateStatus(ctx, created.ID, models.StatusPaid, nil)
		require.NoError(t, err)

		after, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.TotalOrders+1, after.TotalOrders)
		assert.InDelta(t, before.TotalRevenue+230000, after.TotalRevenue, 0.001)

		require.NoError(t, repo.Delete(ctx, created.ID))
		_, err = repo.FindByID(ctx, created.ID)
		assert.True(t, models.IsNotFound(err))
		assert.True(t, models.IsNotFound(repo.Delete(ctx, created.ID)))
	})
}

// StockLedger exercises a stock ledger
func StockLedger(t *testing.T, ledger store.StockLedger) {
	ctx := context.Background()

	t.Run("reserve and release", func(t *testing.T) {
		require.NoError(t, ledger.Set(ctx, models.StockRecord{ItemID: "A", Name: "Red Car", Quantity: 5}))

		require.NoError(t, ledger.Reserve(ctx, []models.StockLine{{ItemID: "A", Quantity: 2}}))
		rec, err := ledger.Get(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 3, rec.Quantity)

		skipped, err := ledger.Release(ctx, []models.StockLine{{ItemID: "A", Quantity: 2}, {ItemID: "gone", Quantity: 1}})
		require.NoError(t, err)
		assert.Equal(t, []string{"gone"}, skipped)

		rec, err = ledger.Get(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 5, rec.Quantity)
	})

	t.Run("all or nothing", func(t *testing.T) {
		require.NoError(t, ledger.Set(ctx, models.StockRecord{ItemID: "X", Name: "X", Quantity: 5}))
		require.NoError(t, ledger.Set(ctx, models.StockRecord{ItemID: "Y", Name: "Blue Train", Quantity: 1}))

		err := ledger.Reserve(ctx, []models.StockLine{{ItemID: "X", Quantity: 1}, {ItemID: "Y", Quantity: 2}})
		var insufficient *models.InsufficientStockError
		require.True(t, errors.As(err, &insufficient), "got %v", err)
		assert.Equal(t, "Y", insufficient.ItemID)
		assert.Equal(t, 1, insufficient.Available)

		x, _ := ledger.Get(ctx, "X")
		y, _ := ledger.Get(ctx, "Y")
		assert.Equal(t, 5, x.Quantity)
		assert.Equal(t, 1, y.Quantity)
	})

	t.Run("rejects non-positive and wrapping quantities", func(t *testing.T) {
		require.NoError(t, ledger.Set(ctx, models.StockRecord{ItemID: "W", Name: "Wagon", Quantity: 0}))

		var verr *models.ValidationError
		err := ledger.Reserve(ctx, []models.StockLine{
			{ItemID: "W", Quantity: math.MaxInt},
			{ItemID: "W", Quantity: math.MaxInt},
			{ItemID: "W", Quantity: 1},
		})
		require.True(t, errors.As(err, &verr), "got %v", err)

		_, err = ledger.Release(ctx, []models.StockLine{{ItemID: "W", Quantity: -1}})
		require.True(t, errors.As(err, &verr), "got %v", err)

		err = ledger.Reserve(ctx, []models.StockLine{{ItemID: "W", Quantity: 0}})
		require.True(t, errors.As(err, &verr), "got %v", err)

		rec, err := ledger.Get(ctx, "W")
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Quantity)
	})

	t.Run("unknown item", func(t *testing.T) {
		err := ledger.Reserve(ctx, []models.StockLine{{ItemID: "nope", Quantity: 1}})
		var insufficient *models.InsufficientStockError
		require.True(t, errors.As(err, &insufficient))
		assert.True(t, insufficient.Unknown)

		_, err = ledger.Get(ctx, "nope")
		assert.True(t, models.IsNotFound(err))
	})

	t.Run("concurrent last unit", func(t *testing.T) {
		require.NoError(t, ledger.Set(ctx, models.StockRecord{ItemID: "LAST", Name: "Last", Quantity: 1}))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ledger.Reserve(ctx, []models.StockLine{{ItemID: "LAST", Quantity: 1}}) == nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins)
		rec, err := ledger.Get(ctx, "LAST")
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Quantity)
	})
}
