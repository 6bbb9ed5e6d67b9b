package store_test

import (
	"context"
	"testing"

	"storefront-orders/internal/models"
	"storefront-orders/internal/store"
	"storefront-orders/internal/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMemoryOrderRepository(t *testing.T) {
	storetest.OrderRepository(t, store.NewMemoryOrderRepository(), uuid.NewString())
}

func TestMemoryStockLedger(t *testing.T) {
	storetest.StockLedger(t, store.NewMemoryStockLedger())
}

func TestMemoryStockLedgerRejectsNegativeQuantity(t *testing.T) {
	err := store.NewMemoryStockLedger().Set(context.Background(), models.StockRecord{ItemID: "A", Quantity: -1})
	var invalid *models.ValidationError
	assert.ErrorAs(t, err, &invalid)
}
