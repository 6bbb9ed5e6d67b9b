package mongostore

import (
	"context"
	"testing"

	"storefront-orders/internal/store/storetest"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func setupTestDB(t *testing.T) (*mongo.Database, func()) {
	if testing.Short() {
		t.Skip("Integration test - requires docker")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := Connect(ctx, uri, "testdb")
	require.NoError(t, err)

	cleanup := func() {
		_ = db.Client().Disconnect(ctx)
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return db, cleanup
}

func TestOrderRepository(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewOrderRepository(db)
	require.NoError(t, repo.CreateIndexes(context.Background()))

	storetest.OrderRepository(t, repo, primitive.NewObjectID().Hex())
}

func TestStockLedger(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storetest.StockLedger(t, NewStockLedger(db, false))
}
