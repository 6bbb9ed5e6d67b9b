package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/models"
	"storefront-orders/internal/util"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type stockDoc struct {
	ItemID    string    `bson:"_id"`
	Name      string    `bson:"name"`
	Quantity  int       `bson:"quantity"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// StockLedger keeps item quantities in a MongoDB collection. Each line is a
// conditional decrement; with transactions enabled the whole reservation runs
// in one multi-document transaction, otherwise applied lines are compensated
// when a later line fails.
type StockLedger struct {
	collection   *mongo.Collection
	transactions bool
}

// NewStockLedger creates a new MongoDB stock ledger
func NewStockLedger(db *mongo.Database, transactions bool) *StockLedger {
	return &StockLedger{collection: db.Collection(stockCollection), transactions: transactions}
}

// Reserve decrements every line or none of them
func (l *StockLedger) Reserve(ctx context.Context, lines []models.StockLine) error {
	lines, err := models.MergeStockLines(lines)
	if err != nil {
		return err
	}

	if !l.transactions {
		return l.reserveWithCompensation(ctx, lines)
	}

	session, err := l.collection.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		for _, line := range lines {
			if err := l.decrement(sessCtx, line); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (l *StockLedger) reserveWithCompensation(ctx context.Context, lines []models.StockLine) error {
	for i, line := range lines {
		if err := l.decrement(ctx, line); err != nil {
			if _, relErr := l.Release(context.WithoutCancel(ctx), lines[:i]); relErr != nil {
				util.GetLogger().Error("Failed to compensate partial stock reservation",
					zap.Error(relErr),
					zap.Int("applied_lines", i))
			}
			return err
		}
	}
	return nil
}

func (l *StockLedger) decrement(ctx context.Context, line models.StockLine) error {
	res, err := l.collection.UpdateOne(ctx,
		bson.M{"_id": line.ItemID, "quantity": bson.M{"$gte": line.Quantity}},
		bson.M{
			"$inc": bson.M{"quantity": -line.Quantity},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to reserve stock for %s: %w", line.ItemID, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	rec, err := l.Get(ctx, line.ItemID)
	if models.IsNotFound(err) {
		return &models.InsufficientStockError{ItemID: line.ItemID, Name: line.Name, Requested: line.Quantity, Unknown: true}
	}
	if err != nil {
		return err
	}
	name := line.Name
	if name == "" {
		name = rec.Name
	}
	return &models.InsufficientStockError{ItemID: line.ItemID, Name: name, Requested: line.Quantity, Available: rec.Quantity}
}

// Release increments every existing line and reports skipped items
func (l *StockLedger) Release(ctx context.Context, lines []models.StockLine) ([]string, error) {
	lines, err := models.MergeStockLines(lines)
	if err != nil {
		return nil, err
	}

	var skipped []string
	for _, line := range lines {
		res, err := l.collection.UpdateOne(ctx,
			bson.M{"_id": line.ItemID},
			bson.M{
				"$inc": bson.M{"quantity": line.Quantity},
				"$set": bson.M{"updated_at": time.Now().UTC()},
			},
		)
		if err != nil {
			return skipped, fmt.Errorf("failed to release stock for %s: %w", line.ItemID, err)
		}
		if res.MatchedCount == 0 {
			skipped = append(skipped, line.ItemID)
		}
	}
	return skipped, nil
}

// Get retrieves the stock record of an item
func (l *StockLedger) Get(ctx context.Context, itemID string) (*models.StockRecord, error) {
	var doc stockDoc
	if err := l.collection.FindOne(ctx, bson.M{"_id": itemID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &models.NotFoundError{Resource: "stock item", ID: itemID}
		}
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	return &models.StockRecord{ItemID: doc.ItemID, Name: doc.Name, Quantity: doc.Quantity, UpdatedAt: doc.UpdatedAt.UTC()}, nil
}

// Set creates or overwrites an item's stock record
func (l *StockLedger) Set(ctx context.Context, record models.StockRecord) error {
	if record.Quantity < 0 {
		return models.NewValidationError("quantity", "must not be negative")
	}
	_, err := l.collection.UpdateOne(ctx,
		bson.M{"_id": record.ItemID},
		bson.M{"$set": bson.M{"name": record.Name, "quantity": record.Quantity, "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to set stock: %w", err)
	}
	return nil
}
