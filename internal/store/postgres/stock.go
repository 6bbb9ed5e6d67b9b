package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-orders/internal/models"

	"github.com/jmoiron/sqlx"
)

// StockLedger keeps item quantities in PostgreSQL
type StockLedger struct {
	db *sqlx.DB
}

type stockRow struct {
	ItemID    string    `db:"item_id"`
	Name      string    `db:"name"`
	Quantity  int       `db:"quantity"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Reserve decrements every line inside one transaction
func (l *StockLedger) Reserve(ctx context.Context, lines []models.StockLine) error {
	lines, err := models.MergeStockLines(lines)
	if err != nil {
		return err
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, line := range lines {
		res, err := tx.ExecContext(ctx,
			"UPDATE stock SET quantity = quantity - $1, updated_at = NOW() WHERE item_id = $2 AND quantity >= $1",
			line.Quantity, line.ItemID)
		if err != nil {
			return fmt.Errorf("failed to reserve stock for %s: %w", line.ItemID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			continue
		}

		var row stockRow
		err = tx.GetContext(ctx, &row, "SELECT * FROM stock WHERE item_id = $1", line.ItemID)
		if err == sql.ErrNoRows {
			return &models.InsufficientStockError{ItemID: line.ItemID, Name: line.Name, Requested: line.Quantity, Unknown: true}
		}
		if err != nil {
			return fmt.Errorf("failed to read stock for %s: %w", line.ItemID, err)
		}
		name := line.Name
		if name == "" {
			name = row.Name
		}
		return &models.InsufficientStockError{ItemID: line.ItemID, Name: name, Requested: line.Quantity, Available: row.Quantity}
	}

	return tx.Commit()
}

// Release increments every existing line and reports skipped items
func (l *StockLedger) Release(ctx context.Context, lines []models.StockLine) ([]string, error) {
	lines, err := models.MergeStockLines(lines)
	if err != nil {
		return nil, err
	}

	var skipped []string
	for _, line := range lines {
		res, err := l.db.ExecContext(ctx,
			"UPDATE stock SET quantity = quantity + $1, updated_at = NOW() WHERE item_id = $2",
			line.Quantity, line.ItemID)
		if err != nil {
			return skipped, fmt.Errorf("failed to release stock for %s: %w", line.ItemID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			skipped = append(skipped, line.ItemID)
		}
	}
	return skipped, nil
}

// Get retrieves the stock record of an item
func (l *StockLedger) Get(ctx context.Context, itemID string) (*models.StockRecord, error) {
	var row stockRow
	err := l.db.GetContext(ctx, &row, "SELECT * FROM stock WHERE item_id = $1", itemID)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "stock item", ID: itemID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	return &models.StockRecord{ItemID: row.ItemID, Name: row.Name, Quantity: row.Quantity, UpdatedAt: row.UpdatedAt.UTC()}, nil
}

// Set creates or overwrites an item's stock record
func (l *StockLedger) Set(ctx context.Context, record models.StockRecord) error {
	if record.Quantity < 0 {
		return models.NewValidationError("quantity", "must not be negative")
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO stock (item_id, name, quantity, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (item_id) DO UPDATE SET name = EXCLUDED.name, quantity = EXCLUDED.quantity, updated_at = NOW()`,
		record.ItemID, record.Name, record.Quantity)
	if err != nil {
		return fmt.Errorf("failed to set stock: %w", err)
	}
	return nil
}
