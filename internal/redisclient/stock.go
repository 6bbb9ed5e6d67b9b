package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"storefront-orders/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

// StockLedger keeps item quantities in Redis hashes and reserves all lines of
// an order in a single Lua script.
type StockLedger struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
}

// NewStockLedger creates a new Redis-backed stock ledger
func NewStockLedger(c *Client) *StockLedger {
	return &StockLedger{
		rdb:           c.rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
	}
}

func stockKey(itemID string) string {
	return fmt.Sprintf("stock:%s", itemID)
}

func scriptArgs(lines []models.StockLine) ([]string, []interface{}) {
	keys := make([]string, 0, len(lines))
	args := make([]interface{}, 0, len(lines)+1)
	for _, line := range lines {
		keys = append(keys, stockKey(line.ItemID))
		args = append(args, line.Quantity)
	}
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	return keys, args
}

// Reserve atomically decrements every line or none of them
func (l *StockLedger) Reserve(ctx context.Context, lines []models.StockLine) error {
	lines, err := models.MergeStockLines(lines)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	keys, args := scriptArgs(lines)

	result, err := l.reserveScript.Run(ctx, l.rdb, keys, args...).Result()
	if err != nil {
		return fmt.Errorf("reserve stock script failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) == 0 {
		return fmt.Errorf("unexpected script result type")
	}
	code, _ := values[0].(int64)
	if code == 1 {
		return nil
	}
	if len(values) < 2 {
		return fmt.Errorf("unexpected script result: %v", values)
	}
	idx, _ := values[1].(int64)
	if idx < 1 || int(idx) > len(lines) {
		return fmt.Errorf("unexpected script result index: %d", idx)
	}
	line := lines[idx-1]

	if code == -1 {
		return &models.InsufficientStockError{ItemID: line.ItemID, Name: line.Name, Requested: line.Quantity, Unknown: true}
	}
	var available int64
	if len(values) > 2 {
		available, _ = values[2].(int64)
	}
	name := line.Name
	if name == "" {
		name, _ = l.rdb.HGet(ctx, stockKey(line.ItemID), "name").Result()
	}
	return &models.InsufficientStockError{ItemID: line.ItemID, Name: name, Requested: line.Quantity, Available: int(available)}
}

// Release atomically increments every existing line and reports skipped items
func (l *StockLedger) Release(ctx context.Context, lines []models.StockLine) ([]string, error) {
	lines, err := models.MergeStockLines(lines)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	keys, args := scriptArgs(lines)

	result, err := l.releaseScript.Run(ctx, l.rdb, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("release stock script failed: %w", err)
	}

	values, _ := result.([]interface{})
	var skipped []string
	for _, v := range values {
		if idx, ok := v.(int64); ok && idx >= 1 && int(idx) <= len(lines) {
			skipped = append(skipped, lines[idx-1].ItemID)
		}
	}
	return skipped, nil
}

// Get retrieves the stock record of an item
func (l *StockLedger) Get(ctx context.Context, itemID string) (*models.StockRecord, error) {
	result, err := l.rdb.HGetAll(ctx, stockKey(itemID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	if len(result) == 0 {
		return nil, &models.NotFoundError{Resource: "stock item", ID: itemID}
	}

	quantity, err := strconv.Atoi(result["quantity"])
	if err != nil {
		return nil, fmt.Errorf("corrupt stock quantity for %s: %w", itemID, err)
	}
	rec := &models.StockRecord{ItemID: itemID, Name: result["name"], Quantity: quantity}
	if ts, err := time.Parse(time.RFC3339Nano, result["updated_at"]); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, nil
}

// Set creates or overwrites an item's stock record
func (l *StockLedger) Set(ctx context.Context, record models.StockRecord) error {
	if record.Quantity < 0 {
		return models.NewValidationError("quantity", "must not be negative")
	}
	err := l.rdb.HSet(ctx, stockKey(record.ItemID),
		"name", record.Name,
		"quantity", record.Quantity,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set stock: %w", err)
	}
	return nil
}
