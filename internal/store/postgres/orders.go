package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/models"
	"storefront-orders/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type orderRow struct {
	ID              string         `db:"id"`
	OrderCode       string         `db:"order_code"`
	UserID          string         `db:"user_id"`
	Status          string         `db:"status"`
	Items           []byte         `db:"items"`
	Subtotal        float64        `db:"subtotal"`
	ShippingPrice   float64        `db:"shipping_price"`
	Discount        float64        `db:"discount"`
	TotalAmount     float64        `db:"total_amount"`
	Currency        string         `db:"currency"`
	ShippingAddress []byte         `db:"shipping_address"`
	ShippingMethod  string         `db:"shipping_method"`
	PaymentMethod   string         `db:"payment_method"`
	PaymentResult   sql.NullString `db:"payment_result"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *orderRow) toModel() (*models.Order, error) {
	o := &models.Order{
		ID:             r.ID,
		OrderCode:      r.OrderCode,
		UserID:         r.UserID,
		Status:         models.Status(r.Status),
		Subtotal:       r.Subtotal,
		ShippingPrice:  r.ShippingPrice,
		Discount:       r.Discount,
		TotalAmount:    r.TotalAmount,
		Currency:       r.Currency,
		ShippingMethod: r.ShippingMethod,
		PaymentMethod:  r.PaymentMethod,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal(r.Items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	if err := json.Unmarshal(r.ShippingAddress, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	if r.PaymentResult.Valid {
		o.PaymentResult = &models.PaymentResult{}
		if err := json.Unmarshal([]byte(r.PaymentResult.String), o.PaymentResult); err != nil {
			return nil, fmt.Errorf("failed to decode payment result: %w", err)
		}
	}
	return o, nil
}

func paymentResultJSON(pr *models.PaymentResult) (sql.NullString, error) {
	if pr == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(pr)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode payment result: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func parseID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &models.InvalidIdentifierError{Resource: "order", ID: id}
	}
	return nil
}

// OrderRepository stores orders in PostgreSQL
type OrderRepository struct {
	db *sqlx.DB
}

// Create inserts a new order
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order items: %w", err)
	}
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shipping address: %w", err)
	}
	payment, err := paymentResultJSON(order.PaymentResult)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO orders (id, order_code, user_id, status, items, subtotal, shipping_price, discount,
			total_amount, currency, shipping_address, shipping_method, payment_method, payment_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING *`

	var row orderRow
	err = r.db.GetContext(ctx, &row, query,
		uuid.NewString(), order.OrderCode, order.UserID, order.Status, string(items),
		order.Subtotal, order.ShippingPrice, order.Discount, order.TotalAmount, order.Currency,
		string(address), order.ShippingMethod, order.PaymentMethod, payment)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, &models.DuplicateOrderCodeError{Code: order.OrderCode}
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return row.toModel()
}

func (r *OrderRepository) getOne(ctx context.Context, q sqlx.QueryerContext, ref, query string, args ...interface{}) (*models.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "order", ID: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return row.toModel()
}

// FindByID retrieves an order by ID
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*models.Order, error) {
	if err := parseID(id); err != nil {
		return nil, err
	}
	return r.getOne(ctx, r.db, id, "SELECT * FROM orders WHERE id = $1", id)
}

// FindByOrderCode retrieves an order by its public code
func (r *OrderRepository) FindByOrderCode(ctx context.Context, code string) (*models.Order, error) {
	return r.getOne(ctx, r.db, code, "SELECT * FROM orders WHERE order_code = $1", code)
}

func (r *OrderRepository) selectOrders(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	orders := make([]models.Order, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

// FindByUser retrieves a user's orders, newest first
func (r *OrderRepository) FindByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return r.selectOrders(ctx,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
}

// List retrieves all orders, newest first
func (r *OrderRepository) List(ctx context.Context) ([]models.Order, error) {
	return r.selectOrders(ctx, "SELECT * FROM orders ORDER BY created_at DESC")
}

// ListByStatusBefore retrieves orders in a status created before a cutoff
func (r *OrderRepository) ListByStatusBefore(ctx context.Context, status models.Status, before time.Time) ([]models.Order, error) {
	return r.selectOrders(ctx,
		"SELECT * FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC", status, before)
}

// UpdateStatus applies a permitted status change under a row lock
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, to models.Status, update *store.StatusUpdate) (*models.Order, models.Status, error) {
	if err := parseID(id); err != nil {
		return nil, "", err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback()

	current, err := r.getOne(ctx, tx, id, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, "", err
	}
	from := current.Status
	if !models.CanTransition(from, to) {
		return nil, from, &models.InvalidTransitionError{From: from, To: to}
	}

	var payment sql.NullString
	if update != nil {
		if payment, err = paymentResultJSON(update.PaymentResult); err != nil {
			return nil, from, err
		}
	}

	updated, err := r.getOne(ctx, tx, id, `
		UPDATE orders
		SET status = $1, payment_result = COALESCE($2::jsonb, payment_result), updated_at = NOW()
		WHERE id = $3
		RETURNING *`, to, payment, id)
	if err != nil {
		return nil, from, fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, from, err
	}
	return updated, from, nil
}

// Delete removes an order
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	if err := parseID(id); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &models.NotFoundError{Resource: "order", ID: id}
	}
	return nil
}

// Stats aggregates order counts and revenue by status
func (r *OrderRepository) Stats(ctx context.Context) (models.Stats, error) {
	var rows []struct {
		Status string  `db:"status"`
		Count  int     `db:"count"`
		Total  float64 `db:"total"`
	}
	err := r.db.SelectContext(ctx, &rows,
		"SELECT status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS total FROM orders GROUP BY status ORDER BY status")
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to aggregate order stats: %w", err)
	}

	stats := models.Stats{ByStatus: make([]models.StatusCount, 0, len(rows))}
	for _, row := range rows {
		status := models.Status(row.Status)
		stats.TotalOrders += row.Count
		stats.ByStatus = append(stats.ByStatus, models.StatusCount{Status: status, Count: row.Count})
		for _, s := range models.RevenueStatuses {
			if s == status {
				stats.TotalRevenue += row.Total
			}
		}
	}
	return stats, nil
}
