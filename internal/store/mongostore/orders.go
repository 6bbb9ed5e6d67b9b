package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/models"
	"storefront-orders/internal/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type lineItemDoc struct {
	ItemID       string  `bson:"item_id"`
	SKU          string  `bson:"sku"`
	Name         string  `bson:"name"`
	Quantity     int     `bson:"quantity"`
	PricePerUnit float64 `bson:"price_per_unit"`
}

type addressDoc struct {
	Recipient string `bson:"recipient"`
	Street    string `bson:"street"`
	City      string `bson:"city"`
	Country   string `bson:"country"`
}

type paymentResultDoc struct {
	TransID         string `bson:"trans_id,omitempty"`
	ProviderMessage string `bson:"provider_message,omitempty"`
	ResultCode      int    `bson:"result_code"`
	Raw             bson.M `bson:"raw,omitempty"`
}

type orderDoc struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	OrderCode       string             `bson:"order_code"`
	UserID          string             `bson:"user_id"`
	Status          string             `bson:"status"`
	Items           []lineItemDoc      `bson:"items"`
	Subtotal        float64            `bson:"subtotal"`
	ShippingPrice   float64            `bson:"shipping_price"`
	Discount        float64            `bson:"discount"`
	TotalAmount     float64            `bson:"total_amount"`
	Currency        string             `bson:"currency"`
	ShippingAddress addressDoc         `bson:"shipping_address"`
	ShippingMethod  string             `bson:"shipping_method"`
	PaymentMethod   string             `bson:"payment_method"`
	PaymentResult   *paymentResultDoc  `bson:"payment_result,omitempty"`
	CreatedAt       time.Time          `bson:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at"`
}

func toPaymentResultDoc(pr *models.PaymentResult) *paymentResultDoc {
	if pr == nil {
		return nil
	}
	return &paymentResultDoc{
		TransID:         pr.TransID,
		ProviderMessage: pr.ProviderMessage,
		ResultCode:      pr.ResultCode,
		Raw:             bson.M(pr.Raw),
	}
}

func toDoc(o *models.Order) orderDoc {
	items := make([]lineItemDoc, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItemDoc(it))
	}
	return orderDoc{
		OrderCode:       o.OrderCode,
		UserID:          o.UserID,
		Status:          string(o.Status),
		Items:           items,
		Subtotal:        o.Subtotal,
		ShippingPrice:   o.ShippingPrice,
		Discount:        o.Discount,
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency,
		ShippingAddress: addressDoc(o.ShippingAddress),
		ShippingMethod:  o.ShippingMethod,
		PaymentMethod:   o.PaymentMethod,
		PaymentResult:   toPaymentResultDoc(o.PaymentResult),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func (d *orderDoc) toModel() *models.Order {
	items := make([]models.LineItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, models.LineItem(it))
	}
	o := &models.Order{
		ID:              d.ID.Hex(),
		OrderCode:       d.OrderCode,
		UserID:          d.UserID,
		Status:          models.Status(d.Status),
		Items:           items,
		Subtotal:        d.Subtotal,
		ShippingPrice:   d.ShippingPrice,
		Discount:        d.Discount,
		TotalAmount:     d.TotalAmount,
		Currency:        d.Currency,
		ShippingAddress: models.ShippingAddress(d.ShippingAddress),
		ShippingMethod:  d.ShippingMethod,
		PaymentMethod:   d.PaymentMethod,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	if d.PaymentResult != nil {
		o.PaymentResult = &models.PaymentResult{
			TransID:         d.PaymentResult.TransID,
			ProviderMessage: d.PaymentResult.ProviderMessage,
			ResultCode:      d.PaymentResult.ResultCode,
			Raw:             map[string]any(d.PaymentResult.Raw),
		}
	}
	return o
}

// OrderRepository stores orders in a MongoDB collection
type OrderRepository struct {
	collection *mongo.Collection
}

// NewOrderRepository creates a new MongoDB order repository
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{collection: db.Collection(ordersCollection)}
}

// CreateIndexes creates the indexes the repository relies on
func (r *OrderRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "order_code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, &models.InvalidIdentifierError{Resource: "order", ID: id}
	}
	return oid, nil
}

// Create inserts a new order
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := toDoc(order)
	doc.ID = primitive.NewObjectID()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, &models.DuplicateOrderCodeError{Code: order.OrderCode}
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return doc.toModel(), nil
}

func (r *OrderRepository) findOne(ctx context.Context, filter bson.M, ref string) (*models.Order, error) {
	var doc orderDoc
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &models.NotFoundError{Resource: "order", ID: ref}
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return doc.toModel(), nil
}

// FindByID retrieves an order by ID
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*models.Order, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"_id": oid}, id)
}

// FindByOrderCode retrieves an order by its public code
func (r *OrderRepository) FindByOrderCode(ctx context.Context, code string) (*models.Order, error) {
	return r.findOne(ctx, bson.M{"order_code": code}, code)
}

func (r *OrderRepository) find(ctx context.Context, filter bson.M, sortDir int) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: sortDir}, {Key: "_id", Value: sortDir}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}

	orders := make([]models.Order, 0, len(docs))
	for i := range docs {
		orders = append(orders, *docs[i].toModel())
	}
	return orders, nil
}

// FindByUser retrieves a user's orders, newest first
func (r *OrderRepository) FindByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return r.find(ctx, bson.M{"user_id": userID}, -1)
}

// List retrieves all orders, newest first
func (r *OrderRepository) List(ctx context.Context) ([]models.Order, error) {
	return r.find(ctx, bson.M{}, -1)
}

// ListByStatusBefore retrieves orders in a status created before a cutoff
func (r *OrderRepository) ListByStatusBefore(ctx context.Context, status models.Status, before time.Time) ([]models.Order, error) {
	return r.find(ctx, bson.M{
		"status":     string(status),
		"created_at": bson.M{"$lt": before.UTC()},
	}, 1)
}

// UpdateStatus applies a permitted status change with a compare-and-set on
// the stored status
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, to models.Status, update *store.StatusUpdate) (*models.Order, models.Status, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, "", err
	}

	for attempt := 0; attempt < store.MaxStatusUpdateAttempts; attempt++ {
		current, err := r.findOne(ctx, bson.M{"_id": oid}, id)
		if err != nil {
			return nil, "", err
		}
		from := current.Status
		if !models.CanTransition(from, to) {
			return nil, from, &models.InvalidTransitionError{From: from, To: to}
		}

		set := bson.M{"status": string(to), "updated_at": time.Now().UTC()}
		if update != nil && update.PaymentResult != nil {
			set["payment_result"] = toPaymentResultDoc(update.PaymentResult)
		}

		var doc orderDoc
		err = r.collection.FindOneAndUpdate(ctx,
			bson.M{"_id": oid, "status": string(from)},
			bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, from, fmt.Errorf("failed to update order status: %w", err)
		}
		return doc.toModel(), from, nil
	}

	return nil, "", fmt.Errorf("failed to update order status: order %s kept changing concurrently", id)
}

// Delete removes an order
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if res.DeletedCount == 0 {
		return &models.NotFoundError{Resource: "order", ID: id}
	}
	return nil
}

// Stats aggregates order counts and revenue by status
func (r *OrderRepository) Stats(ctx context.Context) (models.Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$total_amount"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to aggregate order stats: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string  `bson:"_id"`
		Count  int     `bson:"count"`
		Total  float64 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return models.Stats{}, fmt.Errorf("failed to decode order stats: %w", err)
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
