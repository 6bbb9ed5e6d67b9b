package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"storefront-orders/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishOrderCreated(t *testing.T) {
	w := &recordingWriter{}
	ep := NewEventPublisher(NewProducerWithWriter(w))

	order := &models.Order{
		ID: "id-1", OrderCode: "ORD-20240101-ABCDEF", UserID: "user-1",
		Status: models.StatusPending, TotalAmount: 230000, Currency: "VND",
		Items: []models.LineItem{{ItemID: "A", Quantity: 2, PricePerUnit: 100000}},
	}
	require.NoError(t, ep.PublishOrderCreated(context.Background(), order))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "order-ORD-20240101-ABCDEF", string(w.messages[0].Key))

	var event models.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &event))
	assert.Equal(t, models.EventTypeOrderCreated, event.EventType)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "A", event.Items[0].ItemID)
}

func TestPublishStatusChangedPicksEventType(t *testing.T) {
	w := &recordingWriter{}
	ep := NewEventPublisher(NewProducerWithWriter(w))

	order := &models.Order{
		ID: "id-1", OrderCode: "ORD-20240101-ABCDEF", Status: models.StatusPaid,
		PaymentResult: &models.PaymentResult{TransID: "T-1"},
	}
	require.NoError(t, ep.PublishStatusChanged(context.Background(), order, models.StatusPendingPayment, "payment callback"))

	var event models.OrderStatusChangedEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &event))
	assert.Equal(t, models.EventTypeOrderPaid, event.EventType)
	assert.Equal(t, models.StatusPendingPayment, event.From)
	assert.Equal(t, "T-1", event.TransID)
}

func TestPublishWrapsWriterError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	err := NewEventPublisher(NewProducerWithWriter(w)).PublishOrderCreated(context.Background(), &models.Order{})
	assert.ErrorContains(t, err, "broker down")
}
