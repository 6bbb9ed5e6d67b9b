package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []Status{
	StatusPending, StatusPendingPayment, StatusPaid, StatusShipped,
	StatusDelivered, StatusCancelled, StatusFailed,
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusShipped}:          true,
		{StatusPending, StatusCancelled}:        true,
		{StatusPendingPayment, StatusPaid}:      true,
		{StatusPendingPayment, StatusFailed}:    true,
		{StatusPendingPayment, StatusCancelled}: true,
		{StatusPaid, StatusShipped}:             true,
		{StatusShipped, StatusDelivered}:        true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatusesRejectEverything(t *testing.T) {
	for _, from := range []Status{StatusDelivered, StatusCancelled, StatusFailed} {
		assert.True(t, from.IsTerminal())
		for _, to := range allStatuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestShippedOnlyMovesToDelivered(t *testing.T) {
	for _, to := range allStatuses {
		assert.Equal(t, to == StatusDelivered, CanTransition(StatusShipped, to), "shipped -> %s", to)
	}
	assert.False(t, StatusShipped.Cancellable())
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus("pending_payment")
	assert.True(t, ok)
	assert.Equal(t, StatusPendingPayment, s)

	_, ok = ParseStatus("completed")
	assert.False(t, ok)
}

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, StatusPendingPayment, InitialStatus(PaymentMethodMomo))
	assert.Equal(t, StatusPending, InitialStatus(PaymentMethodCOD))
	assert.Equal(t, StatusPending, InitialStatus(PaymentMethodCard))
}

func TestMergeStockLines(t *testing.T) {
	merged, err := MergeStockLines([]StockLine{
		{ItemID: "A", Quantity: 2},
		{ItemID: "B", Quantity: 1},
		{ItemID: "A", Quantity: 3},
	})

	assert.NoError(t, err)
	assert.Equal(t, []StockLine{{ItemID: "A", Quantity: 5}, {ItemID: "B", Quantity: 1}}, merged)
}

func TestMergeStockLinesRejectsBadQuantities(t *testing.T) {
	cases := map[string][]StockLine{
		"zero":     {{ItemID: "A", Quantity: 0}},
		"negative": {{ItemID: "A", Quantity: -1}},
		"too many": {{ItemID: "A", Quantity: MaxLineQuantity + 1}},
		"sum over": {{ItemID: "A", Quantity: MaxLineQuantity}, {ItemID: "A", Quantity: 1}},
		"wrapping": {{ItemID: "A", Quantity: math.MaxInt}, {ItemID: "A", Quantity: math.MaxInt}, {ItemID: "A", Quantity: 1}},
	}

	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			merged, err := MergeStockLines(lines)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
			assert.Nil(t, merged)
		})
	}
}

func TestSummarizeOrders(t *testing.T) {
	stats := SummarizeOrders([]Order{
		{Status: StatusPaid, TotalAmount: 100},
		{Status: StatusDelivered, TotalAmount: 50},
		{Status: StatusCancelled, TotalAmount: 70},
		{Status: StatusPending, TotalAmount: 30},
	})

	assert.Equal(t, 4, stats.TotalOrders)
	assert.InDelta(t, 150, stats.TotalRevenue, 0.001)
	assert.Len(t, stats.ByStatus, 4)
}

func TestSummarizeNoOrdersHasEmptyBreakdown(t *testing.T) {
	stats := SummarizeOrders(nil)

	raw, err := json.Marshal(stats)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"totalOrders":0,"totalRevenue":0,"byStatus":[]}`, string(raw))
}

func TestOrderCloneIsDeep(t *testing.T) {
	o := &Order{
		Items:         []LineItem{{ItemID: "A", Quantity: 1}},
		PaymentResult: &PaymentResult{Raw: map[string]any{"k": "v"}},
	}
	c := o.Clone()
	c.Items[0].Quantity = 9
	c.PaymentResult.Raw["k"] = "changed"

	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.Equal(t, "v", o.PaymentResult.Raw["k"])
}

func TestInsufficientStockErrorNamesItem(t *testing.T) {
	err := &InsufficientStockError{ItemID: "B", Name: "Blue Train", Requested: 2, Available: 1}
	assert.Contains(t, err.Error(), "Blue Train")
	assert.Contains(t, err.Error(), "requested 2")
}
