package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusRoundTripsAsString(t *testing.T) {
	data, err := json.Marshal(struct {
		Status OrderStatus `json:"status"`
	}{OrderStatusShipped})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"shipped"}`, string(data))

	var decoded struct {
		Status OrderStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, OrderStatusShipped, decoded.Status)

	v, err := OrderStatusRefunded.Value()
	require.NoError(t, err)
	assert.Equal(t, "refunded", v)

	var scanned OrderStatus
	require.NoError(t, scanned.Scan([]byte("processing")))
	assert.Equal(t, OrderStatusProcessing, scanned)
}

func TestOrderStatusRejectsUnknownValues(t *testing.T) {
	_, err := ParseOrderStatus("lost")
	assert.ErrorIs(t, err, ErrInvalidOrderStatus)

	var s OrderStatus
	assert.Error(t, json.Unmarshal([]byte(`"lost"`), &s))
	assert.Error(t, s.Scan(int64(3)))

	_, err = OrderStatusUnknown.Value()
	assert.ErrorIs(t, err, ErrInvalidOrderStatus)
}

func TestOrderStatusTransitions(t *testing.T) {
	assert.True(t, OrderStatusPending.CanTransitionTo(OrderStatusConfirmed))
	assert.True(t, OrderStatusPending.CanTransitionTo(OrderStatusCancelled))
	assert.True(t, OrderStatusShipped.CanTransitionTo(OrderStatusRefunded))
	assert.False(t, OrderStatusPending.CanTransitionTo(OrderStatusRefunded))
	assert.False(t, OrderStatusDelivered.CanTransitionTo(OrderStatusShipped))
	assert.False(t, OrderStatusCancelled.CanTransitionTo(OrderStatusPending))
}

func TestMirroredPriceID(t *testing.T) {
	id := "price_123"
	book := &Book{SyncStatus: SyncStatusSynced, ExternalPriceID: &id}
	got, ok := book.MirroredPriceID()
	assert.True(t, ok)
	assert.Equal(t, id, got)

	book.SyncStatus = SyncStatusFailed
	_, ok = book.MirroredPriceID()
	assert.False(t, ok)
}
