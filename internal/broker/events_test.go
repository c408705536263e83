package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"offline-pos/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	key   string
	event interface{}
}

type fakeProducer struct {
	sent []recorded
	err  error
}

func (f *fakeProducer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, recorded{key, event})
	return nil
}

func TestPacketIngestedFansOutPerSale(t *testing.T) {
	producer := &fakeProducer{}
	packet := &models.SyncPacket{
		ID:             "p-1",
		TerminalID:     "t-1",
		OrganizationID: "org-1",
		Sales: []models.Sale{
			{ID: "s-1", InvoiceNumber: "000001", Status: models.SaleStatusCompleted, TotalAmount: 20},
			{ID: "s-2", InvoiceNumber: "000002", Status: models.SaleStatusVoided, TotalAmount: 5},
		},
		StockMovements: []models.StockMovement{{ID: "m-1"}},
	}

	require.NoError(t, NewEventPublisher(producer).PacketIngested(context.Background(), packet))
	require.Len(t, producer.sent, 3)

	ingested, ok := producer.sent[0].event.(*models.SyncPacketIngestedEvent)
	require.True(t, ok)
	assert.Equal(t, "terminal-t-1", producer.sent[0].key)
	assert.Equal(t, models.EventTypeSyncPacketIngested, ingested.EventType)
	assert.Equal(t, 2, ingested.Sales)
	assert.Equal(t, 1, ingested.StockMovements)

	voided, ok := producer.sent[2].event.(*models.SaleSyncedEvent)
	require.True(t, ok)
	assert.Equal(t, "s-2", voided.SaleID)
	assert.Equal(t, models.SaleStatusVoided, voided.Status)
	assert.NotEqual(t, ingested.EventID, voided.EventID)
}

func TestPacketIngestedStopsOnError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	err := NewEventPublisher(producer).PacketIngested(context.Background(), &models.SyncPacket{ID: "p-1"})
	assert.EqualError(t, err, "broker down")
}

func TestHandleMessageRoutesByType(t *testing.T) {
	var gotPacket *models.SyncPacketIngestedEvent
	var gotSale *models.SaleSyncedEvent

	h := NewEventHandler()
	h.OnPacketIngested(func(ctx context.Context, e *models.SyncPacketIngestedEvent) error {
		gotPacket = e
		return nil
	})
	h.OnSaleSynced(func(ctx context.Context, e *models.SaleSyncedEvent) error {
		gotSale = e
		return nil
	})

	value, err := json.Marshal(&models.SaleSyncedEvent{
		BaseEvent: models.BaseEvent{EventID: "e-1", EventType: models.EventTypeSaleSynced},
		SaleID:    "s-1",
	})
	require.NoError(t, err)
	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: value}))
	require.NotNil(t, gotSale)
	assert.Equal(t, "s-1", gotSale.SaleID)
	assert.Nil(t, gotPacket)

	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"OTHER"}`)}))
	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`not json`)}))
}
