package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"offline-pos/internal/models"
	"offline-pos/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is what the receiver needs from Kafka.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher publishes receiver events keyed by terminal.
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PacketIngested publishes one SYNC_PACKET_INGESTED event and one
// SALE_SYNCED event per sale in the packet.
func (ep *EventPublisher) PacketIngested(ctx context.Context, packet *models.SyncPacket) error {
	key := "terminal-" + packet.TerminalID
	if err := ep.PublishSyncPacketIngested(ctx, key, &models.SyncPacketIngestedEvent{
		BaseEvent:      newBase(models.EventTypeSyncPacketIngested),
		PacketID:       packet.ID,
		TerminalID:     packet.TerminalID,
		OrganizationID: packet.OrganizationID,
		Sales:          len(packet.Sales),
		StockMovements: len(packet.StockMovements),
		Shifts:         len(packet.Shifts),
		AuditLogs:      len(packet.AuditLogs),
	}); err != nil {
		return err
	}

	for _, sale := range packet.Sales {
		if err := ep.PublishSaleSynced(ctx, key, &models.SaleSyncedEvent{
			BaseEvent:      newBase(models.EventTypeSaleSynced),
			SaleID:         sale.ID,
			InvoiceNumber:  sale.InvoiceNumber,
			TerminalID:     packet.TerminalID,
			OrganizationID: packet.OrganizationID,
			Status:         sale.Status,
			TotalAmount:    sale.TotalAmount,
		}); err != nil {
			return err
		}
	}
	return nil
}

// PublishSyncPacketIngested publishes SyncPacketIngested event
func (ep *EventPublisher) PublishSyncPacketIngested(ctx context.Context, key string, event *models.SyncPacketIngestedEvent) error {
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishSaleSynced publishes SaleSynced event
func (ep *EventPublisher) PublishSaleSynced(ctx context.Context, key string, event *models.SaleSyncedEvent) error {
	return ep.producer.PublishEvent(ctx, key, event)
}

func newBase(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// EventHandler routes consumed receiver events to registered callbacks.
type EventHandler struct {
	onPacketIngested func(context.Context, *models.SyncPacketIngestedEvent) error
	onSaleSynced     func(context.Context, *models.SaleSyncedEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

func (eh *EventHandler) OnPacketIngested(handler func(context.Context, *models.SyncPacketIngestedEvent) error) {
	eh.onPacketIngested = handler
}

func (eh *EventHandler) OnSaleSynced(handler func(context.Context, *models.SaleSyncedEvent) error) {
	eh.onSaleSynced = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeSyncPacketIngested:
		if eh.onPacketIngested != nil {
			var event models.SyncPacketIngestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SyncPacketIngested event: %w", err)
			}
			return eh.onPacketIngested(ctx, &event)
		}

	case models.EventTypeSaleSynced:
		if eh.onSaleSynced != nil {
			var event models.SaleSyncedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleSynced event: %w", err)
			}
			return eh.onSaleSynced(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
