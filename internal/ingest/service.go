// Package ingest is the remote authority that receives terminal packets.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"offline-pos/internal/models"
	"offline-pos/internal/util"

	"go.uber.org/zap"
)

// ErrPacketBusy means another request is ingesting the same packet. The
// terminal retries.
var ErrPacketBusy = errors.New("packet is being ingested")

type PacketStore interface {
	SavePacket(ctx context.Context, p *models.SyncPacket) (bool, error)
}

// Deduper remembers recently ingested packets and serializes concurrent
// deliveries of one packet.
type Deduper interface {
	Ingested(ctx context.Context, packetID string) (bool, error)
	MarkIngested(ctx context.Context, packetID, terminalID string) error
	LockPacket(ctx context.Context, packetID string) (bool, error)
	UnlockPacket(ctx context.Context, packetID string) error
}

type EventSink interface {
	PacketIngested(ctx context.Context, packet *models.SyncPacket) error
}

type Service struct {
	store  PacketStore
	dedupe Deduper
	events EventSink
	logger *zap.Logger
}

// NewService creates the ingest service. dedupe and events may be nil.
func NewService(store PacketStore, dedupe Deduper, events EventSink) *Service {
	return &Service{
		store:  store,
		dedupe: dedupe,
		events: events,
		logger: util.GetLogger(),
	}
}

// Ingest persists a packet for the terminal named in claims. Duplicates are
// acknowledged with SUCCESS so the terminal can drop them from its outbox.
func (s *Service) Ingest(ctx context.Context, claims *Claims, packet *models.SyncPacket) (*models.SyncAck, error) {
	ctx, span := util.StartSpan(ctx, "IngestService.Ingest")
	defer span.End()

	if errs := validate(claims, packet); len(errs) > 0 {
		util.PacketsIngestedTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("Packet rejected",
			zap.String("packet_id", packet.ID),
			zap.String("terminal_id", packet.TerminalID),
			zap.Strings("errors", errs))
		return &models.SyncAck{Status: models.AckRejected, Errors: errs}, nil
	}

	if s.dedupe != nil {
		seen, err := s.dedupe.Ingested(ctx, packet.ID)
		if err != nil {
			s.logger.Warn("Idempotency check failed, falling back to database", zap.Error(err))
		} else if seen {
			util.PacketsIngestedTotal.WithLabelValues("duplicate").Inc()
			return &models.SyncAck{Status: models.AckSuccess}, nil
		}

		locked, err := s.dedupe.LockPacket(ctx, packet.ID)
		if err != nil {
			s.logger.Warn("Packet lock unavailable, relying on database", zap.Error(err))
		} else if !locked {
			util.PacketsIngestedTotal.WithLabelValues("busy").Inc()
			return nil, ErrPacketBusy
		} else {
			defer func() {
				if err := s.dedupe.UnlockPacket(context.Background(), packet.ID); err != nil {
					s.logger.Warn("Failed to release packet lock", zap.String("packet_id", packet.ID), zap.Error(err))
				}
			}()
		}
	}

	stored, err := s.store.SavePacket(ctx, packet)
	if err != nil {
		util.PacketsIngestedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to ingest packet %s: %w", packet.ID, err)
	}

	if s.dedupe != nil {
		if err := s.dedupe.MarkIngested(ctx, packet.ID, packet.TerminalID); err != nil {
			s.logger.Warn("Failed to set idempotency key", zap.String("packet_id", packet.ID), zap.Error(err))
		}
	}

	if !stored {
		util.PacketsIngestedTotal.WithLabelValues("duplicate").Inc()
		return &models.SyncAck{Status: models.AckSuccess}, nil
	}

	if s.events != nil {
		if err := s.events.PacketIngested(ctx, packet); err != nil {
			s.logger.Error("Failed to publish ingest events", zap.String("packet_id", packet.ID), zap.Error(err))
		}
	}

	util.PacketsIngestedTotal.WithLabelValues("success").Inc()
	s.logger.Info("Packet ingested",
		zap.String("packet_id", packet.ID),
		zap.String("terminal_id", packet.TerminalID),
		zap.Int("sales", len(packet.Sales)),
		zap.Int("stock_movements", len(packet.StockMovements)))
	return &models.SyncAck{Status: models.AckSuccess}, nil
}

func validate(claims *Claims, p *models.SyncPacket) []string {
	var errs []string
	if p.ID == "" {
		errs = append(errs, "packet id is required")
	}
	if claims == nil {
		return append(errs, "missing terminal credentials")
	}
	if p.TerminalID != claims.TerminalID {
		errs = append(errs, fmt.Sprintf("terminal %q does not match token", p.TerminalID))
	}
	if p.OrganizationID != claims.OrganizationID {
		errs = append(errs, fmt.Sprintf("organization %q does not match token", p.OrganizationID))
	}
	for _, sale := range p.Sales {
		if sale.ID == "" || sale.InvoiceNumber == "" {
			errs = append(errs, "sale without id or invoice number")
			break
		}
	}
	return errs
}
