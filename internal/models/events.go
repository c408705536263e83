package models

import "time"

// SyncPacket is the unit of locally committed work delivered to the remote authority.
// Any subset of the entity lists may be present; a packet is never split or merged.
type SyncPacket struct {
	ID             string          `json:"id"`
	TerminalID     string          `json:"terminal_id"`
	TerminalName   string          `json:"terminal_name,omitempty"`
	OrganizationID string          `json:"organization_id"`
	CreatedAt      time.Time       `json:"created_at"`
	Sales          []Sale          `json:"sales,omitempty"`
	StockMovements []StockMovement `json:"stock_movements,omitempty"`
	Shifts         []Shift         `json:"shifts,omitempty"`
	AuditLogs      []AuditLog      `json:"audit_logs,omitempty"`
}

func (p *SyncPacket) Empty() bool {
	return len(p.Sales) == 0 && len(p.StockMovements) == 0 && len(p.Shifts) == 0 && len(p.AuditLogs) == 0
}

// SyncAck is the receiver's application-level answer.
type SyncAck struct {
	Status string   `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

const (
	AckSuccess  = "SUCCESS"
	AckRejected = "REJECTED"
)

// Event types published by the sync receiver
const (
	EventTypeSyncPacketIngested = "SYNC_PACKET_INGESTED"
	EventTypeSaleSynced         = "SALE_SYNCED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncPacketIngestedEvent published once a packet is persisted by the receiver
type SyncPacketIngestedEvent struct {
	BaseEvent
	PacketID       string `json:"packet_id"`
	TerminalID     string `json:"terminal_id"`
	OrganizationID string `json:"organization_id"`
	Sales          int    `json:"sales"`
	StockMovements int    `json:"stock_movements"`
	Shifts         int    `json:"shifts"`
	AuditLogs      int    `json:"audit_logs"`
}

// SaleSyncedEvent published per sale contained in an ingested packet
type SaleSyncedEvent struct {
	BaseEvent
	SaleID         string     `json:"sale_id"`
	InvoiceNumber  string     `json:"invoice_number"`
	TerminalID     string     `json:"terminal_id"`
	OrganizationID string     `json:"organization_id"`
	Status         SaleStatus `json:"status"`
	TotalAmount    float64    `json:"total_amount"`
}
