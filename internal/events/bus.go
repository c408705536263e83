package events

import (
	"context"
	"encoding/json"
	"sync"
)

// Op is the kind of mutation a change event describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Table names used in change events.
const (
	TableProducts         = "products"
	TableSales            = "sales"
	TableStockMovements   = "stock_movements"
	TableStockAudits      = "stock_audits"
	TableDiscounts        = "discounts"
	TableCustomers        = "customers"
	TableShifts           = "shifts"
	TableCashTransactions = "cash_transactions"
	TableSettings         = "settings"
	TableSyncQueue        = "sync_queue"
	TableCartItems        = "cart_items"
	TableUsers            = "users"
	TableAuditLogs        = "audit_logs"
)

// ChangeEvent is emitted once per mutated entity after the owning transaction commits.
type ChangeEvent struct {
	Table    string `json:"table"`
	Op       Op     `json:"op"`
	EntityID string `json:"entity_id"`
}

// Bus fans change events out to subscribers without blocking publishers.
type Bus struct {
	subscribers map[string]chan ChangeEvent
	mu          sync.RWMutex
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]chan ChangeEvent),
	}
}

// Subscribe registers a subscriber until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, id string) <-chan ChangeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, exists := b.subscribers[id]; exists {
		close(old)
	}
	ch := make(chan ChangeEvent, 64)
	b.subscribers[id] = ch

	go func() {
		<-ctx.Done()
		b.unsubscribe(id, ch)
	}()

	return ch
}

func (b *Bus) unsubscribe(id string, ch chan ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, exists := b.subscribers[id]; exists && cur == ch {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish delivers events to every subscriber; full subscriber buffers drop the event.
func (b *Bus) Publish(evts ...ChangeEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, evt := range evts {
		for _, ch := range b.subscribers {
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

// FormatSSE formats an event as a Server-Sent Event frame
func FormatSSE(evt ChangeEvent) (string, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}
	return "event: " + evt.Table + "\ndata: " + string(data) + "\n\n", nil
}
