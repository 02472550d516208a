// Package events fans out committed order transitions to in-process and
// websocket subscribers.
package events

import (
	"time"

	"P2PEscrow/internal/models"
)

// Event describes one committed order status change.
type Event struct {
	Type     string             `json:"type"`
	OrderID  string             `json:"order_id"`
	EscrowID string             `json:"escrow_id,omitempty"`
	From     models.OrderStatus `json:"from"`
	To       models.OrderStatus `json:"to"`
	At       time.Time          `json:"at"`
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
