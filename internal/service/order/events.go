package order

import (
	"time"

	"github.com/Additional-Code/bono/internal/lifecycle"
)

const (
	EventBatchCreated      = "batch.created"
	EventBatchTransitioned = "batch.transitioned"
)

// BatchEvent is the durable record of a committed batch change, keyed by
// batch id on the bus.
type BatchEvent struct {
	Type       string           `json:"type"`
	BatchID    string           `json:"batch_id"`
	CustomerID string           `json:"customer_id,omitempty"`
	From       lifecycle.Status `json:"from,omitempty"`
	To         lifecycle.Status `json:"to"`
	BonoNumber *int             `json:"bono_number,omitempty"`
	ActorID    string           `json:"actor_id,omitempty"`
	ActorRole  lifecycle.Role   `json:"actor_role,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
