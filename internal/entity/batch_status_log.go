package entity

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/bono/internal/lifecycle"
)

// BatchStatusLog is one row of a batch's history, appended by the worker.
type BatchStatusLog struct {
	bun.BaseModel `bun:"table:batch_status_log,alias:bsl"`

	ID         int64            `bun:",pk,autoincrement"`
	BatchID    string           `bun:"batch_id,notnull"`
	FromStatus lifecycle.Status `bun:"from_status,nullzero"`
	ToStatus   lifecycle.Status `bun:"to_status,notnull"`
	ActorID    string           `bun:"actor_id,nullzero"`
	ActorRole  lifecycle.Role   `bun:"actor_role,nullzero"`
	BonoNumber *int             `bun:"bono_number"`
	OccurredAt time.Time        `bun:"occurred_at,notnull"`
}
