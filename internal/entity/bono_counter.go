package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// BonoCounterID is the primary key of the single counter row.
const BonoCounterID = 1

// BonoCounter stores the last handed out pickup number.
type BonoCounter struct {
	bun.BaseModel `bun:"table:bono_counters,alias:bc"`

	ID         int       `bun:",pk"`
	LastNumber int       `bun:"last_number,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero"`
}
