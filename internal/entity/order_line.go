package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/Additional-Code/bono/internal/lifecycle"
)

// OrderLine is one food item of a batch. Every line of a batch carries the
// same status and bono number; they are only ever written together.
type OrderLine struct {
	bun.BaseModel `bun:"table:order_lines,alias:ol"`

	ID         int64            `bun:",pk,autoincrement"`
	BatchID    string           `bun:"batch_id,notnull"`
	CustomerID string           `bun:"customer_id,notnull"`
	FoodID     string           `bun:"food_id,notnull"`
	Quantity   int              `bun:"quantity,notnull"`
	UnitPrice  decimal.Decimal  `bun:"unit_price,type:numeric(12,2),notnull"`
	LineTotal  decimal.Decimal  `bun:"line_total,type:numeric(12,2),notnull"`
	Status     lifecycle.Status `bun:"status,notnull"`
	BonoNumber *int             `bun:"bono_number"`
	CreatedAt  time.Time        `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time        `bun:"updated_at,nullzero"`

	Food     *Food `bun:"rel:belongs-to,join:food_id=id"`
	Customer *User `bun:"rel:belongs-to,join:customer_id=id"`
}
