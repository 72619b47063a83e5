package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Food is a catalog item. Price is read at checkout and copied onto the line.
type Food struct {
	bun.BaseModel `bun:"table:foods,alias:f"`

	ID        string          `bun:",pk"`
	Name      string          `bun:"name,notnull"`
	Price     decimal.Decimal `bun:"price,type:numeric(12,2),notnull"`
	Available bool            `bun:"available,notnull"`
	CreatedAt time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time       `bun:"updated_at,nullzero"`
}
