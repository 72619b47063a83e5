package entity

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/bono/internal/lifecycle"
)

// User is a customer or a staff member.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string         `bun:",pk"`
	Name      string         `bun:"name,notnull"`
	Role      lifecycle.Role `bun:"role,notnull"`
	APIToken  string         `bun:"api_token,unique" json:"-"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
