package models

import (
	"time"

	"github.com/uptrace/bun"
)

// User mirrors an identity-provider subject; ID is the provider's user id.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64     `bun:",pk"`
	Username  string    `bun:",notnull"`
	CreatedAt time.Time `bun:",notnull"`
}
