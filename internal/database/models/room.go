package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Room struct {
	bun.BaseModel `bun:"table:rooms,alias:r"`

	ID        int64     `bun:",pk,autoincrement"`
	Name      string    `bun:",notnull"`
	UserID    int64     `bun:",notnull"`
	Public    bool      `bun:",notnull"`
	CreatedAt time.Time `bun:",notnull"`
	UpdatedAt time.Time `bun:",notnull"`
	DeletedAt time.Time `bun:",soft_delete,nullzero"`
}

func (r *Room) Closed() bool {
	return !r.DeletedAt.IsZero()
}

type RoomUser struct {
	bun.BaseModel `bun:"table:rooms_users,alias:ru"`

	ID        int64     `bun:",pk,autoincrement"`
	RoomID    int64     `bun:",notnull"`
	UserID    int64     `bun:",notnull"`
	CreatedAt time.Time `bun:",notnull"`
}
