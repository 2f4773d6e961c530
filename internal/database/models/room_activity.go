package models

import (
	"time"

	"github.com/uptrace/bun"
)

type RoomActivity struct {
	bun.BaseModel `bun:"table:room_activities,alias:ra"`

	ID            int64     `bun:",pk,autoincrement"`
	UserID        int64     `bun:",notnull"`
	RoomID        int64     `bun:",notnull"`
	LastReadAt    time.Time `bun:",notnull"`
	LastMessageID int64     `bun:",notnull"`
}
