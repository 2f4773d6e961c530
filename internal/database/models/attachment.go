package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Attachment struct {
	bun.BaseModel `bun:"table:attachments,alias:a"`

	ID            int64     `bun:",pk,autoincrement"`
	RoomMessageID int64     `bun:",nullzero"`
	UserID        int64     `bun:",notnull"`
	FileName      string    `bun:",notnull"`
	ContentRef    string    `bun:",notnull"`
	CreatedAt     time.Time `bun:",notnull"`
}
