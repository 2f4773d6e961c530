package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type Message struct {
	bun.BaseModel `bun:"table:room_messages,alias:m"`

	ID        int64     `bun:",pk,autoincrement"`
	RoomID    int64     `bun:",notnull"`
	UserID    int64     `bun:",notnull"`
	Body      string    `bun:",notnull"`
	Edited    bool      `bun:",notnull"`
	CreatedAt time.Time `bun:",notnull"`
	UpdatedAt time.Time `bun:",notnull"`
	DeletedAt time.Time `bun:",soft_delete,nullzero"`

	User        *User         `bun:"rel:belongs-to,join:user_id=id"`
	Attachments []*Attachment `bun:"rel:has-many,join:id=room_message_id"`
}

func (m *Message) Deleted() bool {
	return !m.DeletedAt.IsZero()
}

// Valid reports whether the record is consistent enough to be announced to
// subscribers.
func (m *Message) Valid() bool {
	if m.ID == 0 || m.RoomID == 0 || m.UserID == 0 {
		return false
	}
	return strings.TrimSpace(m.Body) != ""
}
