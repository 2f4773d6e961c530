package chat

import (
	"time"

	"github.com/eashman/realtime-chat/internal/database/models"
)

// Sent by client
type CreateMessage struct {
	Body          string  `json:"body"`
	AttachmentIDs []int64 `json:"attachment_ids"`
}

type UpdateMessage struct {
	Body string `json:"body"`
}

type CreateRoom struct {
	Name    string  `json:"name"`
	Public  bool    `json:"public"`
	UserIDs []int64 `json:"user_ids"`
}

// UpdateRoom changes only the fields that are set.
type UpdateRoom struct {
	Name   *string `json:"name"`
	Public *bool   `json:"public"`
}

type CreateAttachment struct {
	FileName   string `json:"file_name"`
	ContentRef string `json:"content_ref"`
}

// Page selects a slice of history. BeforeID is exclusive; zero means "newest".
type Page struct {
	Limit    int
	BeforeID int64
}

type SearchQuery struct {
	Phrase string
	RoomID int64
	Page
}

type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Attachment struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	URL      string `json:"url"`
}

type Message struct {
	ID          int64        `json:"id"`
	RoomID      int64        `json:"room_id"`
	UserID      int64        `json:"user_id"`
	Body        string       `json:"body"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Edited      bool         `json:"edited"`
	Deleted     bool         `json:"deleted"`
	User        UserRef      `json:"user"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	UserID    int64     `json:"user_id"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	MemberIDs []int64   `json:"member_ids,omitempty"`
}

type RoomActivity struct {
	RoomID        int64     `json:"room_id"`
	LastReadAt    time.Time `json:"last_read_at"`
	LastMessageID int64     `json:"last_message_id"`
}

func MessageFromModel(msg models.Message) (m Message) {
	m.FromModel(msg)
	return
}

func (m *Message) FromModel(msg models.Message) {
	m.ID = msg.ID
	m.RoomID = msg.RoomID
	m.UserID = msg.UserID
	m.Body = msg.Body
	m.CreatedAt = msg.CreatedAt
	m.UpdatedAt = msg.UpdatedAt
	m.Edited = msg.Edited
	m.Deleted = msg.Deleted()

	m.User = UserRef{ID: msg.UserID}
	if msg.User != nil {
		m.User.Username = msg.User.Username
	}

	m.Attachments = nil
	for _, a := range msg.Attachments {
		m.Attachments = append(m.Attachments, AttachmentFromModel(*a))
	}
}

func AttachmentFromModel(a models.Attachment) Attachment {
	return Attachment{
		ID:       a.ID,
		FileName: a.FileName,
		URL:      a.ContentRef,
	}
}

func RoomFromModel(room models.Room) Room {
	return Room{
		ID:        room.ID,
		Name:      room.Name,
		UserID:    room.UserID,
		Public:    room.Public,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
}
