package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/eashman/realtime-chat/internal/apperr"
	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/database"
	"github.com/eashman/realtime-chat/internal/database/models"
	"github.com/eashman/realtime-chat/internal/metrics"
	"github.com/eashman/realtime-chat/internal/policy"
)

func NewMessageService(rooms *RoomService, limits Limits) *MessageService {
	return &MessageService{
		baseService: rooms.baseService,
		Rooms:       rooms,
		Limits:      limits,
	}
}

type MessageService struct {
	baseService

	Rooms  *RoomService
	Limits Limits
}

// ListRecent returns up to one page of a room's history, oldest first. The
// initial fetch (no BeforeID) also marks the room as read for actor.
func (s *MessageService) ListRecent(ctx context.Context, actor cctx.Actor, roomID int64, page Page) (messages []Message, err error) {
	messages = make([]Message, 0)

	if _, err = s.authorizeRoom(ctx, s.DB, actor, policy.RoomRead, roomID); err != nil {
		return
	}

	var dbMessages []models.Message
	q := s.messages(s.DB, &dbMessages).
		Where("m.room_id = ?", roomID)
	if err = s.paginate(q, page).Scan(ctx); err != nil {
		return
	}

	messages = ascending(dbMessages)

	if page.BeforeID == 0 {
		err = s.Rooms.recordActivity(ctx, s.DB, actor, roomID)
	}
	return
}

// Search matches phrase case-insensitively against message bodies in every
// room actor can read, or only in RoomID when set.
func (s *MessageService) Search(ctx context.Context, actor cctx.Actor, query SearchQuery) (messages []Message, err error) {
	messages = make([]Message, 0)

	if strings.TrimSpace(query.Phrase) == "" {
		err = apperr.NewValidation("phrase", apperr.Blank)
		return
	}

	if query.RoomID > 0 {
		if _, err = s.authorizeRoom(ctx, s.DB, actor, policy.RoomRead, query.RoomID); err != nil {
			return
		}
	}
	metrics.SearchQueries.Inc()

	var dbMessages []models.Message
	q := s.messages(s.DB, &dbMessages).
		Join("JOIN rooms AS r ON r.id = m.room_id").
		Where("r.deleted_at IS NULL")
	q = s.readableRooms(q, s.DB, actor)

	if query.RoomID > 0 {
		q = q.Where("m.room_id = ?", query.RoomID)
	}

	pattern := "%" + escapeLike(query.Phrase) + "%"
	if database.IsPostgres(s.DB) {
		q = q.Where(`m.body ILIKE ? ESCAPE '\'`, pattern)
	} else {
		q = q.Where(`LOWER(m.body) LIKE LOWER(?) ESCAPE '\'`, pattern)
	}

	if err = s.paginate(q, query.Page).Scan(ctx); err != nil {
		return
	}

	messages = ascending(dbMessages)
	return
}

func (s *MessageService) Get(ctx context.Context, actor cctx.Actor, roomID, messageID int64) (msg Message, err error) {
	if _, err = s.authorizeRoom(ctx, s.DB, actor, policy.RoomRead, roomID); err != nil {
		return
	}

	var dbMsg models.Message
	if dbMsg, err = s.findMessage(ctx, s.DB, roomID, messageID, false); err != nil {
		return
	}

	msg.FromModel(dbMsg)
	return
}

// Create stores a message, claims the listed attachments that actor uploaded
// and that are still unassigned, and announces the result to the room.
func (s *MessageService) Create(ctx context.Context, actor cctx.Actor, roomID int64, input CreateMessage) (msg Message, err error) {
	if err = s.Limits.validateBody(input.Body); err != nil {
		return
	}

	now := time.Now()
	dbMsg := models.Message{
		RoomID:    roomID,
		UserID:    actor.ID,
		Body:      input.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		if _, err = s.authorizeRoom(ctx, tx, actor, policy.RoomRead, roomID); err != nil {
			return
		}

		_, err = tx.NewInsert().
			Model(&dbMsg).
			Exec(ctx)
		if err != nil {
			return
		}

		if len(input.AttachmentIDs) > 0 {
			_, err = tx.NewUpdate().
				Model((*models.Attachment)(nil)).
				Set("room_message_id = ?", dbMsg.ID).
				Where("id IN (?)", bun.In(input.AttachmentIDs)).
				Where("user_id = ?", actor.ID).
				Where("room_message_id IS NULL").
				Exec(ctx)
			if err != nil {
				return
			}
		}

		dbMsg, err = s.findMessage(ctx, tx, roomID, dbMsg.ID, false)
		return
	})
	if err != nil {
		return
	}

	msg.FromModel(dbMsg)
	metrics.MessagesTotal.WithLabelValues("create").Inc()
	s.Publisher.Publish(broadcast.Room(roomID), broadcast.RoomMessageCreate, msg)
	return
}

// Update replaces the body of actor's own message. Concurrent edits are last-write-wins.
func (s *MessageService) Update(ctx context.Context, actor cctx.Actor, roomID, messageID int64, body string) (msg Message, err error) {
	var dbMsg models.Message

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		var room models.Room
		if room, err = s.authorizeRoom(ctx, tx, actor, policy.RoomRead, roomID); err != nil {
			return
		}

		if dbMsg, err = s.findMessage(ctx, tx, roomID, messageID, false); err != nil {
			return
		}

		res := policy.Resource{Room: &room, Message: &dbMsg}
		if err = policy.Authorize(ctx, s.Policy, actor, policy.MessageUpdate, res); err != nil {
			return
		}

		if err = s.Limits.validateBody(body); err != nil {
			return
		}

		dbMsg.Body = body
		dbMsg.Edited = true
		dbMsg.UpdatedAt = time.Now()

		_, err = tx.NewUpdate().
			Model(&dbMsg).
			Column("body", "edited", "updated_at").
			WherePK().
			Exec(ctx)
		return
	})
	if err != nil {
		return
	}

	msg.FromModel(dbMsg)
	metrics.MessagesTotal.WithLabelValues("update").Inc()
	s.Publisher.Publish(broadcast.Room(roomID), broadcast.RoomMessageUpdate, msg)
	return
}

// Delete soft-deletes actor's own message. Deleting an already deleted
// message succeeds without announcing anything.
func (s *MessageService) Delete(ctx context.Context, actor cctx.Actor, roomID, messageID int64) (err error) {
	var dbMsg models.Message
	var deleted bool

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		var room models.Room
		if room, err = s.authorizeRoom(ctx, tx, actor, policy.RoomRead, roomID); err != nil {
			return
		}

		if dbMsg, err = s.findMessage(ctx, tx, roomID, messageID, true); err != nil {
			return
		}

		res := policy.Resource{Room: &room, Message: &dbMsg}
		if err = policy.Authorize(ctx, s.Policy, actor, policy.MessageDelete, res); err != nil {
			return
		}

		if dbMsg.Deleted() {
			return
		}

		var result sql.Result
		result, err = tx.NewDelete().
			Model(&dbMsg).
			WherePK().
			Exec(ctx)
		if err != nil {
			return
		}

		var affected int64
		if affected, err = result.RowsAffected(); err != nil {
			return
		}
		if deleted = affected > 0; !deleted {
			return
		}

		dbMsg, err = s.findMessage(ctx, tx, roomID, messageID, true)
		return
	})
	if err != nil || !deleted {
		return
	}

	metrics.MessagesTotal.WithLabelValues("delete").Inc()

	if !dbMsg.Valid() {
		zap.L().Warn("not announcing deletion of invalid message",
			zap.Int64("message_id", dbMsg.ID),
			zap.Int64("room_id", dbMsg.RoomID),
		)
		return
	}

	s.Publisher.Publish(broadcast.Room(roomID), broadcast.RoomMessageDestroy, MessageFromModel(dbMsg))
	return
}

func (s *MessageService) messages(db bun.IDB, dest *[]models.Message) *bun.SelectQuery {
	return db.NewSelect().
		Model(dest).
		Relation("User").
		Relation("Attachments", orderAttachments)
}

func orderAttachments(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("a.id ASC")
}

func (s *MessageService) paginate(q *bun.SelectQuery, page Page) *bun.SelectQuery {
	if page.BeforeID > 0 {
		q = q.Where("m.id < ?", page.BeforeID)
	}
	return q.
		Order("m.id DESC").
		Limit(s.Limits.pageSize(page.Limit))
}

// findMessage loads a message of roomID. Soft-deleted messages count as
// missing unless withDeleted is set.
func (s *MessageService) findMessage(ctx context.Context, db bun.IDB, roomID, messageID int64, withDeleted bool) (msg models.Message, err error) {
	q := db.NewSelect().
		Model(&msg).
		Relation("User").
		Relation("Attachments", orderAttachments).
		Where("m.id = ?", messageID).
		Where("m.room_id = ?", roomID)
	if withDeleted {
		q = q.WhereAllWithDeleted()
	}

	err = q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		err = apperr.NotFound("message", messageID)
	}
	return
}

// ascending reverses a newest-first page.
func ascending(dbMessages []models.Message) []Message {
	messages := make([]Message, 0, len(dbMessages))
	for i := len(dbMessages) - 1; i >= 0; i-- {
		messages = append(messages, MessageFromModel(dbMessages[i]))
	}
	return messages
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
