package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/uptrace/bun"

	"github.com/eashman/realtime-chat/internal/apperr"
	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/database/models"
	"github.com/eashman/realtime-chat/internal/policy"
)

const (
	DefaultPageLimit        = 10
	DefaultMaxMessageLength = 2000
)

type Limits struct {
	PageLimit        int
	MaxMessageLength int
}

func (l Limits) pageSize(requested int) int {
	max := l.PageLimit
	if max <= 0 {
		max = DefaultPageLimit
	}
	if requested <= 0 || requested > max {
		return max
	}
	return requested
}

func (l Limits) validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return apperr.NewValidation("body", apperr.Blank)
	}

	max := l.MaxMessageLength
	if max <= 0 {
		max = DefaultMaxMessageLength
	}
	if utf8.RuneCountInString(body) > max {
		return apperr.NewValidation("body", "is too long")
	}
	return nil
}

type baseService struct {
	DB        *bun.DB
	Policy    policy.Engine
	Publisher broadcast.Broadcaster
}

// findRoom loads an open room. Closed rooms are reported as missing.
func (s *baseService) findRoom(ctx context.Context, db bun.IDB, roomID int64) (room models.Room, err error) {
	err = db.NewSelect().
		Model(&room).
		Where("r.id = ?", roomID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		err = apperr.NotFound("room", roomID)
	}
	return
}

func (s *baseService) inRoom(ctx context.Context, db bun.IDB, userID, roomID int64) (bool, error) {
	return db.NewSelect().
		Model((*models.RoomUser)(nil)).
		Where("ru.room_id = ?", roomID).
		Where("ru.user_id = ?", userID).
		Exists(ctx)
}

// authorizeRoom loads the room and checks action against it. Membership is
// only looked up when ownership and visibility don't already decide.
func (s *baseService) authorizeRoom(ctx context.Context, db bun.IDB, actor cctx.Actor, action policy.Action, roomID int64) (room models.Room, err error) {
	if room, err = s.findRoom(ctx, db, roomID); err != nil {
		return
	}

	res := policy.Resource{Room: &room}
	if action == policy.RoomRead && !room.Public && room.UserID != actor.ID {
		if res.Member, err = s.inRoom(ctx, db, actor.ID, roomID); err != nil {
			return
		}
	}

	err = policy.Authorize(ctx, s.Policy, actor, action, res)
	return
}

// readableRooms restricts a query joined on rooms AS r to the rooms actor can read.
func (s *baseService) readableRooms(q *bun.SelectQuery, db bun.IDB, actor cctx.Actor) *bun.SelectQuery {
	memberOf := db.NewSelect().
		Model((*models.RoomUser)(nil)).
		Column("ru.room_id").
		Where("ru.user_id = ?", actor.ID)

	return q.Where("r.public = ? OR r.user_id = ? OR r.id IN (?)", true, actor.ID, memberOf)
}
