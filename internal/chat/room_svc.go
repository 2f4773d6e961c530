package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/eashman/realtime-chat/internal/apperr"
	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/database/models"
	"github.com/eashman/realtime-chat/internal/policy"
)

func NewRoomService(db *bun.DB, engine policy.Engine, publisher broadcast.Broadcaster) *RoomService {
	return &RoomService{
		baseService: baseService{
			DB:        db,
			Policy:    engine,
			Publisher: publisher,
		},
	}
}

type RoomService struct {
	baseService
}

// List returns the open rooms actor can see, by name.
func (s *RoomService) List(ctx context.Context, actor cctx.Actor) (rooms []Room, err error) {
	rooms = make([]Room, 0)

	var dbRooms []models.Room
	q := s.DB.NewSelect().
		Model(&dbRooms).
		OrderExpr("LOWER(r.name) ASC, r.id ASC")
	if err = s.readableRooms(q, s.DB, actor).Scan(ctx); err != nil {
		return
	}

	for _, room := range dbRooms {
		rooms = append(rooms, RoomFromModel(room))
	}
	return
}

func (s *RoomService) Get(ctx context.Context, actor cctx.Actor, roomID int64) (room Room, err error) {
	var dbRoom models.Room
	if dbRoom, err = s.authorizeRoom(ctx, s.DB, actor, policy.RoomRead, roomID); err != nil {
		return
	}

	room = RoomFromModel(dbRoom)
	room.MemberIDs, err = s.memberIDs(ctx, s.DB, roomID)
	return
}

// CanRead reports whether actor may read roomID.
func (s *RoomService) CanRead(ctx context.Context, actor cctx.Actor, roomID int64) (err error) {
	_, err = s.authorizeRoom(ctx, s.DB, actor, policy.RoomRead, roomID)
	return
}

// Create opens a room owned by actor. The owner is always a member; private
// rooms also get the listed users.
func (s *RoomService) Create(ctx context.Context, actor cctx.Actor, input CreateRoom) (room Room, err error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		err = apperr.NewValidation("name", apperr.Blank)
		return
	}

	now := time.Now()
	dbRoom := models.Room{
		Name:      name,
		UserID:    actor.ID,
		Public:    input.Public,
		CreatedAt: now,
		UpdatedAt: now,
	}

	memberIDs := []int64{actor.ID}
	if !input.Public {
		for _, id := range input.UserIDs {
			if id > 0 && !containsID(memberIDs, id) {
				memberIDs = append(memberIDs, id)
			}
		}
	}

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		_, err = tx.NewInsert().
			Model(&dbRoom).
			Exec(ctx)
		if err != nil {
			return
		}

		members := make([]models.RoomUser, 0, len(memberIDs))
		for _, id := range memberIDs {
			members = append(members, models.RoomUser{
				RoomID:    dbRoom.ID,
				UserID:    id,
				CreatedAt: now,
			})
		}

		_, err = tx.NewInsert().
			Model(&members).
			Exec(ctx)
		return
	})
	if err != nil {
		return
	}

	room = RoomFromModel(dbRoom)
	room.MemberIDs = memberIDs
	s.announce(dbRoom, memberIDs, broadcast.RoomCreate, room)
	return
}

func (s *RoomService) Update(ctx context.Context, actor cctx.Actor, roomID int64, input UpdateRoom) (room Room, err error) {
	var dbRoom models.Room
	var memberIDs []int64

	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		err = apperr.NewValidation("name", apperr.Blank)
		return
	}

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		if dbRoom, err = s.authorizeRoom(ctx, tx, actor, policy.RoomUpdate, roomID); err != nil {
			return
		}

		if input.Name != nil {
			dbRoom.Name = strings.TrimSpace(*input.Name)
		}
		if input.Public != nil {
			dbRoom.Public = *input.Public
		}
		dbRoom.UpdatedAt = time.Now()

		_, err = tx.NewUpdate().
			Model(&dbRoom).
			Column("name", "public", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return
		}

		memberIDs, err = s.memberIDs(ctx, tx, roomID)
		return
	})
	if err != nil {
		return
	}

	room = RoomFromModel(dbRoom)
	room.MemberIDs = memberIDs
	if !dbRoom.Public {
		s.Publisher.Revoke(broadcast.Room(roomID), readers(dbRoom, memberIDs))
	}
	s.announce(dbRoom, memberIDs, broadcast.RoomUpdate, room)
	return
}

// Close soft-deletes the room, which hides it and its messages everywhere.
// Closing a closed room is a no-op.
func (s *RoomService) Close(ctx context.Context, actor cctx.Actor, roomID int64) (err error) {
	var dbRoom models.Room
	var memberIDs []int64
	var closed bool

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		err = tx.NewSelect().
			Model(&dbRoom).
			Where("r.id = ?", roomID).
			WhereAllWithDeleted().
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			err = apperr.NotFound("room", roomID)
		}
		if err != nil {
			return
		}

		if err = policy.Authorize(ctx, s.Policy, actor, policy.RoomClose, policy.Resource{Room: &dbRoom}); err != nil {
			return
		}

		if dbRoom.Closed() {
			return
		}

		if memberIDs, err = s.memberIDs(ctx, tx, roomID); err != nil {
			return
		}

		var result sql.Result
		result, err = tx.NewDelete().
			Model(&dbRoom).
			WherePK().
			Exec(ctx)
		if err != nil {
			return
		}

		var affected int64
		affected, err = result.RowsAffected()
		closed = affected > 0
		return
	})
	if err != nil || !closed {
		return
	}

	s.Publisher.Revoke(broadcast.Room(roomID), nil)
	s.announce(dbRoom, memberIDs, broadcast.RoomClose, RoomFromModel(dbRoom))
	return
}

// AddMember lets userID into the room and opens it on their side.
func (s *RoomService) AddMember(ctx context.Context, actor cctx.Actor, roomID, userID int64) (err error) {
	if userID <= 0 {
		err = apperr.NewValidation("user_id", apperr.Blank)
		return
	}

	var dbRoom models.Room
	var added bool

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		if dbRoom, err = s.authorizeRoom(ctx, tx, actor, policy.RoomManageMembers, roomID); err != nil {
			return
		}

		var result sql.Result
		result, err = tx.NewInsert().
			Model(&models.RoomUser{RoomID: roomID, UserID: userID, CreatedAt: time.Now()}).
			On("CONFLICT (room_id, user_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return
		}

		var affected int64
		affected, err = result.RowsAffected()
		added = affected > 0
		return
	})
	if err != nil || !added {
		return
	}

	s.Publisher.Publish(broadcast.User(userID), broadcast.RoomOpen, RoomFromModel(dbRoom))
	return
}

// RemoveMember takes userID out of the room and closes it on their side. The
// owner cannot be removed.
func (s *RoomService) RemoveMember(ctx context.Context, actor cctx.Actor, roomID, userID int64) (err error) {
	var dbRoom models.Room
	var memberIDs []int64
	var removed bool

	err = s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		if dbRoom, err = s.authorizeRoom(ctx, tx, actor, policy.RoomManageMembers, roomID); err != nil {
			return
		}

		if userID == dbRoom.UserID {
			err = apperr.NewValidation("user_id", "can't remove the owner")
			return
		}

		var result sql.Result
		result, err = tx.NewDelete().
			Model((*models.RoomUser)(nil)).
			Where("room_id = ?", roomID).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return
		}

		var affected int64
		if affected, err = result.RowsAffected(); err != nil || affected == 0 {
			return
		}
		removed = true

		memberIDs, err = s.memberIDs(ctx, tx, roomID)
		return
	})
	if err != nil || !removed {
		return
	}

	if !dbRoom.Public {
		s.Publisher.Revoke(broadcast.Room(roomID), readers(dbRoom, memberIDs))
	}
	s.Publisher.Publish(broadcast.User(userID), broadcast.RoomClose, RoomFromModel(dbRoom))
	return
}

// RecordActivity marks the room as read by actor up to its newest message.
func (s *RoomService) RecordActivity(ctx context.Context, actor cctx.Actor, roomID int64) (err error) {
	if _, err = s.authorizeRoom(ctx, s.DB, actor, policy.RoomRead, roomID); err != nil {
		return
	}
	return s.recordActivity(ctx, s.DB, actor, roomID)
}

func (s *RoomService) recordActivity(ctx context.Context, db bun.IDB, actor cctx.Actor, roomID int64) (err error) {
	var lastMessageID int64
	err = db.NewSelect().
		Model((*models.Message)(nil)).
		ColumnExpr("COALESCE(MAX(m.id), 0)").
		Where("m.room_id = ?", roomID).
		Scan(ctx, &lastMessageID)
	if err != nil {
		return
	}

	activity := models.RoomActivity{
		UserID:        actor.ID,
		RoomID:        roomID,
		LastReadAt:    time.Now(),
		LastMessageID: lastMessageID,
	}

	_, err = db.NewInsert().
		Model(&activity).
		On("CONFLICT (user_id, room_id) DO UPDATE").
		Set("last_read_at = EXCLUDED.last_read_at").
		Set("last_message_id = EXCLUDED.last_message_id").
		Exec(ctx)
	return
}

// Activity returns actor's read markers keyed by room id.
func (s *RoomService) Activity(ctx context.Context, actor cctx.Actor) (activity map[int64]RoomActivity, err error) {
	activity = make(map[int64]RoomActivity)

	var rows []models.RoomActivity
	err = s.DB.NewSelect().
		Model(&rows).
		Join("JOIN rooms AS r ON r.id = ra.room_id").
		Where("r.deleted_at IS NULL").
		Where("ra.user_id = ?", actor.ID).
		Scan(ctx)
	if err != nil {
		return
	}

	for _, row := range rows {
		activity[row.RoomID] = RoomActivity{
			RoomID:        row.RoomID,
			LastReadAt:    row.LastReadAt,
			LastMessageID: row.LastMessageID,
		}
	}
	return
}

// Purge hard-deletes a room, open or closed, with everything that hangs off it.
func (s *RoomService) Purge(ctx context.Context, roomID int64) (err error) {
	return s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) (err error) {
		var exists bool
		exists, err = tx.NewSelect().
			Model((*models.Room)(nil)).
			Where("r.id = ?", roomID).
			WhereAllWithDeleted().
			Exists(ctx)
		if err != nil {
			return
		}
		if !exists {
			err = apperr.NotFound("room", roomID)
			return
		}

		messageIDs := tx.NewSelect().
			Model((*models.Message)(nil)).
			Column("m.id").
			Where("m.room_id = ?", roomID).
			WhereAllWithDeleted()

		_, err = tx.NewDelete().
			Model((*models.Attachment)(nil)).
			Where("room_message_id IN (?)", messageIDs).
			Exec(ctx)
		if err != nil {
			return
		}

		_, err = tx.NewDelete().
			Model((*models.Message)(nil)).
			Where("room_id = ?", roomID).
			ForceDelete().
			Exec(ctx)
		if err != nil {
			return
		}

		for _, model := range []interface{}{(*models.RoomUser)(nil), (*models.RoomActivity)(nil)} {
			_, err = tx.NewDelete().
				Model(model).
				Where("room_id = ?", roomID).
				Exec(ctx)
			if err != nil {
				return
			}
		}

		_, err = tx.NewDelete().
			Model((*models.Room)(nil)).
			Where("id = ?", roomID).
			ForceDelete().
			Exec(ctx)
		return
	})
}

func (s *RoomService) memberIDs(ctx context.Context, db bun.IDB, roomID int64) (ids []int64, err error) {
	err = db.NewSelect().
		Model((*models.RoomUser)(nil)).
		Column("ru.user_id").
		Where("ru.room_id = ?", roomID).
		Order("ru.user_id ASC").
		Scan(ctx, &ids)
	return
}

// announce sends a room lifecycle event to everyone connected for public
// rooms, or to each member's own channel for private ones.
func (s *RoomService) announce(room models.Room, memberIDs []int64, eventType broadcast.EventType, payload interface{}) {
	if room.Public {
		s.Publisher.Publish(broadcast.App(), eventType, payload)
		return
	}

	for _, id := range memberIDs {
		s.Publisher.Publish(broadcast.User(id), eventType, payload)
	}
}

// readers lists who may stay on a private room's channel: the owner and the
// members.
func readers(room models.Room, memberIDs []int64) []int64 {
	if containsID(memberIDs, room.UserID) {
		return memberIDs
	}
	return append([]int64{room.UserID}, memberIDs...)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
