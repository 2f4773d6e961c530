// Package policy answers allow/deny questions for chat actions. Services ask
// an Engine before mutating or exposing anything; the default engine derives
// answers from room ownership, visibility and membership.
package policy

import (
	"context"

	"github.com/eashman/realtime-chat/internal/apperr"
	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/database/models"
)

type Action string

const (
	RoomRead          Action = "room:read"
	RoomUpdate        Action = "room:update"
	RoomClose         Action = "room:close"
	RoomManageMembers Action = "room:manage_members"
	MessageUpdate     Action = "message:update"
	MessageDelete     Action = "message:delete"
)

// Resource is what an action is checked against. Member tells whether the
// actor is in the room's member list.
type Resource struct {
	Room    *models.Room
	Message *models.Message
	Member  bool
}

type Engine interface {
	Allow(ctx context.Context, actor cctx.Actor, action Action, res Resource) (bool, error)
}

// Authorize turns a deny from e into an AuthorizationError.
func Authorize(ctx context.Context, e Engine, actor cctx.Actor, action Action, res Resource) (err error) {
	var allowed bool
	if allowed, err = e.Allow(ctx, actor, action, res); err != nil {
		return
	}
	if !allowed {
		err = apperr.Forbidden(string(action))
	}
	return
}

type Default struct{}

var _ Engine = Default{}

func (Default) Allow(_ context.Context, actor cctx.Actor, action Action, res Resource) (bool, error) {
	switch action {
	case RoomRead:
		return res.Room != nil && (res.Room.Public || res.Room.UserID == actor.ID || res.Member), nil
	case RoomUpdate, RoomClose, RoomManageMembers:
		return res.Room != nil && res.Room.UserID == actor.ID, nil
	case MessageUpdate, MessageDelete:
		return res.Message != nil && res.Message.UserID == actor.ID, nil
	}
	return false, nil
}

// Func adapts a plain function to Engine.
type Func func(ctx context.Context, actor cctx.Actor, action Action, res Resource) (bool, error)

func (f Func) Allow(ctx context.Context, actor cctx.Actor, action Action, res Resource) (bool, error) {
	return f(ctx, actor, action, res)
}
