// Package typing relays "user is typing" signals. The server only counts the
// connections of each user that are typing in a room, so a user with several
// tabs stops typing when the last of them does. Clients rebuild the list of
// typers from the signals they receive.
package typing

import (
	"context"
	"sync"

	"github.com/deckarep/golang-set"
	"go.uber.org/zap"

	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/cctx"
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Signal is the payload of a typing event.
type Signal struct {
	RoomID int64 `json:"room_id"`
	Typing bool  `json:"typing"`
	User   User  `json:"user"`
}

// Access decides whether actor may signal in a room.
type Access interface {
	CanRead(ctx context.Context, actor cctx.Actor, roomID int64) error
}

type Tracker struct {
	Access    Access
	Publisher broadcast.Publisher

	mu   sync.Mutex
	open map[typist]int
}

type typist struct {
	userID int64
	roomID int64
}

func (t *Tracker) SetTyping(ctx context.Context, actor cctx.Actor, roomID int64, typing bool) (err error) {
	if err = t.Access.CanRead(ctx, actor, roomID); err != nil {
		return
	}

	t.publish(actor, roomID, typing)
	return
}

// Signal is SetTyping for a live connection: rooms left in the typing state
// are remembered in sig so Release can clear them.
func (t *Tracker) Signal(ctx context.Context, sig *Signals, actor cctx.Actor, roomID int64, typing bool) (err error) {
	if err = t.Access.CanRead(ctx, actor, roomID); err != nil {
		return
	}

	if t.track(sig, actor.ID, roomID, typing) {
		t.publish(actor, roomID, typing)
	}
	return
}

// Release ends every typing=true the connection left open. Called once the
// connection is gone.
func (t *Tracker) Release(sig *Signals, actor cctx.Actor) {
	for _, roomID := range sig.Rooms() {
		if t.track(sig, actor.ID, roomID, false) {
			t.publish(actor, roomID, false)
		}
	}
}

// track applies one connection's change and reports whether it changes what
// the room should see. A stop is held back while another connection of the
// same user is still typing there.
func (t *Tracker) track(sig *Signals, userID, roomID int64, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open == nil {
		t.open = make(map[typist]int)
	}
	key := typist{userID: userID, roomID: roomID}

	if typing {
		if sig.rooms.Add(roomID) {
			t.open[key]++
		}
		return true
	}

	if sig.rooms.Contains(roomID) {
		sig.rooms.Remove(roomID)
		if t.open[key]--; t.open[key] > 0 {
			return false
		}
		delete(t.open, key)
		return true
	}
	return t.open[key] == 0
}

func (t *Tracker) publish(actor cctx.Actor, roomID int64, typing bool) {
	zap.L().Debug("typing signal",
		zap.Int64("room_id", roomID),
		zap.Int64("user_id", actor.ID),
		zap.Bool("typing", typing),
	)

	t.Publisher.Publish(broadcast.Room(roomID), broadcast.Typing, Signal{
		RoomID: roomID,
		Typing: typing,
		User:   User{ID: actor.ID, Username: actor.Username},
	})
}

// Signals is the per-connection record of rooms with an open typing=true.
type Signals struct {
	rooms mapset.Set
}

func NewSignals() *Signals {
	return &Signals{rooms: mapset.NewSet()}
}

func (s *Signals) Rooms() (rooms []int64) {
	for _, id := range s.rooms.ToSlice() {
		rooms = append(rooms, id.(int64))
	}
	return
}
