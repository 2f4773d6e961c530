package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/database/dbtest"
	"github.com/eashman/realtime-chat/internal/policy"
)

type publishedEvent struct {
	Topic   broadcast.Topic
	Type    broadcast.EventType
	Payload interface{}
}

type revocation struct {
	Topic   broadcast.Topic
	Allowed []int64
}

type recorder struct {
	mu      sync.Mutex
	events  []publishedEvent
	revoked []revocation
}

func (r *recorder) Revoke(topic broadcast.Topic, allowed []int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, revocation{topic, allowed})
	return 0
}

func (r *recorder) takeRevoked() []revocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	revoked := r.revoked
	r.revoked = nil
	return revoked
}

func (r *recorder) Publish(topic broadcast.Topic, eventType broadcast.EventType, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{topic, eventType, payload})
}

func (r *recorder) take() []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events
	r.events = nil
	return events
}

var (
	alice = cctx.Actor{ID: 1, Username: "alice"}
	bob   = cctx.Actor{ID: 2, Username: "bob"}
	eve   = cctx.Actor{ID: 3, Username: "eve"}
)

type env struct {
	rooms       *RoomService
	messages    *MessageService
	attachments *AttachmentService
	users       *UserService
	events      *recorder
}

func newEnv(t *testing.T, limits Limits) *env {
	t.Helper()

	db := dbtest.New(t)
	rec := &recorder{}
	rooms := NewRoomService(db, policy.Default{}, rec)

	e := &env{
		rooms:       rooms,
		messages:    NewMessageService(rooms, limits),
		attachments: NewAttachmentService(rooms),
		users:       NewUserService(db),
		events:      rec,
	}

	for _, actor := range []cctx.Actor{alice, bob, eve} {
		require.NoError(t, e.users.Touch(context.Background(), actor))
	}
	return e
}

// privateRoom creates a room owned by alice with bob as member and drains the
// creation events.
func (e *env) privateRoom(t *testing.T) Room {
	t.Helper()

	room, err := e.rooms.Create(context.Background(), alice, CreateRoom{Name: "R", UserIDs: []int64{bob.ID}})
	require.NoError(t, err)
	e.events.take()
	return room
}

func (e *env) post(t *testing.T, actor cctx.Actor, roomID int64, body string) Message {
	t.Helper()

	msg, err := e.messages.Create(context.Background(), actor, roomID, CreateMessage{Body: body})
	require.NoError(t, err)
	return msg
}

func ids(messages []Message) []int64 {
	out := make([]int64, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
