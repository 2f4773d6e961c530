package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eashman/realtime-chat/internal/apperr"
	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/database/models"
)

func topics(events []publishedEvent) []broadcast.Topic {
	out := make([]broadcast.Topic, 0, len(events))
	for _, e := range events {
		out = append(out, e.Topic)
	}
	return out
}

func TestCreateRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Limits{})

	_, err := e.rooms.Create(ctx, alice, CreateRoom{Name: "   "})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{apperr.Blank}, verr.Fields["name"])

	private, err := e.rooms.Create(ctx, alice, CreateRoom{Name: " secret ", UserIDs: []int64{bob.ID, bob.ID, alice.ID}})
	require.NoError(t, err)
	assert.Equal(t, "secret", private.Name)
	assert.Equal(t, alice.ID, private.UserID)
	assert.Equal(t, []int64{alice.ID, bob.ID}, private.MemberIDs)

	events := e.events.take()
	assert.Equal(t, []broadcast.Topic{broadcast.User(alice.ID), broadcast.User(bob.ID)}, topics(events))
	for _, ev := range events {
		assert.Equal(t, broadcast.RoomCreate, ev.Type)
	}

	public, err := e.rooms.Create(ctx, bob, CreateRoom{Name: "lobby", Public: true, UserIDs: []int64{eve.ID}})
	require.NoError(t, err)
	// Public rooms only track their owner.
	assert.Equal(t, []int64{bob.ID}, public.MemberIDs)

	events = e.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.App(), events[0].Topic)
	assert.Equal(t, public, events[0].Payload)
}

func TestListRooms(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Limits{})

	_, err := e.rooms.Create(ctx, alice, CreateRoom{Name: "zebra", UserIDs: []int64{bob.ID}})
	require.NoError(t, err)
	_, err = e.rooms.Create(ctx, eve, CreateRoom{Name: "Apple", Public: true})
	require.NoError(t, err)
	_, err = e.rooms.Create(ctx, eve, CreateRoom{Name: "eve only"})
	require.NoError(t, err)
	closed, err := e.rooms.Create(ctx, bob, CreateRoom{Name: "mango", Public: true})
	require.NoError(t, err)
	require.NoError(t, e.rooms.Close(ctx, bob, closed.ID))

	tests := []struct {
		name  string
		actor cctx.Actor
		want  []string
	}{
		{name: "owner", actor: alice, want: []string{"Apple", "zebra"}},
		{name: "member", actor: bob, want: []string{"Apple", "zebra"}},
		{name: "stranger", actor: eve, want: []string{"Apple", "eve only"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rooms, err := e.rooms.List(ctx, tt.actor)
			require.NoError(t, err)

			names := make([]string, 0, len(rooms))
			for _, r := range rooms {
				names = append(names, r.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestGetRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Limits{})
	room := e.privateRoom(t)

	got, err := e.rooms.Get(ctx, bob, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.Name, got.Name)
	assert.Equal(t, []int64{alice.ID, bob.ID}, got.MemberIDs)

	_, err = e.rooms.Get(ctx, eve, room.ID)
	assert.True(t, apperr.IsAuthorization(err))
	assert.True(t, apperr.IsAuthorization(e.rooms.CanRead(ctx, eve, room.ID)))
	assert.NoError(t, e.rooms.CanRead(ctx, bob, room.ID))

	_, err = e.rooms.Get(ctx, alice, 12345)
	assert.True(t, apperr.IsNotFound(err))
}

func TestUpdateRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Limits{})
	room := e.privateRoom(t)

	name := "renamed"
	_, err := e.rooms.Update(ctx, bob, room.ID, UpdateRoom{Name: &name})
	assert.True(t, apperr.IsAuthorization(err))

	blank := ""
	_, err = e.rooms.Update(ctx, alice, room.ID, UpdateRoom{Name: &blank})
	assert.True(t, apperr.IsValidation(err))
	assert.Empty(t, e.events.take())

	updated, err := e.rooms.Update(ctx, alice, room.ID, UpdateRoom{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.Public)

	events := e.events.take()
	assert.Equal(t, []broadcast.Topic{broadcast.User(alice.ID), broadcast.User(bob.ID)}, topics(events))
	assert.Equal(t, broadcast.RoomUpdate, events[0].Type)
	assert.Equal(t, []revocation{{broadcast.Room(room.ID), []int64{alice.ID, bob.ID}}}, e.events.takeRevoked())

	public := true
	updated, err = e.rooms.Update(ctx, alice, room.ID, UpdateRoom{Public: &public})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.True(t, updated.Public)

	events = e.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.App(), events[0].Topic)
	assert.Empty(t, e.events.takeRevoked())

	// Going private again keeps only the owner and members on the room channel.
	private := false
	_, err = e.rooms.Update(ctx, alice, room.ID, UpdateRoom{Public: &private})
	require.NoError(t, err)
	assert.Equal(t, []revocation{{broadcast.Room(room.ID), []int64{alice.ID, bob.ID}}}, e.events.takeRevoked())
}

func TestCloseRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Limits{})
	room := e.privateRoom(t)
	e.post(t, bob, room.ID, "last words")
	e.events.take()

	assert.True(t, apperr.IsAuthorization(e.rooms.Close(ctx, bob, room.ID)))
	assert.True(t, apperr.IsNotFound(e.rooms.Close(ctx, alice, 777)))

	require.NoError(t, e.rooms.Close(ctx, alice, room.ID))
	require.NoError(t, e.rooms.Close(ctx, alice, room.ID))

	// Everyone is dropped from the room channel, once.
	assert.Equal(t, []revocation{{broadcast.Room(room.ID), nil}}, e.events.takeRevoked())

	events := e.events.take()
	assert.Equal(t, []broadcast.Topic{broadcast.User(alice.ID), broadcast.User(bob.ID)}, topics(events))
	for _, ev := range events {
		assert.Equal(t, broadcast.RoomClose, ev.Type)
	}

	// Messages of a closed room are unreachable.
	_, err := e.messages.ListRecent(ctx, bob, room.ID, Page{})
	assert.True(t, apperr.IsNotFound(err))
	found, err := e.messages.Search(ctx, bob, SearchQuery{Phrase: "last"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMembers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Limits{})
	room := e.privateRoom(t)

	assert.True(t, apperr.IsAuthorization(e.rooms.AddMember(ctx, bob, room.ID, eve.ID)))
	assert.True(t, apperr.IsValidation(e.rooms.AddMember(ctx, alice, room.ID, 0)))

	require.NoError(t, e.rooms.AddMember(ctx, alice, room.ID, eve.ID))
	// Adding twice announces once.
	require.NoError(t, e.rooms.AddMember(ctx, alice, room.ID, eve.ID))

	events := e.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.User(eve.ID), events[0].Topic)
	assert.Equal(t, broadcast.RoomOpen, events[0].Type)

	_, err := e.messages.ListRecent(ctx, eve, room.ID, Page{})
	require.NoError(t, err)

	assert.True(t, apperr.IsValidation(e.rooms.RemoveMember(ctx, alice, room.ID, alice.ID)))
	assert.True(t, apperr.IsAuthorization(e.rooms.RemoveMember(ctx, eve, room.ID, bob.ID)))

	require.NoError(t, e.rooms.RemoveMember(ctx, alice, room.ID, eve.ID))
	require.NoError(t, e.rooms.RemoveMember(ctx, alice, room.ID, eve.ID))

	events = e.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.User(eve.ID), events[0].Topic)
	assert.Equal(t, broadcast.RoomClose, events[0].Type)
	assert.Equal(t, []revocation{{broadcast.Room(room.ID), []int64{alice.ID, bob.ID}}}, e.events.takeRevoked())

	_, err = e.messages.ListRecent(ctx, eve, room.ID, Page{})
	assert.True(t, apperr.IsAuthorization(err))
}

func TestRecordActivity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Limits{})
	room := e.privateRoom(t)

	assert.True(t, apperr.IsAuthorization(e.rooms.RecordActivity(ctx, eve, room.ID)))

	require.NoError(t, e.rooms.RecordActivity(ctx, bob, room.ID))
	activity, err := e.rooms.Activity(ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, activity[room.ID].LastMessageID, "empty room")

	e.post(t, alice, room.ID, "one")
	two := e.post(t, alice, room.ID, "two")
	three := e.post(t, alice, room.ID, "three")
	require.NoError(t, e.messages.Delete(ctx, alice, room.ID, three.ID))

	require.NoError(t, e.rooms.RecordActivity(ctx, bob, room.ID))
	activity, err = e.rooms.Activity(ctx, bob)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, two.ID, activity[room.ID].LastMessageID)

	count, err := e.rooms.DB.NewSelect().Model((*models.RoomActivity)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one row per user and room")
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Limits{})
	room := e.privateRoom(t)
	keep := e.privateRoom(t)

	att, err := e.attachments.Create(ctx, alice, CreateAttachment{FileName: "a.txt", ContentRef: "ref"})
	require.NoError(t, err)
	msg, err := e.messages.Create(ctx, alice, room.ID, CreateMessage{Body: "hi", AttachmentIDs: []int64{att.ID}})
	require.NoError(t, err)
	require.NoError(t, e.messages.Delete(ctx, alice, room.ID, msg.ID))
	e.post(t, alice, room.ID, "still here")
	e.post(t, alice, keep.ID, "kept")
	require.NoError(t, e.rooms.RecordActivity(ctx, bob, room.ID))
	require.NoError(t, e.rooms.Close(ctx, alice, room.ID))

	require.NoError(t, e.rooms.Purge(ctx, room.ID))
	assert.True(t, apperr.IsNotFound(e.rooms.Purge(ctx, room.ID)))

	db := e.rooms.DB
	counts := []struct {
		model interface{}
		where string
		arg   int64
		soft  bool
	}{
		{(*models.Room)(nil), "id = ?", room.ID, true},
		{(*models.Message)(nil), "room_id = ?", room.ID, true},
		{(*models.RoomUser)(nil), "room_id = ?", room.ID, false},
		{(*models.RoomActivity)(nil), "room_id = ?", room.ID, false},
		{(*models.Attachment)(nil), "id = ?", att.ID, false},
	}
	for _, c := range counts {
		q := db.NewSelect().Model(c.model).Where(c.where, c.arg)
		if c.soft {
			q = q.WhereAllWithDeleted()
		}
		n, err := q.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "%T", c.model)
	}

	kept, err := e.messages.ListRecent(ctx, alice, keep.ID, Page{})
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
