package broadcast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRouter(t *testing.T, queueSize, subscriberSize int) *Router {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRouter(queueSize, subscriberSize)
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func flush(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}

func recv(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case frame, ok := <-sub.Send():
		require.True(t, ok, "send queue closed")
		event, err := Decode(frame)
		require.NoError(t, err)
		return event
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return Event{}
}

func assertNothing(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case frame := <-sub.Send():
		t.Fatalf("unexpected frame %s", frame)
	default:
	}
}

func TestTopic(t *testing.T) {
	tests := []struct {
		in      string
		want    Topic
		wantErr bool
	}{
		{in: "room:12", want: Room(12)},
		{in: "user:3", want: User(3)},
		{in: "app", want: App()},
		{in: "room", wantErr: true},
		{in: "room:0", wantErr: true},
		{in: "room:abc", wantErr: true},
		{in: "lobby:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTopic(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestEncode(t *testing.T) {
	frame, err := Encode(RoomMessageCreate, map[string]int{"id": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"room_message_create","data":{"id":1}}`, string(frame))

	frame, err = Encode(Pong, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(frame))

	_, err = Encode(Typing, make(chan int))
	assert.Error(t, err)
}

func TestRouterDelivers(t *testing.T) {
	r := startRouter(t, 16, 16)

	inRoom := r.NewSubscriber(1)
	elsewhere := r.NewSubscriber(2)
	require.True(t, r.Subscribe(inRoom, Room(1)))
	require.False(t, r.Subscribe(inRoom, Room(1)), "duplicate subscription")
	require.True(t, r.Subscribe(elsewhere, Room(2)))
	assert.Equal(t, 1, r.Subscribers(Room(1)))

	for i := 1; i <= 3; i++ {
		r.Publish(Room(1), RoomMessageCreate, map[string]int{"id": i})
	}
	flush(t, r)

	for i := 1; i <= 3; i++ {
		event := recv(t, inRoom)
		assert.Equal(t, RoomMessageCreate, event.Type)
		assert.JSONEq(t, fmt.Sprintf(`{"id":%d}`, i), string(event.Data))
	}
	assertNothing(t, inRoom)
	assertNothing(t, elsewhere)
}

func TestRouterNoReplay(t *testing.T) {
	r := startRouter(t, 16, 16)

	early := r.NewSubscriber(1)
	r.Subscribe(early, Room(1))

	r.Publish(Room(1), RoomMessageDestroy, map[string]int{"id": 1})
	flush(t, r)

	late := r.NewSubscriber(2)
	r.Subscribe(late, Room(1))
	flush(t, r)

	assert.Equal(t, RoomMessageDestroy, recv(t, early).Type)
	assertNothing(t, late)
}

func TestRouterDropsForSlowSubscriber(t *testing.T) {
	r := startRouter(t, 16, 1)

	slow := r.NewSubscriber(1)
	fast := r.NewSubscriber(2)
	r.Subscribe(slow, App())
	r.Subscribe(fast, App())

	r.Publish(App(), RoomCreate, map[string]int{"id": 1})
	flush(t, r)
	assert.JSONEq(t, `{"id":1}`, string(recv(t, fast).Data))

	r.Publish(App(), RoomCreate, map[string]int{"id": 2})
	flush(t, r)

	// The slow subscriber keeps its first event, the second was dropped for it only.
	assert.JSONEq(t, `{"id":1}`, string(recv(t, slow).Data))
	assertNothing(t, slow)
	assert.JSONEq(t, `{"id":2}`, string(recv(t, fast).Data))
}

func TestPublishNeverBlocks(t *testing.T) {
	// No dispatcher running, queue of one.
	r := NewRouter(1, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.Publish(Room(1), Typing, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}

func TestUnsubscribeAndDetach(t *testing.T) {
	r := startRouter(t, 16, 16)

	sub := r.NewSubscriber(1)
	r.Subscribe(sub, Room(1))
	r.Subscribe(sub, User(1))
	assert.ElementsMatch(t, []Topic{Room(1), User(1)}, sub.Topics())

	assert.True(t, r.Unsubscribe(sub, Room(1)))
	assert.False(t, r.Unsubscribe(sub, Room(1)))
	assert.False(t, sub.SubscribedTo(Room(1)))

	r.Publish(Room(1), Typing, nil)
	r.Publish(User(1), RoomOpen, nil)
	flush(t, r)
	assert.Equal(t, RoomOpen, recv(t, sub).Type)

	r.Detach(sub)
	r.Detach(sub)
	_, ok := <-sub.Send()
	assert.False(t, ok)
	assert.Zero(t, r.Subscribers(User(1)))
	assert.False(t, r.Subscribe(sub, Room(1)))
}

func TestRunDetachesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRouter(4, 4)
	sub := r.NewSubscriber(1)
	r.Subscribe(sub, App())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, ok := <-sub.Send()
	assert.False(t, ok)
}

func TestRevoke(t *testing.T) {
	r := startRouter(t, 16, 16)

	owner := r.NewSubscriber(1)
	member := r.NewSubscriber(2)
	removed := r.NewSubscriber(3)
	for _, sub := range []*Subscriber{owner, member, removed} {
		require.True(t, r.Subscribe(sub, Room(1)))
	}
	r.Subscribe(removed, User(3))

	assert.Equal(t, 1, r.Revoke(Room(1), []int64{1, 2}))
	assert.Equal(t, 2, r.Subscribers(Room(1)))
	assert.False(t, removed.SubscribedTo(Room(1)))
	assert.True(t, removed.SubscribedTo(User(3)))

	notice := recv(t, removed)
	assert.Equal(t, RejectSubscription, notice.Type)
	assert.JSONEq(t, `{"channel":"room:1","reason":"revoked"}`, string(notice.Data))

	r.Publish(Room(1), RoomMessageCreate, map[string]int{"id": 1})
	flush(t, r)
	assert.Equal(t, RoomMessageCreate, recv(t, owner).Type)
	assert.Equal(t, RoomMessageCreate, recv(t, member).Type)
	assertNothing(t, removed)

	// The revoked subscriber may come back once access is granted again.
	assert.True(t, r.Subscribe(removed, Room(1)))

	assert.Equal(t, 3, r.Revoke(Room(1), nil))
	assert.Zero(t, r.Subscribers(Room(1)))
	assert.Zero(t, r.Revoke(Room(2), nil))
}
