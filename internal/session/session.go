// Package session is the client side of a room: a reducer that folds
// history pages and live events into the list a user sees, plus the client
// that talks to the server.
package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/chat"
	"github.com/eashman/realtime-chat/internal/typing"
)

// Session holds one room as seen by Viewer. It does no I/O and is not safe
// for concurrent use.
type Session struct {
	Viewer   int64
	RoomID   int64
	PageSize int

	messages []chat.Message
	typing   *typing.Set
	hasMore  bool
	served   int // longest page seen, the server may cap below PageSize
}

func New(viewer, roomID int64, pageSize int) *Session {
	if pageSize <= 0 {
		pageSize = chat.DefaultPageLimit
	}

	return &Session{
		Viewer:   viewer,
		RoomID:   roomID,
		PageSize: pageSize,
		typing:   typing.NewSet(viewer),
		hasMore:  true,
	}
}

// Reset replaces the loaded history with the newest page. Used for the
// initial load and to reconcile after a reconnect.
func (s *Session) Reset(msgs []chat.Message) {
	s.messages = s.messages[:0]
	s.merge(msgs)
	s.hasMore = !s.lastPage(len(msgs))
}

// PrependOlder merges a page fetched with Cursor as its upper bound.
func (s *Session) PrependOlder(msgs []chat.Message) {
	s.merge(msgs)
	if s.lastPage(len(msgs)) {
		s.hasMore = false
	}
}

// lastPage reports whether a page of n messages ends the history. A page is
// short only if it is below both PageSize and the longest page served so far,
// so a server cap under PageSize costs one empty fetch at the end.
func (s *Session) lastPage(n int) bool {
	if n > s.served {
		s.served = n
	}
	return n == 0 || (n < s.PageSize && n < s.served)
}

// Apply folds a live event into the session. Events for other rooms and
// event types the session does not track are ignored.
func (s *Session) Apply(event broadcast.Event, now time.Time) (err error) {
	switch event.Type {
	case broadcast.RoomMessageCreate, broadcast.RoomMessageUpdate, broadcast.RoomMessageDestroy:
		var msg chat.Message
		if err = json.Unmarshal(event.Data, &msg); err != nil {
			err = fmt.Errorf("bad %s payload: %w", event.Type, err)
			return
		}
		if msg.RoomID != s.RoomID {
			return
		}

		switch event.Type {
		case broadcast.RoomMessageCreate:
			s.merge([]chat.Message{msg})
		case broadcast.RoomMessageUpdate:
			if i, ok := s.find(msg.ID); ok {
				s.messages[i] = msg
			}
		case broadcast.RoomMessageDestroy:
			if i, ok := s.find(msg.ID); ok {
				s.messages = append(s.messages[:i], s.messages[i+1:]...)
			}
		}
	case broadcast.Typing:
		var sig typing.Signal
		if err = json.Unmarshal(event.Data, &sig); err != nil {
			err = fmt.Errorf("bad %s payload: %w", event.Type, err)
			return
		}
		if sig.RoomID == s.RoomID {
			s.typing.Apply(sig, now)
		}
	}
	return
}

// Messages returns the loaded history, oldest first.
func (s *Session) Messages() []chat.Message {
	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Cursor is the oldest loaded id, the before-id of the next older page.
func (s *Session) Cursor() int64 {
	if len(s.messages) == 0 {
		return 0
	}
	return s.messages[0].ID
}

func (s *Session) HasMore() bool {
	return s.hasMore
}

// Typing lists the users typing as of now, most recent first.
func (s *Session) Typing(now time.Time) []typing.User {
	s.typing.Expire(now)
	return s.typing.Users()
}

// merge inserts msgs keeping ids ascending and unique. A message already
// present is replaced.
func (s *Session) merge(msgs []chat.Message) {
	for _, msg := range msgs {
		if i, ok := s.find(msg.ID); ok {
			s.messages[i] = msg
			continue
		}

		i := sort.Search(len(s.messages), func(i int) bool { return s.messages[i].ID > msg.ID })
		s.messages = append(s.messages, chat.Message{})
		copy(s.messages[i+1:], s.messages[i:])
		s.messages[i] = msg
	}
}

func (s *Session) find(id int64) (int, bool) {
	i := sort.Search(len(s.messages), func(i int) bool { return s.messages[i].ID >= id })
	return i, i < len(s.messages) && s.messages[i].ID == id
}
