package broadcast

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Scope string

const (
	ScopeRoom Scope = "room"
	ScopeUser Scope = "user"
	ScopeApp  Scope = "app"
)

// Topic names a channel. App topics have no key.
type Topic struct {
	Scope Scope
	Key   int64
}

func Room(id int64) Topic { return Topic{Scope: ScopeRoom, Key: id} }
func User(id int64) Topic { return Topic{Scope: ScopeUser, Key: id} }
func App() Topic          { return Topic{Scope: ScopeApp} }

func (t Topic) String() string {
	if t.Scope == ScopeApp {
		return string(ScopeApp)
	}
	return fmt.Sprintf("%s:%d", t.Scope, t.Key)
}

// NewTopic validates a scope/key pair as sent by clients.
func NewTopic(scope string, key int64) (t Topic, err error) {
	switch Scope(scope) {
	case ScopeApp:
		t = App()
	case ScopeRoom, ScopeUser:
		if key <= 0 {
			err = fmt.Errorf("channel %s needs a positive id", scope)
			return
		}
		t = Topic{Scope: Scope(scope), Key: key}
	default:
		err = fmt.Errorf("unknown channel %q", scope)
	}
	return
}

// ParseTopic is the inverse of Topic.String.
func ParseTopic(s string) (Topic, error) {
	scope, key, found := strings.Cut(s, ":")
	if !found {
		return NewTopic(scope, 0)
	}

	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return Topic{}, fmt.Errorf("bad topic %q: %w", s, err)
	}
	return NewTopic(scope, id)
}

type EventType string

const (
	RoomCreate         EventType = "room_create"
	RoomUpdate         EventType = "room_update"
	RoomClose          EventType = "room_close"
	RoomOpen           EventType = "room_open"
	RoomMessageCreate  EventType = "room_message_create"
	RoomMessageUpdate  EventType = "room_message_update"
	RoomMessageDestroy EventType = "room_message_destroy"
	Typing             EventType = "typing"

	// Connection control frames.
	ConfirmSubscription EventType = "confirm_subscription"
	RejectSubscription  EventType = "reject_subscription"
	Error               EventType = "error"
	Pong                EventType = "pong"
)

// Event is the {type, data} frame every subscriber receives.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode renders a frame. A nil payload leaves data out.
func Encode(eventType EventType, payload interface{}) (frame []byte, err error) {
	event := Event{Type: eventType}
	if payload != nil {
		if event.Data, err = json.Marshal(payload); err != nil {
			err = fmt.Errorf("failed to encode %s payload: %w", eventType, err)
			return
		}
	}
	return json.Marshal(event)
}

func Decode(frame []byte) (event Event, err error) {
	err = json.Unmarshal(frame, &event)
	return
}
