package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/chat"
	"github.com/eashman/realtime-chat/internal/database/dbtest"
	"github.com/eashman/realtime-chat/internal/identity"
	"github.com/eashman/realtime-chat/internal/policy"
	"github.com/eashman/realtime-chat/internal/typing"
)

var secret = []byte("test-secret")

var (
	alice = cctx.Actor{ID: 1, Username: "alice"}
	bob   = cctx.Actor{ID: 2, Username: "bob"}
	eve   = cctx.Actor{ID: 3, Username: "eve"}
)

type testServer struct {
	*httptest.Server
	hub *broadcast.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := dbtest.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := broadcast.NewRouter(0, 0)
	go hub.Run(ctx)

	rooms := chat.NewRoomService(db, policy.Default{}, hub)
	srv := httptest.NewServer(NewHandler(Services{
		DB:          db,
		Rooms:       rooms,
		Messages:    chat.NewMessageService(rooms, chat.Limits{PageLimit: 10}),
		Attachments: chat.NewAttachmentService(rooms),
		Typing:      &typing.Tracker{Access: rooms, Publisher: hub},
		Router:      hub,
		Auth: &Auth{
			Verifier: &identity.JWTVerifier{Secret: secret},
			Users:    chat.NewUserService(db),
		},
		AllowedOrigins: []string{"*"},
	}))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, hub: hub}
}

func token(t *testing.T, actor cctx.Actor) string {
	t.Helper()

	tok, err := identity.SignJWT(secret, actor, time.Hour)
	require.NoError(t, err)
	return tok
}

// call sends an API request as actor and returns the status and raw body.
func (s *testServer) call(t *testing.T, actor cctx.Actor, method, path string, body interface{}) (int, []byte) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+"/api/v1"+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, actor))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (s *testServer) decode(t *testing.T, actor cctx.Actor, method, path string, body, out interface{}) {
	t.Helper()

	status, data := s.call(t, actor, method, path, body)
	require.Equal(t, http.StatusOK, status, string(data))
	require.NoError(t, json.Unmarshal(data, out))
}

func (s *testServer) createRoom(t *testing.T, owner cctx.Actor, input chat.CreateRoom) chat.Room {
	t.Helper()

	var room chat.Room
	s.decode(t, owner, http.MethodPost, "/rooms", input, &room)
	return room
}

func (s *testServer) dial(t *testing.T, actor cctx.Actor) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/cable?token=" + token(t, actor)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *testServer) flush(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.hub.Flush(ctx))
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func next(t *testing.T, conn *websocket.Conn) broadcast.Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	event, err := broadcast.Decode(data)
	require.NoError(t, err)
	return event
}

// subscribe asks for a channel and returns the server's answer.
func subscribe(t *testing.T, conn *websocket.Conn, channel string, id int64) broadcast.Event {
	t.Helper()

	send(t, conn, map[string]interface{}{"action": "subscribe", "channel": channel, "id": id})
	return next(t, conn)
}
