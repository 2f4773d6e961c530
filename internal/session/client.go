package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eashman/realtime-chat/internal/apperr"
	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/chat"
)

var ErrNotConnected = errors.New("cable is not connected")

// StatusError is a non-2xx response that is not a validation failure.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.Code, e.Message)
}

// Client calls the HTTP API and holds at most one cable connection.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan broadcast.Event
	done   chan struct{} // closed when conn is replaced or closed
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Dialer:     websocket.DefaultDialer,
	}
}

// ListRecent fetches the newest page of a room.
func (c *Client) ListRecent(ctx context.Context, roomID int64, limit int) (msgs []chat.Message, err error) {
	return c.ListOlder(ctx, roomID, 0, limit)
}

// ListOlder fetches the page of messages just before beforeID.
func (c *Client) ListOlder(ctx context.Context, roomID, beforeID int64, limit int) (msgs []chat.Message, err error) {
	query := url.Values{}
	if beforeID > 0 {
		query.Set("last_id", strconv.FormatInt(beforeID, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	err = c.do(ctx, http.MethodGet, fmt.Sprintf("/rooms/%d/messages", roomID), query, nil, &msgs)
	return
}

// Search looks for phrase across every readable room, or only roomID when set.
func (c *Client) Search(ctx context.Context, phrase string, roomID, beforeID int64) (msgs []chat.Message, err error) {
	query := url.Values{"phrase": {phrase}}
	if roomID > 0 {
		query.Set("room_id", strconv.FormatInt(roomID, 10))
	}
	if beforeID > 0 {
		query.Set("last_id", strconv.FormatInt(beforeID, 10))
	}

	err = c.do(ctx, http.MethodGet, "/messages/search", query, nil, &msgs)
	return
}

func (c *Client) CreateMessage(ctx context.Context, roomID int64, input chat.CreateMessage) (msg chat.Message, err error) {
	err = c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/messages", roomID), nil, input, &msg)
	return
}

func (c *Client) UpdateMessage(ctx context.Context, roomID, messageID int64, body string) (msg chat.Message, err error) {
	err = c.do(ctx, http.MethodPut, fmt.Sprintf("/rooms/%d/messages/%d", roomID, messageID), nil, chat.UpdateMessage{Body: body}, &msg)
	return
}

func (c *Client) DeleteMessage(ctx context.Context, roomID, messageID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/rooms/%d/messages/%d", roomID, messageID), nil, nil, nil)
}

func (c *Client) RecordActivity(ctx context.Context, roomID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/activity", roomID), nil, nil, nil)
}

// Resync reloads the newest page into s. Events missed while disconnected
// are not replayed, so this runs after every (re)connect.
func (c *Client) Resync(ctx context.Context, s *Session) (err error) {
	var msgs []chat.Message
	if msgs, err = c.ListRecent(ctx, s.RoomID, s.PageSize); err != nil {
		return
	}
	s.Reset(msgs)
	return
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) (err error) {
	target := c.BaseURL + "/api/v1" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		var data []byte
		if data, err = json.Marshal(in); err != nil {
			return
		}
		body = bytes.NewReader(data)
	}

	var req *http.Request
	if req, err = http.NewRequestWithContext(ctx, method, target, body); err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var resp *http.Response
	if resp, err = c.HTTPClient.Do(req); err != nil {
		return
	}
	defer func() { _ = resp.Body.Close() }()

	var respBody []byte
	if respBody, err = io.ReadAll(resp.Body); err != nil {
		return
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		verr := &apperr.ValidationError{}
		if err = json.Unmarshal(respBody, &verr.Fields); err == nil {
			err = verr
		}
	case resp.StatusCode >= 400:
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		err = &StatusError{Code: resp.StatusCode, Message: errResp.Error}
	case out != nil && len(respBody) > 0:
		err = json.Unmarshal(respBody, out)
	}
	return
}

// Connect dials the cable, replacing any previous connection. Events of the
// new connection arrive on the channel returned by Events afterwards.
func (c *Client) Connect(ctx context.Context) (err error) {
	var u *url.URL
	if u, err = url.Parse(c.BaseURL + "/cable"); err != nil {
		return
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"token": {c.Token}}.Encode()

	conn, _, err := c.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		err = fmt.Errorf("failed to dial cable: %w", err)
		return
	}

	events := make(chan broadcast.Event, 64)
	done := make(chan struct{})

	c.mu.Lock()
	_ = c.release()
	c.conn = conn
	c.events = events
	c.done = done
	c.mu.Unlock()

	go c.readLoop(conn, events, done)
	return
}

// readLoop pumps frames of conn into events until conn fails or done is
// closed. Frames nobody reads any more are dropped.
func (c *Client) readLoop(conn *websocket.Conn, events chan<- broadcast.Event, done <-chan struct{}) {
	defer close(events)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			zap.L().Debug("cable closed", zap.Error(err))
			return
		}

		event, err := broadcast.Decode(data)
		if err != nil {
			zap.L().Debug("skipping undecodable frame", zap.Error(err))
			continue
		}
		select {
		case events <- event:
		case <-done:
			return
		}
	}
}

// Events yields frames from the current connection. The channel is closed
// when that connection ends.
func (c *Client) Events() <-chan broadcast.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.events
}

func (c *Client) Subscribe(topic broadcast.Topic) error {
	return c.send(channelFrame("subscribe", topic))
}

func (c *Client) Unsubscribe(topic broadcast.Topic) error {
	return c.send(channelFrame("unsubscribe", topic))
}

func (c *Client) SetTyping(roomID int64, typing bool) error {
	return c.send(map[string]interface{}{
		"action":  "typing",
		"room_id": roomID,
		"typing":  typing,
	})
}

func (c *Client) Ping() error {
	return c.send(map[string]interface{}{"action": "ping"})
}

func (c *Client) Close() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err = c.release()
	return
}

// release drops the current connection and stops its reader. Callers hold mu.
func (c *Client) release() (err error) {
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return
}

func (c *Client) send(frame interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(frame)
}

func channelFrame(action string, topic broadcast.Topic) map[string]interface{} {
	frame := map[string]interface{}{
		"action":  action,
		"channel": string(topic.Scope),
	}
	if topic.Scope != broadcast.ScopeApp {
		frame["id"] = topic.Key
	}
	return frame
}
