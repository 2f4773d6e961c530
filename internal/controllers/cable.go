package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eashman/realtime-chat/internal/apperr"
	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/metrics"
	"github.com/eashman/realtime-chat/internal/router"
	"github.com/eashman/realtime-chat/internal/typing"
)

var _ router.Controller = (*CableController)(nil)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4096
)

var (
	wsPool = new(sync.Pool)
)

// CableController upgrades /cable to a websocket over which clients
// subscribe to channels and receive {type, data} events.
type CableController struct {
	Router         *broadcast.Router
	Access         typing.Access
	Typing         *typing.Tracker
	Auth           *Auth
	AllowedOrigins []string
	Debug          bool

	upgrader *websocket.Upgrader
}

func (c *CableController) Register(router *mux.Router) {
	c.upgrader = &websocket.Upgrader{
		HandshakeTimeout:  10 * time.Second,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		WriteBufferPool:   wsPool,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(c.AllowedOrigins, r.Header.Get("Origin"))
		},
	}

	router.Handle("/cable", c.Auth.Middleware(http.HandlerFunc(c.handleCable))).
		Methods(http.MethodGet)
}

func (c *CableController) handleCable(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Debug("failed to upgrade connection", zap.Error(err))
		return
	}

	actor := actorFrom(r)
	conn := &cableConn{
		ctl:     c,
		ws:      ws,
		actor:   actor,
		sub:     c.Router.NewSubscriber(actor.ID),
		signals: typing.NewSignals(),
		replies: make(chan []byte, 16),
		closing: make(chan struct{}),
		stopped: make(chan struct{}),
	}

	log := zap.L().With(zap.String("conn", conn.sub.ID), zap.Int64("user_id", actor.ID))
	log.Debug("cable connected")
	metrics.ActiveConnections.Inc()

	go conn.writePump()
	conn.readPump(r.Context())

	close(conn.closing)
	c.Router.Detach(conn.sub)
	c.Typing.Release(conn.signals, actor)
	<-conn.stopped

	metrics.ActiveConnections.Dec()
	log.Debug("cable disconnected")
}

// cableFrame is anything a client may send.
type cableFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
	ID      int64  `json:"id,omitempty"`
	RoomID  int64  `json:"room_id,omitempty"`
	Typing  bool   `json:"typing,omitempty"`
}

type channelAck struct {
	Channel string `json:"channel"`
	Reason  string `json:"reason,omitempty"`
}

type cableConn struct {
	ctl     *CableController
	ws      *websocket.Conn
	actor   cctx.Actor
	sub     *broadcast.Subscriber
	signals *typing.Signals

	replies chan []byte
	closing chan struct{}
	stopped chan struct{}
}

func (cc *cableConn) readPump(ctx context.Context) {
	cc.ws.SetReadLimit(maxFrameSize)
	_ = cc.ws.SetReadDeadline(time.Now().Add(pongWait))
	cc.ws.SetPongHandler(func(string) error {
		return cc.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("cable read failed", zap.String("conn", cc.sub.ID), zap.Error(err))
			}
			return
		}

		cc.handle(ctx, data)
	}
}

// writePump owns every write to the socket. It ends when the subscriber is
// detached or the reader has gone away.
func (cc *cableConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cc.ws.Close()
		close(cc.stopped)
	}()

	for {
		select {
		case frame, ok := <-cc.sub.Send():
			if !ok {
				_ = cc.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := cc.write(websocket.TextMessage, frame); err != nil {
				return
			}
		case frame := <-cc.replies:
			if err := cc.write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := cc.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cc.closing:
			return
		}
	}
}

func (cc *cableConn) write(messageType int, data []byte) error {
	_ = cc.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return cc.ws.WriteMessage(messageType, data)
}

func (cc *cableConn) handle(ctx context.Context, data []byte) {
	var frame cableFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		cc.fail(data, "malformed frame")
		return
	}

	switch frame.Action {
	case "subscribe":
		cc.subscribe(ctx, frame)
	case "unsubscribe":
		topic, err := broadcast.NewTopic(frame.Channel, frame.ID)
		if err != nil {
			cc.fail(frame, err.Error())
			return
		}
		cc.ctl.Router.Unsubscribe(cc.sub, topic)
	case "typing":
		if !cc.sub.SubscribedTo(broadcast.Room(frame.RoomID)) {
			cc.fail(frame, "not subscribed")
			return
		}
		err := cc.ctl.Typing.Signal(ctx, cc.signals, cc.actor, frame.RoomID, frame.Typing)
		if err != nil {
			cc.fail(frame, describe(err))
		}
	case "ping":
		cc.reply(broadcast.Pong, nil)
	default:
		cc.fail(frame, "unknown action")
	}
}

func (cc *cableConn) subscribe(ctx context.Context, frame cableFrame) {
	topic, err := broadcast.NewTopic(frame.Channel, frame.ID)
	if err != nil {
		cc.fail(frame, err.Error())
		return
	}

	if err = cc.authorize(ctx, topic); err != nil {
		if cc.ctl.Debug {
			zap.L().Debug("rejected subscription", zap.String("frame", spew.Sdump(frame)), zap.Error(err))
		}
		cc.reply(broadcast.RejectSubscription, channelAck{Channel: topic.String(), Reason: describe(err)})
		return
	}

	cc.ctl.Router.Subscribe(cc.sub, topic)
	cc.reply(broadcast.ConfirmSubscription, channelAck{Channel: topic.String()})
}

func (cc *cableConn) authorize(ctx context.Context, topic broadcast.Topic) error {
	switch topic.Scope {
	case broadcast.ScopeRoom:
		return cc.ctl.Access.CanRead(ctx, cc.actor, topic.Key)
	case broadcast.ScopeUser:
		if topic.Key != cc.actor.ID {
			return apperr.Forbidden("user:subscribe")
		}
	}
	return nil
}

func (cc *cableConn) fail(frame interface{}, message string) {
	if cc.ctl.Debug {
		zap.L().Debug("rejected cable frame", zap.String("frame", spew.Sdump(frame)), zap.String("reason", message))
	}
	cc.reply(broadcast.Error, map[string]string{"message": message})
}

func (cc *cableConn) reply(eventType broadcast.EventType, payload interface{}) {
	frame, err := broadcast.Encode(eventType, payload)
	if err != nil {
		zap.L().Error("failed to encode reply", zap.Error(err))
		return
	}

	select {
	case cc.replies <- frame:
	case <-cc.stopped:
	}
}

// describe turns a service error into a client-facing reason.
func describe(err error) string {
	switch {
	case apperr.IsNotFound(err):
		return "not found"
	case apperr.IsAuthorization(err):
		return "forbidden"
	case apperr.IsValidation(err):
		return err.Error()
	default:
		zap.L().Error("cable request failed", zap.Error(err))
		return "internal error"
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}

	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
