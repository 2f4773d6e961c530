package controllers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/uptrace/bun"

	"github.com/eashman/realtime-chat/internal/broadcast"
	"github.com/eashman/realtime-chat/internal/chat"
	"github.com/eashman/realtime-chat/internal/router"
	"github.com/eashman/realtime-chat/internal/typing"
)

// Services is everything the HTTP surface is built from.
type Services struct {
	DB          *bun.DB
	Rooms       *chat.RoomService
	Messages    *chat.MessageService
	Attachments *chat.AttachmentService
	Typing      *typing.Tracker
	Router      *broadcast.Router
	Auth        *Auth

	AllowedOrigins []string
	Debug          bool
}

// NewHandler mounts the API under /api/v1 behind Auth, plus the cable,
// health and metrics endpoints, and wraps the lot in the outer middleware.
func NewHandler(s Services) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(Instrument, s.Auth.Middleware)
	router.Mount(api,
		&MessagesController{Messages: s.Messages},
		&RoomsController{Rooms: s.Rooms},
		&AttachmentsController{Attachments: s.Attachments},
		&MeController{Rooms: s.Rooms},
	)

	router.Mount(r,
		&HealthController{DB: s.DB},
		&MetricsController{},
		&CableController{
			Router:         s.Router,
			Access:         s.Rooms,
			Typing:         s.Typing,
			Auth:           s.Auth,
			AllowedOrigins: s.AllowedOrigins,
			Debug:          s.Debug,
		},
	)
	if s.Debug {
		router.Mount(r, &GoDebugController{})
	}

	return Wrap(r, s.AllowedOrigins, s.Debug)
}
