package controllers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/eashman/realtime-chat/internal/chat"
	"github.com/eashman/realtime-chat/internal/router"
)

var _ router.Controller = (*MeController)(nil)

// MeController serves the current user with their per-room read markers.
type MeController struct {
	Rooms *chat.RoomService
}

type meResponse struct {
	ID            int64                        `json:"id"`
	Username      string                       `json:"username"`
	RoomsActivity map[string]chat.RoomActivity `json:"rooms_activity"`
}

func (c *MeController) Register(router *mux.Router) {
	router.HandleFunc("/me", c.handleShow).
		Methods(http.MethodGet)
}

func (c *MeController) handleShow(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	activity, err := c.Rooms.Activity(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := meResponse{
		ID:            actor.ID,
		Username:      actor.Username,
		RoomsActivity: make(map[string]chat.RoomActivity, len(activity)),
	}
	for roomID, a := range activity {
		resp.RoomsActivity[strconv.FormatInt(roomID, 10)] = a
	}
	writeJSON(w, http.StatusOK, resp)
}
