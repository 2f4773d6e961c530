package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/eashman/realtime-chat/internal/chat"
	"github.com/eashman/realtime-chat/internal/router"
)

var _ router.Controller = (*RoomsController)(nil)

type RoomsController struct {
	Rooms *chat.RoomService
}

func (c *RoomsController) Register(router *mux.Router) {
	router.HandleFunc("/rooms", c.handleIndex).
		Methods(http.MethodGet)
	router.HandleFunc("/rooms", c.handleCreate).
		Methods(http.MethodPost)
	router.HandleFunc("/rooms/{room_id}", c.handleShow).
		Methods(http.MethodGet)
	router.HandleFunc("/rooms/{room_id}", c.handleUpdate).
		Methods(http.MethodPut, http.MethodPatch)
	router.HandleFunc("/rooms/{room_id}", c.handleClose).
		Methods(http.MethodDelete)
	router.HandleFunc("/rooms/{room_id}/members", c.handleAddMember).
		Methods(http.MethodPost)
	router.HandleFunc("/rooms/{room_id}/members/{user_id}", c.handleRemoveMember).
		Methods(http.MethodDelete)
	router.HandleFunc("/rooms/{room_id}/activity", c.handleActivity).
		Methods(http.MethodPost)
}

func (c *RoomsController) handleIndex(w http.ResponseWriter, r *http.Request) {
	rooms, err := c.Rooms.List(r.Context(), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (c *RoomsController) handleShow(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "room_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	room, err := c.Rooms.Get(r.Context(), actorFrom(r), roomID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (c *RoomsController) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input chat.CreateRoom
	if err := decodeJSON(r, &input); err != nil {
		writeServiceError(w, r, err)
		return
	}

	room, err := c.Rooms.Create(r.Context(), actorFrom(r), input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (c *RoomsController) handleUpdate(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "room_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var input chat.UpdateRoom
	if err = decodeJSON(r, &input); err != nil {
		writeServiceError(w, r, err)
		return
	}

	room, err := c.Rooms.Update(r.Context(), actorFrom(r), roomID, input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (c *RoomsController) handleClose(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "room_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err = c.Rooms.Close(r.Context(), actorFrom(r), roomID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *RoomsController) handleAddMember(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "room_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var input struct {
		UserID int64 `json:"user_id"`
	}
	if err = decodeJSON(r, &input); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err = c.Rooms.AddMember(r.Context(), actorFrom(r), roomID, input.UserID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *RoomsController) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "room_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	userID, err := pathID(r, "user_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err = c.Rooms.RemoveMember(r.Context(), actorFrom(r), roomID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *RoomsController) handleActivity(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "room_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err = c.Rooms.RecordActivity(r.Context(), actorFrom(r), roomID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
