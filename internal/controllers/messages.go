package controllers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/eashman/realtime-chat/internal/chat"
	"github.com/eashman/realtime-chat/internal/router"
)

var _ router.Controller = (*MessagesController)(nil)

type MessagesController struct {
	Messages *chat.MessageService
}

func (c *MessagesController) Register(router *mux.Router) {
	router.HandleFunc("/rooms/{room_id}/messages", c.handleIndex).
		Methods(http.MethodGet)
	router.HandleFunc("/rooms/{room_id}/messages", c.handleCreate).
		Methods(http.MethodPost)
	router.HandleFunc("/rooms/{room_id}/messages/{id}", c.handleShow).
		Methods(http.MethodGet)
	router.HandleFunc("/rooms/{room_id}/messages/{id}", c.handleUpdate).
		Methods(http.MethodPut, http.MethodPatch)
	router.HandleFunc("/rooms/{room_id}/messages/{id}", c.handleDestroy).
		Methods(http.MethodDelete)
	router.HandleFunc("/messages/search", c.handleSearch).
		Methods(http.MethodGet)
}

func (c *MessagesController) handleIndex(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "room_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	page, err := pageFrom(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	messages, err := c.Messages.ListRecent(r.Context(), actorFrom(r), roomID, page)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (c *MessagesController) handleSearch(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	roomID, err := queryID(r, "room_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	messages, err := c.Messages.Search(r.Context(), actorFrom(r), chat.SearchQuery{
		Phrase: r.URL.Query().Get("phrase"),
		RoomID: roomID,
		Page:   page,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (c *MessagesController) handleShow(w http.ResponseWriter, r *http.Request) {
	roomID, messageID, err := messagePath(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	msg, err := c.Messages.Get(r.Context(), actorFrom(r), roomID, messageID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (c *MessagesController) handleCreate(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "room_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var input chat.CreateMessage
	if err = decodeJSON(r, &input); err != nil {
		writeServiceError(w, r, err)
		return
	}

	msg, err := c.Messages.Create(r.Context(), actorFrom(r), roomID, input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (c *MessagesController) handleUpdate(w http.ResponseWriter, r *http.Request) {
	roomID, messageID, err := messagePath(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var input chat.UpdateMessage
	if err = decodeJSON(r, &input); err != nil {
		writeServiceError(w, r, err)
		return
	}

	msg, err := c.Messages.Update(r.Context(), actorFrom(r), roomID, messageID, input.Body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (c *MessagesController) handleDestroy(w http.ResponseWriter, r *http.Request) {
	roomID, messageID, err := messagePath(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err = c.Messages.Delete(r.Context(), actorFrom(r), roomID, messageID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func messagePath(r *http.Request) (roomID, messageID int64, err error) {
	if roomID, err = pathID(r, "room_id"); err != nil {
		return
	}
	messageID, err = pathID(r, "id")
	return
}

// pageFrom reads last_id (the pagination cursor) and limit.
func pageFrom(r *http.Request) (page chat.Page, err error) {
	if page.BeforeID, err = queryID(r, "last_id"); err != nil {
		return
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if page.Limit, err = strconv.Atoi(raw); err != nil {
			err = badRequest("invalid limit")
		}
	}
	return
}
