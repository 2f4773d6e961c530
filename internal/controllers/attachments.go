package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/eashman/realtime-chat/internal/chat"
	"github.com/eashman/realtime-chat/internal/router"
)

var _ router.Controller = (*AttachmentsController)(nil)

type AttachmentsController struct {
	Attachments *chat.AttachmentService
}

func (c *AttachmentsController) Register(router *mux.Router) {
	router.HandleFunc("/attachments", c.handleCreate).
		Methods(http.MethodPost)
}

func (c *AttachmentsController) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input chat.CreateAttachment
	if err := decodeJSON(r, &input); err != nil {
		writeServiceError(w, r, err)
		return
	}

	attachment, err := c.Attachments.Create(r.Context(), actorFrom(r), input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, attachment)
}
