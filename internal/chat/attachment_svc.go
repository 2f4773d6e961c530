package chat

import (
	"context"
	"strings"
	"time"

	"github.com/eashman/realtime-chat/internal/apperr"
	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/database/models"
)

func NewAttachmentService(rooms *RoomService) *AttachmentService {
	return &AttachmentService{
		baseService: rooms.baseService,
	}
}

// AttachmentService records references to files kept in an external store.
// A reference stays unassigned until a message of its uploader claims it.
type AttachmentService struct {
	baseService
}

func (s *AttachmentService) Create(ctx context.Context, actor cctx.Actor, input CreateAttachment) (attachment Attachment, err error) {
	verr := &apperr.ValidationError{}
	if strings.TrimSpace(input.FileName) == "" {
		verr.Add("file_name", apperr.Blank)
	}
	if strings.TrimSpace(input.ContentRef) == "" {
		verr.Add("content_ref", apperr.Blank)
	}
	if !verr.Empty() {
		err = verr
		return
	}

	dbAttachment := models.Attachment{
		UserID:     actor.ID,
		FileName:   input.FileName,
		ContentRef: input.ContentRef,
		CreatedAt:  time.Now(),
	}

	_, err = s.DB.NewInsert().
		Model(&dbAttachment).
		Exec(ctx)
	if err != nil {
		return
	}

	attachment = AttachmentFromModel(dbAttachment)
	return
}
