package chat

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/database/models"
)

func NewUserService(db *bun.DB) *UserService {
	return &UserService{
		baseService: baseService{
			DB: db,
		},
	}
}

// UserService keeps the local copy of identity-provider users in sync.
type UserService struct {
	baseService
}

// Touch records actor, refreshing the username the provider currently reports.
func (s *UserService) Touch(ctx context.Context, actor cctx.Actor) (err error) {
	user := models.User{
		ID:        actor.ID,
		Username:  actor.Username,
		CreatedAt: time.Now(),
	}

	_, err = s.DB.NewInsert().
		Model(&user).
		On("CONFLICT (id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Exec(ctx)
	return
}
