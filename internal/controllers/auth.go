package controllers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eashman/realtime-chat/internal/cctx"
	"github.com/eashman/realtime-chat/internal/chat"
	"github.com/eashman/realtime-chat/internal/identity"
)

// Auth resolves the bearer token of a request to an actor and records the
// user locally. Websocket clients that cannot set headers pass ?token=.
type Auth struct {
	Verifier identity.Verifier
	Users    *chat.UserService
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}

		actor, err := a.Verifier.Verify(r.Context(), token)
		if err != nil {
			zap.L().Debug("rejected token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if err = a.Users.Touch(r.Context(), actor); err != nil {
			writeServiceError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(cctx.WithActor(r.Context(), actor)))
	})
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// actorFrom is only called behind Auth.Middleware.
func actorFrom(r *http.Request) cctx.Actor {
	actor, _ := cctx.ActorFrom(r.Context())
	return actor
}
