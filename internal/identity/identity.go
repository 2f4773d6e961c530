// Package identity verifies bearer tokens issued by the external identity
// provider and turns them into actors.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/eashman/realtime-chat/internal/cctx"
)

const (
	Issuer        = "realtime-chat"
	usernameClaim = "username"
)

var ErrInvalidToken = errors.New("invalid token")

type Verifier interface {
	Verify(ctx context.Context, token string) (cctx.Actor, error)
}

// Chain accepts a token when any of its verifiers does.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (actor cctx.Actor, err error) {
	err = ErrInvalidToken
	for _, v := range c {
		if actor, err = v.Verify(ctx, token); err == nil {
			return
		}
	}
	return
}

func actorFromClaims(subject, username string) (actor cctx.Actor, err error) {
	if actor.ID, err = strconv.ParseInt(subject, 10, 64); err != nil || actor.ID <= 0 {
		err = fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, subject)
		return
	}
	if username == "" {
		err = fmt.Errorf("%w: missing %s claim", ErrInvalidToken, usernameClaim)
		return
	}
	actor.Username = username
	return
}
