package identity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eashman/realtime-chat/internal/cctx"
)

var _ Verifier = (*JWTVerifier)(nil)

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTVerifier accepts HS256 tokens from providers sharing a secret with us.
type JWTVerifier struct {
	Secret []byte
}

func (v *JWTVerifier) Verify(_ context.Context, tainted string) (actor cctx.Actor, err error) {
	var parsed claims
	_, err = jwt.ParseWithClaims(tainted, &parsed, func(token *jwt.Token) (interface{}, error) {
		return v.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidToken, err)
		return
	}

	return actorFromClaims(parsed.Subject, parsed.Username)
}

func SignJWT(secret []byte, actor cctx.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		Username: actor.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   strconv.FormatInt(actor.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(secret)
}
