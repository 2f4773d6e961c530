package identity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"aidanwoods.dev/go-paseto"

	"github.com/eashman/realtime-chat/internal/cctx"
)

var _ Verifier = (*PasetoVerifier)(nil)

// PasetoVerifier accepts v4.public tokens signed by the identity provider.
type PasetoVerifier struct {
	key    paseto.V4AsymmetricPublicKey
	parser paseto.Parser
}

func NewPasetoVerifier(publicKeyHex string) (v *PasetoVerifier, err error) {
	v = &PasetoVerifier{
		parser: paseto.MakeParser([]paseto.Rule{
			paseto.IssuedBy(Issuer),
			paseto.NotExpired(),
		}),
	}

	if v.key, err = paseto.NewV4AsymmetricPublicKeyFromHex(publicKeyHex); err != nil {
		err = fmt.Errorf("failed to decode token public key: %w", err)
	}
	return
}

func (v *PasetoVerifier) Verify(_ context.Context, tainted string) (actor cctx.Actor, err error) {
	var token *paseto.Token
	if token, err = v.parser.ParseV4Public(v.key, tainted, nil); err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidToken, err)
		return
	}

	var subject, username string
	if subject, err = token.GetSubject(); err != nil {
		err = fmt.Errorf("%w: %s", ErrInvalidToken, err)
		return
	}
	// Missing username is reported by actorFromClaims.
	username, _ = token.GetString(usernameClaim)

	return actorFromClaims(subject, username)
}

// PasetoSigner mints tokens the way the identity provider does. Used by the
// issue-token command and tests.
type PasetoSigner struct {
	key paseto.V4AsymmetricSecretKey
}

// NewPasetoSigner loads secretKeyHex, or generates a fresh key when it is empty.
func NewPasetoSigner(secretKeyHex string) (s *PasetoSigner, err error) {
	s = &PasetoSigner{}
	if secretKeyHex == "" {
		s.key = paseto.NewV4AsymmetricSecretKey()
		return
	}

	if s.key, err = paseto.NewV4AsymmetricSecretKeyFromHex(secretKeyHex); err != nil {
		err = fmt.Errorf("failed to decode token secret key: %w", err)
	}
	return
}

func (s *PasetoSigner) SecretKeyHex() string {
	return s.key.ExportHex()
}

func (s *PasetoSigner) PublicKeyHex() string {
	return s.key.Public().ExportHex()
}

func (s *PasetoSigner) Sign(actor cctx.Actor, ttl time.Duration) string {
	now := time.Now()

	token := newToken()
	token.SetIssuer(Issuer)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(now.Add(ttl))
	token.SetSubject(strconv.FormatInt(actor.ID, 10))
	token.SetString(usernameClaim, actor.Username)

	return token.V4Sign(s.key, nil)
}

func newToken() *paseto.Token {
	t := paseto.NewToken()
	return &t
}
