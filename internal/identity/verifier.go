// Package identity resolves inbound session credentials into stable
// user identifiers. The credential carries only the user id; role and
// tier are always re-read from the user directory by the resolver so a
// downgrade or deletion takes effect on the very next request.
package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

// Verifier turns a raw credential into a user id, or fails if the
// credential is missing, malformed, expired or forged.
type Verifier interface {
	VerifyCredential(raw string) (string, error)
}

// Issuer mints a credential for a user id. Implemented alongside
// Verifier by the JWT provider; kept separate so the session resolver
// only ever sees the verify side.
type Issuer interface {
	IssueCredential(userID string, ttl time.Duration) (string, error)
}

// JWTProvider signs and verifies HS256 session tokens.
type JWTProvider struct {
	secret []byte
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

func (p *JWTProvider) IssueCredential(userID string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign session token")
	}
	return signed, nil
}

func (p *JWTProvider) VerifyCredential(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("missing credential")
	}
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid session token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !claims.VerifyExpiresAt(time.Now().Unix(), true) {
		return "", errors.New("session token expired")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing subject claim")
	}
	return sub, nil
}
