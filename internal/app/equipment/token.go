// Package equipment issues and verifies the short-lived tokens secondary
// devices use to join a conference as equipment of a participant.
package equipment

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/Concord/internal/core"
)

var ErrInvalidToken = errors.New("equipment: invalid token")

// TokenIssuer signs equipment tokens with the server secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

type claims struct {
	ConferenceID string `json:"conferenceId"`
	jwt.RegisteredClaims
}

// Issue creates a token bound to the participant.
func (t *TokenIssuer) Issue(p core.Participant) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ConferenceID: p.ConferenceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	})
	return token.SignedString(t.secret)
}

// Verify parses a token and returns the participant it was issued for.
func (t *TokenIssuer) Verify(tokenString string) (core.Participant, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return core.Participant{}, ErrInvalidToken
	}
	if c.ConferenceID == "" || c.Subject == "" {
		return core.Participant{}, ErrInvalidToken
	}
	return core.NewParticipant(c.ConferenceID, c.Subject), nil
}
