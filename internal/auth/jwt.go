package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"checkin/internal/model"
)

// Token is a signed session token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Claims is the JWT payload. The registered ID carries the session id.
type Claims struct {
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// SessionID returns the id of the server-side session the token refers to.
func (c Claims) SessionID() string { return c.ID }

// Issue signs a token for sess that expires after ttl.
func Issue(sess model.Session, issuer, key string, ttl time.Duration) (Token, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Username: sess.Username,
		Role:     sess.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Issuer:    issuer,
			Subject:   sess.Username,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.ID == "" {
		return Claims{}, errors.New("token carries no session")
	}
	return *claims, nil
}
