package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const SessionTTL = 24 * time.Hour

// SessionClaims identify the rider who registered in this browser.
type SessionClaims struct {
	UserID int64  `json:"uid"`
	Phone  string `json:"phone"`
	jwt.RegisteredClaims
}

// SignSessionToken signs session token.
func SignSessionToken(secret string, userID int64, phone string, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("session secret is required")
	}
	claims := SessionClaims{
		UserID: userID,
		Phone:  strings.TrimSpace(phone),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "rider",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseSessionToken parses session token.
func ParseSessionToken(secret string, tokenString string) (*SessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid || claims.Phone == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
