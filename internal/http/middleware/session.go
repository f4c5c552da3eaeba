package middleware

import (
	"context"
	"net/http"

	"qrfare/backend/internal/auth"
)

const SessionCookieName = "qr_session"

type contextKey string

const (
	userIDKey contextKey = "user_id"
	phoneKey  contextKey = "phone"
)

// Session is the rider identity carried by the session cookie.
type Session struct {
	UserID int64
	Phone  string
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	phone, ok := ctx.Value(phoneKey).(string)
	if !ok || phone == "" {
		return Session{}, false
	}
	userID, _ := ctx.Value(userIDKey).(int64)
	return Session{UserID: userID, Phone: phone}, true
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	val, ok := ctx.Value(userIDKey).(int64)
	return val, ok
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	ctx = context.WithValue(ctx, userIDKey, s.UserID)
	return context.WithValue(ctx, phoneKey, s.Phone)
}

// OptionalSession attaches the session from the cookie when it is present
// and valid. Requests without one pass through untouched.
func OptionalSession(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := auth.ParseSessionToken(secret, cookie.Value)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithSession(r.Context(), Session{UserID: claims.UserID, Phone: claims.Phone})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
