package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qrfare/backend/internal/auth"
	"qrfare/backend/internal/rate"
)

func TestOptionalSession(t *testing.T) {
	token, err := auth.SignSessionToken("secret", 9, "0512345678", time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name      string
		cookie    *http.Cookie
		wantPhone string
	}{
		{name: "valid", cookie: &http.Cookie{Name: SessionCookieName, Value: token}, wantPhone: "0512345678"},
		{name: "garbage", cookie: &http.Cookie{Name: SessionCookieName, Value: "nope"}},
		{name: "missing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Session
			var ok bool
			handler := OptionalSession("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, ok = SessionFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)

			if resp.Code != http.StatusNoContent {
				t.Fatalf("request should always pass through, got %d", resp.Code)
			}
			if got.Phone != tc.wantPhone || ok != (tc.wantPhone != "") {
				t.Fatalf("unexpected session: %#v ok=%v", got, ok)
			}
			if ok && got.UserID != 9 {
				t.Fatalf("unexpected user id: %d", got.UserID)
			}
		})
	}
}

func TestRateLimitByIP(t *testing.T) {
	limiter := rate.NewKeyedLimiter(1, time.Hour)
	handler := RateLimitByIP(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/qr-payment/purchase", nil)
		req.RemoteAddr = remote
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	if code := send("10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := send("10.0.0.1:5555"); code != http.StatusTooManyRequests {
		t.Fatalf("same ip on another port should be limited, got %d", code)
	}
	if code := send("10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("other ip should pass, got %d", code)
	}
}
