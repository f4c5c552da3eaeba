package auth

import (
	"testing"
	"time"
)

func TestSignAndParseSessionToken(t *testing.T) {
	token, err := SignSessionToken("secret", 7, " 0512345678 ", time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := ParseSessionToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 7 || claims.Phone != "0512345678" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
}

func TestParseSessionTokenRejects(t *testing.T) {
	token, err := SignSessionToken("secret", 7, "0512345678", time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseSessionToken("other-secret", token); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}

	expired, err := SignSessionToken("secret", 7, "0512345678", time.Now().Add(-2*SessionTTL))
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := ParseSessionToken("secret", expired); err == nil {
		t.Fatalf("expected expired token to fail")
	}

	if _, err := SignSessionToken(" ", 1, "0512345678", time.Now()); err == nil {
		t.Fatalf("expected empty secret to fail")
	}
}
