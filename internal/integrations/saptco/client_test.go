package saptco

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"qrfare/backend/internal/integrations/upstream"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:  srv.URL + "/",
		Username: "ext_website",
		Password: "secret",
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

// TestLoginThenConfirmReusesSessionCookie verifies the backend session survives between calls.
func TestLoginThenConfirmReusesSessionCookie(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			if r.Method != http.MethodPost {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if r.URL.Query().Get("username") != "ext_website" || r.URL.Query().Get("password") != "secret" {
				t.Errorf("unexpected credentials: %s", r.URL.RawQuery)
			}
			if r.ContentLength > 0 {
				t.Errorf("login must not send a body")
			}
			http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: "abc", Path: "/"})
			w.WriteHeader(http.StatusOK)
		case "/api/v1/payments/3ds/confirm":
			cookie, err := r.Cookie("SESSION")
			if err != nil || cookie.Value != "abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode confirm body: %v", err)
			}
			if body["ordernumber"] != "TX1" {
				t.Errorf("unexpected ordernumber: %q", body["ordernumber"])
			}
			_, _ = w.Write([]byte(`{"success":true,"event":{"parameters":{"qr":"FARE-TOKEN-123"}}}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	body, err := client.Confirm(context.Background(), " TX1 ")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(string(body), "FARE-TOKEN-123") {
		t.Fatalf("unexpected confirm body: %s", string(body))
	}
}

func TestInitiate3DSPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/payments/3ds/check" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected content-type: %s", got)
		}
		var raw map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if raw["url"] != "https://app.test/qr-payment/success" || raw["failUrl"] != "https://app.test/qr-payment/fail" {
			t.Errorf("unexpected redirect urls: %#v", raw)
		}
		if raw["actionType"] != "QR_PURCHASE" {
			t.Errorf("unexpected actionType: %#v", raw["actionType"])
		}
		event, _ := raw["event"].(map[string]interface{})
		if event["fareId"] != "1093879357650108419" {
			t.Errorf("unexpected fareId: %#v", event["fareId"])
		}
		params, _ := raw["paymentParams"].(map[string]interface{})
		if params["qrFormat"] != "V8" {
			t.Errorf("unexpected qrFormat: %#v", params["qrFormat"])
		}
		_, _ = w.Write([]byte(`{"url":"https://test.oppwa.com/v1/paymentWidgets.js?checkoutId=CHK1"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	scriptURL, _, err := client.Initiate3DS(context.Background(), ThreeDSRequest{
		FareID:     "1093879357650108419",
		SuccessURL: "https://app.test/qr-payment/success",
		FailURL:    "https://app.test/qr-payment/fail",
	})
	if err != nil {
		t.Fatalf("initiate 3ds: %v", err)
	}
	if scriptURL != "https://test.oppwa.com/v1/paymentWidgets.js?checkoutId=CHK1" {
		t.Fatalf("unexpected script url: %s", scriptURL)
	}
}

func TestInitiate3DSFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{name: "upstream_error", status: http.StatusBadRequest, body: `{"error":"fare expired"}`, wantStatus: http.StatusBadRequest},
		{name: "empty_url", status: http.StatusOK, body: `{"url":""}`},
		{name: "not_json", status: http.StatusOK, body: `<html>`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := newTestClient(t, srv)
			_, raw, err := client.Initiate3DS(context.Background(), ThreeDSRequest{FareID: "1"})
			if err == nil {
				t.Fatalf("expected error")
			}
			if string(raw) != tc.body {
				t.Fatalf("raw body should be echoed back, got %q", string(raw))
			}
			if got := upstream.StatusCode(err); got != tc.wantStatus {
				t.Fatalf("unexpected status code %d, want %d", got, tc.wantStatus)
			}
		})
	}
}

func TestLoginFailureIsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid credentials"))
	}))
	defer srv.Close()

	err := newTestClient(t, srv).Login(context.Background())
	var apiErr *upstream.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 api error, got %v", err)
	}
}

func TestLoginTransportErrorHidesPassword(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(t, srv)
	srv.Close()

	err := client.Login(context.Background())
	if !upstream.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("error leaks password: %v", err)
	}
}

func TestConfirmRequiresOrderNumber(t *testing.T) {
	t.Parallel()
	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:0"}, nil, nil, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Confirm(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank ordernumber")
	}
}

func TestNewSessionIsolatesCookies(t *testing.T) {
	t.Parallel()

	var logins int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			mu.Lock()
			logins++
			value := fmt.Sprintf("s%d", logins)
			mu.Unlock()
			http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: value, Path: "/"})
		case "/api/v1/payments/3ds/confirm":
			cookie, err := r.Cookie("SESSION")
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"session":"` + cookie.Value + `"}`))
		}
	}))
	defer srv.Close()

	base := newTestClient(t, srv)
	first, err := base.NewSession()
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	second, err := base.NewSession()
	if err != nil {
		t.Fatalf("second session: %v", err)
	}

	if err := first.Login(context.Background()); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if err := second.Login(context.Background()); err != nil {
		t.Fatalf("second login: %v", err)
	}

	body, err := first.Confirm(context.Background(), "TX1")
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if !strings.Contains(string(body), `"s1"`) {
		t.Fatalf("first flow lost its cookie to the second login: %s", body)
	}
	body, err = second.Confirm(context.Background(), "TX2")
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if !strings.Contains(string(body), `"s2"`) {
		t.Fatalf("unexpected second session: %s", body)
	}

	if _, err := base.Confirm(context.Background(), "TX3"); upstream.StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("base client must not share session cookies, got %v", err)
	}
}
