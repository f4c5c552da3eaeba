package oppwa

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"qrfare/backend/internal/integrations/upstream"
)

func TestVerifyHostedPaymentDecodesResourcePath(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/v1/checkouts/CHK1/payment" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("entityId"); got != "ENT" {
			t.Errorf("unexpected entityId: %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header: %s", got)
		}
		_, _ = w.Write([]byte(`{"result":{"code":"000.100.110"},"merchantTransactionId":"TX1"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{Host: srv.URL, EntityID: "ENT", AccessToken: "tok"}, srv.Client(), nil, nil)
	body, err := client.VerifyHostedPayment(context.Background(), "%2Fv1%2Fcheckouts%2FCHK1%2Fpayment")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if string(body) != `{"result":{"code":"000.100.110"},"merchantTransactionId":"TX1"}` {
		t.Fatalf("unexpected body: %s", string(body))
	}
}

func TestVerifyHostedPaymentUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"result":{"code":"200.300.404"}}`))
	}))
	defer srv.Close()

	client := NewClient(Config{Host: srv.URL}, srv.Client(), nil, nil)
	body, err := client.VerifyHostedPayment(context.Background(), "/v1/checkouts/missing/payment")
	if upstream.StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404 api error, got %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("expected body to be returned with the error")
	}
}

func TestVerifyURL(t *testing.T) {
	t.Parallel()

	client := NewClient(Config{Host: "https://test.oppwa.com/", EntityID: "ENT"}, nil, nil, nil)
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "/v1/checkouts/A/payment", want: "https://test.oppwa.com/v1/checkouts/A/payment?entityId=ENT"},
		{in: "v1%2Fcheckouts%2FA%2Fpayment", want: "https://test.oppwa.com/v1/checkouts/A/payment?entityId=ENT"},
		{in: "/v1/checkouts/A/payment?entityId=OTHER", want: "https://test.oppwa.com/v1/checkouts/A/payment?entityId=OTHER"},
		{in: "  ", wantErr: true},
		{in: "%zz", wantErr: true},
	}
	for _, tc := range cases {
		got, err := client.verifyURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("verifyURL(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("verifyURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("verifyURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
