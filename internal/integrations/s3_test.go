package integrations

import (
	"context"
	"testing"
	"time"

	"qrfare/backend/internal/config"
)

func TestS3ObjectKeysAndURLs(t *testing.T) {
	client, err := NewS3(context.Background(), config.S3Config{
		Endpoint: "minio:9000",
		Bucket:   "fares",
		UseSSL:   false,
	})
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}
	fixed := time.Date(2026, 10, 17, 8, 30, 0, 5, time.UTC)
	client.now = func() time.Time { return fixed }

	key := client.buildObjectKey("TX 1.png")
	want := "fares/2026/10/17/" + "1792225800000000005" + "-TX-1.png"
	if key != want {
		t.Fatalf("key = %q, want %q", key, want)
	}
	if got := client.publicURLForKey(key); got != "http://minio:9000/fares/"+key {
		t.Fatalf("unexpected public url: %s", got)
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), config.S3Config{}); err == nil {
		t.Fatalf("expected missing bucket to fail")
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{in: "", want: ""},
		{in: "s3.example.com", useSSL: true, want: "https://s3.example.com"},
		{in: "minio:9000", useSSL: false, want: "http://minio:9000"},
		{in: "http://already", useSSL: true, want: "http://already"},
	}
	for _, tc := range cases {
		if got := normalizeEndpoint(tc.in, tc.useSSL); got != tc.want {
			t.Fatalf("normalizeEndpoint(%q, %v) = %q, want %q", tc.in, tc.useSSL, got, tc.want)
		}
	}
}
