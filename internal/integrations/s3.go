package integrations

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"qrfare/backend/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client archives rendered fare QR images.
type S3Client struct {
	bucket         string
	publicEndpoint string
	client         *s3.Client
	now            func() time.Time
}

// NewS3 creates s3.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	endpoint := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	publicEndpoint := normalizeEndpoint(cfg.PublicEndpoint, cfg.UseSSL)
	if publicEndpoint == "" {
		publicEndpoint = endpoint
	}

	options := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if endpoint != "" {
		options.BaseEndpoint = aws.String(endpoint)
	}

	return &S3Client{
		bucket:         cfg.Bucket,
		publicEndpoint: publicEndpoint,
		client:         s3.New(options),
		now:            time.Now,
	}, nil
}

// UploadQRImage stores a fare QR PNG and returns its public URL.
func (s *S3Client) UploadQRImage(ctx context.Context, name string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("empty qr image")
	}
	key := s.buildObjectKey(name)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(png),
		ContentType:   aws.String("image/png"),
		ContentLength: aws.Int64(int64(len(png))),
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put qr image: %w", err)
	}
	return s.publicURLForKey(key), nil
}

// publicURLForKey handles public u r l for key.
func (s *S3Client) publicURLForKey(key string) string {
	if s.publicEndpoint == "" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
	}

	endpoint := s.publicEndpoint
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Sprintf("%s/%s/%s", endpoint, s.bucket, key)
	}
	u.Path = path.Join(u.Path, s.bucket, key)
	return u.String()
}

func (s *S3Client) buildObjectKey(fileName string) string {
	safeName := strings.ReplaceAll(strings.TrimSpace(fileName), " ", "-")
	if safeName == "" {
		safeName = "fare.png"
	}
	now := s.now().UTC()
	return fmt.Sprintf("fares/%d/%02d/%02d/%d-%s", now.Year(), now.Month(), now.Day(), now.UnixNano(), safeName)
}

// normalizeEndpoint normalizes endpoint.
func normalizeEndpoint(endpoint string, useSSL bool) string {
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http") {
		return endpoint
	}
	scheme := "https"
	if !useSSL {
		scheme = "http"
	}
	return scheme + "://" + endpoint
}
