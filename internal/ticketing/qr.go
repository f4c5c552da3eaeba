package ticketing

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const DefaultQRSize = 256

var ErrEmptyQRPayload = errors.New("empty qr payload")

// ParseRecoveryLevel maps a config value to a QR error correction level.
// Unknown values fall back to medium.
func ParseRecoveryLevel(value string) qrcode.RecoveryLevel {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low", "l":
		return qrcode.Low
	case "high", "q":
		return qrcode.High
	case "highest", "h":
		return qrcode.Highest
	default:
		return qrcode.Medium
	}
}

// RenderQRImagePNG encodes a fare token into a PNG. The output depends only
// on payload, level and size.
func RenderQRImagePNG(payload string, level qrcode.RecoveryLevel, size int) ([]byte, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyQRPayload
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(payload, level, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// QRDataURI wraps a PNG so it can be embedded directly in an img tag.
func QRDataURI(png []byte) string {
	if len(png) == 0 {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
