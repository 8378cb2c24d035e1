package service

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// EncodeQRDataURL renders a pairing challenge as a PNG data URL that a
// browser can show directly.
func EncodeQRDataURL(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("empty qr challenge")
	}
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
