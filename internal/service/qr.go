package service

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

const pngDataURLPrefix = "data:image/png;base64,"

// QRRenderer turns a collaborator QR payload into a square PNG.
type QRRenderer struct {
	size int
}

func NewQRRenderer(size int) *QRRenderer {
	return &QRRenderer{size: size}
}

func (r *QRRenderer) PNG(payload string) ([]byte, error) {
	code, err := qr.Encode(payload, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	scaled, err := barcode.Scale(code, r.size, r.size)
	if err != nil {
		return nil, fmt.Errorf("scale qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *QRRenderer) DataURL(payload string) (string, error) {
	data, err := r.PNG(payload)
	if err != nil {
		return "", err
	}
	return pngDataURLPrefix + base64.StdEncoding.EncodeToString(data), nil
}
