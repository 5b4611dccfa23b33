package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

const jpegDataURLPrefix = "data:image/jpeg;base64,"

// MaxFramePixels bounds the decoded size of an uploaded frame.
const MaxFramePixels = 4096 * 4096

var (
	ErrInvalidDataURL = errors.New("invalid data URL format")
	ErrFrameTooLarge  = errors.New("frame dimensions too large")
)

func DataURL(jpegData []byte) string {
	return jpegDataURLPrefix + base64.StdEncoding.EncodeToString(jpegData)
}

func DecodeDataURL(dataURL string) (image.Image, error) {
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, ErrInvalidDataURL
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 payload: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxFramePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
