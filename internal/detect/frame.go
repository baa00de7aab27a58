package detect

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const jpegQuality = 85

// PrepareFrame decodes a JPEG frame and, if it is wider than maxWidth,
// downscales it preserving aspect ratio and re-encodes it. Frames at or
// below maxWidth pass through untouched.
func PrepareFrame(data []byte, maxWidth int) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not read frame header: %w", err)
	}
	if format != "jpeg" {
		return nil, fmt.Errorf("unsupported frame format %q, expected jpeg", format)
	}
	if cfg.Width <= maxWidth {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not decode frame: %w", err)
	}

	height := cfg.Height * maxWidth / cfg.Width
	if height < 1 {
		height = 1
	}
	scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("could not encode scaled frame: %w", err)
	}
	return buf.Bytes(), nil
}
