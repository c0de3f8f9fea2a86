// Package preview prepares result images for the locked free tier: scaled
// thumbnails with a heavy gaussian blur so a match is recognizable as "a
// result" without giving the source photo away.
package preview

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

const (
	// DefaultWidth is the thumbnail width in pixels. Height follows the
	// aspect ratio.
	DefaultWidth = 320

	// DefaultBlurSigma is the gaussian blur strength for locked previews.
	DefaultBlurSigma = 8.0

	defaultJPEGQuality = 80
)

// Renderer produces locked and unlocked preview JPEGs from raw image bytes.
type Renderer struct {
	width       int
	blurSigma   float64
	jpegQuality int
}

// NewRenderer returns a Renderer. Zero arguments select the defaults.
func NewRenderer(width int, blurSigma float64) *Renderer {
	if width <= 0 {
		width = DefaultWidth
	}
	if blurSigma <= 0 {
		blurSigma = DefaultBlurSigma
	}
	return &Renderer{width: width, blurSigma: blurSigma, jpegQuality: defaultJPEGQuality}
}

// Blurred decodes raw, scales it down and applies the gaussian blur.
// The output is always JPEG regardless of the input format.
func (r *Renderer) Blurred(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	resized := imaging.Resize(img, r.width, 0, imaging.Lanczos)
	blurred := imaging.Blur(resized, r.blurSigma)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, blurred, &jpeg.Options{Quality: r.jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail decodes raw and scales it down without blurring, for unlocked
// deliveries.
func (r *Renderer) Thumbnail(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	resized := imaging.Resize(img, r.width, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: r.jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
