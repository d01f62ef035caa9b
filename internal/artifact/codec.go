package artifact

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
)

// Codec transforms captured image bytes. Implementations must be pure.
type Codec interface {
	Compress(data []byte, quality int) ([]byte, error)
	Resize(data []byte, width, height int) ([]byte, error)
	Thumbnail(data []byte, maxWidth, maxHeight int) ([]byte, error)
}

// ImageCodec decodes PNG, JPEG and GIF input. Compress re-encodes as JPEG;
// Resize and Thumbnail re-encode as PNG.
type ImageCodec struct {
	// Interp is the interpolation used when scaling. Zero value is
	// nearest-neighbor, so NewImageCodec picks Lanczos3.
	Interp resize.InterpolationFunction
}

// NewImageCodec returns a codec using Lanczos3 resampling.
func NewImageCodec() *ImageCodec {
	return &ImageCodec{Interp: resize.Lanczos3}
}

// Compress encodes data as JPEG at quality, clamped to [1, 100].
func (c *ImageCodec) Compress(data []byte, quality int) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Resize scales data to exactly width x height. A zero dimension keeps the
// aspect ratio for that side.
func (c *ImageCodec) Resize(data []byte, width, height int) ([]byte, error) {
	if width < 0 || height < 0 || (width == 0 && height == 0) {
		return nil, fmt.Errorf("invalid target size %dx%d", width, height)
	}
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	return encodePNG(resize.Resize(uint(width), uint(height), img, c.Interp))
}

// Thumbnail scales data down to fit inside maxWidth x maxHeight, keeping the
// aspect ratio. Images already inside the box are re-encoded unscaled.
func (c *ImageCodec) Thumbnail(data []byte, maxWidth, maxHeight int) ([]byte, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return nil, fmt.Errorf("invalid thumbnail box %dx%d", maxWidth, maxHeight)
	}
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	return encodePNG(resize.Thumbnail(uint(maxWidth), uint(maxHeight), img, c.Interp))
}

func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
