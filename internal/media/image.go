package media

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/disintegration/imaging"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"nas-web/internal/logging"
)

const (
	// MaxImageDimension is the maximum width or height we'll process
	// Images larger than this will be downscaled first
	MaxImageDimension = 4096

	// MaxImagePixels is the maximum total pixels (width * height) we'll process
	MaxImagePixels = 20_000_000 // ~20MP, uses ~80MB in RGBA
)

// LoadImageConstrained loads an image, downscaling if it exceeds size limits
// This prevents OOM when processing very large images
func LoadImageConstrained(path string, maxDimension, maxPixels int) (image.Image, error) {
	dimensions, err := GetImageDimensions(path)
	if err != nil {
		return nil, err
	}

	width, height := dimensions.Width, dimensions.Height
	if width <= maxDimension && height <= maxDimension && width*height <= maxPixels {
		return imaging.Open(path, imaging.AutoOrientation(true))
	}

	targetWidth, targetHeight := width, height
	if width > maxDimension || height > maxDimension {
		if width > height {
			targetWidth = maxDimension
			targetHeight = height * maxDimension / width
		} else {
			targetHeight = maxDimension
			targetWidth = width * maxDimension / height
		}
	}
	if targetPixels := targetWidth * targetHeight; targetPixels > maxPixels {
		scale := float64(maxPixels) / float64(targetPixels)
		targetWidth = int(float64(targetWidth) * scale)
		targetHeight = int(float64(targetHeight) * scale)
	}

	logging.Debug("Constraining large image %s from %dx%d to %dx%d", path, width, height, targetWidth, targetHeight)

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return imaging.Resize(img, targetWidth, targetHeight, imaging.Lanczos), nil
}

// ImageDimensions holds image width and height
type ImageDimensions struct {
	Width  int
	Height int
}

// GetImageDimensions returns image dimensions without fully decoding the image
func GetImageDimensions(path string) (*ImageDimensions, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, err
	}
	return &ImageDimensions{Width: config.Width, Height: config.Height}, nil
}

// fitPNG scales img to fit inside size x size without enlarging it and
// encodes the result as PNG.
func fitPNG(img image.Image, size int) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() > size || b.Dy() > size {
		img = imaging.Fit(img, size, size, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
