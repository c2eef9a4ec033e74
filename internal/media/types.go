package media

import "strings"

// ThumbnailMime is the MIME type of every generated thumbnail.
const ThumbnailMime = "image/png"

// SourceKind says which path produces a thumbnail for a MIME type.
type SourceKind string

const (
	// SourceRaster is resized directly.
	SourceRaster SourceKind = "image"
	// SourceVideo goes through frame extraction first.
	SourceVideo SourceKind = "video"
	// SourceUnsupported has no thumbnail path.
	SourceUnsupported SourceKind = "unsupported"
)

// rasterTypes are decoded by the resize path.
var rasterTypes = map[string]bool{
	"application/pdf": true,
	"image/bmp":       true,
	"image/gif":       true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/svg+xml":   true,
	"image/tiff":      true,
	"image/webp":      true,
}

// vipsOnlyTypes have no pure Go decoder.
var vipsOnlyTypes = map[string]bool{
	"application/pdf": true,
	"image/svg+xml":   true,
}

func normalizeMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

// Classify maps a MIME type to the thumbnail path that handles it.
func Classify(mime string) SourceKind {
	mime = normalizeMime(mime)
	switch {
	case rasterTypes[mime]:
		return SourceRaster
	case strings.HasPrefix(mime, "video/"):
		return SourceVideo
	default:
		return SourceUnsupported
	}
}

// IsRaster reports whether mime is resized without frame extraction.
func IsRaster(mime string) bool {
	return Classify(mime) == SourceRaster
}

// IsVideo reports whether mime is a video container.
func IsVideo(mime string) bool {
	return Classify(mime) == SourceVideo
}
