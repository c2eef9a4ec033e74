package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"nas-web/internal/httperror"
	"nas-web/internal/logging"
	"nas-web/internal/metrics"
	"nas-web/internal/workers"
)

// Thumbnail is an encoded thumbnail image.
type Thumbnail struct {
	Mime string
	Data []byte
}

// GeneratorOptions tunes a Generator. Zero values pick defaults.
type GeneratorOptions struct {
	SampleSize int
	FrameWidth int
	// VideoSlots and ImageSlots bound concurrent work per path.
	VideoSlots int
	ImageSlots int
}

// Generator produces PNG thumbnails for images, documents and videos.
type Generator struct {
	extractor  *Extractor
	sampleSize int
	frameWidth int

	videoSlots *semaphore.Weighted
	imageSlots *semaphore.Weighted
	log        *logging.Logger
}

// NewGenerator creates a Generator. extractor may be nil, in which case
// videos are reported as unsupported.
func NewGenerator(extractor *Extractor, opts GeneratorOptions) *Generator {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	if opts.FrameWidth <= 0 {
		opts.FrameWidth = DefaultFrameWidth
	}
	if opts.VideoSlots <= 0 {
		opts.VideoSlots = workers.ForCPU(8)
	}
	if opts.ImageSlots <= 0 {
		opts.ImageSlots = workers.ForMixed(16)
	}

	logging.Debug("Thumbnail generator: %d video slots, %d image slots, sample size %d",
		opts.VideoSlots, opts.ImageSlots, opts.SampleSize)

	return &Generator{
		extractor:  extractor,
		sampleSize: opts.SampleSize,
		frameWidth: opts.FrameWidth,
		videoSlots: semaphore.NewWeighted(int64(opts.VideoSlots)),
		imageSlots: semaphore.NewWeighted(int64(opts.ImageSlots)),
		log:        logging.With("thumbnail"),
	}
}

// Generate returns a PNG of absPath that fits inside size x size. Unsupported
// types yield a 415 and undecodable input a 400 *httperror.Error.
func (g *Generator) Generate(ctx context.Context, absPath, mime string, size int) (*Thumbnail, error) {
	kind := Classify(mime)
	if kind == SourceUnsupported || (kind == SourceVideo && g.extractor == nil) {
		label := SourceRaster
		if kind == SourceVideo {
			label = SourceVideo
		}
		metrics.ThumbnailGenerationsTotal.WithLabelValues(string(label), "error_unsupported").Inc()
		return nil, httperror.UnsupportedMediaType(mime)
	}

	start := time.Now()
	var (
		data []byte
		err  error
	)
	if kind == SourceVideo {
		data, err = g.fromVideo(ctx, absPath, size)
	} else {
		data, err = g.fromRaster(ctx, absPath, normalizeMime(mime), size)
	}

	metrics.ThumbnailGenerationDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	metrics.ThumbnailGenerationsTotal.WithLabelValues(string(kind), statusLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	g.log.Debug("Thumbnail generated for %s (%s, %d bytes) in %v", absPath, mime, len(data), time.Since(start))
	return &Thumbnail{Mime: ThumbnailMime, Data: data}, nil
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	var he *httperror.Error
	if errors.As(err, &he) {
		switch he.Status {
		case http.StatusUnsupportedMediaType:
			return "error_unsupported"
		case http.StatusBadRequest:
			return "error_corrupted"
		}
	}
	return "error"
}

func corrupted(absPath string, err error) error {
	logging.Debug("Thumbnail decode failed for %s: %v", absPath, err)
	return httperror.BadRequest("invalid or corrupted file")
}

func (g *Generator) fromRaster(ctx context.Context, absPath, mime string, size int) ([]byte, error) {
	if err := g.imageSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.imageSlots.Release(1)

	if IsVipsAvailable() {
		data, err := thumbnailWithVips(absPath, size)
		if err == nil {
			return data, nil
		}
		if vipsOnlyTypes[mime] {
			return nil, corrupted(absPath, err)
		}
		g.log.Debug("vips failed for %s, falling back to imaging: %v", absPath, err)
	} else if vipsOnlyTypes[mime] {
		return nil, httperror.Newf(http.StatusUnsupportedMediaType, "%s thumbnails need libvips", mime)
	}

	img, err := LoadImageConstrained(absPath, MaxImageDimension, MaxImagePixels)
	if err != nil {
		return nil, corrupted(absPath, err)
	}
	return fitPNG(img, size)
}

func (g *Generator) fromVideo(ctx context.Context, absPath string, size int) ([]byte, error) {
	if err := g.videoSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.ThumbnailExtractionsInFlight.Inc()
	defer func() {
		metrics.ThumbnailExtractionsInFlight.Dec()
		g.videoSlots.Release(1)
	}()

	width := g.frameWidth
	if size > width {
		width = size
	}
	frame, err := g.extractor.ExtractVideoFrame(ctx, absPath, g.sampleSize, width)
	if err != nil {
		if errors.Is(err, ErrNoFrames) {
			return nil, corrupted(absPath, err)
		}
		return nil, err
	}
	defer func() {
		if err := frame.Release(); err != nil {
			g.log.Warn("Failed to remove frames for %s: %v", absPath, err)
		}
	}()

	img, err := frame.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode frame of %s: %w", absPath, err)
	}
	return fitPNG(img, size)
}
