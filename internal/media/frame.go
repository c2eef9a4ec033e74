package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"

	"nas-web/internal/logging"
	"nas-web/internal/metrics"
	"nas-web/internal/supervisor"
	"nas-web/internal/tmpdir"
)

const (
	// DefaultSampleSize is the number of I-frames scored per video.
	DefaultSampleSize = 2
	// DefaultFrameWidth is the width frames are scaled to during extraction.
	DefaultFrameWidth = 500
	// seekFraction positions the sample window past intros and fades.
	seekFraction = 0.1
)

var (
	// ErrInvalidSampleSize is returned for a sample size below one.
	ErrInvalidSampleSize = errors.New("sample size has to be positive")
	// ErrNotAbsolute is returned for relative input paths.
	ErrNotAbsolute = errors.New("path needs to be absolute")
	// ErrNoFrames is returned when ffmpeg produced no usable frame.
	ErrNoFrames = errors.New("no frames extracted")
)

// Spawner starts supervised processes.
type Spawner interface {
	Spawn(name string, args []string, opts supervisor.SpawnOptions) *supervisor.Task
}

// DurationProber reports the length of a media file in seconds.
type DurationProber interface {
	Duration(ctx context.Context, absPath string) (float64, error)
}

// Frame is the chosen frame of a video. The image stays on disk until
// Release is called.
type Frame struct {
	Path  string
	Score float64

	dir *tmpdir.Dir
}

// Decode loads the frame image.
func (f *Frame) Decode() (image.Image, error) {
	return imaging.Open(f.Path)
}

// Release deletes the frame and its sibling samples.
func (f *Frame) Release() error {
	if f.dir == nil {
		return nil
	}
	return f.dir.Done()
}

// Extractor samples video frames with ffmpeg.
type Extractor struct {
	sup    Spawner
	probe  DurationProber
	root   *tmpdir.Root
	ffmpeg string
	log    *logging.Logger
}

// NewExtractor creates an Extractor. ffmpeg defaults to "ffmpeg".
func NewExtractor(sup Spawner, probe DurationProber, root *tmpdir.Root, ffmpeg string) *Extractor {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Extractor{sup: sup, probe: probe, root: root, ffmpeg: ffmpeg, log: logging.With("thumbnail")}
}

// extractArgs builds the ffmpeg call that writes sampleSize I-frames,
// scaled to width, starting at 10% of the duration.
func extractArgs(absPath string, duration float64, sampleSize, width int) []string {
	seek := int64(math.Floor(seekFraction * duration))
	return []string{
		"-ss", strconv.FormatInt(seek, 10), "-noaccurate_seek",
		"-i", absPath,
		"-map", "v:0",
		"-vf", fmt.Sprintf("select='eq(pict_type,PICT_TYPE_I)',scale=%d:-2", width),
		"-vsync", "vfr",
		"-vframes", strconv.Itoa(sampleSize),
		"frame%01d.png",
	}
}

// ExtractVideoFrame writes up to sampleSize I-frames to a fresh temp dir
// and returns the one whose dominant color is furthest from black and white.
// The caller owns the returned Frame and must Release it.
func (e *Extractor) ExtractVideoFrame(ctx context.Context, absPath string, sampleSize, width int) (*Frame, error) {
	if sampleSize <= 0 {
		return nil, ErrInvalidSampleSize
	}
	if !filepath.IsAbs(absPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotAbsolute, absPath)
	}
	if width <= 0 {
		width = DefaultFrameWidth
	}

	duration, err := e.probe.Duration(ctx, absPath)
	if err != nil {
		e.log.Debug("duration probe failed for %s, seeking from start: %v", absPath, err)
		duration = 0
	}

	dir, err := e.root.New(tmpdir.KindThumbnails)
	if err != nil {
		return nil, err
	}

	task := e.sup.Spawn(e.ffmpeg, extractArgs(absPath, duration, sampleSize, width), supervisor.SpawnOptions{
		AllowTermination: true,
		Dir:              dir.Path,
	})
	if err := task.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			// ffmpeg keeps running; clean up once it is gone
			go func() {
				<-task.Done()
				_ = dir.Done()
			}()
			return nil, err
		}
		_ = dir.Done()
		return nil, fmt.Errorf("extract frames from %s: %w", absPath, err)
	}

	best, err := pickFrame(dir.Path, sampleSize)
	if err != nil {
		_ = dir.Done()
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	best.dir = dir
	return best, nil
}

// pickFrame scores frame1.png..frameN.png. Short videos may yield fewer
// frames than requested; missing files are skipped.
func pickFrame(dir string, sampleSize int) (*Frame, error) {
	var best *Frame
	for i := 1; i <= sampleSize; i++ {
		path := filepath.Join(dir, fmt.Sprintf("frame%d.png", i))
		img, err := imaging.Open(path)
		if err != nil {
			continue
		}
		score := FrameScore(DominantColor(img))
		metrics.ThumbnailFramesScored.Inc()
		if best == nil || score > best.Score {
			best = &Frame{Path: path, Score: score}
		}
	}
	if best == nil {
		return nil, ErrNoFrames
	}
	return best, nil
}
