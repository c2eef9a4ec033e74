// Package derivative is the entry point for callers holding an absolute
// path and a user: it answers thumbnail, stream list and MIME requests
// through the single-flight cache and starts batch and live transcodes.
package derivative

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"nas-web/internal/cache"
	"nas-web/internal/filesystem"
	"nas-web/internal/httperror"
	"nas-web/internal/logging"
	"nas-web/internal/media"
	"nas-web/internal/metrics"
	"nas-web/internal/nasfile"
	"nas-web/internal/probe"
	"nas-web/internal/supervisor"
	"nas-web/internal/transcoder"
	"nas-web/internal/workers"
)

const (
	// DefaultThumbnailSize is used when a request names no size.
	DefaultThumbnailSize = 500
	// DefaultMaxThumbnailSize is the largest size a request may ask for.
	DefaultMaxThumbnailSize = 2000
	// DefaultThumbnailTTL keeps thumbnails for 90 days.
	DefaultThumbnailTTL = 90 * 24 * time.Hour
	// DefaultMetadataTTL keeps stream lists and MIME types for a day.
	DefaultMetadataTTL = 24 * time.Hour
)

const (
	kindThumbnail = "thumbnail"
	kindStreams   = "streams"
	kindMime      = "mime"
)

// Files resolves metadata of files on the share.
type Files interface {
	Stat(ctx context.Context, absPath string) (*nasfile.Info, error)
	MimeType(ctx context.Context, absPath string) (string, error)
}

// Thumbnailer renders thumbnails.
type Thumbnailer interface {
	Generate(ctx context.Context, absPath, mime string, size int) (*media.Thumbnail, error)
}

// Prober lists the streams of a media file.
type Prober interface {
	Probe(ctx context.Context, absPath string) (*probe.StreamList, error)
}

// Gate holds back new work, e.g. while memory use is critical.
type Gate interface {
	Wait(ctx context.Context) error
}

// Deps are the collaborators of a Service. Batch, Live, Supervisor and
// Memory may be nil when the caller does not need them.
type Deps struct {
	Files      Files
	Prober     Prober
	Thumbnails Thumbnailer
	Batch      *transcoder.Batch
	Live       *transcoder.Live
	Cache      *cache.Cache
	Supervisor *supervisor.Supervisor
	Memory     Gate
}

// Config tunes a Service. Zero values pick the defaults.
type Config struct {
	MaxThumbnailSize int
	ThumbnailTTL     time.Duration
	MetadataTTL      time.Duration
	Retry            filesystem.RetryConfig
	// FingerprintSlots bounds concurrent content hashing.
	FingerprintSlots int
}

// Service serves derivatives of NAS files.
type Service struct {
	deps Deps
	cfg  Config

	hashSlots *semaphore.Weighted
	log       *logging.Logger
}

// New creates a Service. A nil cache gets an in-flight-only cache.
func New(deps Deps, cfg Config) *Service {
	if cfg.MaxThumbnailSize <= 0 {
		cfg.MaxThumbnailSize = DefaultMaxThumbnailSize
	}
	if cfg.ThumbnailTTL <= 0 {
		cfg.ThumbnailTTL = DefaultThumbnailTTL
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = DefaultMetadataTTL
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = filesystem.DefaultRetryConfig()
	}
	if cfg.FingerprintSlots <= 0 {
		cfg.FingerprintSlots = workers.ForIO(32)
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(nil)
	}

	return &Service{
		deps:      deps,
		cfg:       cfg,
		hashSlots: semaphore.NewWeighted(int64(cfg.FingerprintSlots)),
		log:       logging.With("derivative"),
	}
}

// ParseThumbnailSize validates a size query value. An empty value means
// DefaultThumbnailSize.
func ParseThumbnailSize(raw string, maxSize int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultThumbnailSize, nil
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxThumbnailSize
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size < 1 || size > maxSize {
		return 0, httperror.Newf(http.StatusBadRequest, "size must be a number between 1 and %d", maxSize)
	}
	return size, nil
}

func (s *Service) admit(ctx context.Context) error {
	if s.deps.Memory == nil {
		return nil
	}
	return s.deps.Memory.Wait(ctx)
}

func (s *Service) fingerprint(ctx context.Context, absPath string) (string, error) {
	if err := s.hashSlots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.hashSlots.Release(1)

	fp, err := nasfile.Fingerprint(absPath, s.cfg.Retry)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", absPath, err)
	}
	return fp, nil
}

// Thumbnail returns a PNG thumbnail that fits inside size x size. A size of
// zero means DefaultThumbnailSize. It returns nil without error when the
// file produced no thumbnail.
func (s *Service) Thumbnail(ctx context.Context, userID, absPath string, size int) (*media.Thumbnail, error) {
	if size == 0 {
		size = DefaultThumbnailSize
	}
	if size < 1 || size > s.cfg.MaxThumbnailSize {
		return nil, httperror.Newf(http.StatusBadRequest, "size must be a number between 1 and %d", s.cfg.MaxThumbnailSize)
	}

	fp, err := s.fingerprint(ctx, absPath)
	if err != nil {
		return nil, err
	}
	key := cache.Key(userID, kindThumbnail, fp, strconv.Itoa(size))

	v, err := s.deps.Cache.GetOrCompute(ctx, key, s.cfg.ThumbnailTTL, func(ctx context.Context) (cache.Value, error) {
		if err := s.admit(ctx); err != nil {
			return nil, err
		}
		info, err := s.deps.Files.Stat(ctx, absPath)
		if err != nil {
			return nil, err
		}
		thumb, err := s.deps.Thumbnails.Generate(ctx, absPath, info.Mime, size)
		if err != nil {
			return nil, err
		}
		if thumb == nil {
			return cache.Empty{}, nil
		}
		return cache.Thumbnail{Mime: thumb.Mime, Data: thumb.Data}, nil
	})
	if err != nil {
		return nil, err
	}

	switch v := v.(type) {
	case cache.Thumbnail:
		return &media.Thumbnail{Mime: v.Mime, Data: v.Data}, nil
	case cache.Empty:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected cached thumbnail value %T", v)
	}
}

// Streams returns the probed stream list of absPath.
func (s *Service) Streams(ctx context.Context, userID, absPath string) (*probe.StreamList, error) {
	fp, err := s.fingerprint(ctx, absPath)
	if err != nil {
		return nil, err
	}
	key := cache.Key(userID, kindStreams, fp, "")

	v, err := s.deps.Cache.GetOrCompute(ctx, key, s.cfg.MetadataTTL, func(ctx context.Context) (cache.Value, error) {
		list, err := s.deps.Prober.Probe(ctx, absPath)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		return cache.JSON(b), nil
	})
	if err != nil {
		return nil, err
	}

	doc, ok := v.(cache.JSON)
	if !ok {
		return nil, fmt.Errorf("unexpected cached stream list value %T", v)
	}
	var list probe.StreamList
	if err := json.Unmarshal(doc, &list); err != nil {
		return nil, fmt.Errorf("decode cached stream list: %w", err)
	}
	return &list, nil
}

// Mime returns the MIME type of absPath.
func (s *Service) Mime(ctx context.Context, userID, absPath string) (string, error) {
	fp, err := s.fingerprint(ctx, absPath)
	if err != nil {
		return "", err
	}
	key := cache.Key(userID, kindMime, fp, "")

	v, err := s.deps.Cache.GetOrCompute(ctx, key, s.cfg.MetadataTTL, func(ctx context.Context) (cache.Value, error) {
		typ, err := s.deps.Files.MimeType(ctx, absPath)
		if err != nil {
			return nil, err
		}
		return cache.String(typ), nil
	})
	if err != nil {
		return "", err
	}

	str, ok := v.(cache.String)
	if !ok {
		return "", fmt.Errorf("unexpected cached mime value %T", v)
	}
	return string(str), nil
}

func requireFile(absPath string) error {
	if !nasfile.IsRegular(absPath) {
		return httperror.Newf(http.StatusNotFound, "file not found: %s", absPath)
	}
	return nil
}

// Transcode starts a batch export of absPath into targetDir.
func (s *Service) Transcode(ctx context.Context, absPath, targetDir string, opts transcoder.Options) (*transcoder.Job, error) {
	if s.deps.Batch == nil {
		return nil, httperror.New(http.StatusNotImplemented, "batch transcoding is not configured")
	}
	if err := requireFile(absPath); err != nil {
		return nil, err
	}
	if err := s.admit(ctx); err != nil {
		return nil, err
	}
	return s.deps.Batch.Transcode(ctx, absPath, targetDir, opts)
}

// StartLive returns the HLS session of absPath, starting one if needed.
func (s *Service) StartLive(ctx context.Context, absPath string) (*transcoder.LiveSession, error) {
	if s.deps.Live == nil {
		return nil, httperror.New(http.StatusNotImplemented, "live transcoding is not configured")
	}
	if err := requireFile(absPath); err != nil {
		return nil, err
	}
	if err := s.admit(ctx); err != nil {
		return nil, err
	}
	return s.deps.Live.StartLive(ctx, absPath)
}

// GetStats implements metrics.StatsProvider.
func (s *Service) GetStats() metrics.Stats {
	var stats metrics.Stats
	if s.deps.Supervisor != nil {
		stats.RunningTasks = len(s.deps.Supervisor.Running())
		stats.ResidentBytes = s.deps.Supervisor.ResidentBytes()
	}
	if s.deps.Live != nil {
		stats.LiveSessions = s.deps.Live.Count()
	}
	return stats
}

// Close stops live sessions and closes the cache store.
func (s *Service) Close() error {
	if s.deps.Live != nil {
		s.deps.Live.Close()
	}
	return s.deps.Cache.Close()
}
