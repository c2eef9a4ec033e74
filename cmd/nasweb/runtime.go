package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"nas-web/internal/cache"
	"nas-web/internal/derivative"
	"nas-web/internal/logging"
	"nas-web/internal/media"
	"nas-web/internal/memory"
	"nas-web/internal/nasfile"
	"nas-web/internal/probe"
	"nas-web/internal/startup"
	"nas-web/internal/supervisor"
	"nas-web/internal/tmpdir"
	"nas-web/internal/transcoder"
)

// services is the object graph shared by all commands.
type services struct {
	cfg     *startup.Config
	scratch string

	root       *tmpdir.Root
	supervisor *supervisor.Supervisor
	live       *transcoder.Live
	memory     *memory.Monitor
	cache      *cache.Cache
	derivative *derivative.Service
}

// newServices builds the pipeline with the configured derivative store.
func newServices(cfg *startup.Config, daemon bool) (*services, error) {
	return newServicesWithStore(cfg, daemon, openStore(cfg))
}

// openStore returns the Redis store when enabled. A nil store keeps
// derivatives in process memory only.
func openStore(cfg *startup.Config) cache.Store {
	if !cfg.RedisEnabled {
		return nil
	}
	rs, err := cache.NewRedisStore(startup.RedisConfig(cfg))
	if err != nil {
		logging.Warn("Redis store disabled: %v", err)
		return nil
	}
	return rs
}

// newServicesWithStore builds the pipeline on store. The daemon owns
// cfg.TmpDir; one-shot commands get a private scratch root so they can run
// next to it, but write task logs to cfg.TmpDir/logs so they outlive the
// command.
func newServicesWithStore(cfg *startup.Config, daemon bool, store cache.Store) (*services, error) {
	rootPath := cfg.TmpDir
	scratch := ""
	opts := tmpdir.Options{}
	if !daemon {
		dir, err := os.MkdirTemp("", "nasweb-")
		if err != nil {
			return nil, fmt.Errorf("create scratch root: %w", err)
		}
		rootPath, scratch = dir, dir
		logDir := filepath.Join(cfg.TmpDir, "logs")
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			logging.Warn("Task logs go to %s and are removed on exit: %v", scratch, err)
		} else {
			opts.LogDir = logDir
		}
	}

	root, err := tmpdir.OpenWithOptions(rootPath, opts)
	if err != nil {
		if scratch != "" {
			_ = os.RemoveAll(scratch)
		}
		return nil, fmt.Errorf("open temp root: %w", err)
	}

	if err := media.InitVips(); err != nil {
		logging.Warn("libvips unavailable, PDF and SVG thumbnails are disabled: %v", err)
	}

	sup := supervisor.New(root)
	prober := probe.New(sup, probe.Options{Binary: cfg.FFprobeBin, Timeout: cfg.ProbeTimeout})
	inspector := nasfile.New(sup, nasfile.Options{FileBinary: cfg.FileBin, MimeTimeout: cfg.MimeTimeout})
	extractor := media.NewExtractor(sup, prober, root, cfg.FFmpegBin)
	generator := media.NewGenerator(extractor, media.GeneratorOptions{
		SampleSize: cfg.ThumbnailSampleSize,
		FrameWidth: cfg.ThumbnailWidth,
	})
	batch := transcoder.NewBatch(sup, prober, transcoder.BatchConfig{
		FFmpeg:           cfg.FFmpegBin,
		AllowTermination: cfg.BatchAllowTermination,
		MinFreeDisk:      cfg.MinFreeDisk,
	})
	live := transcoder.NewLive(sup, prober, root, transcoder.LiveConfig{
		FFmpeg:       cfg.FFmpegBin,
		IdleTimeout:  cfg.LiveIdleTimeout,
		StartTimeout: cfg.LiveStartTimeout,
	})

	derivatives := cache.New(store)
	deps := derivative.Deps{
		Files:      inspector,
		Prober:     prober,
		Thumbnails: generator,
		Batch:      batch,
		Live:       live,
		Cache:      derivatives,
		Supervisor: sup,
	}

	var monitor *memory.Monitor
	if daemon {
		memory.Configure(cfg.MemoryLimit, cfg.MemoryRatio)
		mc := memory.DefaultConfig()
		mc.Limit = cfg.MemoryLimit.Bytes()
		mc.Sample = func() uint64 { return memory.HeapAlloc() + sup.ResidentBytes() }
		monitor = memory.NewMonitor(mc)
		monitor.Start()
		deps.Memory = monitor
	}

	svc := derivative.New(deps, derivative.Config{
		MaxThumbnailSize: cfg.ThumbnailMaxSize,
		ThumbnailTTL:     cfg.ThumbnailTTL,
		MetadataTTL:      cfg.MetadataTTL,
	})

	return &services{
		cfg:        cfg,
		scratch:    scratch,
		root:       root,
		supervisor: sup,
		live:       live,
		memory:     monitor,
		cache:      derivatives,
		derivative: svc,
	}, nil
}

// close stops live sessions, terminates remaining processes and releases
// the temp root. libvips stays up; it cannot be restarted once shut down,
// so main stops it on exit.
func (s *services) close() {
	if s.memory != nil {
		s.memory.Stop()
	}
	startup.LogShutdownStep("Stopping live sessions")
	if err := s.derivative.Close(); err != nil {
		logging.Warn("Cache close error: %v", err)
	}
	startup.LogShutdownStepComplete("Live sessions stopped")

	startup.LogShutdownStep("Stopping supervised processes")
	s.supervisor.Shutdown(s.cfg.ShutdownTimeout)
	startup.LogShutdownStepComplete("Supervised processes stopped")

	if err := s.root.Close(); err != nil {
		logging.Warn("Temp root close error: %v", err)
	}
	if s.scratch != "" {
		_ = os.RemoveAll(s.scratch)
	}
}

// waitTimeout bounds foreground waits of short commands.
func waitTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
