package media

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"nas-web/internal/logging"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// vipsLevelFor maps the application log level to the most verbose libvips
// level worth forwarding.
func vipsLevelFor(level logging.LogLevel) vips.LogLevel {
	switch level {
	case logging.LevelDebug:
		return vips.LogLevelInfo
	case logging.LevelWarn:
		return vips.LogLevelError
	case logging.LevelError:
		return vips.LogLevelCritical
	default:
		return vips.LogLevelWarning
	}
}

// InitVips initializes the libvips library
// This should be called once at startup
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	log := logging.With("vips")
	vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
		switch level {
		case vips.LogLevelError, vips.LogLevelCritical:
			log.Error("[%s] %s", domain, msg)
		case vips.LogLevelWarning:
			log.Warn("[%s] %s", domain, msg)
		default:
			log.Debug("[%s] %s", domain, msg)
		}
	}, vipsLevelFor(logging.GetLevel()))

	// Conservative memory settings; concurrency comes from our own slots.
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips cleans up libvips resources
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// thumbnailWithVips fits path inside size x size using decode-time
// shrinking and returns PNG bytes. Images smaller than size are not enlarged.
func thumbnailWithVips(path string, size int) ([]byte, error) {
	if !IsVipsAvailable() {
		return nil, fmt.Errorf("libvips not available")
	}

	ref, err := vips.NewThumbnailWithSizeFromFile(path, size, size, vips.InterestingNone, vips.SizeDown)
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	data, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}

	logging.Debug("Vips thumbnail for %s: %dx%d", filepath.Base(path), ref.Width(), ref.Height())
	return data, nil
}
