// Package tmpdir manages the process-wide scratch root: per-kind temporary
// directories handed out as {Path, Done} handles and the dated task-log tree.
package tmpdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"nas-web/internal/logging"
)

// Kind names a subtree of the root.
type Kind string

const (
	KindThumbnails Kind = "thumbnails"
	KindLive       Kind = "live"
)

// ephemeralKinds are wiped when a root is opened; nothing in them survives a restart.
var ephemeralKinds = []Kind{KindThumbnails, KindLive}

const lockFile = ".nasweb.lock"

// ErrLocked is returned when another process already owns the root.
var ErrLocked = errors.New("tmpdir: root is locked by another process")

// Options configures Open.
type Options struct {
	// LogDir holds the task-log tree. It defaults to <root>/logs and is not
	// covered by the lock, so several roots may share one.
	LogDir string
}

// Root is an exclusively locked scratch directory.
type Root struct {
	path   string
	logDir string
	lock   *flock.Flock
	log    *logging.Logger
}

// Open creates (if needed) and locks the root at path, then purges the
// leftovers of earlier runs.
func Open(path string) (*Root, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions is Open with a custom task-log location.
func OpenWithOptions(path string, opts Options) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("tmpdir: resolve %s: %w", path, err)
	}
	logDir := filepath.Join(abs, "logs")
	if opts.LogDir != "" {
		if logDir, err = filepath.Abs(opts.LogDir); err != nil {
			return nil, fmt.Errorf("tmpdir: resolve %s: %w", opts.LogDir, err)
		}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("tmpdir: create root: %w", err)
	}

	lock := flock.New(filepath.Join(abs, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("tmpdir: acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, abs)
	}

	r := &Root{path: abs, logDir: logDir, lock: lock, log: logging.With("tmpdir")}
	r.purge()
	return r, nil
}

// Path returns the absolute root directory.
func (r *Root) Path() string {
	return r.path
}

func (r *Root) purge() {
	for _, kind := range ephemeralKinds {
		dir := filepath.Join(r.path, string(kind))
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				r.log.Warn("failed to purge stale %s entry %s: %v", kind, e.Name(), err)
			}
		}
		if len(entries) > 0 {
			r.log.Debug("purged %d stale %s entries", len(entries), kind)
		}
	}
}

// Dir is a freshly created temporary directory.
type Dir struct {
	Path string

	once sync.Once
	err  error
}

// Done removes the directory and everything in it. It is safe to call more
// than once.
func (d *Dir) Done() error {
	d.once.Do(func() {
		d.err = os.RemoveAll(d.Path)
	})
	return d.err
}

// New creates a unique directory below <root>/<kind>.
func (r *Root) New(kind Kind) (*Dir, error) {
	parent := filepath.Join(r.path, string(kind))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("tmpdir: create %s: %w", kind, err)
	}
	p, err := os.MkdirTemp(parent, "")
	if err != nil {
		return nil, fmt.Errorf("tmpdir: create %s dir: %w", kind, err)
	}
	return &Dir{Path: p}, nil
}

// TaskLogDir returns (creating it) <log dir>/tasks/<Y>-<M>-<D> for the UTC
// day of t. Month and day are not zero padded. Log file names must be
// claimed with O_EXCL since other roots may write to the same tree.
func (r *Root) TaskLogDir(t time.Time) (string, error) {
	t = t.UTC()
	dir := filepath.Join(r.logDir, "tasks", fmt.Sprintf("%d-%d-%d", t.Year(), int(t.Month()), t.Day()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("tmpdir: create task log dir: %w", err)
	}
	return dir, nil
}

// Close releases the root lock. Directories are left in place.
func (r *Root) Close() error {
	return r.lock.Unlock()
}
