// Package nasfile answers the questions the media pipeline asks about a
// file on the share: its MIME type, size, timestamps and content fingerprint.
package nasfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sys/unix"

	"nas-web/internal/filesystem"
	"nas-web/internal/logging"
	"nas-web/internal/supervisor"
)

const (
	// DefaultMimeTimeout bounds one run of the file tool.
	DefaultMimeTimeout = 3 * time.Second
	octetStream        = "application/octet-stream"
)

// ErrNotAbsolute is returned for relative paths.
var ErrNotAbsolute = errors.New("path needs to be absolute")

// Spawner starts supervised processes.
type Spawner interface {
	Spawn(name string, args []string, opts supervisor.SpawnOptions) *supervisor.Task
}

// Info describes a regular file.
type Info struct {
	Path string
	// Mime is empty for zero-length files.
	Mime      string
	Size      int64
	ModTime   time.Time
	BirthTime time.Time
}

// Options configures an Inspector.
type Options struct {
	FileBinary  string
	MimeTimeout time.Duration
	Retry       filesystem.RetryConfig
}

// Inspector resolves file metadata.
type Inspector struct {
	sup     Spawner
	fileBin string
	timeout time.Duration
	retry   filesystem.RetryConfig
	log     *logging.Logger
}

// New creates an Inspector. sup may be nil, in which case MIME types come
// from content sniffing only.
func New(sup Spawner, opts Options) *Inspector {
	if opts.FileBinary == "" {
		opts.FileBinary = "file"
	}
	if opts.MimeTimeout <= 0 {
		opts.MimeTimeout = DefaultMimeTimeout
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialBackoff == 0 {
		opts.Retry = filesystem.DefaultRetryConfig()
	}
	return &Inspector{
		sup:     sup,
		fileBin: opts.FileBinary,
		timeout: opts.MimeTimeout,
		retry:   opts.Retry,
		log:     logging.With("nasfile"),
	}
}

// Stat gathers size, timestamps and, for non-empty files, the MIME type.
func (i *Inspector) Stat(ctx context.Context, absPath string) (*Info, error) {
	if !filepath.IsAbs(absPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotAbsolute, absPath)
	}
	st, err := filesystem.StatWithRetry(absPath, i.retry)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", absPath)
	}

	info := &Info{
		Path:      absPath,
		Size:      st.Size(),
		ModTime:   st.ModTime(),
		BirthTime: birthTime(absPath),
	}
	if info.Size > 0 {
		info.Mime, err = i.MimeType(ctx, absPath)
		if err != nil {
			return nil, err
		}
	}
	return info, nil
}

// MimeType asks the file tool first and falls back to content sniffing when
// it is unavailable or fails. A generic octet-stream answer is refined by
// the file extension.
func (i *Inspector) MimeType(ctx context.Context, absPath string) (string, error) {
	if !filepath.IsAbs(absPath) {
		return "", fmt.Errorf("%w: %s", ErrNotAbsolute, absPath)
	}

	typ, err := i.fileTool(ctx, absPath)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		i.log.Debug("file tool failed for %s, sniffing content: %v", absPath, err)
		typ, err = sniff(absPath)
		if err != nil {
			return "", err
		}
	}

	if typ == octetStream {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(absPath))); byExt != "" {
			typ = stripParams(byExt)
		}
	}
	return typ, nil
}

func (i *Inspector) fileTool(ctx context.Context, absPath string) (string, error) {
	if i.sup == nil {
		return "", errors.New("no supervisor")
	}
	var out bytes.Buffer
	task := i.sup.Spawn(i.fileBin, []string{"--mime-type", absPath}, supervisor.SpawnOptions{
		AllowTermination: true,
		Timeout:          i.timeout,
		Stdout:           &out,
	})
	if err := task.Wait(ctx); err != nil {
		return "", err
	}
	return parseFileOutput(out.String())
}

// parseFileOutput extracts the type from "<path>: <type>".
func parseFileOutput(out string) (string, error) {
	typ := strings.TrimSpace(out[strings.LastIndex(out, ":")+1:])
	if typ == "" || !strings.Contains(typ, "/") {
		return "", fmt.Errorf("unexpected file output %q", strings.TrimSpace(out))
	}
	return typ, nil
}

func sniff(absPath string) (string, error) {
	m, err := mimetype.DetectFile(absPath)
	if err != nil {
		return "", fmt.Errorf("detect mime type: %w", err)
	}
	return stripParams(m.String()), nil
}

func stripParams(typ string) string {
	if mt, _, err := mime.ParseMediaType(typ); err == nil {
		return mt
	}
	return typ
}

// birthTime returns the creation time via statx, or the zero time when the
// filesystem does not record it.
func birthTime(absPath string) time.Time {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, absPath, 0, unix.STATX_BTIME, &stx); err != nil {
		return time.Time{}
	}
	if stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
}

// IsRegular reports whether absPath exists and is a regular file.
func IsRegular(absPath string) bool {
	st, err := os.Stat(absPath)
	return err == nil && st.Mode().IsRegular()
}
