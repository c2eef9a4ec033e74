package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"nas-web/internal/logging"
	"nas-web/internal/metrics"
	"nas-web/internal/supervisor"
)

// DefaultTimeout bounds a single ffprobe run.
const DefaultTimeout = 3 * time.Second

var (
	// ErrProbeFailed is returned when ffprobe could not be run or exited non-zero.
	ErrProbeFailed = errors.New("probe failed")
	// ErrProbeParse is returned when ffprobe output is not valid JSON.
	ErrProbeParse = errors.New("probe output malformed")
	// ErrNotAbsolute is returned for relative input paths.
	ErrNotAbsolute = errors.New("path needs to be absolute")
)

// Spawner starts supervised processes.
type Spawner interface {
	Spawn(name string, args []string, opts supervisor.SpawnOptions) *supervisor.Task
}

// Options configures a Prober.
type Options struct {
	Binary  string
	Timeout time.Duration
}

// Prober runs ffprobe through the supervisor.
type Prober struct {
	sup     Spawner
	binary  string
	timeout time.Duration
	log     *logging.Logger
}

// New creates a Prober. Zero options fall back to "ffprobe" and DefaultTimeout.
func New(sup Spawner, opts Options) *Prober {
	if opts.Binary == "" {
		opts.Binary = "ffprobe"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Prober{sup: sup, binary: opts.Binary, timeout: opts.Timeout, log: logging.With("probe")}
}

func (p *Prober) run(ctx context.Context, absPath string, args []string) ([]byte, error) {
	if !filepath.IsAbs(absPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotAbsolute, absPath)
	}

	var stdout bytes.Buffer
	task := p.sup.Spawn(p.binary, append(args, "--", absPath), supervisor.SpawnOptions{
		AllowTermination: true,
		Timeout:          p.timeout,
		Stdout:           &stdout,
	})
	if err := task.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrProbeFailed, absPath, err)
	}
	return stdout.Bytes(), nil
}

// Probe lists every stream of absPath in container order.
func (p *Prober) Probe(ctx context.Context, absPath string) (*StreamList, error) {
	start := time.Now()
	out, err := p.run(ctx, absPath, []string{"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json"})
	metrics.ProbeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProbesTotal.WithLabelValues("failed").Inc()
		p.log.Debug("probe of %s failed: %v", absPath, err)
		return nil, err
	}

	list, err := Parse(out)
	if err != nil {
		metrics.ProbesTotal.WithLabelValues("parse_error").Inc()
		return nil, err
	}
	metrics.ProbesTotal.WithLabelValues("success").Inc()
	return list, nil
}

// Duration returns the container duration in seconds.
func (p *Prober) Duration(ctx context.Context, absPath string) (float64, error) {
	out, err := p.run(ctx, absPath, []string{"-v", "error", "-select_streams", "v:0", "-show_entries", "format=duration", "-print_format", "json=c=1"})
	if err != nil {
		return 0, err
	}

	var res struct {
		Format struct {
			Duration flexNumber `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbeParse, err)
	}
	return res.Format.Duration.float(), nil
}
