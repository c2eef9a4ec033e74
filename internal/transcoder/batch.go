package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/shirou/gopsutil/v3/disk"

	"nas-web/internal/logging"
	"nas-web/internal/metrics"
	"nas-web/internal/probe"
	"nas-web/internal/supervisor"
)

var (
	// ErrNotAbsolute is returned for relative input paths.
	ErrNotAbsolute = errors.New("path needs to be absolute")
	// ErrUnknownStream is returned when options name a stream the file lacks.
	ErrUnknownStream = errors.New("unknown stream index")
	// ErrNotSubtitle is returned when HardSub is set on a non-subtitle stream.
	ErrNotSubtitle = errors.New("hardSub is only valid for subtitle streams")
	// ErrUnsupportedStream is returned when a selected stream cannot be transcoded.
	ErrUnsupportedStream = errors.New("unsupported stream type")
	// ErrOutputExists is returned instead of overwriting an earlier export.
	ErrOutputExists = errors.New("output file already exists")
	// ErrInsufficientSpace is returned when the target volume is nearly full.
	ErrInsufficientSpace = errors.New("not enough free disk space")
	// ErrNoVideo is returned when a live session is requested for a file without video.
	ErrNoVideo = errors.New("file has no video stream")
)

// Spawner starts supervised processes.
type Spawner interface {
	Spawn(name string, args []string, opts supervisor.SpawnOptions) *supervisor.Task
}

// Prober lists the streams of a media file.
type Prober interface {
	Probe(ctx context.Context, absPath string) (*probe.StreamList, error)
}

// StreamOptions are the per-stream flags of a batch transcode.
type StreamOptions struct {
	HardSub bool `json:"hardSub"`
}

// Options maps container stream indices to their flags. Only listed streams
// are exported; an empty map exports every video, audio and subtitle stream.
type Options map[int]StreamOptions

// BatchConfig configures a Batch transcoder.
type BatchConfig struct {
	FFmpeg  string
	Profile Profile
	// AllowTermination lets supervisor shutdown kill running exports.
	AllowTermination bool
	// MinFreeDisk is the free space the target volume must have left.
	MinFreeDisk datasize.ByteSize
}

// Batch exports videos to MP4.
type Batch struct {
	sup    Spawner
	prober Prober
	cfg    BatchConfig
	log    *logging.Logger
}

// NewBatch creates a Batch transcoder.
func NewBatch(sup Spawner, prober Prober, cfg BatchConfig) *Batch {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.Profile.Tiers == nil {
		cfg.Profile = DefaultBatchProfile()
	}
	return &Batch{sup: sup, prober: prober, cfg: cfg, log: logging.With("transcoder")}
}

// Job is a running export.
type Job struct {
	Task       *supervisor.Task
	OutputPath string
}

// Wait blocks until the export finished and returns the output path.
func (j *Job) Wait(ctx context.Context) (string, error) {
	if err := j.Task.Wait(ctx); err != nil {
		return "", fmt.Errorf("transcode to %s: %w", j.OutputPath, err)
	}
	return j.OutputPath, nil
}

// OutputName is the file name an export of absPath is written to.
func OutputName(absPath string) string {
	return filepath.Base(absPath) + ".mp4"
}

// Transcode validates opts against the streams of absPath and starts ffmpeg.
// Nothing is spawned when validation fails. The returned Job keeps running
// after ctx is done.
func (b *Batch) Transcode(ctx context.Context, absPath, targetDir string, opts Options) (*Job, error) {
	if !filepath.IsAbs(absPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotAbsolute, absPath)
	}

	output := filepath.Join(targetDir, OutputName(absPath))
	if err := b.checkTarget(targetDir, output); err != nil {
		metrics.TranscoderJobsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	streams, err := b.prober.Probe(ctx, absPath)
	if err != nil {
		return nil, err
	}

	args, err := buildBatchArgs(absPath, streams, opts, b.cfg.Profile, output)
	if err != nil {
		metrics.TranscoderJobsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	task := b.sup.Spawn(b.cfg.FFmpeg, args, supervisor.SpawnOptions{
		AllowTermination: b.cfg.AllowTermination,
		Dir:              targetDir,
	})
	metrics.TranscoderJobsTotal.WithLabelValues("started").Inc()
	metrics.TranscoderJobsInProgress.Inc()
	b.log.Info("Transcoding %s to %s (task %d)", absPath, output, task.ID)

	go b.observe(task, absPath)
	return &Job{Task: task, OutputPath: output}, nil
}

func (b *Batch) observe(task *supervisor.Task, absPath string) {
	<-task.Done()
	metrics.TranscoderJobsInProgress.Dec()
	metrics.TranscoderJobDuration.Observe(time.Since(task.StartedAt).Seconds())
	if err := task.Err(); err != nil {
		metrics.TranscoderJobsTotal.WithLabelValues("error").Inc()
		b.log.Warn("Transcoding %s failed: %v", absPath, err)
		return
	}
	metrics.TranscoderJobsTotal.WithLabelValues("success").Inc()
	b.log.Info("Transcoding %s finished in %v", absPath, time.Since(task.StartedAt).Round(time.Second))
}

func (b *Batch) checkTarget(targetDir, output string) error {
	fi, err := os.Stat(targetDir)
	if err != nil {
		return fmt.Errorf("target directory: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("target %s is not a directory", targetDir)
	}
	if _, err := os.Lstat(output); err == nil {
		return fmt.Errorf("%w: %s", ErrOutputExists, output)
	}
	if b.cfg.MinFreeDisk == 0 {
		return nil
	}
	usage, err := disk.Usage(targetDir)
	if err != nil {
		b.log.Warn("Could not check free space of %s: %v", targetDir, err)
		return nil
	}
	if usage.Free < b.cfg.MinFreeDisk.Bytes() {
		return fmt.Errorf("%w: %s free in %s, need %s", ErrInsufficientSpace,
			datasize.ByteSize(usage.Free).HR(), targetDir, b.cfg.MinFreeDisk.HR())
	}
	return nil
}

// selection resolves opts into the exported streams in container order.
func selection(streams *probe.StreamList, opts Options) ([]probe.Stream, error) {
	if len(opts) == 0 {
		var out []probe.Stream
		for _, s := range streams.Streams {
			if s.Kind != probe.KindUnsupported {
				out = append(out, s)
			}
		}
		return out, nil
	}

	indices := make([]int, 0, len(opts))
	for idx := range opts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]probe.Stream, 0, len(indices))
	for _, idx := range indices {
		s, ok := streams.ByIndex(idx)
		if !ok {
			return nil, fmt.Errorf("%w: #%d", ErrUnknownStream, idx)
		}
		if s.Kind == probe.KindUnsupported {
			return nil, fmt.Errorf("%w: stream #%d (%s)", ErrUnsupportedStream, idx, s.CodecName)
		}
		if opts[idx].HardSub && s.Kind != probe.KindSubtitle {
			return nil, fmt.Errorf("%w: stream #%d is %s", ErrNotSubtitle, idx, s.Kind)
		}
		out = append(out, s)
	}
	return out, nil
}

// buildBatchArgs validates opts and returns the ffmpeg arguments.
func buildBatchArgs(absPath string, streams *probe.StreamList, opts Options, profile Profile, output string) ([]string, error) {
	selected, err := selection(streams, opts)
	if err != nil {
		return nil, err
	}

	var (
		textSubs []int // subtitle ordinals for the subtitles filter
		imgSubs  []int // container indices for overlay
	)
	for _, s := range selected {
		if s.Kind == probe.KindSubtitle && opts[s.Index].HardSub {
			if s.IsImageSubtitle() {
				imgSubs = append(imgSubs, s.Index)
			} else {
				textSubs = append(textSubs, streams.SubtitleOrdinal(s.Index))
			}
		}
	}

	var (
		graph      []string
		streamArgs []string
		nVideo     int
		nAudio     int
		copySubs   bool
	)
	for _, s := range selected {
		switch s.Kind {
		case probe.KindVideo:
			plan := profile.Plan(s)
			label := fmt.Sprintf("vOut%d", s.Index)
			graph = append(graph, videoChain(absPath, s, plan, textSubs, imgSubs, label)...)

			rate := strconv.FormatInt(plan.Bitrate, 10)
			streamArgs = append(streamArgs,
				"-map", "["+label+"]",
				fmt.Sprintf("-b:v:%d", nVideo), rate,
				fmt.Sprintf("-maxrate:v:%d", nVideo), rate,
				fmt.Sprintf("-bufsize:v:%d", nVideo), strconv.FormatInt(2*plan.Bitrate, 10),
			)
			nVideo++
		case probe.KindAudio:
			streamArgs = append(streamArgs, "-map", fmt.Sprintf("0:%d", s.Index))
			nAudio++
		case probe.KindSubtitle:
			if !opts[s.Index].HardSub {
				streamArgs = append(streamArgs, "-map", fmt.Sprintf("0:%d", s.Index))
				copySubs = true
			}
		}
	}

	args := []string{"-n", "-i", absPath, "-bitexact"}
	if len(graph) > 0 {
		args = append(args, "-filter_complex", strings.Join(graph, ";"))
	}
	args = append(args, streamArgs...)
	if nVideo > 0 {
		args = append(args, "-vsync", "cfr", "-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p")
	}
	if nAudio > 0 {
		args = append(args, audioArgs(profile)...)
	}
	if copySubs {
		args = append(args, "-c:s", "copy")
	}
	return append(args, output), nil
}

// videoChain renders the filter graph of one video stream: bitmap subtitles
// are overlaid first, text subtitles rendered next, then scale and fps.
func videoChain(absPath string, video probe.Stream, plan Plan, textSubs, imgSubs []int, label string) []string {
	var parts []string
	head := fmt.Sprintf("[0:%d]", video.Index)

	chain := head
	for i, sub := range imgSubs {
		seg := fmt.Sprintf("%s[0:%d]overlay=shortest=1", head, sub)
		if i < len(imgSubs)-1 {
			head = fmt.Sprintf("[imgSubs%d_%d]", video.Index, i)
			parts = append(parts, seg+head)
			continue
		}
		chain = seg + ","
	}

	for _, ordinal := range textSubs {
		chain += fmt.Sprintf("subtitles=%s:original_size=%dx%d:stream_index=%d,",
			quoteFilterArg(absPath), video.Width, video.Height, ordinal)
	}
	chain += fmt.Sprintf("scale=%d:%d,fps=%s[%s]", plan.Width, plan.Height, plan.FPSExpr, label)
	return append(parts, chain)
}

func audioArgs(profile Profile) []string {
	return []string{
		"-c:a", "aac",
		"-b:a", strconv.FormatInt(profile.AudioBitrate, 10),
		"-ac", "2",
		"-ar", "48000",
	}
}

// quoteFilterArg quotes a filter option value for use inside a filter graph.
func quoteFilterArg(v string) string {
	v = strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`).Replace(v)
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
