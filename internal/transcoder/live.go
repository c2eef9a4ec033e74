package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"nas-web/internal/logging"
	"nas-web/internal/metrics"
	"nas-web/internal/probe"
	"nas-web/internal/supervisor"
	"nas-web/internal/tmpdir"
)

const (
	// MasterPlaylist is the name of the generated HLS master playlist.
	MasterPlaylist = "master.m3u8"
	// DefaultIdleTimeout is how long an unused session is kept.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultStartTimeout bounds the wait for the master playlist.
	DefaultStartTimeout = 2 * time.Minute

	audioGroup      = "defaultAudio"
	stopGracePeriod = 3 * time.Second
)

// ErrEncoderExited is returned when ffmpeg stopped before the master
// playlist was confirmed.
var ErrEncoderExited = errors.New("encoder exited before the master playlist was written")

// ErrStartTimeout is returned when the master playlist was not confirmed
// within LiveConfig.StartTimeout.
var ErrStartTimeout = errors.New("master playlist not confirmed in time")

// ErrClosed is returned for starts aborted by Close.
var ErrClosed = errors.New("live transcoder closed")

// LiveSession is a running or finished HLS encode of one file.
type LiveSession struct {
	ID             string
	SourcePath     string
	MasterPlaylist string
	Task           *supervisor.Task
	StartedAt      time.Time

	dir        *tmpdir.Dir
	lastAccess atomic.Int64
}

// Dir is the directory holding the playlists and segments.
func (s *LiveSession) Dir() string {
	return filepath.Dir(s.MasterPlaylist)
}

// Touch marks the session as used.
func (s *LiveSession) Touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}

// LastAccess returns when the session was last handed out.
func (s *LiveSession) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

// Failed reports whether the encoder exited with an error.
func (s *LiveSession) Failed() bool {
	select {
	case <-s.Task.Done():
		return s.Task.Err() != nil
	default:
		return false
	}
}

// LiveConfig configures a Live transcoder.
type LiveConfig struct {
	FFmpeg  string
	Profile Profile
	// IdleTimeout evicts sessions not accessed for that long. Zero disables it.
	IdleTimeout time.Duration
	// StartTimeout stops an encoder whose master playlist is not confirmed
	// in time. Defaults to DefaultStartTimeout.
	StartTimeout time.Duration
}

// Live manages HLS sessions, at most one per source path.
type Live struct {
	sup    Spawner
	prober Prober
	root   *tmpdir.Root
	cfg    LiveConfig
	log    *logging.Logger

	group    singleflight.Group
	mu       sync.Mutex
	sessions map[string]*LiveSession

	closing   chan struct{}
	closeOnce sync.Once
}

// NewLive creates a Live transcoder writing below root.
func NewLive(sup Spawner, prober Prober, root *tmpdir.Root, cfg LiveConfig) *Live {
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.Profile.Tiers == nil {
		cfg.Profile = DefaultLiveProfile()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	return &Live{
		sup:      sup,
		prober:   prober,
		root:     root,
		cfg:      cfg,
		log:      logging.With("live"),
		sessions: make(map[string]*LiveSession),
		closing:  make(chan struct{}),
	}
}

// StartLive returns the session for absPath, starting an encoder if there is
// none. Concurrent calls for one path share a single encoder. ctx only bounds
// the wait; the encoder start is not cancelled with it.
func (l *Live) StartLive(ctx context.Context, absPath string) (*LiveSession, error) {
	if !filepath.IsAbs(absPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotAbsolute, absPath)
	}
	select {
	case <-l.closing:
		return nil, ErrClosed
	default:
	}

	if s := l.current(absPath); s != nil {
		metrics.LiveSessionStartsTotal.WithLabelValues("reused").Inc()
		return s, nil
	}

	ch := l.group.DoChan(absPath, func() (any, error) {
		if s := l.current(absPath); s != nil {
			return s, nil
		}
		return l.start(context.WithoutCancel(ctx), absPath)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		s := res.Val.(*LiveSession)
		s.Touch()
		return s, nil
	}
}

// current returns a usable registered session, dropping a failed one.
func (l *Live) current(absPath string) *LiveSession {
	l.mu.Lock()
	s, ok := l.sessions[absPath]
	if ok && s.Failed() {
		delete(l.sessions, absPath)
		metrics.LiveSessionsActive.Set(float64(len(l.sessions)))
		l.mu.Unlock()

		l.log.Info("Replacing failed live session %s for %s", s.ID, absPath)
		metrics.LiveSessionEvictionsTotal.WithLabelValues("failed").Inc()
		l.release(s)
		return nil
	}
	l.mu.Unlock()

	if ok {
		s.Touch()
	}
	return s
}

func (l *Live) start(ctx context.Context, absPath string) (*LiveSession, error) {
	streams, err := l.prober.Probe(ctx, absPath)
	if err != nil {
		metrics.LiveSessionStartsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	args, err := buildLiveArgs(absPath, streams, l.cfg.Profile)
	if err != nil {
		metrics.LiveSessionStartsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	dir, err := l.root.New(tmpdir.KindLive)
	if err != nil {
		metrics.LiveSessionStartsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	master := filepath.Join(dir.Path, MasterPlaylist)
	confirm := newConfirmation(master)
	task := l.sup.Spawn(l.cfg.FFmpeg, args, supervisor.SpawnOptions{
		AllowTermination: true,
		Dir:              dir.Path,
		OnOutput:         confirm.observe,
	})

	deadline := time.NewTimer(l.cfg.StartTimeout)
	defer deadline.Stop()

	select {
	case <-confirm.ready:
	case <-deadline.C:
		l.log.Warn("No master playlist from task %d for %s after %v, stopping it", task.ID, absPath, l.cfg.StartTimeout)
		l.abandon(task, dir)
		return nil, fmt.Errorf("live transcode of %s: %w", absPath, ErrStartTimeout)
	case <-l.closing:
		l.abandon(task, dir)
		return nil, fmt.Errorf("live transcode of %s: %w", absPath, ErrClosed)
	case <-task.Done():
		// a short input can finish right after opening the playlist
		if task.Err() != nil || !confirm.opened() || !fileExists(master) {
			_ = dir.Done()
			metrics.LiveSessionStartsTotal.WithLabelValues("error").Inc()
			if err := task.Err(); err != nil {
				return nil, fmt.Errorf("live transcode of %s: %w", absPath, err)
			}
			return nil, fmt.Errorf("live transcode of %s: %w", absPath, ErrEncoderExited)
		}
	}

	s := &LiveSession{
		ID:             uuid.NewString(),
		SourcePath:     absPath,
		MasterPlaylist: master,
		Task:           task,
		StartedAt:      task.StartedAt,
		dir:            dir,
	}
	s.Touch()

	l.mu.Lock()
	select {
	case <-l.closing:
		l.mu.Unlock()
		l.abandon(task, dir)
		return nil, fmt.Errorf("live transcode of %s: %w", absPath, ErrClosed)
	default:
	}
	l.sessions[absPath] = s
	metrics.LiveSessionsActive.Set(float64(len(l.sessions)))
	l.mu.Unlock()

	metrics.LiveSessionStartsTotal.WithLabelValues("started").Inc()
	metrics.LiveSessionStartDuration.Observe(time.Since(task.StartedAt).Seconds())
	l.log.Info("Live session %s ready for %s (task %d)", s.ID, absPath, task.ID)

	go func() {
		<-task.Done()
		if err := task.Err(); err != nil {
			l.log.Warn("Live session %s encoder failed: %v", s.ID, err)
		}
	}()
	return s, nil
}

// Lookup returns the session of absPath and marks it used.
func (l *Live) Lookup(absPath string) (*LiveSession, bool) {
	l.mu.Lock()
	s, ok := l.sessions[absPath]
	l.mu.Unlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// Sessions returns all registered sessions, oldest first.
func (l *Live) Sessions() []*LiveSession {
	l.mu.Lock()
	out := make([]*LiveSession, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Stop terminates the session of absPath and removes its files.
func (l *Live) Stop(absPath string) bool {
	s := l.remove(absPath)
	if s == nil {
		return false
	}
	metrics.LiveSessionEvictionsTotal.WithLabelValues("stopped").Inc()
	l.release(s)
	return true
}

func (l *Live) remove(absPath string) *LiveSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[absPath]
	if !ok {
		return nil
	}
	delete(l.sessions, absPath)
	metrics.LiveSessionsActive.Set(float64(len(l.sessions)))
	return s
}

// release stops the encoder and deletes the session directory once it is gone.
func (l *Live) release(s *LiveSession) {
	l.stopTask(s.Task)
	if err := s.dir.Done(); err != nil {
		l.log.Warn("Failed to remove live session dir %s: %v", s.Dir(), err)
	}
}

// abandon is release for an encoder that never became a session.
func (l *Live) abandon(task *supervisor.Task, dir *tmpdir.Dir) {
	metrics.LiveSessionStartsTotal.WithLabelValues("error").Inc()
	l.stopTask(task)
	if err := dir.Done(); err != nil {
		l.log.Warn("Failed to remove live session dir %s: %v", dir.Path, err)
	}
}

func (l *Live) stopTask(task *supervisor.Task) {
	if task.Alive() {
		if err := task.Terminate(); err != nil {
			l.log.Debug("terminate task %d: %v", task.ID, err)
		}
	}

	select {
	case <-task.Done():
	case <-time.After(stopGracePeriod):
		_ = task.Kill()
		<-task.Done()
	}
}

// Run evicts idle and failed sessions until ctx is done.
func (l *Live) Run(ctx context.Context) {
	if l.cfg.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}

	interval := min(max(l.cfg.IdleTimeout/4, time.Second), time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *Live) evict(now time.Time) {
	type victim struct {
		s      *LiveSession
		reason string
	}
	var victims []victim

	l.mu.Lock()
	for path, s := range l.sessions {
		switch {
		case s.Failed():
			victims = append(victims, victim{s, "failed"})
		case l.cfg.IdleTimeout > 0 && now.Sub(s.LastAccess()) > l.cfg.IdleTimeout:
			victims = append(victims, victim{s, "idle"})
		default:
			continue
		}
		delete(l.sessions, path)
	}
	metrics.LiveSessionsActive.Set(float64(len(l.sessions)))
	l.mu.Unlock()

	for _, v := range victims {
		l.log.Info("Evicting %s live session %s for %s", v.reason, v.s.ID, v.s.SourcePath)
		metrics.LiveSessionEvictionsTotal.WithLabelValues(v.reason).Inc()
		l.release(v.s)
	}
}

// Close stops every session and aborts starts still waiting for their
// playlist. Later starts fail with ErrClosed.
func (l *Live) Close() {
	l.closeOnce.Do(func() { close(l.closing) })

	l.mu.Lock()
	all := make([]*LiveSession, 0, len(l.sessions))
	for path, s := range l.sessions {
		all = append(all, s)
		delete(l.sessions, path)
	}
	metrics.LiveSessionsActive.Set(0)
	l.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *LiveSession) {
			defer wg.Done()
			metrics.LiveSessionEvictionsTotal.WithLabelValues("stopped").Inc()
			l.release(s)
		}(s)
	}
	wg.Wait()
}

// Count returns the number of registered sessions.
func (l *Live) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// confirmation watches ffmpeg's stderr for the master playlist. The playlist
// counts as written once a line reports it being opened for writing and a
// later chunk finds it on disk.
type confirmation struct {
	path  string
	ready chan struct{}

	mu     sync.Mutex
	seen   bool
	closed bool
}

func newConfirmation(path string) *confirmation {
	return &confirmation{path: path, ready: make(chan struct{})}
}

func (c *confirmation) observe(src supervisor.Source, chunk []byte) {
	if src != supervisor.Stderr {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if c.seen && fileExists(c.path) {
		c.closed = true
		close(c.ready)
		return
	}

	for _, line := range bytes.Split(chunk, []byte("\n")) {
		line = bytes.TrimRight(line, " \r\t")
		if bytes.Contains(line, []byte(MasterPlaylist)) && bytes.HasSuffix(line, []byte("for writing")) {
			c.seen = true
		}
	}
}

func (c *confirmation) opened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// hlsLanguage normalizes a stream language tag to BCP 47 for the playlist.
// Unknown values are dropped.
func hlsLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil || t == language.Und {
		return ""
	}
	return t.String()
}

// buildLiveArgs returns the ffmpeg arguments of an HLS encode. When the file
// has subtitles a second video variant carries the first one burned in.
func buildLiveArgs(absPath string, streams *probe.StreamList, profile Profile) ([]string, error) {
	videos := streams.Video()
	if len(videos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoVideo, absPath)
	}
	video := videos[0]
	plan := profile.Plan(video)
	audio := streams.Audio()
	subs := streams.Subtitle()

	scale := fmt.Sprintf("scale=%d:%d,fps=%s", plan.Width, plan.Height, plan.FPSExpr)
	src := fmt.Sprintf("[0:%d]", video.Index)
	rate := strconv.FormatInt(plan.Bitrate, 10)

	args := []string{"-i", absPath, "-bitexact", "-filter_complex"}
	if len(subs) > 0 {
		burned := "[vTmp02]" + scale + "," + subtitleFilter(absPath, streams, subs[0])
		if subs[0].IsImageSubtitle() {
			burned = fmt.Sprintf("[vTmp02][0:%d]overlay=shortest=1,%s", subs[0].Index, scale)
		}
		args = append(args,
			src+"split=2[vTmp01][vTmp02];[vTmp01]"+scale+"[vOut01];"+burned+"[vOut02]",
			"-map", "[vOut01]", "-map", "[vOut02]",
			"-b:v:0", rate, "-b:v:1", rate,
		)
	} else {
		args = append(args,
			src+scale+"[vOut01]",
			"-map", "[vOut01]",
			"-b:v:0", rate,
		)
	}

	args = append(args,
		"-maxrate", rate,
		"-bufsize", strconv.FormatInt(2*plan.Bitrate, 10),
		"-g", strconv.Itoa(plan.GOP()),
		"-sc_threshold", "0",
		"-vsync", "1",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-flags", "+cgop",
	)

	for i := range audio {
		args = append(args, "-map", fmt.Sprintf("0:a:%d", i))
	}
	if len(audio) > 0 {
		args = append(args, audioArgs(profile)...)
	}

	args = append(args,
		"-hls_time", "4",
		"-hls_list_size", "0",
		"-hls_segment_type", "mpegts",
		"-master_pl_name", MasterPlaylist,
		"-hls_segment_filename", "stream_%v/%06d.ts",
		"-use_localtime_mkdir", "1",
		"-var_stream_map", varStreamMap(audio, len(subs) > 0),
		"stream_%v.m3u8",
	)
	return args, nil
}

func subtitleFilter(absPath string, streams *probe.StreamList, sub probe.Stream) string {
	return fmt.Sprintf("subtitles=%s:stream_index=%d", quoteFilterArg(absPath), streams.SubtitleOrdinal(sub.Index))
}

func varStreamMap(audio []probe.Stream, burnedVariant bool) string {
	var entries []string
	group := ""
	if len(audio) > 0 {
		group = ",agroup:" + audioGroup
	}

	for i, a := range audio {
		entry := fmt.Sprintf("a:%d%s", i, group)
		if lang := hlsLanguage(a.Language()); lang != "" {
			entry += ",language:" + lang
		}
		entries = append(entries, entry)
	}

	entries = append(entries, "v:0"+group)
	if burnedVariant {
		entries = append(entries, "v:1"+group)
	}
	return strings.Join(entries, " ")
}
