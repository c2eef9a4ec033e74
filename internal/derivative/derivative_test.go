package derivative

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nas-web/internal/cache"
	"nas-web/internal/httperror"
	"nas-web/internal/media"
	"nas-web/internal/nasfile"
	"nas-web/internal/probe"
	"nas-web/internal/transcoder"
)

type fakeFiles struct {
	mime  string
	stats atomic.Int32
	mimes atomic.Int32
}

func (f *fakeFiles) Stat(_ context.Context, absPath string) (*nasfile.Info, error) {
	f.stats.Add(1)
	return &nasfile.Info{Path: absPath, Mime: f.mime, Size: 4}, nil
}

func (f *fakeFiles) MimeType(context.Context, string) (string, error) {
	f.mimes.Add(1)
	return f.mime, nil
}

type fakeThumbnailer struct {
	calls atomic.Int32
	thumb *media.Thumbnail
	err   error
	sizes []int
}

func (f *fakeThumbnailer) Generate(_ context.Context, _, _ string, size int) (*media.Thumbnail, error) {
	f.calls.Add(1)
	f.sizes = append(f.sizes, size)
	return f.thumb, f.err
}

type fakeProber struct {
	calls atomic.Int32
	list  *probe.StreamList
}

func (f *fakeProber) Probe(context.Context, string) (*probe.StreamList, error) {
	f.calls.Add(1)
	return f.list, nil
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseThumbnailSize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{"empty uses default", "", DefaultThumbnailSize, false},
		{"whitespace uses default", "  ", DefaultThumbnailSize, false},
		{"valid", "320", 320, false},
		{"upper bound", "2000", 2000, false},
		{"zero", "0", 0, true},
		{"too large", "2001", 0, true},
		{"negative", "-5", 0, true},
		{"not a number", "big", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseThumbnailSize(tt.raw, 0)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, httperror.StatusOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThumbnailIsCachedPerSize(t *testing.T) {
	files := &fakeFiles{mime: "image/png"}
	thumbs := &fakeThumbnailer{thumb: &media.Thumbnail{Mime: media.ThumbnailMime, Data: []byte("png")}}
	svc := New(Deps{Files: files, Thumbnails: thumbs, Cache: cache.New(cache.NewMemoryStore())}, Config{})
	path := writeSource(t, "data")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := svc.Thumbnail(ctx, "1", path, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []byte("png"), got.Data)
	}
	assert.Equal(t, int32(1), thumbs.calls.Load())
	assert.Equal(t, []int{DefaultThumbnailSize}, thumbs.sizes)

	_, err := svc.Thumbnail(ctx, "1", path, 200)
	require.NoError(t, err)
	assert.Equal(t, int32(2), thumbs.calls.Load())

	// Other users do not share entries.
	_, err = svc.Thumbnail(ctx, "2", path, 200)
	require.NoError(t, err)
	assert.Equal(t, int32(3), thumbs.calls.Load())
}

func TestThumbnailRecomputedWhenContentChanges(t *testing.T) {
	files := &fakeFiles{mime: "image/png"}
	thumbs := &fakeThumbnailer{thumb: &media.Thumbnail{Mime: media.ThumbnailMime, Data: []byte("png")}}
	svc := New(Deps{Files: files, Thumbnails: thumbs, Cache: cache.New(cache.NewMemoryStore())}, Config{})
	path := writeSource(t, "first")

	_, err := svc.Thumbnail(context.Background(), "1", path, 100)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("second version"), 0o644))
	_, err = svc.Thumbnail(context.Background(), "1", path, 100)
	require.NoError(t, err)

	assert.Equal(t, int32(2), thumbs.calls.Load())
}

func TestThumbnailEmptyResult(t *testing.T) {
	thumbs := &fakeThumbnailer{}
	svc := New(Deps{Files: &fakeFiles{mime: "image/png"}, Thumbnails: thumbs}, Config{})

	got, err := svc.Thumbnail(context.Background(), "1", writeSource(t, "x"), 64)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestThumbnailErrors(t *testing.T) {
	t.Run("size out of range", func(t *testing.T) {
		svc := New(Deps{Files: &fakeFiles{}, Thumbnails: &fakeThumbnailer{}}, Config{MaxThumbnailSize: 100})
		_, err := svc.Thumbnail(context.Background(), "1", writeSource(t, "x"), 101)
		assert.Equal(t, http.StatusBadRequest, httperror.StatusOf(err))
	})

	t.Run("missing file", func(t *testing.T) {
		svc := New(Deps{Files: &fakeFiles{}, Thumbnails: &fakeThumbnailer{}}, Config{})
		_, err := svc.Thumbnail(context.Background(), "1", filepath.Join(t.TempDir(), "gone"), 64)
		assert.Error(t, err)
	})

	t.Run("http error is cached", func(t *testing.T) {
		thumbs := &fakeThumbnailer{err: httperror.UnsupportedMediaType("unsupported type")}
		svc := New(Deps{Files: &fakeFiles{mime: "text/plain"}, Thumbnails: thumbs, Cache: cache.New(cache.NewMemoryStore())}, Config{})
		path := writeSource(t, "x")

		for i := 0; i < 2; i++ {
			_, err := svc.Thumbnail(context.Background(), "1", path, 64)
			assert.Equal(t, http.StatusUnsupportedMediaType, httperror.StatusOf(err))
		}
		assert.Equal(t, int32(1), thumbs.calls.Load())
	})

	t.Run("plain error is retried", func(t *testing.T) {
		thumbs := &fakeThumbnailer{err: errors.New("encoder crashed")}
		svc := New(Deps{Files: &fakeFiles{mime: "video/mp4"}, Thumbnails: thumbs, Cache: cache.New(cache.NewMemoryStore())}, Config{})
		path := writeSource(t, "x")

		for i := 0; i < 2; i++ {
			_, err := svc.Thumbnail(context.Background(), "1", path, 64)
			assert.Error(t, err)
		}
		assert.Equal(t, int32(2), thumbs.calls.Load())
	})
}

func TestStreamsRoundTripThroughStore(t *testing.T) {
	list := &probe.StreamList{
		Streams: []probe.Stream{
			{Index: 0, Kind: probe.KindVideo, CodecName: "h264", Width: 1280, Height: 720},
			{Index: 1, Kind: probe.KindAudio, CodecName: "aac", Tags: map[string]string{"language": "eng"}},
		},
		Duration: 12.5,
	}
	prober := &fakeProber{list: list}
	store := cache.NewMemoryStore()
	path := writeSource(t, "movie")

	first := New(Deps{Prober: prober, Cache: cache.New(store)}, Config{})
	got, err := first.Streams(context.Background(), "1", path)
	require.NoError(t, err)
	assert.Equal(t, list, got)

	// A new service over the same store answers without probing.
	second := New(Deps{Prober: prober, Cache: cache.New(store)}, Config{})
	got, err = second.Streams(context.Background(), "1", path)
	require.NoError(t, err)
	assert.Equal(t, list, got)
	assert.Equal(t, int32(1), prober.calls.Load())
	assert.Equal(t, "eng", got.Streams[1].Language())
}

func TestMime(t *testing.T) {
	files := &fakeFiles{mime: "video/x-matroska"}
	svc := New(Deps{Files: files, Cache: cache.New(cache.NewMemoryStore())}, Config{})
	path := writeSource(t, "mkv")

	for i := 0; i < 2; i++ {
		got, err := svc.Mime(context.Background(), "1", path)
		require.NoError(t, err)
		assert.Equal(t, "video/x-matroska", got)
	}
	assert.Equal(t, int32(1), files.mimes.Load())
}

func TestTranscodersNotConfigured(t *testing.T) {
	svc := New(Deps{}, Config{})
	path := writeSource(t, "x")

	_, err := svc.Transcode(context.Background(), path, t.TempDir(), transcoder.Options{})
	assert.Equal(t, http.StatusNotImplemented, httperror.StatusOf(err))

	_, err = svc.StartLive(context.Background(), path)
	assert.Equal(t, http.StatusNotImplemented, httperror.StatusOf(err))
}

func TestStartLiveMissingSource(t *testing.T) {
	live := transcoder.NewLive(nil, nil, nil, transcoder.LiveConfig{})
	svc := New(Deps{Live: live}, Config{})

	_, err := svc.StartLive(context.Background(), filepath.Join(t.TempDir(), "missing.mkv"))
	assert.Equal(t, http.StatusNotFound, httperror.StatusOf(err))
}

func TestGetStatsWithoutCollaborators(t *testing.T) {
	svc := New(Deps{}, Config{})
	stats := svc.GetStats()
	assert.Zero(t, stats.RunningTasks)
	assert.Zero(t, stats.LiveSessions)
	assert.NoError(t, svc.Close())
}

func TestFingerprintSlotsHonourContext(t *testing.T) {
	svc := New(Deps{Files: &fakeFiles{}}, Config{FingerprintSlots: 1})
	require.NoError(t, svc.hashSlots.Acquire(context.Background(), 1))
	defer svc.hashSlots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Mime(ctx, "1", writeSource(t, "x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockedGate struct{ waits atomic.Int32 }

func (g *blockedGate) Wait(ctx context.Context) error {
	g.waits.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestMemoryGateHoldsBackNewWork(t *testing.T) {
	gate := &blockedGate{}
	live := transcoder.NewLive(nil, nil, nil, transcoder.LiveConfig{})
	svc := New(Deps{Live: live, Memory: gate}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.StartLive(ctx, writeSource(t, "x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), gate.waits.Load())
}
