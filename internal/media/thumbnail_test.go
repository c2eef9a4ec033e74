package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nas-web/internal/httperror"
	"nas-web/internal/probe"
	"nas-web/internal/supervisor"
	"nas-web/internal/tmpdir"
)

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestGenerateImage(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator(nil, GeneratorOptions{})

	tests := []struct {
		name          string
		file          string
		width, height int
		size          int
		wantW, wantH  int
	}{
		{"landscape jpeg", "wide.jpg", 1000, 500, 200, 200, 100},
		{"portrait png", "tall.png", 300, 900, 300, 100, 300},
		{"never enlarged", "small.png", 120, 80, 500, 120, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, imaging.Save(uniform(tt.width, tt.height, color.NRGBA{30, 90, 200, 255}), path))

			mime := "image/png"
			if filepath.Ext(tt.file) == ".jpg" {
				mime = "image/jpeg"
			}
			thumb, err := g.Generate(context.Background(), path, mime, tt.size)
			require.NoError(t, err)
			assert.Equal(t, ThumbnailMime, thumb.Mime)

			img := decodePNG(t, thumb.Data)
			assert.Equal(t, tt.wantW, img.Bounds().Dx())
			assert.Equal(t, tt.wantH, img.Bounds().Dy())
		})
	}
}

func TestGenerateUnsupported(t *testing.T) {
	g := NewGenerator(nil, GeneratorOptions{})

	for _, mime := range []string{"application/zip", "text/plain", "video/mp4"} {
		_, err := g.Generate(context.Background(), "/media/x", mime, 200)
		assert.Equal(t, http.StatusUnsupportedMediaType, httperror.StatusOf(err), mime)
	}
}

func TestGenerateCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a png"), 0o644))

	g := NewGenerator(nil, GeneratorOptions{})
	_, err := g.Generate(context.Background(), path, "image/png", 200)

	var he *httperror.Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Status)
	assert.Equal(t, "invalid or corrupted file", he.Message)
}

func TestGenerateVideo(t *testing.T) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}

	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	out, err := exec.Command(ffmpeg, "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=3:size=320x240:rate=10",
		"-c:v", "mpeg4", "-g", "5", clip).CombinedOutput()
	require.NoError(t, err, string(out))

	root, err := tmpdir.Open(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	sup := supervisor.New(root)
	prober := probe.New(sup, probe.Options{Binary: ffprobe})
	g := NewGenerator(NewExtractor(sup, prober, root, ffmpeg), GeneratorOptions{SampleSize: 2, FrameWidth: 160})

	thumb, err := g.Generate(context.Background(), clip, "video/mp4", 100)
	require.NoError(t, err)

	img := decodePNG(t, thumb.Data)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 75, img.Bounds().Dy())

	entries, err := os.ReadDir(filepath.Join(root.Path(), string(tmpdir.KindThumbnails)))
	require.NoError(t, err)
	assert.Empty(t, entries, "frame directory should be released")
}
