package transcoder

import (
	"math"
	"strconv"

	"nas-web/internal/probe"
)

// Tier assigns a video bitrate to outputs at or above the given thresholds.
type Tier struct {
	MinFPS    float64
	MinWidth  int
	MinHeight int
	Bitrate   int64
}

// Profile holds the tuning values for one transcode path.
type Profile struct {
	MaxWidth  int
	MaxHeight int
	// HighFPS is granted only when the output is at least MaxWidth x MaxHeight.
	HighFPS float64
	// FallbackFPS is used when the source frame rate cannot be parsed.
	FallbackFPS float64
	// Tiers are matched in order; the first match wins.
	Tiers        []Tier
	AudioBitrate int64
}

func defaultTiers() []Tier {
	return []Tier{
		{MinFPS: 60, Bitrate: 12_000_000},
		{MinWidth: 1920, MinHeight: 1080, Bitrate: 10_000_000},
		{MinWidth: 1280, MinHeight: 720, Bitrate: 4_000_000},
		{Bitrate: 1_500_000},
	}
}

// DefaultBatchProfile returns the tuning used for MP4 exports.
func DefaultBatchProfile() Profile {
	return Profile{
		MaxWidth:     1920,
		MaxHeight:    1080,
		HighFPS:      60,
		FallbackFPS:  30,
		Tiers:        defaultTiers(),
		AudioBitrate: 128_000,
	}
}

// DefaultLiveProfile returns the tuning used for HLS sessions.
func DefaultLiveProfile() Profile {
	return Profile{
		MaxWidth:     1920,
		MaxHeight:    1080,
		HighFPS:      60,
		FallbackFPS:  30,
		Tiers:        defaultTiers(),
		AudioBitrate: 128_000,
	}
}

// Plan is the encoder target for one video stream.
type Plan struct {
	Width  int
	Height int
	// FPS is the numeric rate, FPSExpr the value handed to the fps filter.
	FPS     float64
	FPSExpr string
	Bitrate int64
}

// GOP returns the keyframe interval for one keyframe per second.
func (p Plan) GOP() int {
	g := int(math.Round(p.FPS))
	if g < 1 {
		return 1
	}
	return g
}

// Plan derives the target for video. The resolution is scaled down to fit
// the profile bounds keeping the aspect ratio and is never raised.
func (p Profile) Plan(video probe.Stream) Plan {
	plan := Plan{Width: p.MaxWidth, Height: p.MaxHeight}

	if video.Width > 0 && video.Height > 0 {
		ratio := math.Min(float64(p.MaxWidth)/float64(video.Width), float64(p.MaxHeight)/float64(video.Height))
		plan.Width = min(video.Width, int(math.Round(float64(video.Width)*ratio)))
		plan.Height = min(video.Height, int(math.Round(float64(video.Height)*ratio)))
		// yuv420p needs even dimensions
		plan.Width = max(2, plan.Width&^1)
		plan.Height = max(2, plan.Height&^1)
	}

	srcFPS, known := video.FrameRate()
	switch {
	case known && srcFPS >= p.HighFPS && plan.Width >= p.MaxWidth && plan.Height >= p.MaxHeight:
		plan.FPS = p.HighFPS
		plan.FPSExpr = formatRate(p.HighFPS)
	case known:
		plan.FPS = srcFPS
		plan.FPSExpr = video.Meta.AvgFrameRate
	default:
		plan.FPS = p.FallbackFPS
		plan.FPSExpr = formatRate(p.FallbackFPS)
	}

	plan.Bitrate = p.bitrateFor(plan)
	if src := video.SourceBitrate(); src > 0 && plan.Bitrate > src {
		plan.Bitrate = src
	}
	return plan
}

func (p Profile) bitrateFor(plan Plan) int64 {
	for _, t := range p.Tiers {
		if plan.FPS >= t.MinFPS && plan.Width >= t.MinWidth && plan.Height >= t.MinHeight {
			return t.Bitrate
		}
	}
	if n := len(p.Tiers); n > 0 {
		return p.Tiers[n-1].Bitrate
	}
	return 0
}

func formatRate(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}
