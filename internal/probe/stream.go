package probe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a stream.
type Kind string

const (
	KindVideo       Kind = "video"
	KindAudio       Kind = "audio"
	KindSubtitle    Kind = "subtitle"
	KindUnsupported Kind = "unsupported"
)

var imageSubtitleCodecs = map[string]bool{
	"hdmv_pgs_subtitle": true,
	"dvd_subtitle":      true,
	"dvb_subtitle":      true,
	"xsub":              true,
}

// VideoMeta holds the descriptive fields of a video stream.
type VideoMeta struct {
	CodecName        string `json:"codecName,omitempty"`
	CodecDescription string `json:"codecDescription,omitempty"`
	Profile          string `json:"profile,omitempty"`
	PixelFormat      string `json:"pixelFormat,omitempty"`
	ColorSpace       string `json:"colorSpace,omitempty"`
	AvgFrameRate     string `json:"avgFrameRate,omitempty"`
}

// Stream describes one stream of a container. It is immutable after probing.
type Stream struct {
	Index      int               `json:"id"`
	Kind       Kind              `json:"kind"`
	CodecName  string            `json:"codec,omitempty"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	Meta       *VideoMeta        `json:"meta,omitempty"`
	Tags       map[string]string `json:"tags"`
	BitRate    int64             `json:"bitRate,omitempty"`
	MaxBitRate int64             `json:"maxBitRate,omitempty"`
}

// Tag looks up a tag case-insensitively.
func (s Stream) Tag(name string) string {
	if v, ok := s.Tags[name]; ok {
		return v
	}
	for k, v := range s.Tags {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Language returns the language tag, if any.
func (s Stream) Language() string { return s.Tag("language") }

// Title returns the title tag, if any.
func (s Stream) Title() string { return s.Tag("title") }

// IsImageSubtitle reports whether s is a bitmap subtitle that has to be
// overlaid rather than rendered by the subtitles filter.
func (s Stream) IsImageSubtitle() bool {
	return s.Kind == KindSubtitle && imageSubtitleCodecs[s.CodecName]
}

// SourceBitrate returns max_bit_rate when known and bit_rate otherwise, in bits/s.
func (s Stream) SourceBitrate() int64 {
	if s.MaxBitRate > 0 {
		return s.MaxBitRate
	}
	return s.BitRate
}

// FrameRate parses the average frame rate in "a/b" or integer notation.
func (s Stream) FrameRate() (float64, bool) {
	if s.Meta == nil {
		return 0, false
	}
	return ParseFrameRate(s.Meta.AvgFrameRate)
}

// ParseFrameRate parses "30000/1001", "25/1", "24" and similar. It fails on
// "0/0" and anything unparsable.
func ParseFrameRate(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if num, den, ok := strings.Cut(v, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d <= 0 || n <= 0 {
			return 0, false
		}
		return n / d, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return float64(n), true
}

// StreamList is the probe result of one file.
type StreamList struct {
	Streams    []Stream `json:"streams"`
	Duration   float64  `json:"duration,omitempty"`
	BitRate    int64    `json:"bitRate,omitempty"`
	FormatName string   `json:"formatName,omitempty"`
}

func (l *StreamList) ofKind(k Kind) []Stream {
	var out []Stream
	for _, s := range l.Streams {
		if s.Kind == k {
			out = append(out, s)
		}
	}
	return out
}

// Video returns the video streams in container order.
func (l *StreamList) Video() []Stream { return l.ofKind(KindVideo) }

// Audio returns the audio streams in container order.
func (l *StreamList) Audio() []Stream { return l.ofKind(KindAudio) }

// Subtitle returns the subtitle streams in container order.
func (l *StreamList) Subtitle() []Stream { return l.ofKind(KindSubtitle) }

// Unsupported returns data, attachment and other streams.
func (l *StreamList) Unsupported() []Stream { return l.ofKind(KindUnsupported) }

// ByIndex finds a stream by its container index.
func (l *StreamList) ByIndex(index int) (Stream, bool) {
	for _, s := range l.Streams {
		if s.Index == index {
			return s, true
		}
	}
	return Stream{}, false
}

// SubtitleOrdinal returns the position of the stream among subtitle streams,
// as used by the subtitles filter's stream_index option.
func (l *StreamList) SubtitleOrdinal(index int) int {
	n := -1
	for _, s := range l.Streams {
		if s.Kind == KindSubtitle {
			n++
		}
		if s.Index == index {
			return n
		}
	}
	return -1
}

// flexNumber accepts both JSON numbers and numeric strings.
type flexNumber string

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexNumber(n.String())
	return nil
}

func (f flexNumber) float() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(f)), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func (f flexNumber) int() int64 {
	return int64(f.float())
}

type ffprobeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecLongName string            `json:"codec_long_name"`
	CodecType     string            `json:"codec_type"`
	Profile       string            `json:"profile"`
	PixFmt        string            `json:"pix_fmt"`
	ColorSpace    string            `json:"color_space"`
	AvgFrameRate  string            `json:"avg_frame_rate"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	BitRate       flexNumber        `json:"bit_rate"`
	MaxBitRate    flexNumber        `json:"max_bit_rate"`
	Tags          map[string]string `json:"tags"`
}

type ffprobeFormat struct {
	FormatName string     `json:"format_name"`
	Duration   flexNumber `json:"duration"`
	BitRate    flexNumber `json:"bit_rate"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// Parse converts ffprobe -show_streams -show_format JSON into a StreamList.
func Parse(data []byte) (*StreamList, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProbeParse, err)
	}

	list := &StreamList{
		Streams:    make([]Stream, 0, len(out.Streams)),
		Duration:   out.Format.Duration.float(),
		BitRate:    out.Format.BitRate.int(),
		FormatName: out.Format.FormatName,
	}
	for _, raw := range out.Streams {
		s := Stream{
			Index:      raw.Index,
			CodecName:  raw.CodecName,
			Tags:       raw.Tags,
			BitRate:    raw.BitRate.int(),
			MaxBitRate: raw.MaxBitRate.int(),
		}
		if s.Tags == nil {
			s.Tags = map[string]string{}
		}
		switch raw.CodecType {
		case "video":
			s.Kind = KindVideo
			s.Width = raw.Width
			s.Height = raw.Height
			s.Meta = &VideoMeta{
				CodecName:        raw.CodecName,
				CodecDescription: raw.CodecLongName,
				Profile:          raw.Profile,
				PixelFormat:      raw.PixFmt,
				ColorSpace:       raw.ColorSpace,
				AvgFrameRate:     raw.AvgFrameRate,
			}
		case "audio":
			s.Kind = KindAudio
		case "subtitle":
			s.Kind = KindSubtitle
		default:
			s.Kind = KindUnsupported
		}
		list.Streams = append(list.Streams, s)
	}
	return list, nil
}
