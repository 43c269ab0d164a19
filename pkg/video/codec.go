package video

import (
	"fmt"
	"strings"
)

// Codec selects the video encoder used by a [Sink].
type Codec int

const (
	// CodecDefault lets the output container pick its default encoder.
	CodecDefault Codec = iota - 1
	CodecMPEG4
	CodecWMV1
	CodecWMV2
	CodecMSMPEG4v2
	CodecMSMPEG4v3
	CodecH263P
	CodecFLV1
	CodecMPEG2
	CodecRaw
	CodecFFV1
	CodecFFVHuff
	CodecH264
	CodecH265
	CodecTheora
	CodecVP8
	CodecVP9

	codecCount
)

// codecInfo describes how a codec maps onto encoder names and pixel layouts.
type codecInfo struct {
	name    string // config / String name
	encoder string // ffmpeg encoder name
	pixFmt  string // output pixel format
	fourcc  string // OpenCV fourcc
}

var codecTable = [...]codecInfo{
	CodecMPEG4:     {"mpeg4", "mpeg4", "yuv420p", "FMP4"},
	CodecWMV1:      {"wmv1", "wmv1", "yuv420p", "WMV1"},
	CodecWMV2:      {"wmv2", "wmv2", "yuv420p", "WMV2"},
	CodecMSMPEG4v2: {"msmpeg4v2", "msmpeg4v2", "yuv420p", "MP42"},
	CodecMSMPEG4v3: {"msmpeg4v3", "msmpeg4", "yuv420p", "MP43"},
	CodecH263P:     {"h263p", "h263p", "yuv420p", "U263"},
	CodecFLV1:      {"flv1", "flv", "yuv420p", "FLV1"},
	CodecMPEG2:     {"mpeg2", "mpeg2video", "yuv420p", "MPG2"},
	CodecRaw:       {"raw", "rawvideo", "bgr24", "DIB "},
	CodecFFV1:      {"ffv1", "ffv1", "yuv420p", "FFV1"},
	CodecFFVHuff:   {"ffvhuff", "ffvhuff", "bgra", "FFVH"},
	CodecH264:      {"h264", "libx264", "yuvj420p", "avc1"},
	CodecH265:      {"h265", "libx265", "yuvj420p", "hev1"},
	CodecTheora:    {"theora", "libtheora", "yuv420p", "THEO"},
	CodecVP8:       {"vp8", "libvpx", "yuv420p", "VP80"},
	CodecVP9:       {"vp9", "libvpx-vp9", "yuv420p", "VP90"},
}

// ParseCodec converts a configuration name ("default", "h264", ...) into a
// [Codec]. Matching is case-insensitive; the empty string selects
// [CodecDefault].
func ParseCodec(s string) (Codec, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" || name == "default" {
		return CodecDefault, nil
	}
	for c, info := range codecTable {
		if info.name == name {
			return Codec(c), nil
		}
	}
	return CodecDefault, fmt.Errorf("%w: %q", ErrInvalidCodec, s)
}

// Valid reports whether c is a known codec.
func (c Codec) Valid() bool {
	return c >= CodecDefault && c < codecCount
}

// String returns the configuration name of the codec.
func (c Codec) String() string {
	if c == CodecDefault {
		return "default"
	}
	if !c.Valid() {
		return fmt.Sprintf("codec(%d)", int(c))
	}
	return codecTable[c].name
}

// Encoder returns the ffmpeg encoder name, or "" for [CodecDefault].
func (c Codec) Encoder() string {
	if c == CodecDefault || !c.Valid() {
		return ""
	}
	return codecTable[c].encoder
}

// PixelFormat returns the encoder-side pixel format. The container default
// always encodes yuv420p.
func (c Codec) PixelFormat() string {
	if c == CodecDefault || !c.Valid() {
		return "yuv420p"
	}
	return codecTable[c].pixFmt
}

// FourCC returns the four character code used by OpenCV writers. For
// [CodecDefault] it returns "mp4v".
func (c Codec) FourCC() string {
	if c == CodecDefault || !c.Valid() {
		return "mp4v"
	}
	return codecTable[c].fourcc
}
