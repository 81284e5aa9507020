package transport

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v3"
)

// CodecType represents the video codec of a published stream
type CodecType string

const (
	CodecVP8 CodecType = "vp8"
	CodecVP9 CodecType = "vp9"
)

// MimeType returns the RTP mime type for the codec.
func (c CodecType) MimeType() string {
	switch c {
	case CodecVP9:
		return webrtc.MimeTypeVP9
	default:
		return webrtc.MimeTypeVP8
	}
}

// codecFromFourCC maps an IVF FourCC to a codec.
func codecFromFourCC(fourcc string) (CodecType, error) {
	switch strings.ToUpper(fourcc) {
	case "VP80":
		return CodecVP8, nil
	case "VP90":
		return CodecVP9, nil
	default:
		return "", fmt.Errorf("unsupported ivf codec %q", fourcc)
	}
}

// codecName returns the short codec name of a mime type, e.g. "vp8".
func codecName(mime string) string {
	if i := strings.IndexByte(mime, '/'); i >= 0 {
		return strings.ToLower(mime[i+1:])
	}
	return strings.ToLower(mime)
}
