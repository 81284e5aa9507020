package transport

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// IVFSource loops an IVF file into a video track, giving a source real media
// without camera capture.
type IVFSource struct {
	path     string
	codec    CodecType
	interval time.Duration
	track    *webrtc.TrackLocalStaticSample
	frames   atomic.Uint64
}

// NewIVFSource opens path to read its codec and frame rate and creates the
// track. streamID labels the track on the receiving side.
func NewIVFSource(path, streamID string) (*IVFSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open ivf")
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read ivf header %s", path)
	}
	codec, err := codecFromFourCC(header.FourCC)
	if err != nil {
		return nil, err
	}
	if header.TimebaseNumerator == 0 || header.TimebaseDenominator == 0 {
		return nil, errors.Errorf("ivf %s: invalid timebase", path)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: codec.MimeType()}, "video", streamID)
	if err != nil {
		return nil, errors.Wrap(err, "create track")
	}

	return &IVFSource{
		path:     path,
		codec:    codec,
		interval: time.Second * time.Duration(header.TimebaseNumerator) / time.Duration(header.TimebaseDenominator),
		track:    track,
	}, nil
}

// Track returns the track to publish.
func (s *IVFSource) Track() webrtc.TrackLocal { return s.track }

// Codec returns the file's codec.
func (s *IVFSource) Codec() CodecType { return s.codec }

// Frames returns the number of frames written so far.
func (s *IVFSource) Frames() uint64 { return s.frames.Load() }

// Run writes frames at the file's frame rate, rewinding at the end, until ctx
// is done.
func (s *IVFSource) Run(ctx context.Context) error {
	for {
		if err := s.playOnce(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *IVFSource) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return errors.Wrap(err, "open ivf")
	}
	defer f.Close()

	reader, _, err := ivfreader.NewWith(f)
	if err != nil {
		return errors.Wrap(err, "read ivf header")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read ivf frame")
		}

		if err := s.track.WriteSample(media.Sample{Data: frame, Duration: s.interval}); err != nil {
			return errors.Wrap(err, "write sample")
		}
		s.frames.Inc()
	}
}
