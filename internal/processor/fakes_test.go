package processor

import (
	"context"
	"image/color"
	"io"
	"sync"
	"testing"

	"github.com/ZacxDev/mediaxform/internal/config"
	"github.com/ZacxDev/mediaxform/internal/ffmpeg"
	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// syntheticFrame is a flat frame with its index stamped into pixel (0,0).
func syntheticFrame(i, w, h int) *raster.Frame {
	f := raster.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.SetRGBA(x, y, color.RGBA{R: 40, G: 80, B: 120, A: 255})
		}
	}
	f.SetRGBA(0, 0, color.RGBA{R: uint8(i), G: 0, B: 0, A: 255})
	return f
}

type fakeDecoder struct {
	width, height int
	frames        int
	rate          ffmpeg.Rate
	failAt        int
	openErr       error

	mu      sync.Mutex
	opened  []string
	streams []*fakeStream
}

func (d *fakeDecoder) Open(ctx context.Context, path string) (ffmpeg.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, path)
	if d.openErr != nil {
		return nil, d.openErr
	}
	rate := d.rate
	if !rate.Valid() {
		rate = ffmpeg.Rate{Num: 30, Den: 1}
	}
	s := &fakeStream{d: d, md: ffmpeg.VideoMetadata{
		Width: d.width, Height: d.height, FrameRate: rate, FrameCount: d.frames,
	}}
	d.streams = append(d.streams, s)
	return s, nil
}

type fakeStream struct {
	d      *fakeDecoder
	md     ffmpeg.VideoMetadata
	next   int
	closed bool
}

func (s *fakeStream) Metadata() ffmpeg.VideoMetadata { return s.md }

func (s *fakeStream) Next() (*raster.Frame, error) {
	if s.d.failAt > 0 && s.next == s.d.failAt {
		return nil, errors.Wrap(types.ErrDecodeFailure, "corrupt packet")
	}
	if s.next >= s.d.frames {
		return nil, io.EOF
	}
	f := syntheticFrame(s.next, s.md.Width, s.md.Height)
	s.next++
	return f, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeEncoder struct {
	beginErr error
	writeErr error
	closeErr error

	mu    sync.Mutex
	sinks []*fakeSink
}

func (e *fakeEncoder) Begin(ctx context.Context, t ffmpeg.Target) (ffmpeg.Sink, error) {
	if e.beginErr != nil {
		return nil, e.beginErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &fakeSink{e: e, target: t}
	e.sinks = append(e.sinks, s)
	return s, nil
}

func (e *fakeEncoder) sink(t *testing.T) *fakeSink {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.Len(t, e.sinks, 1)
	return e.sinks[0]
}

type fakeSink struct {
	e       *fakeEncoder
	target  ffmpeg.Target
	frames  []*raster.Frame
	closed  bool
	aborted bool
}

func (s *fakeSink) WriteFrame(f *raster.Frame) error {
	if s.e.writeErr != nil && len(s.frames) == 2 {
		return s.e.writeErr
	}
	s.frames = append(s.frames, raster.Clone(f))
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return s.e.closeErr
}

func (s *fakeSink) Abort() error {
	s.aborted = true
	return nil
}

type fakeTranscoder struct {
	data   []byte
	err    error
	codecs []string
	paths  []string
}

func (f *fakeTranscoder) Transcode(ctx context.Context, path, codec string) ([]byte, error) {
	f.codecs = append(f.codecs, codec)
	f.paths = append(f.paths, path)
	return f.data, f.err
}

func testOptions(t *testing.T) config.Options {
	opts := config.Defaults()
	opts.Workers = 4
	opts.TempDir = t.TempDir()
	return opts
}

func newTestProcessor(t *testing.T, dec *fakeDecoder, enc *fakeEncoder, opts ...Option) *Processor {
	t.Helper()
	all := append([]Option{WithDecoder(dec), WithEncoder(enc)}, opts...)
	p, err := NewProcessor(testOptions(t), all...)
	require.NoError(t, err)
	return p
}
