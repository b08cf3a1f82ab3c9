package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/ZacxDev/mediaxform/internal/logging"
	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Stream yields decoded frames in presentation order.
type Stream interface {
	Metadata() VideoMetadata
	// Next returns io.EOF after the last frame.
	Next() (*raster.Frame, error)
	Close() error
}

// Decoder opens containers for frame-by-frame reading.
type Decoder interface {
	Open(ctx context.Context, path string) (Stream, error)
}

// FrameDecoder pipes raw RGB24 frames out of ffmpeg.
type FrameDecoder struct {
	Binary string
	Log    logrus.FieldLogger
}

func NewFrameDecoder(binary string, log logrus.FieldLogger) *FrameDecoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FrameDecoder{Binary: binary, Log: logging.OrDiscard(log)}
}

func decodeStream(ctx context.Context, path string) *ffmpeg.Stream {
	return bind(ctx, ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"f":       "rawvideo",
			"pix_fmt": "rgb24",
			"map":     "0:v:0",
		}))
}

func (d *FrameDecoder) Open(ctx context.Context, path string) (Stream, error) {
	md, err := GetVideoMetadata(path)
	if err != nil {
		return nil, err
	}

	cmd, stderr := command(d.Binary, decodeStream(ctx, path), d.Log)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(types.ErrDecodeFailure, "stdout pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, wrapStart(types.ErrDecodeFailure, d.Binary, err)
	}

	d.Log.WithFields(logrus.Fields{
		"path":   path,
		"size":   fmt.Sprintf("%dx%d", md.Width, md.Height),
		"fps":    md.FrameRate.String(),
		"frames": md.FrameCount,
	}).Debug("Decoding video")

	return &frameStream{
		md:     *md,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		buf:    make([]byte, md.Width*md.Height*3),
	}, nil
}

type frameStream struct {
	md     VideoMetadata
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	buf    []byte
	done   bool
	waited bool
}

func (s *frameStream) Metadata() VideoMetadata { return s.md }

func (s *frameStream) Next() (*raster.Frame, error) {
	if s.done {
		return nil, io.EOF
	}

	_, err := io.ReadFull(s.stdout, s.buf)
	switch {
	case err == nil:
		return raster.FromRGB24(s.buf, s.md.Width, s.md.Height), nil

	case errors.Is(err, io.EOF):
		s.done = true
		if werr := s.wait(); werr != nil {
			return nil, errors.Wrapf(types.ErrDecodeFailure, "decoder: %s", describe(werr, s.stderr))
		}
		return nil, io.EOF

	default:
		s.done = true
		werr := s.wait()
		if werr == nil {
			werr = err
		}
		return nil, errors.Wrapf(types.ErrDecodeFailure, "truncated frame: %s", describe(werr, s.stderr))
	}
}

// Close stops ffmpeg if it is still running.
func (s *frameStream) Close() error {
	if s.waited {
		return nil
	}
	if !s.done && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.done = true
	_ = s.wait()
	return nil
}

func (s *frameStream) wait() error {
	if s.waited {
		return nil
	}
	s.waited = true
	return s.cmd.Wait()
}
