package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/ZacxDev/mediaxform/internal/config"
	"github.com/ZacxDev/mediaxform/internal/logging"
	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Target describes the video an encoder produces.
type Target struct {
	Path      string
	Width     int
	Height    int
	FrameRate Rate
}

// Sink receives frames in order. Exactly one of Close or Abort ends it.
type Sink interface {
	WriteFrame(f *raster.Frame) error
	// Close finishes the container and moves it to the target path.
	Close() error
	// Abort stops the encoder and removes partial output.
	Abort() error
}

// Encoder starts an encode of one output container.
type Encoder interface {
	Begin(ctx context.Context, target Target) (Sink, error)
}

// NewEncoder returns the encoder for mode.
func NewEncoder(mode string, settings Settings, log logrus.FieldLogger) (Encoder, error) {
	switch mode {
	case config.EncoderModePipe, "":
		return NewPipeEncoder(settings, log), nil
	case config.EncoderModeSequence:
		return NewSequenceEncoder(settings, log), nil
	default:
		return nil, errors.Wrapf(types.ErrInvalidParameterRange, "encoder mode %q", mode)
	}
}

// PipeEncoder streams raw RGB24 frames into ffmpeg's stdin.
type PipeEncoder struct {
	settings Settings
	log      logrus.FieldLogger
}

func NewPipeEncoder(settings Settings, log logrus.FieldLogger) *PipeEncoder {
	return &PipeEncoder{settings: settings.withDefaults(), log: logging.OrDiscard(log)}
}

func (e *PipeEncoder) stream(ctx context.Context, t Target, partial string) *ffmpeg.Stream {
	s := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"f":         "rawvideo",
		"pix_fmt":   "rgb24",
		"s":         fmt.Sprintf("%dx%d", t.Width, t.Height),
		"framerate": t.FrameRate.String(),
	}).
		Output(partial, e.settings.outputArgs())
	return bind(ctx, s).OverWriteOutput()
}

func (e *PipeEncoder) Begin(ctx context.Context, t Target) (Sink, error) {
	if err := checkTarget(t); err != nil {
		return nil, err
	}
	partial := partialPath(t.Path)

	cmd, stderr := command(e.settings.Binary, e.stream(ctx, t, partial), e.log)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrapf(types.ErrEncoderProcessFailure, "stdin pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, wrapStart(types.ErrEncoderProcessFailure, e.settings.Binary, err)
	}

	return &pipeSink{
		target:  t,
		partial: partial,
		cmd:     cmd,
		stdin:   stdin,
		stderr:  stderr,
		buf:     make([]byte, t.Width*t.Height*3),
		log:     e.log,
	}, nil
}

type pipeSink struct {
	target  Target
	partial string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *tailBuffer
	buf     []byte
	log     logrus.FieldLogger
	ended   bool
}

func (s *pipeSink) WriteFrame(f *raster.Frame) error {
	if s.ended {
		return errors.New("write after close")
	}
	if w, h := raster.Size(f); w != s.target.Width || h != s.target.Height {
		return errors.Wrapf(types.ErrInvalidParameterRange,
			"frame is %dx%d, encoder expects %dx%d", w, h, s.target.Width, s.target.Height)
	}
	raster.RGB24(f, s.buf)
	if _, err := s.stdin.Write(s.buf); err != nil {
		return errors.Wrapf(types.ErrEncoderProcessFailure, "writing frame: %v", err)
	}
	return nil
}

func (s *pipeSink) Close() error {
	if s.ended {
		return nil
	}
	s.ended = true

	_ = s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		removePartial(s.partial, s.log)
		return errors.Wrapf(types.ErrEncoderProcessFailure, "ffmpeg: %s", describe(err, s.stderr))
	}
	return finish(s.partial, s.target.Path, s.log)
}

func (s *pipeSink) Abort() error {
	if s.ended {
		return nil
	}
	s.ended = true

	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	removePartial(s.partial, s.log)
	return nil
}

func checkTarget(t Target) error {
	if t.Path == "" {
		return errors.Wrap(types.ErrInvalidParameterRange, "empty output path")
	}
	if t.Width <= 0 || t.Height <= 0 {
		return errors.Wrapf(types.ErrInvalidParameterRange, "output size %dx%d", t.Width, t.Height)
	}
	if !t.FrameRate.Valid() {
		return errors.Wrapf(types.ErrInvalidParameterRange, "frame rate %s", t.FrameRate)
	}
	return nil
}

// finish moves the completed partial file into place.
func finish(partial, output string, log logrus.FieldLogger) error {
	if err := os.Rename(partial, output); err != nil {
		removePartial(partial, log)
		return errors.Wrapf(types.ErrEncoderProcessFailure, "moving output into place: %v", err)
	}
	return nil
}

// removePartial deletes an unfinished output. Failure is logged only; the
// caller is already returning the error that caused it.
func removePartial(partial string, log logrus.FieldLogger) {
	if err := os.Remove(partial); err != nil && !os.IsNotExist(err) {
		log.WithError(errors.Wrap(types.ErrResourceCleanupFailure, err.Error())).
			WithField("path", partial).
			Warn("Could not remove partial output")
	}
}
