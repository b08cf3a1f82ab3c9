package ffmpeg

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/ZacxDev/mediaxform/internal/config"
	"github.com/ZacxDev/mediaxform/internal/logging"
	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FramePattern names the numbered frames a SequenceEncoder writes.
const FramePattern = "frame_%06d.png"

// SequenceEncoder writes every frame as a numbered PNG into a scoped
// temporary directory and encodes the sequence when closed.
type SequenceEncoder struct {
	settings Settings
	log      logrus.FieldLogger
}

func NewSequenceEncoder(settings Settings, log logrus.FieldLogger) *SequenceEncoder {
	return &SequenceEncoder{settings: settings.withDefaults(), log: logging.OrDiscard(log)}
}

func (e *SequenceEncoder) stream(ctx context.Context, dir string, t Target, partial string) *ffmpeg.Stream {
	s := ffmpeg.Input(filepath.Join(dir, FramePattern), ffmpeg.KwArgs{
		"framerate":    t.FrameRate.String(),
		"start_number": 0,
	}).
		Output(partial, e.settings.outputArgs())
	return bind(ctx, s).OverWriteOutput()
}

func (e *SequenceEncoder) Begin(ctx context.Context, t Target) (Sink, error) {
	if err := checkTarget(t); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(e.settings.TempDir, config.TempDirPrefix+"frames_")
	if err != nil {
		return nil, errors.Wrap(err, "creating frame directory")
	}
	return &sequenceSink{
		ctx:     ctx,
		enc:     e,
		target:  t,
		dir:     dir,
		partial: partialPath(t.Path),
		png:     &png.Encoder{CompressionLevel: png.BestSpeed},
	}, nil
}

type sequenceSink struct {
	ctx     context.Context
	enc     *SequenceEncoder
	target  Target
	dir     string
	partial string
	png     *png.Encoder
	n       int
	ended   bool
}

func (s *sequenceSink) WriteFrame(f *raster.Frame) error {
	if s.ended {
		return errors.New("write after close")
	}
	if w, h := raster.Size(f); w != s.target.Width || h != s.target.Height {
		return errors.Wrapf(types.ErrInvalidParameterRange,
			"frame is %dx%d, encoder expects %dx%d", w, h, s.target.Width, s.target.Height)
	}

	path := filepath.Join(s.dir, fmt.Sprintf(FramePattern, s.n))
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := s.png.Encode(file, f); err != nil {
		file.Close()
		return errors.Wrapf(err, "encoding %s", path)
	}
	if err := file.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", path)
	}
	s.n++
	return nil
}

func (s *sequenceSink) Close() error {
	if s.ended {
		return nil
	}
	s.ended = true
	defer s.cleanup()

	if s.n == 0 {
		return errors.Wrap(types.ErrEncoderProcessFailure, "no frames to encode")
	}

	stream, stderr := prepare(s.enc.settings.Binary, s.enc.stream(s.ctx, s.dir, s.target, s.partial), s.enc.log)
	if err := stream.Run(); err != nil {
		removePartial(s.partial, s.enc.log)
		if !exited(err) {
			return wrapStart(types.ErrEncoderProcessFailure, s.enc.settings.Binary, err)
		}
		return errors.Wrapf(types.ErrEncoderProcessFailure, "ffmpeg: %s", describe(err, stderr))
	}
	return finish(s.partial, s.target.Path, s.enc.log)
}

func (s *sequenceSink) Abort() error {
	if s.ended {
		return nil
	}
	s.ended = true
	s.cleanup()
	removePartial(s.partial, s.enc.log)
	return nil
}

func (s *sequenceSink) cleanup() {
	if err := os.RemoveAll(s.dir); err != nil {
		s.enc.log.WithError(errors.Wrap(types.ErrResourceCleanupFailure, err.Error())).
			WithField("path", s.dir).
			Warn("Could not remove frame directory")
	}
}
