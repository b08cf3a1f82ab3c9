package ffmpeg

import (
	"bytes"
	"context"

	"github.com/ZacxDev/mediaxform/internal/logging"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// StillTranscoder converts stills Go cannot read into a codec it can.
type StillTranscoder struct {
	Binary string
	Log    logrus.FieldLogger
}

func NewStillTranscoder(binary string, log logrus.FieldLogger) *StillTranscoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &StillTranscoder{Binary: binary, Log: logging.OrDiscard(log)}
}

func transcodeStream(ctx context.Context, path, codec string) *ffmpeg.Stream {
	return bind(ctx, ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"f":        "image2pipe",
			"c:v":      codec,
			"frames:v": 1,
		}))
}

// Transcode decodes the first image in path and returns it re-encoded
// with codec.
func (t *StillTranscoder) Transcode(ctx context.Context, path, codec string) ([]byte, error) {
	var out bytes.Buffer
	stream, stderr := prepare(t.Binary, transcodeStream(ctx, path, codec), t.Log)
	if err := stream.WithOutput(&out).Run(); err != nil {
		if !exited(err) {
			return nil, wrapStart(types.ErrDecodeFailure, t.Binary, err)
		}
		return nil, errors.Wrapf(types.ErrDecodeFailure, "transcoding %s: %s", path, describe(err, stderr))
	}
	if out.Len() == 0 {
		return nil, errors.Wrapf(types.ErrDecodeFailure, "transcoding %s produced no image", path)
	}
	return out.Bytes(), nil
}
