package ffmpeg

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ZacxDev/mediaxform/internal/config"
	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeJSON = `{
  "streams": [
    {"codec_type": "audio", "codec_name": "aac"},
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001",
     "nb_frames": "300", "duration": "10.010000"}
  ],
  "format": {"duration": "10.050000"}
}`

func TestParseProbe(t *testing.T) {
	md, err := ParseProbe(probeJSON)
	require.NoError(t, err)

	assert.Equal(t, 1920, md.Width)
	assert.Equal(t, 1080, md.Height)
	assert.Equal(t, Rate{30000, 1001}, md.FrameRate)
	assert.Equal(t, 300, md.FrameCount)
	assert.InDelta(t, 10.01, md.Duration, 1e-9)
	assert.Equal(t, "h264", md.Codec)
	assert.Equal(t, 0, md.Rotation)
}

func TestParseProbeFallbacks(t *testing.T) {
	md, err := ParseProbe(`{"streams": [{"codec_type": "video", "width": 640, "height": 480,
		"r_frame_rate": "0/0", "avg_frame_rate": "25/1"}], "format": {"duration": "2.0"}}`)
	require.NoError(t, err)
	assert.Equal(t, Rate{25, 1}, md.FrameRate)
	assert.Equal(t, 50, md.FrameCount)
	assert.Equal(t, 2.0, md.Duration)
}

func TestParseProbeRotation(t *testing.T) {
	md, err := ParseProbe(`{"streams": [{"codec_type": "video", "width": 1920, "height": 1080,
		"r_frame_rate": "30/1", "tags": {"rotate": "90"}}]}`)
	require.NoError(t, err)
	assert.Equal(t, 90, md.Rotation)
	assert.Equal(t, [2]int{1080, 1920}, [2]int{md.Width, md.Height})

	md, err = ParseProbe(`{"streams": [{"codec_type": "video", "width": 1920, "height": 1080,
		"r_frame_rate": "30/1", "side_data_list": [{"rotation": -90}]}]}`)
	require.NoError(t, err)
	assert.Equal(t, 90, md.Rotation)
	assert.Equal(t, [2]int{1080, 1920}, [2]int{md.Width, md.Height})

	md, err = ParseProbe(`{"streams": [{"codec_type": "video", "width": 1920, "height": 1080,
		"r_frame_rate": "30/1", "side_data_list": [{"rotation": 180}]}]}`)
	require.NoError(t, err)
	assert.Equal(t, 180, md.Rotation)
	assert.Equal(t, [2]int{1920, 1080}, [2]int{md.Width, md.Height})
}

func TestParseProbeErrors(t *testing.T) {
	for _, data := range []string{
		`not json`,
		`{"streams": [{"codec_type": "audio"}]}`,
		`{"streams": [{"codec_type": "video", "width": 0, "height": 10, "r_frame_rate": "30/1"}]}`,
		`{"streams": [{"codec_type": "video", "width": 10, "height": 10}]}`,
	} {
		_, err := ParseProbe(data)
		assert.True(t, errors.Is(err, types.ErrDecodeFailure), data)
	}
}

func TestRate(t *testing.T) {
	r, err := ParseRate("30000/1001")
	require.NoError(t, err)
	assert.InDelta(t, 29.97, r.Float(), 0.001)
	assert.Equal(t, "30000/1001", r.String())

	r, err = ParseRate("25")
	require.NoError(t, err)
	assert.Equal(t, "25", r.String())

	for _, bad := range []string{"", "x/1", "30/0", "-1/1"} {
		_, err := ParseRate(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, Rate{24, 1}, RateFromFloat(24))
	assert.Equal(t, Rate{29970, 1000}, RateFromFloat(29.97))
}

func TestEnsureExtension(t *testing.T) {
	assert.Equal(t, "out.mp4", EnsureExtension("out.mov", ".mp4"))
	assert.Equal(t, "out.mp4", EnsureExtension("out", ".mp4"))
	assert.Equal(t, "/tmp/out.partial.mp4", partialPath("/tmp/out.mp4"))
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 8}
	_, _ = b.Write([]byte("hello "))
	_, _ = b.Write([]byte("world"))
	assert.Equal(t, "lo world", b.String())

	n, _ := b.Write([]byte("0123456789abc"))
	assert.Equal(t, 13, n)
	assert.Equal(t, "56789abc", b.String())
}

func hasPair(args []string, key, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == key && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestDecodeArgs(t *testing.T) {
	args := decodeStream(context.Background(), "/videos/in.mov").GetArgs()
	assert.True(t, hasPair(args, "-i", "/videos/in.mov"), args)
	assert.True(t, hasPair(args, "-f", "rawvideo"), args)
	assert.True(t, hasPair(args, "-pix_fmt", "rgb24"), args)
	assert.Contains(t, args, "pipe:")
}

func TestPipeEncoderArgs(t *testing.T) {
	e := NewPipeEncoder(Settings{CRF: 23}, nil)
	target := Target{Path: "/out/clip.mp4", Width: 641, Height: 481, FrameRate: Rate{30000, 1001}}
	args := e.stream(context.Background(), target, partialPath(target.Path)).GetArgs()

	assert.True(t, hasPair(args, "-i", "pipe:"), args)
	assert.True(t, hasPair(args, "-s", "641x481"), args)
	assert.True(t, hasPair(args, "-framerate", "30000/1001"), args)
	assert.True(t, hasPair(args, "-c:v", config.DefaultCodec), args)
	assert.True(t, hasPair(args, "-pix_fmt", config.DefaultPixelFormat), args)
	assert.True(t, hasPair(args, "-crf", "23"), args)
	assert.True(t, hasPair(args, "-vf", EvenPadFilter), args)
	assert.Contains(t, args, "/out/clip.partial.mp4")
	assert.Contains(t, args, "-y")
}

func TestSequenceEncoderArgs(t *testing.T) {
	e := NewSequenceEncoder(Settings{Preset: "fast"}, nil)
	target := Target{Path: "/out/clip.mp4", Width: 640, Height: 480, FrameRate: Rate{24, 1}}
	args := e.stream(context.Background(), "/tmp/frames", target, partialPath(target.Path)).GetArgs()

	assert.True(t, hasPair(args, "-i", filepath.Join("/tmp/frames", FramePattern)), args)
	assert.True(t, hasPair(args, "-framerate", "24"), args)
	assert.True(t, hasPair(args, "-preset", "fast"), args)
	assert.True(t, hasPair(args, "-pix_fmt", config.DefaultPixelFormat), args)
}

func TestTranscodeArgs(t *testing.T) {
	args := transcodeStream(context.Background(), "/in/IMG_1.HEIC", "png").GetArgs()
	assert.True(t, hasPair(args, "-i", "/in/IMG_1.HEIC"), args)
	assert.True(t, hasPair(args, "-c:v", "png"), args)
	assert.True(t, hasPair(args, "-f", "image2pipe"), args)
}

func TestNewEncoder(t *testing.T) {
	e, err := NewEncoder(config.EncoderModePipe, Settings{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &PipeEncoder{}, e)

	e, err = NewEncoder(config.EncoderModeSequence, Settings{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SequenceEncoder{}, e)

	_, err = NewEncoder("gpu", Settings{}, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidParameterRange))
}

func TestMissingBinary(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-ffmpeg")
	target := Target{Path: filepath.Join(t.TempDir(), "out.mp4"), Width: 2, Height: 2, FrameRate: Rate{30, 1}}

	_, err := NewPipeEncoder(Settings{Binary: missing}, nil).Begin(context.Background(), target)
	assert.True(t, errors.Is(err, types.ErrEncoderProcessFailure), err)

	sink, err := NewSequenceEncoder(Settings{Binary: missing, TempDir: t.TempDir()}, nil).Begin(context.Background(), target)
	require.NoError(t, err)
	require.NoError(t, sink.WriteFrame(raster.New(2, 2)))
	err = sink.Close()
	assert.True(t, errors.Is(err, types.ErrEncoderProcessFailure), err)

	_, err = NewStillTranscoder(missing, nil).Transcode(context.Background(), "x.heic", "png")
	assert.True(t, errors.Is(err, types.ErrDecodeFailure), err)
}

func TestBeginRejectsBadTarget(t *testing.T) {
	e := NewPipeEncoder(Settings{}, nil)
	for _, target := range []Target{
		{Path: "", Width: 2, Height: 2, FrameRate: Rate{30, 1}},
		{Path: "x.mp4", Width: 0, Height: 2, FrameRate: Rate{30, 1}},
		{Path: "x.mp4", Width: 2, Height: 2},
	} {
		_, err := e.Begin(context.Background(), target)
		assert.True(t, errors.Is(err, types.ErrInvalidParameterRange), target)
	}
}

// fakeFFmpeg writes a shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const touchPartial = `for a in "$@"; do case "$a" in *.partial.mp4) printf video > "$a";; esac; done`

func encoders(binary, tmp string) map[string]Encoder {
	return map[string]Encoder{
		"pipe":     NewPipeEncoder(Settings{Binary: binary}, nil),
		"sequence": NewSequenceEncoder(Settings{Binary: binary, TempDir: tmp}, nil),
	}
}

func TestEncoderSuccessMovesOutput(t *testing.T) {
	bin := fakeFFmpeg(t, touchPartial+"\ncat > /dev/null\nexit 0")

	for name, enc := range encoders(bin, t.TempDir()) {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out.mp4")
			sink, err := enc.Begin(context.Background(), Target{Path: out, Width: 4, Height: 2, FrameRate: Rate{30, 1}})
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				require.NoError(t, sink.WriteFrame(raster.New(4, 2)))
			}
			require.NoError(t, sink.Close())

			data, err := os.ReadFile(out)
			require.NoError(t, err)
			assert.Equal(t, "video", string(data))
			assert.NoFileExists(t, partialPath(out))
		})
	}
}

func TestEncoderFailureRemovesPartial(t *testing.T) {
	bin := fakeFFmpeg(t, touchPartial+"\ncat > /dev/null\necho 'Conversion failed!' >&2\nexit 1")

	for name, enc := range encoders(bin, t.TempDir()) {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out.mp4")
			sink, err := enc.Begin(context.Background(), Target{Path: out, Width: 4, Height: 2, FrameRate: Rate{30, 1}})
			require.NoError(t, err)
			require.NoError(t, sink.WriteFrame(raster.New(4, 2)))

			err = sink.Close()
			assert.True(t, errors.Is(err, types.ErrEncoderProcessFailure), err)
			assert.Contains(t, err.Error(), "Conversion failed!")
			assert.NoFileExists(t, out)
			assert.NoFileExists(t, partialPath(out))
		})
	}
}

func TestEncoderAbortRemovesPartial(t *testing.T) {
	bin := fakeFFmpeg(t, touchPartial+"\ncat > /dev/null\nexit 0")
	tmp := t.TempDir()

	for name, enc := range encoders(bin, tmp) {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out.mp4")
			sink, err := enc.Begin(context.Background(), Target{Path: out, Width: 4, Height: 2, FrameRate: Rate{30, 1}})
			require.NoError(t, err)
			require.NoError(t, sink.WriteFrame(raster.New(4, 2)))
			require.NoError(t, sink.Abort())

			assert.NoFileExists(t, out)
			assert.NoFileExists(t, partialPath(out))
		})
	}

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "frame directories must be removed")
}

func TestEncoderRejectsWrongFrameSize(t *testing.T) {
	bin := fakeFFmpeg(t, "cat > /dev/null")
	sink, err := NewPipeEncoder(Settings{Binary: bin}, nil).Begin(context.Background(),
		Target{Path: filepath.Join(t.TempDir(), "o.mp4"), Width: 4, Height: 2, FrameRate: Rate{30, 1}})
	require.NoError(t, err)
	defer sink.Abort()

	err = sink.WriteFrame(raster.New(2, 4))
	assert.True(t, errors.Is(err, types.ErrInvalidParameterRange))
}

func stubProbe(t *testing.T, out string) {
	t.Helper()
	orig := probe
	probe = func(string) (string, error) { return out, nil }
	t.Cleanup(func() { probe = orig })
}

func TestFrameDecoder(t *testing.T) {
	stubProbe(t, `{"streams": [{"codec_type": "video", "width": 2, "height": 2, "r_frame_rate": "30/1", "nb_frames": "2"}]}`)
	bin := fakeFFmpeg(t, "head -c 24 /dev/zero")

	stream, err := NewFrameDecoder(bin, nil).Open(context.Background(), "in.mp4")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, 2, stream.Metadata().FrameCount)

	var frames int
	for {
		f, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, [2]int{2, 2}, [2]int{f.Bounds().Dx(), f.Bounds().Dy()})
		frames++
	}
	assert.Equal(t, 2, frames)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFrameDecoderTruncated(t *testing.T) {
	stubProbe(t, `{"streams": [{"codec_type": "video", "width": 2, "height": 2, "r_frame_rate": "30/1"}]}`)
	bin := fakeFFmpeg(t, "head -c 13 /dev/zero")

	stream, err := NewFrameDecoder(bin, nil).Open(context.Background(), "in.mp4")
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	require.NoError(t, err)
	_, err = stream.Next()
	assert.True(t, errors.Is(err, types.ErrDecodeFailure), err)
}

func TestFrameDecoderFailures(t *testing.T) {
	stubProbe(t, `{"streams": [{"codec_type": "video", "width": 2, "height": 2, "r_frame_rate": "30/1"}]}`)

	_, err := NewFrameDecoder(filepath.Join(t.TempDir(), "none"), nil).Open(context.Background(), "in.mp4")
	assert.True(t, errors.Is(err, types.ErrDecodeFailure), err)

	bin := fakeFFmpeg(t, "echo 'moov atom not found' >&2\nexit 1")
	stream, err := NewFrameDecoder(bin, nil).Open(context.Background(), "in.mp4")
	require.NoError(t, err)
	defer stream.Close()
	_, err = stream.Next()
	assert.True(t, errors.Is(err, types.ErrDecodeFailure), err)
	assert.True(t, strings.Contains(err.Error(), "moov atom not found"), err.Error())
}

func TestTranscode(t *testing.T) {
	bin := fakeFFmpeg(t, "printf PNGDATA")
	data, err := NewStillTranscoder(bin, nil).Transcode(context.Background(), "in.heic", "png")
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	bin = fakeFFmpeg(t, "exit 0")
	_, err = NewStillTranscoder(bin, nil).Transcode(context.Background(), "in.heic", "png")
	assert.True(t, errors.Is(err, types.ErrDecodeFailure), err)
}

func TestCommandCompilesThroughStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd, stderr := command("/opt/ffmpeg/bin/ffmpeg", decodeStream(ctx, "/videos/in.mov"), nil)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cmd.Path)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cmd.Args[0])
	assert.True(t, hasPair(cmd.Args, "-i", "/videos/in.mov"), cmd.Args)
	assert.Same(t, stderr, cmd.Stderr)
}

func TestBindKeepsOverwrite(t *testing.T) {
	e := NewSequenceEncoder(Settings{}, nil)
	target := Target{Path: "/out/clip.mp4", Width: 2, Height: 2, FrameRate: Rate{30, 1}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := e.stream(ctx, "/tmp/frames", target, partialPath(target.Path))
	assert.Contains(t, s.GetArgs(), "-y")
	assert.NotNil(t, s.Context.Done())
}

func TestTranscodeReportsStderr(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "in.heic: Invalid data found when processing input" >&2; exit 1`)
	_, err := NewStillTranscoder(bin, nil).Transcode(context.Background(), "in.heic", "png")
	assert.True(t, errors.Is(err, types.ErrDecodeFailure), err)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestTranscodeCanceled(t *testing.T) {
	bin := fakeFFmpeg(t, "exec sleep 10")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewStillTranscoder(bin, nil).Transcode(ctx, "in.heic", "png")
	assert.True(t, errors.Is(err, types.ErrDecodeFailure), err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
