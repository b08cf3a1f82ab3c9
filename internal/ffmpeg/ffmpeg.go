// Package ffmpeg drives the ffmpeg binary: probing containers, decoding
// frames, encoding frames and transcoding stills.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/ZacxDev/mediaxform/internal/config"
	"github.com/ZacxDev/mediaxform/internal/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

type CodecSettings struct {
	VideoCodec      string
	PixelFormat     string
	ContainerFormat string
	FileExtension   string
	EncoderPresets  map[string]ffmpeg.KwArgs
}

var codecPresets = map[string]CodecSettings{
	"mp4": {
		VideoCodec:      config.DefaultCodec,
		PixelFormat:     config.DefaultPixelFormat,
		ContainerFormat: "mp4",
		FileExtension:   ".mp4",
		EncoderPresets: map[string]ffmpeg.KwArgs{
			"libx264": {
				"profile:v": "high",
				"movflags":  "+faststart",
			},
		},
	},
}

func GetCodecSettings(outputFormat string) CodecSettings {
	if settings, ok := codecPresets[outputFormat]; ok {
		return settings
	}
	return codecPresets["mp4"]
}

// Settings configure the encoders. Zero fields take the defaults from
// config.
type Settings struct {
	Binary      string
	Codec       string
	PixelFormat string
	Preset      string
	CRF         int
	Threads     int
	TempDir     string
}

// SettingsFromOptions copies the encoder fields out of opts.
func SettingsFromOptions(opts config.Options) Settings {
	return Settings{
		Binary:      opts.FfmpegPath,
		Codec:       opts.Codec,
		PixelFormat: opts.PixelFormat,
		Preset:      opts.Preset,
		CRF:         opts.Crf,
		Threads:     opts.Workers,
		TempDir:     opts.TempDir,
	}
}

func (s Settings) withDefaults() Settings {
	settings := GetCodecSettings("mp4")
	if s.Binary == "" {
		s.Binary = "ffmpeg"
	}
	if s.Codec == "" {
		s.Codec = settings.VideoCodec
	}
	if s.PixelFormat == "" {
		s.PixelFormat = settings.PixelFormat
	}
	if s.Preset == "" {
		s.Preset = config.DefaultPreset
	}
	if s.Threads <= 0 {
		s.Threads = GetOptimalThreadCount()
	}
	return s
}

// outputArgs are the encoder options shared by both encoder modes.
func (s Settings) outputArgs() ffmpeg.KwArgs {
	settings := GetCodecSettings("mp4")
	kw := ffmpeg.KwArgs{
		"c:v":     s.Codec,
		"pix_fmt": s.PixelFormat,
		"preset":  s.Preset,
		"crf":     s.CRF,
		"threads": s.Threads,
		"vf":      EvenPadFilter,
		"f":       settings.ContainerFormat,
	}
	for k, v := range settings.EncoderPresets[s.Codec] {
		kw[k] = v
	}
	return kw
}

// EvenPadFilter pads odd frame sizes by one pixel; 4:2:0 chroma needs even
// dimensions.
const EvenPadFilter = "pad=ceil(iw/2)*2:ceil(ih/2)*2"

func GetOptimalThreadCount() int {
	cpuCount := runtime.NumCPU()
	// Use 75% of available cores to prevent overload
	return int(math.Max(1, float64(cpuCount)*0.75))
}

// Helper function to ensure correct file extension
func EnsureExtension(filename, extension string) string {
	extensions := []string{".mp4", ".webm", ".mkv", ".avi", ".mov", ".m4v"}
	for _, ext := range extensions {
		filename = strings.TrimSuffix(filename, ext)
	}
	return filename + extension
}

// partialPath is where an encoder writes before the output is complete.
func partialPath(output string) string {
	return EnsureExtension(output, ".partial.mp4")
}

func init() {
	// Compiled commands are logged through logrus instead.
	ffmpeg.LogCompiledCommand = false
}

// bind makes ctx the context the compiled process runs under. Options that
// ffmpeg-go keeps on the stream context, such as OverWriteOutput, must be
// applied after it.
func bind(ctx context.Context, stream *ffmpeg.Stream) *ffmpeg.Stream {
	stream.Context = ctx
	return stream
}

// prepare points stream at binary and keeps its stderr in a bounded buffer
// for error messages.
func prepare(binary string, stream *ffmpeg.Stream, log logrus.FieldLogger) (*ffmpeg.Stream, *tailBuffer) {
	logging.OrDiscard(log).WithField("args", strings.Join(stream.GetArgs(), " ")).Debug("ffmpeg command")

	stderr := &tailBuffer{max: 4096}
	return stream.SetFfmpegPath(binary).WithErrorOutput(stderr), stderr
}

// command compiles stream for callers that need its stdin or stdout pipes.
func command(binary string, stream *ffmpeg.Stream, log logrus.FieldLogger) (*exec.Cmd, *tailBuffer) {
	stream, stderr := prepare(binary, stream, log)
	return stream.Compile(), stderr
}

// exited reports whether err came from a process that ran and failed,
// rather than one that never started.
func exited(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// describe turns a process failure into a message carrying the exit status
// and the tail of stderr.
func describe(err error, stderr *tailBuffer) string {
	msg := err.Error()
	if tail := strings.TrimSpace(stderr.String()); tail != "" {
		msg = fmt.Sprintf("%s: %s", msg, lastLine(tail))
	}
	return msg
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if len(p) > t.max {
		p = p[len(p)-t.max:]
	}
	if over := t.buf.Len() + len(p) - t.max; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// wrapStart classifies a failure to start the binary.
func wrapStart(sentinel error, binary string, err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return errors.Wrapf(sentinel, "%s not found", binary)
	}
	return errors.Wrapf(sentinel, "starting %s: %v", binary, err)
}
