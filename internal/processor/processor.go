package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ZacxDev/mediaxform/internal/config"
	"github.com/ZacxDev/mediaxform/internal/ffmpeg"
	"github.com/ZacxDev/mediaxform/internal/logging"
	"github.com/ZacxDev/mediaxform/internal/scale"
	"github.com/ZacxDev/mediaxform/internal/textmetrics"
	"github.com/ZacxDev/mediaxform/internal/transform"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// StillTranscoder turns stills Go cannot decode into a codec it can.
type StillTranscoder interface {
	Transcode(ctx context.Context, path, codec string) ([]byte, error)
}

// Processor handles still and video jobs for one set of options
type Processor struct {
	opts    config.Options
	engine  *transform.Engine
	scaler  *scale.Scaler
	decoder ffmpeg.Decoder
	encoder ffmpeg.Encoder
	stills  StillTranscoder
	log     logrus.FieldLogger
}

// Option overrides a collaborator, mostly for tests.
type Option func(*Processor)

func WithDecoder(d ffmpeg.Decoder) Option         { return func(p *Processor) { p.decoder = d } }
func WithEncoder(e ffmpeg.Encoder) Option         { return func(p *Processor) { p.encoder = e } }
func WithTranscoder(t StillTranscoder) Option     { return func(p *Processor) { p.stills = t } }
func WithLogger(log logrus.FieldLogger) Option    { return func(p *Processor) { p.log = log } }
func WithMeasurer(m *textmetrics.Measurer) Option { return func(p *Processor) { p.engine = transform.NewEngine(m) } }

// NewProcessor creates a new processor
func NewProcessor(opts config.Options, options ...Option) (*Processor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{opts: opts, log: logging.Discard()}
	for _, o := range options {
		o(p)
	}

	if p.engine == nil {
		m, err := textmetrics.Load(opts.FontFile)
		if err != nil {
			return nil, err
		}
		p.engine = transform.NewEngine(m)
	}
	p.scaler = scale.NewScaler(p.engine.Metrics(), p.log)

	settings := ffmpeg.SettingsFromOptions(opts)
	if p.decoder == nil {
		p.decoder = ffmpeg.NewFrameDecoder(settings.Binary, p.log)
	}
	if p.encoder == nil {
		enc, err := ffmpeg.NewEncoder(opts.EncoderMode, settings, p.log)
		if err != nil {
			return nil, err
		}
		p.encoder = enc
	}
	if p.stills == nil {
		p.stills = ffmpeg.NewStillTranscoder(settings.Binary, p.log)
	}
	return p, nil
}

func (p *Processor) Engine() *transform.Engine      { return p.engine }
func (p *Processor) Scaler() *scale.Scaler          { return p.scaler }
func (p *Processor) Metrics() *textmetrics.Measurer { return p.engine.Metrics() }
func (p *Processor) Options() config.Options        { return p.opts }
func (p *Processor) Logger() logrus.FieldLogger     { return p.log }

// workers is the size of the frame worker pool.
func (p *Processor) workers() int {
	if p.opts.Workers > 0 {
		return p.opts.Workers
	}
	return ffmpeg.GetOptimalThreadCount()
}

// removeTemp deletes a scoped temporary file or directory. Failure is
// logged and never returned.
func (p *Processor) removeTemp(log logrus.FieldLogger, path string) {
	if err := os.RemoveAll(path); err != nil {
		log.WithError(errors.Wrap(types.ErrResourceCleanupFailure, err.Error())).
			WithField("path", path).
			Warn("Could not remove temporary file")
	}
}

// operationLabel names an operation by its transform kinds only, keeping
// metric labels bounded.
func operationLabel(op transform.Operation) string {
	if len(op) == 0 {
		return "identity"
	}
	kinds := make([]string, len(op))
	for i, s := range op {
		kinds[i] = string(s.Kind())
	}
	return strings.Join(kinds, "+")
}

// DefaultOutputPath derives an output name next to input:
// "/in/My Clip.mov" with a rotate becomes "/in/My_Clip_rotate.mp4".
func DefaultOutputPath(input string, op transform.Operation, ext string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name := fmt.Sprintf("%s_%s", sanitizeFilename(base), sanitizeFilename(operationLabel(op)))
	return filepath.Join(filepath.Dir(input), name+"."+ext)
}

func sanitizeFilename(filename string) string {
	reg := regexp.MustCompile(`[^a-zA-Z0-9-_.]`)
	sanitized := reg.ReplaceAllString(filename, "_")

	reg = regexp.MustCompile(`_+`)
	sanitized = reg.ReplaceAllString(sanitized, "_")

	return strings.Trim(sanitized, "_")
}

// ensureOutputPath creates the parent directory and forces the extension.
func ensureOutputPath(path, format string) (string, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", errors.Wrapf(err, "creating directory %s", dir)
		}
	}

	ext := fmt.Sprintf(".%s", format)
	if !strings.HasSuffix(strings.ToLower(path), ext) {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ext
	}
	return path, nil
}
