// Package mediaxform rotates, flips, blurs and watermarks stills and
// videos. Parameters are tuned against a small preview and projected onto
// the full-resolution source when exporting.
package mediaxform

import (
	"context"
	"io"

	"github.com/ZacxDev/mediaxform/internal/config"
	"github.com/ZacxDev/mediaxform/internal/ffmpeg"
	"github.com/ZacxDev/mediaxform/internal/format"
	"github.com/ZacxDev/mediaxform/internal/processor"
	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/internal/scale"
	"github.com/ZacxDev/mediaxform/internal/transform"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/sirupsen/logrus"
)

type (
	Options      = config.Options
	Frame        = raster.Frame
	ScaleContext = scale.Context
	Metadata     = ffmpeg.VideoMetadata
	VideoResult  = processor.VideoResult

	Spec           = transform.Spec
	Operation      = transform.Operation
	Rotate         = transform.Rotate
	FlipHorizontal = transform.FlipHorizontal
	FlipVertical   = transform.FlipVertical
	RadialBlur     = transform.RadialBlur
	Watermark      = transform.Watermark
)

// DefaultOptions returns the built-in configuration.
func DefaultOptions() Options {
	return config.Defaults()
}

// Client runs jobs with one configuration.
type Client struct {
	p *processor.Processor
}

// New builds a Client. A nil log discards.
func New(opts Options, log *logrus.Logger) (*Client, error) {
	var options []processor.Option
	if log != nil {
		options = append(options, processor.WithLogger(log))
	}
	p, err := processor.NewProcessor(opts, options...)
	if err != nil {
		return nil, err
	}
	return &Client{p: p}, nil
}

// Image is an opened still and its preview.
type Image struct {
	Source  *Frame
	Preview *Frame
	Scale   ScaleContext
}

// Video is an opened video, previewed by its first frame.
type Video struct {
	Path     string
	Metadata Metadata
	Preview  *Frame
	Scale    ScaleContext
}

// OpenImage decodes a still from r. name supplies the extension.
func (c *Client) OpenImage(ctx context.Context, r io.Reader, name string) (*Image, error) {
	src, err := c.p.ReadImage(ctx, r, name)
	if err != nil {
		return nil, err
	}
	return c.image(src)
}

// OpenImageFile decodes the still at path.
func (c *Client) OpenImageFile(ctx context.Context, path string) (*Image, error) {
	src, err := c.p.LoadImage(ctx, path)
	if err != nil {
		return nil, err
	}
	return c.image(src)
}

func (c *Client) image(src *Frame) (*Image, error) {
	preview, sctx, err := c.p.Preview(src)
	if err != nil {
		return nil, err
	}
	return &Image{Source: src, Preview: preview, Scale: sctx}, nil
}

// OpenVideo probes path and decodes its first frame as the preview source.
func (c *Client) OpenVideo(ctx context.Context, path string) (*Video, error) {
	first, md, err := c.p.FirstFrame(ctx, path)
	if err != nil {
		return nil, err
	}
	preview, sctx, err := c.p.Preview(first)
	if err != nil {
		return nil, err
	}
	return &Video{Path: path, Metadata: md, Preview: preview, Scale: sctx}, nil
}

// RenderPreview applies a preview-space operation to a preview frame.
func (c *Client) RenderPreview(preview *Frame, op Operation) (*Frame, error) {
	return c.p.ApplyPreview(preview, op)
}

// ExportImage projects a preview-space operation onto the source and
// writes a JPEG to w.
func (c *Client) ExportImage(img *Image, op Operation, w io.Writer) error {
	return c.p.ProcessImage(img.Source, op, img.Scale, w)
}

// VideoHooks are optional callbacks for ExportVideo.
type VideoHooks struct {
	OnStateChange func(types.State)
	OnProgress    func(done, total int)
}

// ExportVideo projects a preview-space operation onto the source size and
// re-encodes every frame of v into output.
func (c *Client) ExportVideo(ctx context.Context, v *Video, op Operation, output string, hooks VideoHooks) (*VideoResult, error) {
	sourceOp, err := c.p.Scaler().ScaleOperation(op, v.Scale)
	if err != nil {
		return nil, err
	}
	return c.p.ProcessVideo(ctx, processor.VideoJob{
		Input:         v.Path,
		Output:        output,
		Operation:     sourceOp,
		OnStateChange: hooks.OnStateChange,
		OnProgress:    hooks.OnProgress,
	})
}

// Measure returns the box text occupies at size pixels.
func (c *Client) Measure(text string, size int) (int, int, error) {
	return c.p.Metrics().Measure(text, size)
}

// WatermarkBounds returns the largest X and Y a watermark may use on a
// width x height frame.
func (c *Client) WatermarkBounds(width, height int, text string, size int) (int, int, error) {
	return transform.WatermarkBounds(c.p.Metrics(), width, height, text, size)
}

// DefaultWatermark suggests a centered, bottom-aligned watermark.
func (c *Client) DefaultWatermark(width, height int, text string) (Watermark, error) {
	return transform.DefaultWatermark(c.p.Metrics(), width, height, text)
}

// DefaultBlur is the starting blur for kind.
func DefaultBlur(kind types.MediaKind) RadialBlur {
	if kind == types.MediaKindVideo {
		return transform.NewRadialBlur(transform.DefaultVideoBlurKernel, transform.DefaultMaskFraction)
	}
	return transform.NewRadialBlur(transform.DefaultImageBlurKernel, transform.DefaultMaskFraction)
}

// SupportedExtensions lists the accepted extensions for kind, or for every
// kind when kind is empty.
func SupportedExtensions(kind types.MediaKind) []string {
	var exts []string
	for _, f := range format.GetSupportedFormats(kind) {
		exts = append(exts, f.GetExtensions()...)
	}
	return exts
}

// KindOf reports whether path names a still or a video by its extension.
func KindOf(path string) (types.MediaKind, error) {
	f, err := format.ForPath(path)
	if err != nil {
		return "", err
	}
	return f.GetKind(), nil
}

// OutputPath derives an output name next to input, labeled by op.
func OutputPath(input string, op Operation, ext string) string {
	return processor.DefaultOutputPath(input, op, ext)
}

// NewRadialBlur builds a blur, bumping an even kernel to the next odd size.
func NewRadialBlur(kernelRadius int, maskFraction float64) RadialBlur {
	return transform.NewRadialBlur(kernelRadius, maskFraction)
}
