// Package scale builds previews and projects parameters tuned on a preview
// back onto the full-resolution source.
package scale

import (
	"math"

	"github.com/ZacxDev/mediaxform/internal/logging"
	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/internal/textmetrics"
	"github.com/ZacxDev/mediaxform/internal/transform"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// DefaultPreviewSide is the longest side of an interactive preview.
const DefaultPreviewSide = 600

// Context relates a preview to its source. It is created once per asset
// and never changes.
type Context struct {
	PreviewWidth  int
	PreviewHeight int
	SourceWidth   int
	SourceHeight  int
	Factor        int
}

// NewContext derives the scale factor between a preview and its source.
func NewContext(previewWidth, previewHeight, sourceWidth, sourceHeight int) (Context, error) {
	if previewWidth <= 0 || previewHeight <= 0 || sourceWidth <= 0 || sourceHeight <= 0 {
		return Context{}, errors.Wrapf(types.ErrInvalidParameterRange,
			"preview %dx%d or source %dx%d is empty", previewWidth, previewHeight, sourceWidth, sourceHeight)
	}
	return Context{
		PreviewWidth:  previewWidth,
		PreviewHeight: previewHeight,
		SourceWidth:   sourceWidth,
		SourceHeight:  sourceHeight,
		Factor: Factor(
			raster.LongestSide(previewWidth, previewHeight),
			raster.LongestSide(sourceWidth, sourceHeight),
		),
	}, nil
}

// Factor is ceil(source/preview), never below 1.
func Factor(previewLongestSide, sourceLongestSide int) int {
	if previewLongestSide <= 0 {
		return 1
	}
	f := (sourceLongestSide + previewLongestSide - 1) / previewLongestSide
	return max(f, 1)
}

func (c Context) PreviewLongestSide() int { return raster.LongestSide(c.PreviewWidth, c.PreviewHeight) }
func (c Context) SourceLongestSide() int  { return raster.LongestSide(c.SourceWidth, c.SourceHeight) }

// Rotated returns the context as seen after a geometric transform: the
// dimensions follow the transform and the factor stays put.
func (c Context) Rotated(spec transform.Spec) Context {
	c.PreviewWidth, c.PreviewHeight = transform.Bounds(spec, c.PreviewWidth, c.PreviewHeight)
	c.SourceWidth, c.SourceHeight = transform.Bounds(spec, c.SourceWidth, c.SourceHeight)
	return c
}

// PreviewSize returns the dimensions of a preview of a width x height
// source whose longest side is at most maxSide.
func PreviewSize(width, height, maxSide int) (int, int) {
	longest := raster.LongestSide(width, height)
	if maxSide <= 0 || longest <= maxSide {
		return width, height
	}
	ratio := float64(maxSide) / float64(longest)
	if width >= height {
		return maxSide, max(int(math.Round(float64(height)*ratio)), 1)
	}
	return max(int(math.Round(float64(width)*ratio)), 1), maxSide
}

// MakePreview downsamples src so its longest side is at most maxSide. A
// source already small enough is copied unchanged. src is not modified.
func MakePreview(src *raster.Frame, maxSide int) (*raster.Frame, Context, error) {
	w, h := raster.Size(src)
	pw, ph := PreviewSize(w, h, maxSide)

	ctx, err := NewContext(pw, ph, w, h)
	if err != nil {
		return nil, Context{}, err
	}
	if pw == w && ph == h {
		return raster.Clone(src), ctx, nil
	}

	dst := raster.New(pw, ph)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, ctx, nil
}

// Scaler maps preview-space transforms into source space.
type Scaler struct {
	metrics *textmetrics.Measurer
	log     logrus.FieldLogger
}

// NewScaler returns a Scaler measuring text with m. A nil m uses the
// default face and a nil log discards.
func NewScaler(m *textmetrics.Measurer, log logrus.FieldLogger) *Scaler {
	if m == nil {
		m = textmetrics.Default()
	}
	return &Scaler{metrics: m, log: logging.OrDiscard(log)}
}

// Scale returns the source-space equivalent of spec, tuned against the
// preview described by ctx.
//
// A watermark's position is projected by its fraction of the frame while
// its font size is multiplied by the integer factor. When the factor rounds
// up, text placed near the right or bottom edge of the preview can overhang
// the source; the position is then moved back inside the frame and a
// warning is logged.
func (s *Scaler) Scale(spec transform.Spec, ctx Context) (transform.Spec, error) {
	switch v := spec.(type) {
	case transform.Rotate, transform.FlipHorizontal, transform.FlipVertical:
		if err := transform.Validate(v, ctx.PreviewWidth, ctx.PreviewHeight, s.metrics); err != nil {
			return nil, err
		}
		return v, nil

	case transform.RadialBlur:
		v = transform.NewRadialBlur(v.KernelRadius, v.MaskFraction)
		if err := transform.Validate(v, ctx.PreviewWidth, ctx.PreviewHeight, s.metrics); err != nil {
			return nil, errors.WithMessage(err, "preview blur")
		}
		k := int(math.Round(float64(v.KernelRadius) * float64(ctx.Factor)))
		return transform.NewRadialBlur(k, v.MaskFraction), nil

	case transform.Watermark:
		return s.scaleWatermark(v, ctx)

	case nil:
		return nil, errors.Wrap(types.ErrInvalidParameterRange, "nil transform")

	default:
		return nil, errors.Errorf("unknown transform %T", spec)
	}
}

// ScaleOperation scales each step of op, following geometric steps so that
// later steps see the rotated frame.
func (s *Scaler) ScaleOperation(op transform.Operation, ctx Context) (transform.Operation, error) {
	if err := op.Check(); err != nil {
		return nil, err
	}
	out := make(transform.Operation, 0, len(op))
	for _, spec := range op {
		scaled, err := s.Scale(spec, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, scaled)
		ctx = ctx.Rotated(spec)
	}
	return out, nil
}

// scaleWatermark projects the position through relative coordinates. The
// font grows by the integer factor while the frame grows by the exact
// ratio, so the projected box may overhang the source edge; it is pulled
// back inside.
func (s *Scaler) scaleWatermark(w transform.Watermark, ctx Context) (transform.Watermark, error) {
	if err := transform.Validate(w, ctx.PreviewWidth, ctx.PreviewHeight, s.metrics); err != nil {
		return transform.Watermark{}, errors.WithMessage(err, "preview watermark")
	}

	out := w
	out.FontSize = w.FontSize * ctx.Factor
	out.X = relative(w.X, ctx.PreviewWidth, ctx.SourceWidth)
	out.Y = relative(w.Y, ctx.PreviewHeight, ctx.SourceHeight)

	maxX, maxY, err := transform.WatermarkBounds(s.metrics, ctx.SourceWidth, ctx.SourceHeight, out.Text, out.FontSize)
	if err != nil {
		return transform.Watermark{}, err
	}
	x, y := raster.Clamp(out.X, 0, maxX), raster.Clamp(out.Y, 0, maxY)
	if x != out.X || y != out.Y {
		s.log.WithFields(logrus.Fields{
			"from": [2]int{out.X, out.Y},
			"to":   [2]int{x, y},
		}).Warn("Watermark moved inside source frame")
	}
	out.X, out.Y = x, y
	return out, nil
}

func relative(v, from, to int) int {
	return int(math.Round(float64(v) / float64(from) * float64(to)))
}
