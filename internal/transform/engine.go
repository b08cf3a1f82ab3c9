package transform

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/internal/textmetrics"
	"github.com/anthonynsimon/bild/convolution"
	"github.com/disintegration/gift"
	"github.com/pkg/errors"
)

// Op applies a compiled transform to a frame of the size it was compiled
// for. Ops hold no mutable state and may be shared across goroutines.
type Op func(src *raster.Frame) (*raster.Frame, error)

// Engine applies transforms. It is stateless apart from the font used for
// watermarks.
type Engine struct {
	metrics *textmetrics.Measurer
}

// NewEngine returns an engine that renders watermarks with m, or with the
// default face when m is nil.
func NewEngine(m *textmetrics.Measurer) *Engine {
	if m == nil {
		m = textmetrics.Default()
	}
	return &Engine{metrics: m}
}

// Metrics returns the measurer used for watermark geometry.
func (e *Engine) Metrics() *textmetrics.Measurer {
	return e.metrics
}

// Apply returns spec applied to src. src is not modified.
func (e *Engine) Apply(src *raster.Frame, spec Spec) (*raster.Frame, error) {
	w, h := raster.Size(src)
	op, err := e.Compile(spec, w, h)
	if err != nil {
		return nil, err
	}
	return op(src)
}

// ApplyOperation applies every step of op in order.
func (e *Engine) ApplyOperation(src *raster.Frame, op Operation) (*raster.Frame, error) {
	w, h := raster.Size(src)
	compiled, err := e.CompileOperation(op, w, h)
	if err != nil {
		return nil, err
	}
	return compiled(src)
}

// Compile validates spec for a width x height frame and prepares everything
// that does not depend on pixel data, so a video can reuse it per frame.
func (e *Engine) Compile(spec Spec, width, height int) (Op, error) {
	if s, ok := spec.(RadialBlur); ok {
		spec = NewRadialBlur(s.KernelRadius, s.MaskFraction)
	}
	if err := Validate(spec, width, height, e.metrics); err != nil {
		return nil, err
	}

	var apply func(*raster.Frame) *raster.Frame
	switch s := spec.(type) {
	case Rotate:
		apply = giftOp(rotationFilter(s.Degrees))
	case FlipHorizontal:
		apply = giftOp(gift.FlipHorizontal())
	case FlipVertical:
		apply = giftOp(gift.FlipVertical())
	case RadialBlur:
		apply = blurOp(s, width, height)
	case Watermark:
		overlay, err := e.renderOverlay(s, width, height)
		if err != nil {
			return nil, err
		}
		apply = func(src *raster.Frame) *raster.Frame {
			return composite(src, overlay)
		}
	default:
		return nil, errors.Errorf("unknown transform %T", spec)
	}

	return func(src *raster.Frame) (*raster.Frame, error) {
		if w, h := raster.Size(src); w != width || h != height {
			return nil, errors.Errorf("%s compiled for %dx%d, got %dx%d", spec, width, height, w, h)
		}
		return apply(src), nil
	}, nil
}

// CompileOperation compiles every step of op, threading frame size through.
func (e *Engine) CompileOperation(op Operation, width, height int) (Op, error) {
	if err := op.Check(); err != nil {
		return nil, err
	}
	steps := make([]Op, 0, len(op))
	for _, spec := range op {
		step, err := e.Compile(spec, width, height)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
		width, height = Bounds(spec, width, height)
	}

	return func(src *raster.Frame) (*raster.Frame, error) {
		if len(steps) == 0 {
			return raster.Clone(src), nil
		}
		cur := src
		for _, step := range steps {
			next, err := step(cur)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		return cur, nil
	}, nil
}

// rotationFilter maps a clockwise angle onto gift's counter-clockwise filters.
func rotationFilter(degrees int) gift.Filter {
	switch degrees {
	case 90:
		return gift.Rotate270()
	case 180:
		return gift.Rotate180()
	default:
		return gift.Rotate90()
	}
}

func giftOp(filter gift.Filter) func(*raster.Frame) *raster.Frame {
	g := gift.New(filter)
	return func(src *raster.Frame) *raster.Frame {
		dst := image.NewRGBA(g.Bounds(src.Bounds()))
		g.Draw(dst, src)
		return dst
	}
}

// MaskRect returns the region RadialBlur affects on a width x height frame,
// clamped to the frame.
func MaskRect(width, height int, fraction float64) image.Rectangle {
	cx, cy := width/2, height/2
	hx := halfExtent(cx, fraction, width)
	hy := halfExtent(cy, fraction, height)
	return image.Rect(
		raster.Clamp(cx-hx, 0, width), raster.Clamp(cy-hy, 0, height),
		raster.Clamp(cx+hx+1, 0, width), raster.Clamp(cy+hy+1, 0, height),
	)
}

func halfExtent(center int, fraction float64, limit int) int {
	return int(math.Min(math.Floor(float64(center)/fraction), float64(limit)))
}

// gaussianKernels returns the horizontal and vertical passes of a normalized
// Gaussian of the given odd size, with sigma derived from the size the same
// way OpenCV does when sigma is left at zero.
func gaussianKernels(size int) (convolution.Matrix, convolution.Matrix) {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	horizontal := convolution.NewKernel(size, 1)
	vertical := convolution.NewKernel(1, size)
	half := size / 2
	for i := 0; i < size; i++ {
		x := float64(i - half)
		v := math.Exp(-(x * x) / (2 * sigma * sigma))
		horizontal.Matrix[i] = v
		vertical.Matrix[i] = v
	}
	return horizontal.Normalized(), vertical.Normalized()
}

func blurOp(s RadialBlur, width, height int) func(*raster.Frame) *raster.Frame {
	mask := MaskRect(width, height, s.MaskFraction)
	horizontal, vertical := gaussianKernels(s.KernelRadius)
	r := s.KernelRadius / 2
	opts := &convolution.Options{KeepAlpha: true}

	return func(src *raster.Frame) *raster.Frame {
		dst := raster.Clone(src)
		if mask.Empty() {
			return dst
		}
		// Blur only the mask plus a kernel-radius apron replicated from the
		// nearest edge pixel, so every kept pixel sees the same neighborhood
		// a full-frame clamped blur would.
		padded := replicatePad(src, mask, r)
		blurred := convolution.Convolve(padded, horizontal, opts)
		blurred = convolution.Convolve(blurred, vertical, opts)
		draw.Draw(dst, mask, blurred, image.Pt(r, r), draw.Src)
		return dst
	}
}

func replicatePad(src *raster.Frame, region image.Rectangle, r int) *image.RGBA {
	w, h := raster.Size(src)
	out := image.NewRGBA(image.Rect(0, 0, region.Dx()+2*r, region.Dy()+2*r))
	for y := 0; y < out.Rect.Dy(); y++ {
		sy := raster.Clamp(region.Min.Y-r+y, 0, h-1)
		row := src.Pix[sy*src.Stride:]
		for x := 0; x < out.Rect.Dx(); x++ {
			sx := raster.Clamp(region.Min.X-r+x, 0, w-1)
			copy(out.Pix[y*out.Stride+x*4:y*out.Stride+x*4+4], row[sx*4:sx*4+4])
		}
	}
	return out
}

func (e *Engine) renderOverlay(s Watermark, width, height int) (*image.RGBA, error) {
	overlay := image.NewRGBA(image.Rect(0, 0, width, height))
	fill := image.NewUniform(color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: uint8(s.Opacity)})
	if err := e.metrics.Draw(overlay, fill, s.Text, s.FontSize, s.X, s.Y); err != nil {
		return nil, err
	}
	return overlay, nil
}

// composite lays overlay over src. src is opaque, so the result is too.
func composite(src *raster.Frame, overlay *image.RGBA) *raster.Frame {
	dst := raster.Clone(src)
	draw.Draw(dst, dst.Bounds(), overlay, image.Point{}, draw.Over)
	return dst
}
