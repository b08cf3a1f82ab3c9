// Package transform defines the transform variants and the engine that
// applies them to frames.
package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/ZacxDev/mediaxform/internal/textmetrics"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
)

// Spec is one immutable transform. The concrete types below are the only
// implementations; dispatch over them is a type switch.
type Spec interface {
	Kind() types.TransformKind
	String() string
	isSpec()
}

// Rotate turns the frame clockwise by Degrees (90, 180 or 270).
type Rotate struct {
	Degrees int
}

type FlipHorizontal struct{}

type FlipVertical struct{}

// RadialBlur blurs the centered rectangle whose half extents are
// floor(center/MaskFraction) on each axis. KernelRadius is the Gaussian
// kernel size in pixels and is kept odd.
type RadialBlur struct {
	KernelRadius int
	MaskFraction float64
}

// Watermark draws Text in white at alpha Opacity with the text box's
// top-left corner at (X, Y).
type Watermark struct {
	Text     string
	FontSize int
	Opacity  int
	X        int
	Y        int
}

func (Rotate) Kind() types.TransformKind         { return types.TransformKindRotate }
func (FlipHorizontal) Kind() types.TransformKind { return types.TransformKindFlipHorizontal }
func (FlipVertical) Kind() types.TransformKind   { return types.TransformKindFlipVertical }
func (RadialBlur) Kind() types.TransformKind     { return types.TransformKindRadialBlur }
func (Watermark) Kind() types.TransformKind      { return types.TransformKindWatermark }

func (Rotate) isSpec()         {}
func (FlipHorizontal) isSpec() {}
func (FlipVertical) isSpec()   {}
func (RadialBlur) isSpec()     {}
func (Watermark) isSpec()      {}

func (r Rotate) String() string       { return fmt.Sprintf("rotate(%d)", r.Degrees) }
func (FlipHorizontal) String() string { return "flip-horizontal" }
func (FlipVertical) String() string   { return "flip-vertical" }
func (b RadialBlur) String() string {
	return fmt.Sprintf("radial-blur(kernel=%d, fraction=%g)", b.KernelRadius, b.MaskFraction)
}
func (w Watermark) String() string {
	return fmt.Sprintf("watermark(%q, size=%d, opacity=%d, at=%d,%d)", w.Text, w.FontSize, w.Opacity, w.X, w.Y)
}

// NewRadialBlur builds a RadialBlur with an odd kernel size.
func NewRadialBlur(kernelRadius int, maskFraction float64) RadialBlur {
	return RadialBlur{KernelRadius: OddKernel(kernelRadius), MaskFraction: maskFraction}
}

// OddKernel bumps an even kernel size to the next odd value.
func OddKernel(k int) int {
	if k%2 == 0 {
		return k + 1
	}
	return k
}

// Bounds returns the frame size spec produces from a width x height input.
func Bounds(spec Spec, width, height int) (int, int) {
	if r, ok := spec.(Rotate); ok && (r.Degrees == 90 || r.Degrees == 270) {
		return height, width
	}
	return width, height
}

// Geometric reports whether spec only moves pixels.
func Geometric(spec Spec) bool {
	switch spec.(type) {
	case Rotate, FlipHorizontal, FlipVertical:
		return true
	default:
		return false
	}
}

// Validate checks spec against a width x height frame. Watermark placement
// is measured with m.
func Validate(spec Spec, width, height int, m *textmetrics.Measurer) error {
	if width <= 0 || height <= 0 {
		return errors.Wrapf(types.ErrInvalidParameterRange, "empty frame %dx%d", width, height)
	}

	switch s := spec.(type) {
	case Rotate:
		switch s.Degrees {
		case 90, 180, 270:
			return nil
		}
		return errors.Wrapf(types.ErrInvalidParameterRange, "rotation %d not in {90,180,270}", s.Degrees)

	case FlipHorizontal, FlipVertical:
		return nil

	case RadialBlur:
		if s.KernelRadius < 1 || s.KernelRadius%2 == 0 {
			return errors.Wrapf(types.ErrInvalidParameterRange, "blur kernel %d must be odd and positive", s.KernelRadius)
		}
		if !(s.MaskFraction > 0) || math.IsInf(s.MaskFraction, 0) {
			return errors.Wrapf(types.ErrInvalidParameterRange, "blur mask fraction %g must be positive", s.MaskFraction)
		}
		return nil

	case Watermark:
		if s.Opacity < 0 || s.Opacity > 255 {
			return errors.Wrapf(types.ErrInvalidParameterRange, "watermark opacity %d not in [0,255]", s.Opacity)
		}
		maxX, maxY, err := WatermarkBounds(m, width, height, s.Text, s.FontSize)
		if err != nil {
			return err
		}
		if s.X < 0 || s.X > maxX || s.Y < 0 || s.Y > maxY {
			return errors.Wrapf(types.ErrInvalidParameterRange,
				"watermark at (%d,%d) outside [0,%d]x[0,%d]", s.X, s.Y, maxX, maxY)
		}
		return nil

	case nil:
		return errors.Wrap(types.ErrInvalidParameterRange, "nil transform")

	default:
		return errors.Errorf("unknown transform %T", spec)
	}
}

// WatermarkBounds returns the largest valid X and Y for text at fontSize on a
// width x height frame. These are the slider limits a caller should offer.
func WatermarkBounds(m *textmetrics.Measurer, width, height int, text string, fontSize int) (maxX, maxY int, err error) {
	tw, th, err := m.Measure(text, fontSize)
	if err != nil {
		return 0, 0, err
	}
	maxX, maxY = width-tw, height-th
	if maxX < 0 || maxY < 0 {
		return 0, 0, errors.Wrapf(types.ErrInvalidParameterRange,
			"text %dx%d at size %d does not fit %dx%d", tw, th, fontSize, width, height)
	}
	return maxX, maxY, nil
}

// Operation is an ordered list of transforms applied as one step: at most
// one geometric transform, followed by at most one effect.
type Operation []Spec

// Check enforces the shape of an Operation.
func (op Operation) Check() error {
	var geometric, effects int
	for i, s := range op {
		if s == nil {
			return errors.Wrapf(types.ErrInvalidParameterRange, "transform %d is nil", i)
		}
		if Geometric(s) {
			if effects > 0 {
				return errors.Wrapf(types.ErrInvalidParameterRange, "%s must precede effects", s)
			}
			geometric++
		} else {
			effects++
		}
	}
	if geometric > 1 || effects > 1 {
		return errors.Wrapf(types.ErrInvalidParameterRange,
			"operation allows one geometric transform and one effect, got %d and %d", geometric, effects)
	}
	return nil
}

// Bounds returns the output size of the whole operation.
func (op Operation) Bounds(width, height int) (int, int) {
	for _, s := range op {
		width, height = Bounds(s, width, height)
	}
	return width, height
}

func (op Operation) String() string {
	if len(op) == 0 {
		return "identity"
	}
	parts := make([]string, len(op))
	for i, s := range op {
		parts[i] = s.String()
	}
	return strings.Join(parts, " -> ")
}
