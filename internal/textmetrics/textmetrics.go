// Package textmetrics measures and draws single-line watermark text.
//
// Measure and Draw share one face construction and one box: the union of
// the pen's advance box (advance x ascent+descent) and the glyph outlines'
// ink bounds. Draw shifts the pen so that box's top-left lands on (x, y),
// which keeps overhanging glyphs such as "j", "f" or accented capitals
// inside the measured rectangle.
package textmetrics

import (
	"image"
	"image/draw"
	"os"
	"sync"

	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Measurer owns a parsed font. It is safe for concurrent use; each call
// builds its own face.
type Measurer struct {
	font *opentype.Font
}

var (
	defaultOnce     sync.Once
	defaultMeasurer *Measurer
	defaultErr      error
)

// Default returns a Measurer for the embedded Go Regular face.
func Default() *Measurer {
	defaultOnce.Do(func() {
		defaultMeasurer, defaultErr = New(goregular.TTF)
	})
	if defaultErr != nil {
		// goregular is compiled in; failing to parse it is a build defect.
		panic(defaultErr)
	}
	return defaultMeasurer
}

// New parses a TrueType or OpenType font.
func New(data []byte) (*Measurer, error) {
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse font")
	}
	return &Measurer{font: f}, nil
}

// Load reads a font file from disk, or returns Default when path is empty.
func Load(path string) (*Measurer, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read font %s", path)
	}
	return New(data)
}

func (m *Measurer) face(size int) (font.Face, error) {
	if size <= 0 {
		return nil, errors.Wrapf(types.ErrInvalidParameterRange, "font size %d must be positive", size)
	}
	face, err := opentype.NewFace(m.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build face at size %d", size)
	}
	return face, nil
}

// Measure returns the pixel box text occupies at size. Empty text measures 0x0.
func (m *Measurer) Measure(text string, size int) (width, height int, err error) {
	face, err := m.face(size)
	if err != nil {
		return 0, 0, err
	}
	defer face.Close()

	if text == "" {
		return 0, 0, nil
	}
	b := box(face, text)
	return (b.Max.X - b.Min.X).Ceil(), (b.Max.Y - b.Min.Y).Ceil(), nil
}

// Draw renders text with its box's top-left corner at (x, y) using src as
// the fill, compositing with draw.Over.
func (m *Measurer) Draw(dst draw.Image, src image.Image, text string, size, x, y int) error {
	face, err := m.face(size)
	if err != nil {
		return err
	}
	defer face.Close()

	if text == "" {
		return nil
	}
	b := box(face, text)
	d := &font.Drawer{
		Dst:  dst,
		Src:  src,
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x) - b.Min.X, Y: fixed.I(y) - b.Min.Y},
	}
	d.DrawString(text)
	return nil
}

// box is relative to a pen at the origin.
func box(face font.Face, text string) fixed.Rectangle26_6 {
	metrics := face.Metrics()
	ink, advance := font.BoundString(face, text)
	return fixed.Rectangle26_6{
		Min: fixed.Point26_6{X: min(0, ink.Min.X), Y: min(-metrics.Ascent, ink.Min.Y)},
		Max: fixed.Point26_6{X: max(advance, ink.Max.X), Y: max(metrics.Descent, ink.Max.Y)},
	}
}
