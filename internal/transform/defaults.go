package transform

import (
	"math"

	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/internal/textmetrics"
)

const (
	DefaultImageBlurKernel = 181
	DefaultVideoBlurKernel = 101
	DefaultMaskFraction    = 4.0
	DefaultOpacity         = 100

	minDefaultFontSize = 50
	maxDefaultFontSize = 500
	defaultFontRatio   = 0.07
)

// DefaultWatermark places text the way a fresh editor session does: font
// size 7% of the width, horizontally centered, resting on the bottom edge.
// The size is reduced until the text fits when the frame is too small.
func DefaultWatermark(m *textmetrics.Measurer, width, height int, text string) (Watermark, error) {
	size := int(math.Round(float64(width) * defaultFontRatio))
	if width >= minDefaultFontSize*2 {
		size = raster.Clamp(size, minDefaultFontSize, maxDefaultFontSize)
	}
	size = max(size, 1)

	for {
		maxX, maxY, err := WatermarkBounds(m, width, height, text, size)
		if err == nil {
			return Watermark{
				Text:     text,
				FontSize: size,
				Opacity:  DefaultOpacity,
				X:        maxX / 2,
				Y:        raster.Clamp(height-size, 0, maxY),
			}, nil
		}
		if size == 1 {
			return Watermark{}, err
		}
		size = max(size*3/4, 1)
	}
}
