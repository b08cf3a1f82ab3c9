// Package raster holds the frame representation shared by every stage: an
// opaque *image.RGBA anchored at the origin.
package raster

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/exp/constraints"
)

// Frame is the pixel buffer passed between stages. Stages never mutate a
// frame they did not allocate.
type Frame = image.RGBA

// New allocates an opaque black frame.
func New(width, height int) *Frame {
	f := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 3; i < len(f.Pix); i += 4 {
		f.Pix[i] = 0xff
	}
	return f
}

// FromImage copies img into a new origin-anchored frame and drops its alpha
// channel, keeping the straight (non-premultiplied) color of each pixel.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	if !dst.Opaque() {
		Flatten(dst)
	}
	return dst
}

// Flatten forces every pixel of f to full opacity in place, un-premultiplying
// translucent pixels first.
func Flatten(f *Frame) {
	for i := 0; i+3 < len(f.Pix); i += 4 {
		a := f.Pix[i+3]
		switch a {
		case 0xff:
			continue
		case 0:
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = 0, 0, 0
		default:
			c := color.NRGBAModel.Convert(color.RGBA{
				R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: a,
			}).(color.NRGBA)
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
		}
		f.Pix[i+3] = 0xff
	}
}

// Clone returns a deep copy of f.
func Clone(f *Frame) *Frame {
	dst := image.NewRGBA(f.Rect)
	copy(dst.Pix, f.Pix)
	return dst
}

// Equal reports whether a and b have the same dimensions and pixels.
func Equal(a, b *Frame) bool {
	if a.Rect.Dx() != b.Rect.Dx() || a.Rect.Dy() != b.Rect.Dy() {
		return false
	}
	for y := 0; y < a.Rect.Dy(); y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+a.Rect.Dx()*4]
		rb := b.Pix[y*b.Stride : y*b.Stride+b.Rect.Dx()*4]
		for i := range ra {
			if ra[i] != rb[i] {
				return false
			}
		}
	}
	return true
}

// Size returns the width and height of f.
func Size(f *Frame) (int, int) {
	return f.Rect.Dx(), f.Rect.Dy()
}

// LongestSide returns max(width, height).
func LongestSide(width, height int) int {
	return max(width, height)
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RGB24 writes the frame as packed 8-bit RGB triplets into dst, which must
// hold width*height*3 bytes.
func RGB24(f *Frame, dst []byte) {
	w, h := Size(f)
	j := 0
	for y := 0; y < h; y++ {
		row := f.Pix[y*f.Stride : y*f.Stride+w*4]
		for i := 0; i < len(row); i += 4 {
			dst[j], dst[j+1], dst[j+2] = row[i], row[i+1], row[i+2]
			j += 3
		}
	}
}

// FromRGB24 builds an opaque frame from packed 8-bit RGB triplets.
func FromRGB24(src []byte, width, height int) *Frame {
	f := image.NewRGBA(image.Rect(0, 0, width, height))
	j := 0
	for i := 0; i < len(f.Pix); i += 4 {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3] = src[j], src[j+1], src[j+2], 0xff
		j += 3
	}
	return f
}
