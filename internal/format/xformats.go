package format

import (
	"image"
	"io"

	"github.com/ZacxDev/mediaxform/pkg/types"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// Stills decoded by golang.org/x/image.

type WebP struct{}

type BMP struct{}

type TIFF struct{}

func init() {
	Register(&WebP{})
	Register(&BMP{})
	Register(&TIFF{})
}

func (f *WebP) GetName() string          { return "webp" }
func (f *WebP) GetExtensions() []string  { return []string{"webp"} }
func (f *WebP) GetKind() types.MediaKind { return types.MediaKindImage }
func (f *WebP) Decode(r io.Reader) (image.Image, error) {
	return webp.Decode(r)
}

func (f *BMP) GetName() string          { return "bmp" }
func (f *BMP) GetExtensions() []string  { return []string{"bmp"} }
func (f *BMP) GetKind() types.MediaKind { return types.MediaKindImage }
func (f *BMP) Decode(r io.Reader) (image.Image, error) {
	return bmp.Decode(r)
}

func (f *TIFF) GetName() string          { return "tiff" }
func (f *TIFF) GetExtensions() []string  { return []string{"tif", "tiff"} }
func (f *TIFF) GetKind() types.MediaKind { return types.MediaKindImage }
func (f *TIFF) Decode(r io.Reader) (image.Image, error) {
	return tiff.Decode(r)
}
