package format

import (
	"image"
	"image/png"
	"io"

	"github.com/ZacxDev/mediaxform/pkg/types"
)

type PNG struct{}

func init() {
	Register(&PNG{})
}

func (f *PNG) GetName() string {
	return "png"
}

func (f *PNG) GetExtensions() []string {
	return []string{"png"}
}

func (f *PNG) GetKind() types.MediaKind {
	return types.MediaKindImage
}

func (f *PNG) Decode(r io.Reader) (image.Image, error) {
	return png.Decode(r)
}
