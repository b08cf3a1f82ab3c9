package format

import (
	"image"
	"image/jpeg"
	"io"

	"github.com/ZacxDev/mediaxform/pkg/types"
)

type JPEG struct{}

func init() {
	Register(&JPEG{})
}

func (f *JPEG) GetName() string {
	return "jpeg"
}

func (f *JPEG) GetExtensions() []string {
	return []string{"jpg", "jpeg"}
}

func (f *JPEG) GetKind() types.MediaKind {
	return types.MediaKindImage
}

func (f *JPEG) Decode(r io.Reader) (image.Image, error) {
	return jpeg.Decode(r)
}
