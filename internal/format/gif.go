package format

import (
	"image"
	"image/gif"
	"io"

	"github.com/ZacxDev/mediaxform/pkg/types"
)

// GIF decodes the first frame only; animated GIFs are treated as stills.
type GIF struct{}

func init() {
	Register(&GIF{})
}

func (f *GIF) GetName() string {
	return "gif"
}

func (f *GIF) GetExtensions() []string {
	return []string{"gif"}
}

func (f *GIF) GetKind() types.MediaKind {
	return types.MediaKindImage
}

func (f *GIF) Decode(r io.Reader) (image.Image, error) {
	return gif.Decode(r)
}
