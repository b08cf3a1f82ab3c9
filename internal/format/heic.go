package format

import "github.com/ZacxDev/mediaxform/pkg/types"

// HEIC is the camera-native still format. ffmpeg transcodes it to PNG
// before decoding.
type HEIC struct{}

func init() {
	Register(&HEIC{})
}

func (f *HEIC) GetName() string {
	return "heic"
}

func (f *HEIC) GetExtensions() []string {
	return []string{"heic", "heif"}
}

func (f *HEIC) GetKind() types.MediaKind {
	return types.MediaKindImage
}

func (f *HEIC) GetIntermediate() Decoder {
	return &PNG{}
}
