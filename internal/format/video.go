package format

import "github.com/ZacxDev/mediaxform/pkg/types"

// Container is a video family read by ffmpeg.
type Container struct {
	name string
	exts []string
}

func init() {
	Register(&Container{name: "mp4", exts: []string{"mp4", "m4v"}})
	Register(&Container{name: "mov", exts: []string{"mov"}})
	Register(&Container{name: "avi", exts: []string{"avi"}})
}

func (c *Container) GetName() string {
	return c.name
}

func (c *Container) GetExtensions() []string {
	return c.exts
}

func (c *Container) GetKind() types.MediaKind {
	return types.MediaKindVideo
}
