// Package format is the registry of input containers the tool accepts.
package format

import (
	"image"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
)

// Format describes one input container family
type Format interface {
	// GetName returns the family name
	GetName() string

	// GetExtensions returns the lower-case file extensions, without dots
	GetExtensions() []string

	// GetKind reports whether the family holds stills or video
	GetKind() types.MediaKind
}

// Decoder is implemented by still formats Go can decode in-process.
type Decoder interface {
	Format
	Decode(r io.Reader) (image.Image, error)
}

// Transcoded is implemented by still formats that must go through the
// external transcoder first. GetIntermediate names the container it emits.
type Transcoded interface {
	Format
	GetIntermediate() Decoder
}

var (
	formats    = make(map[string]Format)
	extensions = make(map[string]Format)
)

// Register adds a format to the registry
func Register(f Format) {
	formats[f.GetName()] = f
	for _, ext := range f.GetExtensions() {
		extensions[ext] = f
	}
}

// Get returns a format by name
func Get(name string) (Format, error) {
	f, ok := formats[name]
	if !ok {
		return nil, errors.Wrapf(types.ErrUnsupportedFormat, "format %q", name)
	}
	return f, nil
}

// ForPath returns the format owning path's extension.
func ForPath(path string) (Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return nil, errors.Wrapf(types.ErrUnsupportedFormat, "%s has no extension", path)
	}
	f, ok := extensions[ext]
	if !ok {
		return nil, errors.Wrapf(types.ErrUnsupportedFormat, "extension %q", ext)
	}
	return f, nil
}

// GetSupportedFormats returns the registered formats of kind, sorted by
// name. An empty kind returns all of them.
func GetSupportedFormats(kind types.MediaKind) []Format {
	out := make([]Format, 0, len(formats))
	for _, f := range formats {
		if kind == "" || f.GetKind() == kind {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// DecodeImage decodes r with f, wrapping failures as decode failures.
func DecodeImage(f Decoder, r io.Reader) (image.Image, error) {
	img, err := f.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(types.ErrDecodeFailure, "%s: %v", f.GetName(), err)
	}
	return img, nil
}
