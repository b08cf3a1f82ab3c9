package processor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/internal/transform"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLoadImage(t *testing.T) {
	p := newTestProcessor(t, &fakeDecoder{}, &fakeEncoder{})

	path := filepath.Join(t.TempDir(), "in.PNG")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 30, 20), 0o644))

	f, err := p.LoadImage(context.Background(), path)
	require.NoError(t, err)
	w, h := raster.Size(f)
	assert.Equal(t, [2]int{30, 20}, [2]int{w, h})
	assert.Equal(t, color.RGBA{R: 5, G: 7, B: 90, A: 255}, f.RGBAAt(5, 7))
}

func TestLoadImageErrors(t *testing.T) {
	p := newTestProcessor(t, &fakeDecoder{}, &fakeEncoder{})
	dir := t.TempDir()

	_, err := p.LoadImage(context.Background(), filepath.Join(dir, "notes.txt"))
	assert.True(t, errors.Is(err, types.ErrUnsupportedFormat))

	_, err = p.LoadImage(context.Background(), filepath.Join(dir, "clip.mp4"))
	assert.True(t, errors.Is(err, types.ErrUnsupportedFormat))

	_, err = p.LoadImage(context.Background(), filepath.Join(dir, "missing.png"))
	assert.True(t, errors.Is(err, types.ErrDecodeFailure))

	bad := filepath.Join(dir, "bad.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("not a jpeg"), 0o644))
	_, err = p.LoadImage(context.Background(), bad)
	assert.True(t, errors.Is(err, types.ErrDecodeFailure))
}

func TestLoadImageHEICUsesTranscoder(t *testing.T) {
	tr := &fakeTranscoder{data: pngBytes(t, 16, 12)}
	p := newTestProcessor(t, &fakeDecoder{}, &fakeEncoder{}, WithTranscoder(tr))

	f, err := p.LoadImage(context.Background(), "/photos/IMG_0042.HEIC")
	require.NoError(t, err)
	w, h := raster.Size(f)
	assert.Equal(t, [2]int{16, 12}, [2]int{w, h})
	assert.Equal(t, []string{"png"}, tr.codecs)

	tr.err = errors.Wrap(types.ErrDecodeFailure, "exit status 1")
	_, err = p.LoadImage(context.Background(), "/photos/IMG_0042.HEIC")
	assert.True(t, errors.Is(err, types.ErrDecodeFailure))
}

func TestReadImage(t *testing.T) {
	tr := &fakeTranscoder{data: pngBytes(t, 4, 4)}
	p := newTestProcessor(t, &fakeDecoder{}, &fakeEncoder{}, WithTranscoder(tr))

	f, err := p.ReadImage(context.Background(), bytes.NewReader(pngBytes(t, 9, 3)), "upload.png")
	require.NoError(t, err)
	w, h := raster.Size(f)
	assert.Equal(t, [2]int{9, 3}, [2]int{w, h})

	_, err = p.ReadImage(context.Background(), bytes.NewReader([]byte("heic bytes")), "upload.heic")
	require.NoError(t, err)
	require.Len(t, tr.paths, 1)
	assert.Equal(t, ".heic", filepath.Ext(tr.paths[0]))
	assert.NoFileExists(t, tr.paths[0])
}

func TestExportImage(t *testing.T) {
	p := newTestProcessor(t, &fakeDecoder{}, &fakeEncoder{})
	src := syntheticFrame(0, 40, 30)

	var buf bytes.Buffer
	require.NoError(t, p.ExportImage(src, transform.Operation{transform.Rotate{Degrees: 90}}, &buf))

	img, err := jpeg.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 30, 40), img.Bounds())

	err = p.ExportImage(src, transform.Operation{transform.Rotate{Degrees: 45}}, &buf)
	assert.True(t, errors.Is(err, types.ErrInvalidParameterRange))
}

func TestProcessImageScalesPreviewParameters(t *testing.T) {
	p := newTestProcessor(t, &fakeDecoder{}, &fakeEncoder{})
	src := syntheticFrame(0, 1200, 800)

	preview, sctx, err := p.Preview(src)
	require.NoError(t, err)
	w, h := raster.Size(preview)
	require.Equal(t, [2]int{600, 400}, [2]int{w, h})

	op := transform.Operation{transform.Watermark{Text: "hello", FontSize: 30, Opacity: 255, X: 100, Y: 100}}
	_, err = p.ApplyPreview(preview, op)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, p.ProcessImage(src, op, sctx, &buf))

	img, err := jpeg.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1200, 800), img.Bounds())
}

func TestProcessImageFile(t *testing.T) {
	p := newTestProcessor(t, &fakeDecoder{}, &fakeEncoder{})
	dir := t.TempDir()

	in := filepath.Join(dir, "in.png")
	require.NoError(t, os.WriteFile(in, pngBytes(t, 20, 10), 0o644))

	out, err := p.ProcessImageFile(context.Background(), in, filepath.Join(dir, "out", "result.png"),
		transform.Operation{transform.FlipHorizontal{}})
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestDefaultOutputPath(t *testing.T) {
	op := transform.Operation{transform.Rotate{Degrees: 90}, transform.NewRadialBlur(31, 4)}
	assert.Equal(t, filepath.Join("/in", "My_Clip_rotate_radial-blur.mp4"),
		DefaultOutputPath("/in/My Clip!.mov", op, "mp4"))
	assert.Equal(t, filepath.Join("photos", "a_identity.jpg"),
		DefaultOutputPath("photos/a.png", nil, "jpg"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "hello_world", sanitizeFilename("hello   world"))
	assert.Equal(t, "a-b_c.d", sanitizeFilename("__a-b c.d__"))
}
