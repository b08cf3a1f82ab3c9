package processor

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ZacxDev/mediaxform/internal/config"
	"github.com/ZacxDev/mediaxform/internal/format"
	"github.com/ZacxDev/mediaxform/internal/metrics"
	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/internal/scale"
	"github.com/ZacxDev/mediaxform/internal/transform"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// stillFormat resolves name to a still image format.
func stillFormat(name string) (format.Format, error) {
	f, err := format.ForPath(name)
	if err != nil {
		return nil, err
	}
	if f.GetKind() != types.MediaKindImage {
		return nil, errors.Wrapf(types.ErrUnsupportedFormat, "%s is a %s container, not an image", name, f.GetKind())
	}
	return f, nil
}

// LoadImage decodes the still at path into an opaque frame.
func (p *Processor) LoadImage(ctx context.Context, path string) (*raster.Frame, error) {
	f, err := stillFormat(path)
	if err != nil {
		return nil, err
	}

	switch f := f.(type) {
	case format.Decoder:
		file, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(types.ErrDecodeFailure, "opening %s: %v", path, err)
		}
		defer file.Close()
		return decodeFrame(f, file)

	case format.Transcoded:
		inter := f.GetIntermediate()
		data, err := p.stills.Transcode(ctx, path, inter.GetName())
		if err != nil {
			return nil, err
		}
		return decodeFrame(inter, bytes.NewReader(data))

	default:
		return nil, errors.Wrapf(types.ErrUnsupportedFormat, "no decoder for %s", f.GetName())
	}
}

// ReadImage decodes a still from r. name only supplies the extension.
// Formats that need the transcoder are spooled to a scoped temp file.
func (p *Processor) ReadImage(ctx context.Context, r io.Reader, name string) (*raster.Frame, error) {
	f, err := stillFormat(name)
	if err != nil {
		return nil, err
	}
	if d, ok := f.(format.Decoder); ok {
		return decodeFrame(d, r)
	}

	path, err := p.spool(r, name)
	if err != nil {
		return nil, err
	}
	defer p.removeTemp(p.log, path)
	return p.LoadImage(ctx, path)
}

func decodeFrame(d format.Decoder, r io.Reader) (*raster.Frame, error) {
	img, err := format.DecodeImage(d, r)
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, errors.Wrap(types.ErrDecodeFailure, "image has no pixels")
	}
	return raster.FromImage(img), nil
}

// Preview downsamples src to the configured preview size.
func (p *Processor) Preview(src *raster.Frame) (*raster.Frame, scale.Context, error) {
	return scale.MakePreview(src, p.opts.PreviewSize)
}

// ApplyPreview renders op on a preview frame for interactive tuning.
func (p *Processor) ApplyPreview(preview *raster.Frame, op transform.Operation) (*raster.Frame, error) {
	return p.engine.ApplyOperation(preview, op)
}

// ExportImage applies a source-space operation to src and writes a JPEG.
func (p *Processor) ExportImage(src *raster.Frame, op transform.Operation, w io.Writer) (err error) {
	defer func() { metrics.JobFinished(types.MediaKindImage, err) }()

	start := time.Now()
	out, err := p.engine.ApplyOperation(src, op)
	if err != nil {
		return err
	}
	metrics.ObserveFrame(operationLabel(op), time.Since(start))

	if err := jpeg.Encode(w, out, &jpeg.Options{Quality: p.opts.JpegQuality}); err != nil {
		return errors.Wrap(err, "encoding jpeg")
	}

	width, height := raster.Size(out)
	p.log.WithFields(logrus.Fields{
		"operation": op.String(),
		"size":      [2]int{width, height},
		"elapsed":   time.Since(start).String(),
	}).Debug("Exported image")
	return nil
}

// ProcessImage projects an operation tuned on the preview described by
// sctx onto src and exports the result.
func (p *Processor) ProcessImage(src *raster.Frame, previewOp transform.Operation, sctx scale.Context, w io.Writer) error {
	op, err := p.scaler.ScaleOperation(previewOp, sctx)
	if err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{
		"preview": previewOp.String(),
		"source":  op.String(),
		"factor":  sctx.Factor,
	}).Debug("Scaled operation")
	return p.ExportImage(src, op, w)
}

// ProcessImageFile decodes input, applies a source-space operation and
// writes the JPEG to output.
func (p *Processor) ProcessImageFile(ctx context.Context, input, output string, op transform.Operation) (string, error) {
	src, err := p.LoadImage(ctx, input)
	if err != nil {
		return "", err
	}

	output, err = ensureOutputPath(output, "jpg")
	if err != nil {
		return "", err
	}
	file, err := os.Create(output)
	if err != nil {
		return "", errors.Wrapf(err, "creating %s", output)
	}

	if err := p.ExportImage(src, op, file); err != nil {
		file.Close()
		p.removeTemp(p.log, output)
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", errors.Wrapf(err, "closing %s", output)
	}
	return output, nil
}

// spool copies r into a scoped temp file carrying name's extension.
func (p *Processor) spool(r io.Reader, name string) (string, error) {
	file, err := os.CreateTemp(p.opts.TempDir, config.TempDirPrefix+"input_*"+filepath.Ext(name))
	if err != nil {
		return "", errors.Wrap(err, "creating temp input")
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		p.removeTemp(p.log, file.Name())
		return "", errors.Wrapf(types.ErrDecodeFailure, "reading input: %v", err)
	}
	if err := file.Close(); err != nil {
		p.removeTemp(p.log, file.Name())
		return "", errors.Wrap(err, "closing temp input")
	}
	return file.Name(), nil
}
