package main

import (
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ZacxDev/mediaxform/internal/config"
	"github.com/ZacxDev/mediaxform/internal/logging"
	"github.com/ZacxDev/mediaxform/internal/metrics"
	"github.com/ZacxDev/mediaxform/pkg/mediaxform"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	opts   = config.Defaults()
	log    = logging.Discard()
	client *mediaxform.Client

	inputPath  string
	outputPath string
	xf         transformFlags

	rootCmd = &cobra.Command{
		Use:   "mediaxform",
		Short: "Rotate, flip, blur and watermark images and videos",
		Long: `mediaxform applies one geometric transform and one effect to a still image or a video.
Parameters are given against the preview (longest side 600px by default) and are projected
onto the full-resolution source when exporting.

Examples:
  # Preview a watermark before committing to it
  mediaxform preview -i photo.heic --watermark "@studio"

  # Rotate a phone photo and blur its center
  mediaxform image -i photo.jpg -o out.jpg --rotate 90 --blur

  # Flip a clip and stamp it
  mediaxform video -i clip.mov -o clip_out.mp4 --flip horizontal --watermark "@studio" --watermark-x 20`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadConfig(&opts, cmd); err != nil {
				return err
			}
			log = logging.New(os.Stderr, opts.Verbose, opts.LogFormat)

			c, err := mediaxform.New(opts, log)
			if err != nil {
				return err
			}
			client = c
			return nil
		},
	}

	previewCmd = &cobra.Command{
		Use:   "preview",
		Short: "Render the transform on the downsampled preview",
		Long: `Render the transform on the preview of an image, or of a video's first frame, and
write it as a JPEG. Use this to settle on parameters before running image or video.

Example:
  mediaxform preview -i clip.mov -o preview.jpg --blur --blur-kernel 61`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := mediaxform.KindOf(inputPath)
			if err != nil {
				return err
			}

			var preview *mediaxform.Frame
			if kind == types.MediaKindVideo {
				v, err := client.OpenVideo(cmd.Context(), inputPath)
				if err != nil {
					return err
				}
				preview = v.Preview
			} else {
				img, err := client.OpenImageFile(cmd.Context(), inputPath)
				if err != nil {
					return err
				}
				preview = img.Preview
			}

			op, err := xf.operation(kind, preview.Rect.Dx(), preview.Rect.Dy())
			if err != nil {
				return err
			}
			rendered, err := client.RenderPreview(preview, op)
			if err != nil {
				return err
			}

			output := outputPath
			if output == "" {
				output = mediaxform.OutputPath(inputPath, op, "preview.jpg")
			}
			err = writeFile(output, func(w io.Writer) error {
				return jpeg.Encode(w, rendered, &jpeg.Options{Quality: opts.JpegQuality})
			})
			if err != nil {
				return err
			}

			log.WithFields(logrus.Fields{
				"output":    output,
				"operation": op.String(),
				"size":      fmt.Sprintf("%dx%d", rendered.Rect.Dx(), rendered.Rect.Dy()),
			}).Info("Preview written")
			return nil
		},
	}

	imageCmd = &cobra.Command{
		Use:   "image",
		Short: "Transform a still image at full resolution",
		Long: fmt.Sprintf(`Apply the transform to the full-resolution image and write a JPEG.

Supported inputs: %s

Example:
  mediaxform image -i photo.png -o photo_out.jpg --watermark "@studio" --watermark-size 40`,
			strings.Join(mediaxform.SupportedExtensions(types.MediaKindImage), ", ")),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := client.OpenImageFile(cmd.Context(), inputPath)
			if err != nil {
				return err
			}

			op, err := xf.operation(types.MediaKindImage, img.Preview.Rect.Dx(), img.Preview.Rect.Dy())
			if err != nil {
				return err
			}

			output := outputPath
			if output == "" {
				output = mediaxform.OutputPath(inputPath, op, "jpg")
			}
			if err := writeFile(output, func(w io.Writer) error {
				return client.ExportImage(img, op, w)
			}); err != nil {
				return err
			}

			log.WithFields(logrus.Fields{
				"output":    output,
				"operation": op.String(),
				"factor":    img.Scale.Factor,
			}).Info("Image exported")
			return nil
		},
	}

	videoCmd = &cobra.Command{
		Use:   "video",
		Short: "Transform every frame of a video and re-encode it",
		Long: fmt.Sprintf(`Apply the transform to every frame of the video and encode the result as H.264 MP4.
Audio is dropped. Interrupting the command removes the partial output.

Supported inputs: %s

Example:
  mediaxform video -i clip.mov -o clip_out.mp4 --rotate 180 --workers 4`,
			strings.Join(mediaxform.SupportedExtensions(types.MediaKindVideo), ", ")),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := client.OpenVideo(cmd.Context(), inputPath)
			if err != nil {
				return err
			}

			op, err := xf.operation(types.MediaKindVideo, v.Preview.Rect.Dx(), v.Preview.Rect.Dy())
			if err != nil {
				return err
			}

			output := outputPath
			if output == "" {
				output = mediaxform.OutputPath(inputPath, op, "mp4")
			}

			res, err := client.ExportVideo(cmd.Context(), v, op, output, mediaxform.VideoHooks{
				OnStateChange: func(s types.State) {
					log.WithField("state", s).Debug("Video state changed")
				},
				OnProgress: func(done, total int) {
					if done%100 == 0 {
						log.WithFields(logrus.Fields{"done": done, "total": total}).Info("Encoding progress")
					}
				},
			})
			if err != nil {
				return err
			}

			log.WithFields(logrus.Fields{
				"job_id": res.JobID,
				"output": res.Output,
				"frames": res.Frames,
				"size":   fmt.Sprintf("%dx%d", res.Width, res.Height),
			}).Info("Video exported")
			return nil
		},
	}

	measureCmd = &cobra.Command{
		Use:   "measure TEXT",
		Short: "Print the box a watermark text occupies",
		Long: `Print the width and height of TEXT at the given font size. With --width and --height,
also print the largest watermark position that keeps the text inside that frame.

Example:
  mediaxform measure "@studio" --size 42 --width 600 --height 400`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, _ := cmd.Flags().GetInt("size")
			width, _ := cmd.Flags().GetInt("width")
			height, _ := cmd.Flags().GetInt("height")

			tw, th, err := client.Measure(args[0], size)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "text: %dx%d\n", tw, th)

			if width > 0 && height > 0 {
				maxX, maxY, err := client.WatermarkBounds(width, height, args[0], size)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "x: 0..%d\ny: 0..%d\n", maxX, maxY)
			}
			return nil
		},
	}

	formatsCmd = &cobra.Command{
		Use:   "formats",
		Short: "List the supported input extensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, kind := range []types.MediaKind{types.MediaKindImage, types.MediaKindVideo} {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", kind,
					strings.Join(mediaxform.SupportedExtensions(kind), ", "))
			}
			return nil
		},
	}
)

// transformFlags collects the transform options shared by preview, image
// and video. Values are in preview space.
type transformFlags struct {
	rotate       int
	flip         string
	blur         bool
	blurKernel   int
	blurFraction float64
	watermark    string
	fontSize     int
	opacity      int
	x, y         int
}

// operation assembles the flags into an operation against a width x height
// preview. Unset watermark fields fall back to the default placement.
func (f transformFlags) operation(kind types.MediaKind, width, height int) (mediaxform.Operation, error) {
	var op mediaxform.Operation
	if f.rotate != 0 {
		op = append(op, mediaxform.Rotate{Degrees: f.rotate})
	}
	switch strings.ToLower(f.flip) {
	case "":
	case "h", "horizontal":
		op = append(op, mediaxform.FlipHorizontal{})
	case "v", "vertical":
		op = append(op, mediaxform.FlipVertical{})
	default:
		return nil, errors.Wrapf(types.ErrInvalidParameterRange, "flip %q must be horizontal or vertical", f.flip)
	}

	if f.blur {
		b := mediaxform.DefaultBlur(kind)
		if f.blurKernel > 0 {
			b.KernelRadius = f.blurKernel
		}
		if f.blurFraction > 0 {
			b.MaskFraction = f.blurFraction
		}
		op = append(op, mediaxform.NewRadialBlur(b.KernelRadius, b.MaskFraction))
	}

	if f.watermark != "" {
		w, h := op.Bounds(width, height)
		wm, err := client.DefaultWatermark(w, h, f.watermark)
		if err != nil {
			return nil, err
		}
		if f.fontSize > 0 && f.fontSize != wm.FontSize {
			maxX, maxY, err := client.WatermarkBounds(w, h, f.watermark, f.fontSize)
			if err != nil {
				return nil, err
			}
			wm.FontSize = f.fontSize
			wm.X, wm.Y = maxX/2, maxY
		}
		if f.opacity >= 0 {
			wm.Opacity = f.opacity
		}
		if f.x >= 0 {
			wm.X = f.x
		}
		if f.y >= 0 {
			wm.Y = f.y
		}
		op = append(op, wm)
	}

	return op, op.Check()
}

// writeFile creates path and its directory and hands it to write. The file
// is removed if write fails.
func writeFile(path string, write func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "creating directory %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		if rmErr := os.Remove(path); rmErr != nil {
			log.WithError(errors.Wrap(types.ErrResourceCleanupFailure, rmErr.Error())).Warn("Failed to remove output")
		}
		return err
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}

func addTransformFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&xf.rotate, "rotate", 0, "Rotate clockwise by 90, 180 or 270 degrees")
	cmd.Flags().StringVar(&xf.flip, "flip", "", "Mirror the frame (horizontal or vertical)")
	cmd.Flags().BoolVar(&xf.blur, "blur", false, "Blur the centered region")
	cmd.Flags().IntVar(&xf.blurKernel, "blur-kernel", 0, "Blur kernel size in preview pixels (default 181 for images, 101 for videos)")
	cmd.Flags().Float64Var(&xf.blurFraction, "blur-fraction", 0, "Blur region divisor, larger is smaller (default 4)")
	cmd.Flags().StringVar(&xf.watermark, "watermark", "", "Watermark text")
	cmd.Flags().IntVar(&xf.fontSize, "watermark-size", 0, "Watermark font size in preview pixels (default 7% of the width)")
	cmd.Flags().IntVar(&xf.opacity, "watermark-opacity", -1, "Watermark alpha from 0 to 255 (default 100)")
	cmd.Flags().IntVar(&xf.x, "watermark-x", -1, "Watermark left edge in preview pixels (default centered)")
	cmd.Flags().IntVar(&xf.y, "watermark-y", -1, "Watermark top edge in preview pixels (default bottom)")
}

func addIOFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Input file")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default derived from the input)")
	cmd.MarkFlagRequired("input")
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.Config, config.FlagName("Config"), "", "TOML config file")
	pf.IntVar(&opts.PreviewSize, config.FlagName("PreviewSize"), opts.PreviewSize, "Longest side of the preview in pixels")
	pf.IntVar(&opts.JpegQuality, config.FlagName("JpegQuality"), opts.JpegQuality, "JPEG quality for image output")
	pf.StringVar(&opts.FontFile, config.FlagName("FontFile"), "", "TrueType/OpenType font for watermarks (default Go Regular)")
	pf.StringVar(&opts.FfmpegPath, config.FlagName("FfmpegPath"), opts.FfmpegPath, "ffmpeg binary")
	pf.StringVar(&opts.EncoderMode, config.FlagName("EncoderMode"), opts.EncoderMode,
		fmt.Sprintf("Video encoder (%s or %s)", config.EncoderModePipe, config.EncoderModeSequence))
	pf.StringVar(&opts.Codec, config.FlagName("Codec"), opts.Codec, "Video codec")
	pf.StringVar(&opts.PixelFormat, config.FlagName("PixelFormat"), opts.PixelFormat, "Output pixel format")
	pf.StringVar(&opts.Preset, config.FlagName("Preset"), opts.Preset, "Encoder preset")
	pf.IntVar(&opts.Crf, config.FlagName("Crf"), opts.Crf, "Constant rate factor")
	pf.IntVar(&opts.Workers, config.FlagName("Workers"), 0, "Frame workers (default one per CPU)")
	pf.StringVar(&opts.TempDir, config.FlagName("TempDir"), "", "Directory for scratch files")
	pf.StringVar(&opts.MetricsFile, config.FlagName("MetricsFile"), "", "Write Prometheus metrics to this textfile after the run")
	pf.BoolVarP(&opts.Verbose, config.FlagName("Verbose"), "v", false, "Enable verbose logging")
	pf.StringVar(&opts.LogFormat, config.FlagName("LogFormat"), opts.LogFormat, "Log format (text or json)")

	for _, cmd := range []*cobra.Command{previewCmd, imageCmd, videoCmd} {
		addIOFlags(cmd)
		addTransformFlags(cmd)
	}

	measureCmd.Flags().Int("size", 40, "Font size in pixels")
	measureCmd.Flags().Int("width", 0, "Frame width")
	measureCmd.Flags().Int("height", 0, "Frame height")

	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(videoCmd)
	rootCmd.AddCommand(measureCmd)
	rootCmd.AddCommand(formatsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if mErr := metrics.WriteTextfile(opts.MetricsFile); mErr != nil {
		log.WithError(mErr).Warn("Failed to write metrics")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(types.ExitCode(err))
	}
}
