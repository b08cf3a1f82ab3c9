package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "MEDIAXFORM_"

const (
	// Longest side of the interactive preview
	PreviewMaxSide = 600

	// Still output
	DefaultJpegQuality = 95

	// Video output
	DefaultCodec       = "libx264"
	DefaultPixelFormat = "yuv420p"
	DefaultPreset      = "medium"
	DefaultCRF         = 23
	MinCRF             = 0
	MaxCRF             = 51

	// Encoder modes
	EncoderModePipe     = "pipe"
	EncoderModeSequence = "sequence"

	// Temporary directory prefix
	TempDirPrefix = "mediaxform_"
)

// Options holds everything a command needs. Flags explicitly set on the
// command line win over MEDIAXFORM_* variables, which win over the TOML
// file named by Config.
type Options struct {
	Config string

	PreviewSize int    `toml:"preview.max_side" env:"PREVIEW_SIZE"`
	JpegQuality int    `toml:"image.jpeg_quality" env:"JPEG_QUALITY"`
	FontFile    string `toml:"image.font_file" env:"FONT_FILE"`

	FfmpegPath  string `toml:"ffmpeg.binary" env:"FFMPEG_PATH"`
	EncoderMode string `toml:"video.encoder" env:"ENCODER_MODE"`
	Codec       string `toml:"video.codec" env:"CODEC"`
	PixelFormat string `toml:"video.pixel_format" env:"PIXEL_FORMAT"`
	Preset      string `toml:"video.preset" env:"PRESET"`
	Crf         int    `toml:"video.crf" env:"CRF"`
	Workers     int    `toml:"video.workers" env:"WORKERS"`
	TempDir     string `toml:"video.temp_dir" env:"TEMP_DIR"`

	MetricsFile string `toml:"metrics.textfile" env:"METRICS_FILE"`
	Verbose     bool   `toml:"logging.verbose" env:"VERBOSE"`
	LogFormat   string `toml:"logging.format" env:"LOG_FORMAT"`
}

// Defaults returns Options with every field at its built-in value.
func Defaults() Options {
	return Options{
		PreviewSize: PreviewMaxSide,
		JpegQuality: DefaultJpegQuality,
		FfmpegPath:  "ffmpeg",
		EncoderMode: EncoderModePipe,
		Codec:       DefaultCodec,
		PixelFormat: DefaultPixelFormat,
		Preset:      DefaultPreset,
		Crf:         DefaultCRF,
		LogFormat:   "text",
	}
}

// Validate rejects values no command can run with.
func (o Options) Validate() error {
	switch {
	case o.PreviewSize <= 0:
		return errors.Wrapf(types.ErrInvalidParameterRange, "preview size %d must be positive", o.PreviewSize)
	case o.JpegQuality < 1 || o.JpegQuality > 100:
		return errors.Wrapf(types.ErrInvalidParameterRange, "jpeg quality %d not in [1,100]", o.JpegQuality)
	case o.Crf < MinCRF || o.Crf > MaxCRF:
		return errors.Wrapf(types.ErrInvalidParameterRange, "crf %d not in [%d,%d]", o.Crf, MinCRF, MaxCRF)
	case o.Workers < 0:
		return errors.Wrapf(types.ErrInvalidParameterRange, "workers %d must not be negative", o.Workers)
	case o.EncoderMode != EncoderModePipe && o.EncoderMode != EncoderModeSequence:
		return errors.Wrapf(types.ErrInvalidParameterRange, "encoder mode %q must be %q or %q",
			o.EncoderMode, EncoderModePipe, EncoderModeSequence)
	case o.LogFormat != "text" && o.LogFormat != "json":
		return errors.Wrapf(types.ErrInvalidParameterRange, "log format %q must be text or json", o.LogFormat)
	}
	return nil
}

// LoadConfig fills opts from the TOML file named by its Config field and
// from the environment. Flags already changed on cmd are left alone.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	changed := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changed[f.Name] = true
			}
		})
	}

	var configPath string
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		configPath = f.String()
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return errors.Wrapf(err, "reading config %s", configPath)
		}
		var tree map[string]any
		if err := toml.Unmarshal(data, &tree); err != nil {
			return errors.Wrapf(err, "parsing config %s", configPath)
		}
		for i := 0; i < v.NumField(); i++ {
			ft := t.Field(i)
			if changed[FlagName(ft.Name)] {
				continue
			}
			if path := ft.Tag.Get("toml"); path != "" {
				if value := lookup(tree, path); value != nil {
					setValue(v.Field(i), value)
				}
			}
		}
	}

	for i := 0; i < v.NumField(); i++ {
		ft := t.Field(i)
		if changed[FlagName(ft.Name)] {
			continue
		}
		if key := ft.Tag.Get("env"); key != "" {
			if raw := os.Getenv(EnvPrefix + key); raw != "" {
				if err := setString(v.Field(i), raw); err != nil {
					return errors.Wrapf(err, "%s%s", EnvPrefix, key)
				}
			}
		}
	}

	return nil
}

// FlagName converts a field name to its flag: "PreviewSize" -> "preview-size".
func FlagName(field string) string {
	var out []rune
	for i, r := range field {
		if i > 0 && unicode.IsUpper(r) {
			out = append(out, '-')
		}
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

func lookup(tree map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := tree
	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

func setValue(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int:
		switch n := value.(type) {
		case int64:
			field.SetInt(n)
		case int:
			field.SetInt(int64(n))
		}
	}
}

func setString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrap(types.ErrInvalidParameterRange, err.Error())
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrap(types.ErrInvalidParameterRange, err.Error())
		}
		field.SetInt(int64(n))
	}
	return nil
}
