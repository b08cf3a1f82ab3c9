package ffmpeg

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Rate is a frame rate as ffprobe reports it.
type Rate struct {
	Num int
	Den int
}

// ParseRate reads "30000/1001" or "25".
func ParseRate(s string) (Rate, error) {
	s = strings.TrimSpace(s)
	num, den, found := strings.Cut(s, "/")
	if !found {
		den = "1"
	}
	n, err1 := strconv.Atoi(num)
	d, err2 := strconv.Atoi(den)
	if err1 != nil || err2 != nil {
		return Rate{}, errors.Errorf("malformed frame rate %q", s)
	}
	r := Rate{Num: n, Den: d}
	if !r.Valid() {
		return Rate{}, errors.Errorf("frame rate %q is not positive", s)
	}
	return r, nil
}

// RateFromFloat approximates fps to a millisecond denominator.
func RateFromFloat(fps float64) Rate {
	if fps == math.Trunc(fps) {
		return Rate{Num: int(fps), Den: 1}
	}
	return Rate{Num: int(math.Round(fps * 1000)), Den: 1000}
}

func (r Rate) Valid() bool { return r.Num > 0 && r.Den > 0 }

func (r Rate) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rate) String() string {
	if r.Den == 1 {
		return strconv.Itoa(r.Num)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// VideoMetadata contains metadata about a video file
type VideoMetadata struct {
	Width      int
	Height     int
	FrameRate  Rate
	FrameCount int
	Duration   float64
	Codec      string
	// Rotation is the clockwise display rotation ffmpeg applies while
	// decoding. Width and Height are already the displayed size.
	Rotation int
}

type probeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	NbFrames     string            `json:"nb_frames"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probe is swapped out in tests.
var probe = func(path string) (string, error) {
	return ffmpeg.Probe(path)
}

// GetVideoMetadata probes path with ffprobe.
func GetVideoMetadata(path string) (*VideoMetadata, error) {
	out, err := probe(path)
	if err != nil {
		return nil, errors.Wrapf(types.ErrDecodeFailure, "probing %s: %v", path, err)
	}
	md, err := ParseProbe(out)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return md, nil
}

// ParseProbe reads the first video stream out of ffprobe's JSON.
func ParseProbe(data string) (*VideoMetadata, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, errors.Wrapf(types.ErrDecodeFailure, "probe output: %v", err)
	}

	var vs *probeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			vs = &out.Streams[i]
			break
		}
	}
	if vs == nil {
		return nil, errors.Wrap(types.ErrDecodeFailure, "no video stream found")
	}
	if vs.Width <= 0 || vs.Height <= 0 {
		return nil, errors.Wrapf(types.ErrDecodeFailure, "video stream is %dx%d", vs.Width, vs.Height)
	}

	rate, err := ParseRate(vs.RFrameRate)
	if err != nil {
		if rate, err = ParseRate(vs.AvgFrameRate); err != nil {
			return nil, errors.Wrap(types.ErrDecodeFailure, "could not determine frame rate")
		}
	}

	duration := parseFloat(vs.Duration)
	if duration == 0 {
		duration = parseFloat(out.Format.Duration)
	}

	frames, _ := strconv.Atoi(strings.TrimSpace(vs.NbFrames))
	if frames <= 0 && duration > 0 {
		frames = int(math.Round(duration * rate.Float()))
	}

	md := &VideoMetadata{
		Width:      vs.Width,
		Height:     vs.Height,
		FrameRate:  rate,
		FrameCount: frames,
		Duration:   duration,
		Codec:      vs.CodecName,
		Rotation:   displayRotation(vs),
	}
	if md.Rotation == 90 || md.Rotation == 270 {
		md.Width, md.Height = md.Height, md.Width
	}
	return md, nil
}

// displayRotation normalizes the rotate tag or display matrix to a
// clockwise angle in {0,90,180,270}. The display matrix counts
// counter-clockwise.
func displayRotation(vs *probeStream) int {
	deg := 0
	if tag, ok := vs.Tags["rotate"]; ok {
		deg, _ = strconv.Atoi(tag)
	} else {
		for _, sd := range vs.SideDataList {
			if sd.Rotation != 0 {
				deg = -int(math.Round(sd.Rotation))
				break
			}
		}
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
