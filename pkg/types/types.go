package types

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

type TransformKind string

const (
	TransformKindRotate         TransformKind = "rotate"
	TransformKindFlipHorizontal TransformKind = "flip-horizontal"
	TransformKindFlipVertical   TransformKind = "flip-vertical"
	TransformKindRadialBlur     TransformKind = "radial-blur"
	TransformKindWatermark      TransformKind = "watermark"
)

// State is a phase of a video job.
type State string

const (
	StateOpened       State = "opened"
	StateDecoding     State = "decoding"
	StateTransforming State = "transforming"
	StateBuffered     State = "buffered"
	StateEncoding     State = "encoding"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions can follow s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
