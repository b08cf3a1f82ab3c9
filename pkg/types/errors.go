package types

import (
	"context"

	"github.com/pkg/errors"
)

// Error taxonomy. Callers classify with errors.Is; every boundary wraps one
// of these with its own context.
var (
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrDecodeFailure          = errors.New("decode failure")
	ErrInvalidParameterRange  = errors.New("invalid parameter range")
	ErrEncoderProcessFailure  = errors.New("encoder process failure")
	ErrResourceCleanupFailure = errors.New("resource cleanup failure")
)

// KindOf returns the taxonomy name of err, or "internal" when err is not
// classified.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrDecodeFailure):
		return "decode_failure"
	case errors.Is(err, ErrInvalidParameterRange):
		return "invalid_parameter_range"
	case errors.Is(err, ErrEncoderProcessFailure):
		return "encoder_process_failure"
	case errors.Is(err, ErrResourceCleanupFailure):
		return "resource_cleanup_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

// ExitCode maps an error to a process exit status for the CLI.
func ExitCode(err error) int {
	switch KindOf(err) {
	case "":
		return 0
	case "unsupported_format":
		return 3
	case "decode_failure":
		return 4
	case "invalid_parameter_range":
		return 5
	case "encoder_process_failure":
		return 6
	case "canceled":
		return 130
	default:
		return 1
	}
}
