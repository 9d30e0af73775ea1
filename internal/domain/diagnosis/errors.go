package diagnosis

import (
	"context"
	"errors"
)

// Pipeline errors. Image and inference errors are expected at runtime and
// can be retried by classifying again; ErrClosed means the engine was released.
var (
	ErrDecode            = errors.New("image could not be decoded")
	ErrUnsupportedFormat = errors.New("image format not supported by the model")
	ErrInference         = errors.New("inference failed")
	ErrBusy              = errors.New("inference engine busy")
	ErrClosed            = errors.New("inference engine closed")
	ErrTimeout           = errors.New("analysis timed out")
)

// Retryable reports whether the caller may re-run classification after err.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
		return false
	}
	for _, target := range []error{ErrDecode, ErrUnsupportedFormat, ErrInference, ErrBusy, ErrTimeout} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
