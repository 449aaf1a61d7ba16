package stereo

import (
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/ipmatch/rimage/transform"
)

// ErrNoOverlap is returned when camera geometry shows the two images cannot overlap.
var ErrNoOverlap = errors.New("images do not overlap")

// ConfigurationError reports inputs that can never produce a match, such as cameras that do
// not see the same ground. It is fatal for the pair and should be surfaced to the user rather
// than skipped.
type ConfigurationError struct {
	Msg string
	Err error
}

// NewConfigurationError returns a ConfigurationError wrapping err.
func NewConfigurationError(err error, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration error: " + e.Msg
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsPairSkippable reports whether err only means this pair produced no trustworthy matches, so
// a batch job can log it and continue with the next pair.
func IsPairSkippable(err error) bool {
	return errors.Is(err, transform.ErrNoConsensus)
}
