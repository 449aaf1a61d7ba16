package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewOutOfRangeError is used when a configuration value falls outside its allowed range.
func NewOutOfRangeError(field string, value, min, max float64) error {
	return errors.Errorf("%s must be in [%v, %v], got %v", field, min, max, value)
}
