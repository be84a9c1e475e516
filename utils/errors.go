package utils

import (
	"reflect"

	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %s but got %T", typeStr(expected), actual)
}

// NewConfigValidationError returns an error specifying that the config at the given path is
// invalid for the given reason.
func NewConfigValidationError(path string, err error) error {
	return errors.Wrapf(err, "error validating %q", path)
}

// NewConfigValidationFieldError returns an error specifying that a single field of the config at
// the given path is invalid.
func NewConfigValidationFieldError(path, field, reason string) error {
	return NewConfigValidationError(path, errors.Errorf("%q %s", field, reason))
}

// typeStr returns the name of the type of v. A nil pointer to an interface names the interface
// itself, which is the way to describe an expected interface type.
func typeStr(v interface{}) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "<unknown (nil interface)>"
	}
	if t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Interface {
		return t.Elem().String()
	}
	return t.String()
}
