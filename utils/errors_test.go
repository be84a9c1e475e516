package utils

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

type someIfc interface{}

type someStruct struct{}

func TestNewUnexpectedTypeError(t *testing.T) {
	for _, tc := range []struct {
		name     string
		expected interface{}
		actual   interface{}
		errStr   string
	}{
		{"one", "exp1", "actual1", `expected string but got string`},
		{"two", 1, "actual2", `expected int but got string`},
		{"three", nil, "actual3", `expected <unknown (nil interface)> but got string`},

		// the WRONG way to use this
		{"four", (someIfc)(nil), 4, `expected <unknown (nil interface)> but got int`},

		// the right way to use this
		{"five", (*someIfc)(nil), 5, `expected utils.someIfc but got int`},

		{"six", (*someStruct)(nil), 6, `expected *utils.someStruct but got int`},
		{"seven", someStruct{}, 7, `expected utils.someStruct but got int`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := NewUnexpectedTypeError(tc.expected, tc.actual)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errStr)
		})
	}
}

func TestConfigValidationErrors(t *testing.T) {
	err := NewConfigValidationFieldError("surfaces", "leaf_size", "must be positive")
	test.That(t, err.Error(), test.ShouldEqual, `error validating "surfaces": "leaf_size" must be positive`)

	cause := errors.New("bad")
	err = NewConfigValidationError("surfaces.region_growing", cause)
	test.That(t, errors.Cause(err), test.ShouldEqual, cause)
}
