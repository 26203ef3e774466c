package rx

import (
	"errors"
	"fmt"
	"reflect"

	serial "github.com/luhtfiimanal/go-rx-serial"
)

var (
	// ErrInvalidArgument is returned synchronously when a required device,
	// factory, sequence or function is missing.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidOperation reports a factory that produced no device, or an
	// event with read data being cast to another payload type.
	ErrInvalidOperation = errors.New("invalid operation")
)

func argError(name string) error {
	return fmt.Errorf("%w: %s must not be nil", ErrInvalidArgument, name)
}

var errNoDevice = fmt.Errorf("%w: device factory returned no device", ErrInvalidOperation)

// absent reports whether dev is nil, including a nil pointer stored in the
// interface.
func absent(dev serial.Device) bool {
	if dev == nil {
		return true
	}
	v := reflect.ValueOf(dev)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
