package order

import (
	"errors"
	"fmt"
)

// Template errors, surfaced before any hashing or signing is attempted.
var (
	ErrMissingField = errors.New("missing required field")
	ErrMissingSalt  = errors.New("order has no salt")
	ErrNegative     = errors.New("negative value")
	ErrUnknownKind  = errors.New("unknown order kind")
)

func errUnknownKind(s string) error {
	return fmt.Errorf("%w %q", ErrUnknownKind, s)
}

func missingField(name string) error {
	return fmt.Errorf("%w %q", ErrMissingField, name)
}
