package qrcode

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is matched by every ValidationError.
var ErrInvalidRequest = errors.New("qrcode: invalid request")

// ValidationError reports a request parameter that cannot be used.
type ValidationError struct {
	Field    string
	Message  string
	Received string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("qrcode: invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// EncodingError is returned when the symbol cannot be produced, for example
// when the payload exceeds the capacity of the chosen correction level.
type EncodingError struct {
	Reason string
	Err    error
}

func (e *EncodingError) Error() string {
	return "qrcode: encode: " + e.Reason
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
