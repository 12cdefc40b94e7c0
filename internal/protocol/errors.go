package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyLine        = errors.New("protocol: empty line")
	ErrUnknownMethod    = errors.New("protocol: unknown method")
	ErrEmptyArgument    = errors.New("protocol: empty argument")
	ErrArgumentHasSpace = errors.New("protocol: argument contains whitespace")
	ErrInvalidNumber    = errors.New("protocol: invalid numeric argument")
)

// UnknownMethodError reports a method token outside the vocabulary.
type UnknownMethodError struct {
	Token string
}

func (e UnknownMethodError) Error() string {
	return fmt.Sprintf("protocol: unknown method %q", e.Token)
}

func (e UnknownMethodError) Is(target error) bool {
	return target == ErrUnknownMethod
}
