package delegate

import (
	"errors"
	"fmt"
)

// Wire codes for delegate outcomes.
const (
	CodeBadRequest = 400
	CodeNotFound   = 404
	CodeGone       = 410
	CodeInternal   = 500
)

// Domain error strings double as the ERR message text.
var (
	ErrUnknownTransaction = errors.New("Transaction not found")
	ErrExpiredTransaction = errors.New("Transaction expired")
	ErrUnknownPump        = errors.New("Pump not found")
	// ErrPumpNotFound is returned by status lookups; it answers 404 like
	// ErrUnknownPump.
	ErrPumpNotFound = errors.New("Pump not found")
)

// Error carries an explicit wire code and message.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("delegate: %d %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code int, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Code maps a delegate error to its ERR code and message. Unclassified errors
// map to 500 with the error text.
func Code(err error) (int, string) {
	var de *Error
	switch {
	case err == nil:
		return 0, ""
	case errors.As(err, &de):
		return de.Code, de.Message
	case errors.Is(err, ErrUnknownTransaction):
		return CodeNotFound, ErrUnknownTransaction.Error()
	case errors.Is(err, ErrExpiredTransaction):
		return CodeGone, ErrExpiredTransaction.Error()
	case errors.Is(err, ErrUnknownPump):
		return CodeNotFound, ErrUnknownPump.Error()
	case errors.Is(err, ErrPumpNotFound):
		return CodeNotFound, ErrPumpNotFound.Error()
	default:
		return CodeInternal, err.Error()
	}
}
