package errs

import (
	"errors"
	"fmt"
)

// Доменные сентинель-ошибки для маппинга в HTTP коды в handlers.
var (
	ErrStreamNotFound      = errors.New("stream not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrNegotiationTimeout  = errors.New("negotiation timed out")
	ErrNegotiationRejected = errors.New("negotiation rejected")
	ErrValidation          = errors.New("validation failed")
)

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
