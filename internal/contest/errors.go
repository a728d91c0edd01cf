package contest

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrDuplicateSubmission  = errors.New("predictions already submitted for this period")
	ErrWindowClosed         = errors.New("prediction window is closed")
	ErrSettlementInProgress = errors.New("settlement already in progress for this period")
	ErrPriceUnavailable     = errors.New("price unavailable")
)

// InputError describes why a submission batch was rejected. It always matches ErrInvalidInput.
type InputError struct {
	Asset  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Asset == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input for %s: %s", e.Asset, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }
