package stage

import (
	"errors"
	"fmt"

	"github.com/lucasnoah/cashout/internal/pipeline"
)

// ErrNoCommitment is returned when no pool commitment covers the amount.
var ErrNoCommitment = errors.New("no shielded balance commitment found")

// Error is a stage failure. Message is shown to the user as-is.
type Error struct {
	Phase   pipeline.Phase
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func fail(phase pipeline.Phase, err error, format string, args ...interface{}) *Error {
	return &Error{Phase: phase, Message: fmt.Sprintf(format, args...), Err: err}
}
