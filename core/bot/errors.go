package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/m3rciful/qnabot/core/dialog"
)

// ErrorKind classifies a failed turn for logs and handler summaries.
type ErrorKind string

const (
	KindStore     ErrorKind = "STATE_STORE"
	KindContract  ErrorKind = "CONTRACT_VIOLATION"
	KindPanic     ErrorKind = "PANIC"
	KindTimeout   ErrorKind = "TURN_TIMEOUT"
	KindCancelled ErrorKind = "TURN_CANCELLED"
	KindInternal  ErrorKind = "INTERNAL"
	KindDelivery  ErrorKind = "DELIVERY"
)

// TurnError is returned by HandleTurn when a turn is abandoned.
type TurnError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *TurnError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("turn %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("turn %s (%s): %v", e.Kind, e.Op, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Code exposes Kind to the transport's handler summary.
func (e *TurnError) Code() string { return string(e.Kind) }

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, dialog.ErrNoActiveDialog),
		errors.Is(err, dialog.ErrUnknownDialog),
		errors.Is(err, dialog.ErrStepLimit),
		errors.Is(err, dialog.ErrInvalidOutcome),
		errors.Is(err, dialog.ErrCorruptFrame):
		return KindContract
	}
	return KindInternal
}
