package sink

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is reported when the remote service asks us to slow down.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransport covers connection failures and timeouts.
	ErrTransport = errors.New("transport failure")
	// ErrProtocol covers unexpected answers from the remote service.
	ErrProtocol = errors.New("protocol failure")
	// ErrNothingToSend is returned when a sink holds back a sample because
	// it lacks the data the remote service needs. The lane's gate stays
	// where it was.
	ErrNothingToSend = errors.New("nothing to send")
)

// Error is a failure reported by a sink.
type Error struct {
	Sink  Kind
	Cause error
	Err   error
}

// Errorf builds an Error of the given cause. The format follows fmt.Errorf,
// including %w.
func Errorf(kind Kind, cause error, format string, args ...any) error {
	return &Error{Sink: kind, Cause: cause, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Sink, e.Cause)
	}
	return fmt.Sprintf("%s: %v: %v", e.Sink, e.Cause, e.Err)
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Outcome is the classified result of one transmit attempt.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeTransport   Outcome = "transport_failure"
	OutcomeProtocol    Outcome = "protocol_failure"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeSkipped     Outcome = "skipped"
)

// Classify maps an error returned by Transmit to an Outcome. Errors that
// carry no recognised cause count as transport failures.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNothingToSend):
		return OutcomeSkipped
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, ErrProtocol):
		return OutcomeProtocol
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeTransport
	}
}
