package signin

import (
	"context"
	"errors"
	"fmt"

	"forumsign/internal/httpx"
)

var ErrAlreadyRunning = errors.New("signin: a check-in is already running")

// Kind classifies check-in failures.
type Kind int

const (
	KindNone Kind = iota
	KindMissingCredential
	KindTransport
	KindBlocked
	KindUnexpectedResponse
	KindRemoteValidation
)

var kindNames = [...]string{"", "missing_credential", "transport", "blocked", "unexpected_response", "remote_validation"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Retryable kinds get a scheduled retry. Missing credentials and remote
// validation failures (bad cookie) need an operator.
func (k Kind) Retryable() bool {
	return k == KindTransport || k == KindBlocked || k == KindUnexpectedResponse
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind unless it already carries one.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf maps an error into the taxonomy, including dispatcher errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	if errors.Is(err, httpx.ErrBlocked) {
		return KindBlocked
	}
	var te *httpx.TransportError
	if errors.As(err, &te) {
		return KindTransport
	}
	return KindUnexpectedResponse
}
