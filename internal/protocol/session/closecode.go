package session

import (
	"errors"
	"fmt"
)

// Close codes shared with the remote inspection service.
const (
	CloseNormal          = 1000
	CloseAbnormal        = 1006
	CloseOrgMismatch     = 4001
	CloseConnectionLimit = 4002
	CloseEventLimit      = 4003
	CloseClientError     = 4004
	CloseDeletedSession  = 4005
)

var (
	ErrNormalClosure   = errors.New("session: normal closure")
	ErrOrgMismatch     = errors.New("session: org mismatch")
	ErrConnectionLimit = errors.New("session: connection limit reached")
	ErrEventLimit      = errors.New("session: event limit reached")
	ErrClientError     = errors.New("session: client error")
	ErrDeletedSession  = errors.New("session: session deleted")
	ErrAbnormalClosure = errors.New("session: abnormal closure")
	ErrGeneric         = errors.New("session: connection error")
)

// ConnectionError is a typed connection failure derived from a close code.
type ConnectionError struct {
	Code      int
	Reason    string
	Kind      error
	Retryable bool
}

func (e *ConnectionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%v (code=%d reason=%q)", e.Kind, e.Code, e.Reason)
	}
	return fmt.Sprintf("%v (code=%d)", e.Kind, e.Code)
}

func (e *ConnectionError) Unwrap() error {
	return e.Kind
}

// ErrorForCloseCode maps a close code to its typed connection error. Only an
// abnormal closure is retryable; unknown codes are treated as abnormal.
func ErrorForCloseCode(code int, reason string) *ConnectionError {
	out := &ConnectionError{Code: code, Reason: reason}
	switch code {
	case CloseNormal:
		out.Kind = ErrNormalClosure
	case CloseOrgMismatch:
		out.Kind = ErrOrgMismatch
	case CloseConnectionLimit:
		out.Kind = ErrConnectionLimit
	case CloseEventLimit:
		out.Kind = ErrEventLimit
	case CloseClientError:
		out.Kind = ErrClientError
	case CloseDeletedSession:
		out.Kind = ErrDeletedSession
	default:
		out.Kind = ErrAbnormalClosure
		out.Retryable = true
	}
	return out
}

// NonRetryable converts a retryable error into the generic terminal error used
// when there is nothing on record to reconnect to.
func (e *ConnectionError) NonRetryable() *ConnectionError {
	return &ConnectionError{Code: e.Code, Reason: e.Reason, Kind: ErrGeneric}
}
