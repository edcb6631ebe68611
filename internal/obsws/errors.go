package obsws

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by calls on a connection that was closed or dropped.
var ErrClosed = errors.New("obsws: connection closed")

// ConnectErrorKind classifies why a connection could not be established.
type ConnectErrorKind int

const (
	BadAddress ConnectErrorKind = iota
	AuthFailed
	Unreachable
)

func (k ConnectErrorKind) String() string {
	switch k {
	case BadAddress:
		return "bad address"
	case AuthFailed:
		return "authentication failed"
	default:
		return "unreachable"
	}
}

// ConnectError is returned by Dial. Error() is suitable for showing to the
// user; for AuthFailed it is the message sent by the remote end.
type ConnectError struct {
	Kind    ConnectErrorKind
	Address string
	Message string
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Kind == AuthFailed && e.Message != "" {
		return e.Message
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// RequestError reports a request the remote end answered with a failed status.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("obsws: %s failed (%d): %s", e.RequestType, e.Code, e.Comment)
	}
	return fmt.Sprintf("obsws: %s failed (%d)", e.RequestType, e.Code)
}
