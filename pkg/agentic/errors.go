package agentic

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session failures.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindProtocol   ErrorKind = "protocol"
	KindTimeout    ErrorKind = "timeout"
	KindBackend    ErrorKind = "backend"
	KindFallback   ErrorKind = "fallback"
)

// Sentinels for errors.Is matching against a SessionError.
var (
	ErrConnection = errors.New("connection error")
	ErrProtocol   = errors.New("protocol error")
	ErrTimeout    = errors.New("timeout error")
	ErrBackend    = errors.New("backend error")
	ErrFallback   = errors.New("fallback error")
)

var kindSentinels = map[ErrorKind]error{
	KindConnection: ErrConnection,
	KindProtocol:   ErrProtocol,
	KindTimeout:    ErrTimeout,
	KindBackend:    ErrBackend,
	KindFallback:   ErrFallback,
}

// SessionError is a classified failure with a message fit for the UI.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func NewSessionError(kind ErrorKind, message string, err error) *SessionError {
	return &SessionError{Kind: kind, Message: message, Err: err}
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *SessionError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// KindOf returns the kind of a SessionError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
