package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means no reply arrived within the call's bound
	ErrTimeout = errors.New("rpc: no reply within timeout")

	// ErrUnknownCommand matches a HandlerError produced for an unregistered command name
	ErrUnknownCommand = errors.New("rpc: unknown command")

	// ErrNotReady means the client has no reply queue yet (broker not connected)
	ErrNotReady = errors.New("rpc: client not connected")
)

// TransportError wraps broker failures: unreachable broker, closed channel, failed publish
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HandlerError is a negative reply. Remote handlers produce it, and local handlers
// return it to choose the reply code
type HandlerError struct {
	Command string
	Code    string
	Message string
}

func (e *HandlerError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("rpc %s failed: %s: %s", e.Command, e.Code, e.Message)
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrUnknownCommand && e.Code == CodeUnknownCommand
}

// Errorf builds a HandlerError with the given reply code
func Errorf(code, format string, args ...any) *HandlerError {
	return &HandlerError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether err is a transport failure or timeout, meaning the
// command's outcome is unknown rather than negative
func IsTransient(err error) bool {
	var te *TransportError
	return errors.Is(err, ErrTimeout) || errors.As(err, &te)
}
