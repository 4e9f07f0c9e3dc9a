package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned by operations that need a started client.
	ErrNotRunning = errors.New("client is not running")
	// ErrInvalidTarget matches every *InvalidTargetError.
	ErrInvalidTarget = errors.New("invalid target worker")
	// ErrHandshakeTimeout is returned by Start when workers do not report in.
	ErrHandshakeTimeout = errors.New("worker handshake did not complete")
)

// CompileError reports command text that is neither an expression nor a
// statement list.
type CompileError struct {
	Command string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("command %q does not compile: %v", e.Command, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// InvalidTargetError reports a requested worker that cannot take commands.
type InvalidTargetError struct {
	Worker int
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("worker %d %s", e.Worker, e.Reason)
}

func (e *InvalidTargetError) Is(target error) bool {
	return target == ErrInvalidTarget
}
