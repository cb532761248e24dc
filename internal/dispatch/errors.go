package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alucardeht/hotcmd/internal/command"
)

var (
	ErrNotInitialized = errors.New("dispatcher not initialized")
	ErrAlreadyStarted = errors.New("dispatcher already initialized")
	ErrShutdown       = errors.New("dispatcher is shut down")
)

// NotFoundError is an unknown command. It is a normal user outcome, not a
// fault.
type NotFoundError struct {
	Command string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("command not found: %s", e.Command)
}

// PermissionError names the capabilities that were missing and whose.
type PermissionError struct {
	Command string
	Scope   command.Scope
	Missing []command.Capability
}

func (e *PermissionError) Error() string {
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = string(c)
	}
	return fmt.Sprintf("%s lacks %s for %s", e.Scope, strings.Join(names, ", "), e.Command)
}

type RateLimitError struct {
	Command   string
	Remaining time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s on cooldown for %s", e.Command, e.Remaining.Round(time.Millisecond))
}

// HandlerFault is an error or panic that escaped a handler. Panic is nil
// when the handler returned Err normally.
type HandlerFault struct {
	Command      string
	InvocationID string
	SourcePath   string
	Err          error
	Panic        any
	Stack        []byte
}

func (e *HandlerFault) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler %s panicked: %v", e.Command, e.Panic)
	}
	return fmt.Sprintf("handler %s failed: %v", e.Command, e.Err)
}

func (e *HandlerFault) Unwrap() error {
	return e.Err
}
