package dispatch

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alucardeht/hotcmd/internal/command"
)

type Status string

const (
	StatusSucceeded   Status = "succeeded"
	StatusNotFound    Status = "not_found"
	StatusDenied      Status = "denied"
	StatusRateLimited Status = "rate_limited"
	StatusFailed      Status = "failed"
)

const (
	msgUnavailable  = "That command is unavailable."
	msgFailed       = "Something went wrong while running that command."
	msgNotAccepting = "Commands are not being accepted right now."
	// maxMessageLen caps user-facing failure text.
	maxMessageLen = 200
)

// Outcome is the single response to one invocation.
type Outcome struct {
	InvocationID string        `json:"invocation_id"`
	Status       Status        `json:"status"`
	Command      string        `json:"command"`
	Message      string        `json:"message,omitempty"`
	Replies      []string      `json:"replies,omitempty"`
	Scope        command.Scope `json:"scope,omitempty"`
	Missing      []string      `json:"missing,omitempty"`
	RetryAfterMs int64         `json:"retry_after_ms,omitempty"`
	DurationMs   int64         `json:"duration_ms"`

	err error
}

func (o Outcome) Err() error {
	return o.err
}

func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

func (o Outcome) RetryAfter() time.Duration {
	return time.Duration(o.RetryAfterMs) * time.Millisecond
}

func notFound(id, name string) Outcome {
	return Outcome{
		InvocationID: id,
		Status:       StatusNotFound,
		Command:      name,
		Message:      msgUnavailable,
		err:          &NotFoundError{Command: name},
	}
}

func denied(id string, d *command.Descriptor, scope command.Scope, missing []command.Capability) Outcome {
	names := make([]string, len(missing))
	for i, c := range missing {
		names[i] = string(c)
	}

	var msg string
	if scope == command.ScopeHost {
		msg = fmt.Sprintf("I need the %s permission(s) to run %s here.", strings.Join(names, ", "), d.Name())
	} else {
		msg = fmt.Sprintf("You need the %s permission(s) to use %s.", strings.Join(names, ", "), d.Name())
	}

	return Outcome{
		InvocationID: id,
		Status:       StatusDenied,
		Command:      d.Name(),
		Message:      bound(msg),
		Scope:        scope,
		Missing:      names,
		err:          &PermissionError{Command: d.Name(), Scope: scope, Missing: missing},
	}
}

func rateLimited(id string, d *command.Descriptor, remaining time.Duration) Outcome {
	return Outcome{
		InvocationID: id,
		Status:       StatusRateLimited,
		Command:      d.Name(),
		Message:      fmt.Sprintf("Please wait %.1fs before using %s again.", remaining.Seconds(), d.Name()),
		RetryAfterMs: remaining.Milliseconds(),
		err:          &RateLimitError{Command: d.Name(), Remaining: remaining},
	}
}

func failed(id string, d *command.Descriptor, fault *HandlerFault, replies []string) Outcome {
	return Outcome{
		InvocationID: id,
		Status:       StatusFailed,
		Command:      d.Name(),
		Message:      bound(fmt.Sprintf("%s (ref %s)", msgFailed, id)),
		Replies:      replies,
		err:          fault,
	}
}

func succeeded(id string, d *command.Descriptor, replies []string) Outcome {
	return Outcome{
		InvocationID: id,
		Status:       StatusSucceeded,
		Command:      d.Name(),
		Replies:      replies,
	}
}

// unavailable answers an invocation that arrived before Initialize or after
// Shutdown.
func unavailable(id, name string, err error) Outcome {
	return Outcome{
		InvocationID: id,
		Status:       StatusFailed,
		Command:      name,
		Message:      msgNotAccepting,
		err:          err,
	}
}

func bound(msg string) string {
	if len(msg) <= maxMessageLen {
		return msg
	}
	cut := maxMessageLen - 3
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "..."
}
