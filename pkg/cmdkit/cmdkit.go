// Package cmdkit is the API visible to command handler modules.
//
// Go handler files import it by its full path and receive an *Invocation on
// every call:
//
//	import "github.com/alucardeht/hotcmd/pkg/cmdkit"
//
//	var Name = "ping"
//
//	func Invoke(ctx context.Context, inv *cmdkit.Invocation) error {
//		return inv.Reply("pong")
//	}
package cmdkit

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ImportPath is the path handler modules use to import this package.
const ImportPath = "github.com/alucardeht/hotcmd/pkg/cmdkit"

var ErrReplyClosed = errors.New("invocation already completed")

// Permissions declares the capabilities a command needs.
type Permissions struct {
	Invoker []string `json:"invoker,omitempty"`
	Host    []string `json:"host,omitempty"`
}

// Handler is the host-side shape of a module's Invoke export.
type Handler func(ctx context.Context, inv *Invocation) error

type ReplyFunc func(text string) error

// Invocation carries one call into a handler. The dispatcher never looks
// inside Args or Metadata.
type Invocation struct {
	ID         string
	Command    string
	InvokerID  string
	ContextIDs []string
	Args       []string
	Metadata   map[string]string

	mu      sync.Mutex
	forward ReplyFunc
	replies []string
	closed  bool
}

func NewInvocation(id, command, invokerID string, contextIDs, args []string, forward ReplyFunc) *Invocation {
	return &Invocation{
		ID:         id,
		Command:    command,
		InvokerID:  invokerID,
		ContextIDs: contextIDs,
		Args:       args,
		Metadata:   make(map[string]string),
		forward:    forward,
	}
}

// Reply records a response line and forwards it to the transport when one
// was attached.
func (inv *Invocation) Reply(text string) error {
	inv.mu.Lock()
	if inv.closed {
		inv.mu.Unlock()
		return ErrReplyClosed
	}
	inv.replies = append(inv.replies, text)
	forward := inv.forward
	inv.mu.Unlock()

	if forward != nil {
		return forward(text)
	}
	return nil
}

func (inv *Invocation) Replies() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]string, len(inv.replies))
	copy(out, inv.replies)
	return out
}

// Close stops further replies. Handlers that leak goroutines past Invoke get
// ErrReplyClosed instead of writing into a finished response.
func (inv *Invocation) Close() {
	inv.mu.Lock()
	inv.closed = true
	inv.mu.Unlock()
}

func (inv *Invocation) Arg(i int) string {
	if i < 0 || i >= len(inv.Args) {
		return ""
	}
	return inv.Args[i]
}

func (inv *Invocation) ArgString() string {
	return strings.Join(inv.Args, " ")
}
