package module

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Shopify/go-lua"

	"github.com/alucardeht/hotcmd/internal/command"
	"github.com/alucardeht/hotcmd/pkg/cmdkit"
)

// invokeGlobal holds the module's invoke function between calls.
const invokeGlobal = "__hotcmd_invoke"

// luaHandler owns one Lua state. A state is single-threaded, so calls into
// the same module are serialized.
type luaHandler struct {
	mu    sync.Mutex
	state *lua.State
	path  string
}

// loadLua compiles src, the bytes the caller read and digested, so the
// module that runs always matches its recorded digest.
func loadLua(path string, src []byte) (command.Spec, error) {
	spec := command.Spec{Kind: command.KindLua, Cooldown: -1}

	state := lua.NewState()
	lua.OpenLibraries(state)

	if err := lua.LoadBuffer(state, string(src), "@"+path, ""); err != nil {
		return spec, fmt.Errorf("load lua: %w", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return spec, fmt.Errorf("run lua: %w", err)
	}
	if state.TypeOf(-1) != lua.TypeTable {
		state.Pop(1)
		return spec, fmt.Errorf("lua module must return a table")
	}

	state.Field(-1, "name")
	name, _ := state.ToString(-1)
	state.Pop(1)
	if name == "" {
		state.Pop(1)
		return spec, command.ErrNoName
	}
	spec.Name = name

	state.Field(-1, "invoke")
	if state.TypeOf(-1) != lua.TypeFunction {
		state.Pop(2)
		return spec, command.ErrNoInvoke
	}
	state.SetGlobal(invokeGlobal)

	state.Field(-1, "aliases")
	spec.Aliases = stringList(state, -1)
	state.Pop(1)

	state.Field(-1, "cooldownSeconds")
	if state.TypeOf(-1) == lua.TypeNumber {
		seconds, _ := state.ToNumber(-1)
		if seconds < 0 || math.IsNaN(seconds) {
			state.Pop(2)
			return spec, fmt.Errorf("cooldownSeconds: invalid value %v", seconds)
		}
		spec.Cooldown = time.Duration(seconds * float64(time.Second))
	}
	state.Pop(1)

	state.Field(-1, "requiredPermissions")
	if state.TypeOf(-1) == lua.TypeTable {
		state.Field(-1, "invoker")
		spec.InvokerPermissions = stringList(state, -1)
		state.Pop(1)
		state.Field(-1, "host")
		spec.HostPermissions = stringList(state, -1)
		state.Pop(1)
	}
	state.Pop(1)

	state.Field(-1, "privilegedOverride")
	spec.PrivilegedOverride = stringList(state, -1)
	state.Pop(1)

	state.Pop(1)

	h := &luaHandler{state: state, path: path}
	spec.Invoke = h.invoke
	return spec, nil
}

func (h *luaHandler) invoke(_ context.Context, inv *cmdkit.Invocation) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.state
	top := state.Top()
	defer state.SetTop(top)

	state.Global(invokeGlobal)
	pushInvocation(state, inv)

	if err := state.ProtectedCall(1, 1, 0); err != nil {
		return fmt.Errorf("lua invoke: %w", err)
	}

	if state.TypeOf(-1) == lua.TypeString {
		text, _ := state.ToString(-1)
		return inv.Reply(text)
	}
	return nil
}

func pushInvocation(state *lua.State, inv *cmdkit.Invocation) {
	state.NewTable()

	state.PushString(inv.ID)
	state.SetField(-2, "id")
	state.PushString(inv.Command)
	state.SetField(-2, "command")
	state.PushString(inv.InvokerID)
	state.SetField(-2, "invoker")

	pushStrings(state, inv.Args)
	state.SetField(-2, "args")
	pushStrings(state, inv.ContextIDs)
	state.SetField(-2, "contexts")

	state.PushGoFunction(func(l *lua.State) int {
		text := lua.CheckString(l, 1)
		if err := inv.Reply(text); err != nil {
			lua.Errorf(l, "%s", err.Error())
		}
		return 0
	})
	state.SetField(-2, "reply")
}

func pushStrings(state *lua.State, values []string) {
	state.NewTable()
	for i, v := range values {
		state.PushInteger(i + 1)
		state.PushString(v)
		state.SetTable(-3)
	}
}

func stringList(state *lua.State, index int) []string {
	if state.TypeOf(index) == lua.TypeString {
		s, _ := state.ToString(index)
		return []string{s}
	}
	if state.TypeOf(index) != lua.TypeTable {
		return nil
	}

	index = state.AbsIndex(index)
	var out []string
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-1) == lua.TypeString {
			s, _ := state.ToString(-1)
			out = append(out, s)
		}
		state.Pop(1)
	}
	return out
}
