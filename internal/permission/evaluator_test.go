package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alucardeht/hotcmd/internal/command"
	"github.com/alucardeht/hotcmd/pkg/cmdkit"
)

func descriptor(t *testing.T, spec command.Spec) *command.Descriptor {
	t.Helper()
	if spec.Invoke == nil {
		spec.Invoke = func(ctx context.Context, inv *cmdkit.Invocation) error { return nil }
	}
	d, err := command.New(spec)
	require.NoError(t, err)
	return d
}

func TestEvaluateNoRequirements(t *testing.T) {
	e := NewEvaluator(nil, nil)
	d := descriptor(t, command.Spec{Name: "ping"})

	got := e.Evaluate(d, nil, nil, "u1")
	assert.True(t, got.Allowed)
	assert.False(t, got.Overridden)
}

func TestEvaluateInvokerMissing(t *testing.T) {
	e := NewEvaluator(nil, nil)
	d := descriptor(t, command.Spec{Name: "kick", InvokerPermissions: []string{"KICK_MEMBERS"}})

	got := e.Evaluate(d, command.NewCapabilitySet("SEND_MESSAGES"), nil, "u1")
	assert.False(t, got.Allowed)
	assert.Equal(t, command.ScopeInvoker, got.Scope)
	assert.Equal(t, []command.Capability{"KICK_MEMBERS"}, got.Missing)

	got = e.Evaluate(d, command.NewCapabilitySet("kick_members"), nil, "u1")
	assert.True(t, got.Allowed)
}

func TestEvaluateHostCheckedBeforeInvoker(t *testing.T) {
	e := NewEvaluator(nil, nil)
	d := descriptor(t, command.Spec{
		Name:               "ban",
		InvokerPermissions: []string{"BAN_MEMBERS"},
		HostPermissions:    []string{"BAN_MEMBERS", "EMBED_LINKS"},
	})

	got := e.Evaluate(d, nil, command.NewCapabilitySet("EMBED_LINKS"), "u1")
	assert.False(t, got.Allowed)
	assert.Equal(t, command.ScopeHost, got.Scope)
	assert.Equal(t, []command.Capability{"BAN_MEMBERS"}, got.Missing)
}

func TestEvaluateOverrideSkipsEverything(t *testing.T) {
	e := NewEvaluator(nil, []string{"root"})
	d := descriptor(t, command.Spec{
		Name:               "ban",
		InvokerPermissions: []string{"BAN_MEMBERS"},
		HostPermissions:    []string{"BAN_MEMBERS"},
		PrivilegedOverride: []string{"owner"},
	})

	got := e.Evaluate(d, nil, nil, "owner")
	assert.True(t, got.Allowed)
	assert.True(t, got.Overridden)

	got = e.Evaluate(d, nil, nil, "root")
	assert.True(t, got.Allowed)

	got = e.Evaluate(d, nil, nil, "")
	assert.False(t, got.Allowed)
}

func TestEvaluateUnknownCapabilityStillRequired(t *testing.T) {
	e := NewEvaluator(NewCatalog(), nil)
	d := descriptor(t, command.Spec{Name: "weird", InvokerPermissions: []string{"FLY"}})

	got := e.Evaluate(d, nil, nil, "u1")
	assert.False(t, got.Allowed)
	assert.Equal(t, []command.Capability{"FLY"}, got.Missing)

	assert.Equal(t, []command.Capability{"FLY"}, e.Catalog().Unknown(d.Requires().Invoker))
	e.Catalog().Register("fly")
	assert.Empty(t, e.Catalog().Unknown(d.Requires().Invoker))
}
