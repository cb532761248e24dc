package module

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alucardeht/hotcmd/internal/command"
	"github.com/alucardeht/hotcmd/pkg/cmdkit"
)

const kickModule = `package kick

import (
	"context"
	"strings"

	"github.com/alucardeht/hotcmd/pkg/cmdkit"
)

var Name = "kick"

var Aliases = []string{"boot", "yeet"}

var CooldownSeconds = 5

var RequiredPermissions = cmdkit.Permissions{
	Invoker: []string{"KICK_MEMBERS"},
}

var PrivilegedOverride = []string{"owner"}

func Invoke(ctx context.Context, inv *cmdkit.Invocation) error {
	return inv.Reply("kicked " + strings.Join(inv.Args, ","))
}
`

const noInvokeModule = `package broken

var Name = "broken"
`

const rollModule = `
return {
  name = "roll",
  aliases = { "dice" },
  cooldownSeconds = 2,
  requiredPermissions = { host = { "SEND_MESSAGES" } },
  invoke = function(ctx)
    ctx.reply("rolled for " .. ctx.invoker)
    return "args:" .. #ctx.args
  end,
}
`

func writeModule(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

func TestLoadGoModule(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "kick.go", kickModule)

	l := NewLoader(LoaderConfig{})
	d, err := l.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "kick", d.Name())
	assert.ElementsMatch(t, []string{"boot", "yeet"}, d.Aliases())
	assert.Equal(t, 5*time.Second, d.Cooldown())
	assert.True(t, d.Requires().Invoker.Has("KICK_MEMBERS"))
	assert.True(t, d.Requires().Overrides("owner"))
	assert.Equal(t, command.KindGo, d.Kind())
	assert.Equal(t, path, d.SourcePath())
	assert.Equal(t, uint64(1), l.Generation(path))

	inv := cmdkit.NewInvocation("id", "kick", "u1", nil, []string{"a", "b"}, nil)
	require.NoError(t, d.Invoke(context.Background(), inv))
	assert.Equal(t, []string{"kicked a,b"}, inv.Replies())
}

func TestLoadLuaModule(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "roll.lua", rollModule)

	d, err := NewLoader(LoaderConfig{}).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "roll", d.Name())
	assert.Equal(t, []string{"dice"}, d.Aliases())
	assert.Equal(t, 2*time.Second, d.Cooldown())
	assert.True(t, d.Requires().Host.Has("SEND_MESSAGES"))
	assert.Equal(t, command.KindLua, d.Kind())

	inv := cmdkit.NewInvocation("id", "roll", "u9", nil, []string{"2d6"}, nil)
	require.NoError(t, d.Invoke(context.Background(), inv))
	assert.Equal(t, []string{"rolled for u9", "args:1"}, inv.Replies())
}

func TestLoadLuaRuntimeErrorSurfaces(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "bad.lua", `return { name = "bad", invoke = function(ctx) error("nope") end }`)

	d, err := NewLoader(LoaderConfig{}).Load(path)
	require.NoError(t, err)

	err = d.Invoke(context.Background(), cmdkit.NewInvocation("id", "bad", "u1", nil, nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestLoadRejectsMissingInvoke(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "broken.go", noInvokeModule)

	_, err := NewLoader(LoaderConfig{}).Load(path)
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, path, loadErr.Path)
	assert.ErrorIs(t, err, command.ErrNoInvoke)
}

func TestLoadRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "anon.lua", `return { invoke = function(ctx) end }`)

	_, err := NewLoader(LoaderConfig{}).Load(path)
	assert.ErrorIs(t, err, command.ErrNoName)
}

func TestLoadAppliesDefaultCooldown(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "ping.lua", `return { name = "ping", invoke = function(ctx) return "pong" end }`)

	d, err := NewLoader(LoaderConfig{DefaultCooldown: 3 * time.Second}).Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d.Cooldown())
}

func TestLoadReadsFreshContents(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "echo.lua", `return { name = "echo", invoke = function(ctx) return "v1" end }`)

	l := NewLoader(LoaderConfig{})
	first, err := l.Load(path)
	require.NoError(t, err)

	writeModule(t, dir, "echo.lua", `return { name = "echo", invoke = function(ctx) return "v2" end }`)
	second, err := l.Load(path)
	require.NoError(t, err)

	inv := cmdkit.NewInvocation("id", "echo", "u", nil, nil, nil)
	require.NoError(t, first.Invoke(context.Background(), inv))
	require.NoError(t, second.Invoke(context.Background(), inv))
	assert.Equal(t, []string{"v1", "v2"}, inv.Replies())
	assert.Equal(t, uint64(2), l.Generation(path))
}

func TestLuaModuleRunsTheBytesThatWereDigested(t *testing.T) {
	dir := t.TempDir()
	read := `return { name = "echo", invoke = function(ctx) return "read" end }`
	path := writeModule(t, dir, "echo.lua", `return { name = "other", invoke = function(ctx) return "disk" end }`)

	spec, err := loadLua(path, []byte(read))
	require.NoError(t, err)
	assert.Equal(t, "echo", spec.Name)

	inv := cmdkit.NewInvocation("id", "echo", "u", nil, nil, nil)
	require.NoError(t, spec.Invoke(context.Background(), inv))
	assert.Equal(t, []string{"read"}, inv.Replies())

	spec, err = loadLua(filepath.Join(dir, "gone.lua"), []byte(read))
	require.NoError(t, err)
	assert.Equal(t, "echo", spec.Name)
}

func TestLoadAllSkipsBadModules(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "kick.go", kickModule)
	writeModule(t, dir, "nested/roll.lua", rollModule)
	writeModule(t, dir, "nested/broken.go", noInvokeModule)
	writeModule(t, dir, "zz/dupe.lua", `return { name = "KICK", invoke = function(ctx) end }`)

	paths, err := Discover(dir, DefaultDiscoverConfig())
	require.NoError(t, err)
	require.Len(t, paths, 4)

	descriptors, errs := NewLoader(LoaderConfig{Concurrency: 2}).LoadAll(context.Background(), paths)
	assert.Len(t, descriptors, 2)
	assert.Len(t, errs, 2)

	names := []string{descriptors[0].Name(), descriptors[1].Name()}
	assert.ElementsMatch(t, []string{"kick", "roll"}, names)
}
