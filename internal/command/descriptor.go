// Package command holds the loaded, validated form of a handler module.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alucardeht/hotcmd/pkg/cmdkit"
)

var (
	ErrNoName   = errors.New("module does not export a name")
	ErrNoInvoke = errors.New("module does not export a callable invoke")
)

type Kind string

const (
	KindGo  Kind = "go"
	KindLua Kind = "lua"
)

// Spec is the raw input to New. Loaders fill it from a module's exports.
type Spec struct {
	Name               string
	Aliases            []string
	InvokerPermissions []string
	HostPermissions    []string
	PrivilegedOverride []string
	Cooldown           time.Duration
	SourcePath         string
	// Digest identifies the source bytes the module was built from.
	Digest string
	Kind   Kind
	Invoke cmdkit.Handler
}

// Descriptor is immutable once built. A reload produces a new Descriptor
// which replaces the old one wholesale in the registry.
type Descriptor struct {
	name       string
	key        string
	aliases    []string
	requires   Requirements
	cooldown   time.Duration
	sourcePath string
	digest     string
	kind       Kind
	loadedAt   time.Time
	invoke     cmdkit.Handler
}

func New(spec Spec) (*Descriptor, error) {
	key := NormalizeName(spec.Name)
	if key == "" {
		return nil, ErrNoName
	}
	if spec.Invoke == nil {
		return nil, ErrNoInvoke
	}
	if spec.Cooldown < 0 {
		return nil, fmt.Errorf("command %s: negative cooldown %s", spec.Name, spec.Cooldown)
	}

	seen := map[string]bool{key: true}
	aliases := make([]string, 0, len(spec.Aliases))
	for _, alias := range spec.Aliases {
		k := NormalizeName(alias)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		aliases = append(aliases, k)
	}

	return &Descriptor{
		name:       spec.Name,
		key:        key,
		aliases:    aliases,
		requires:   NewRequirements(spec.InvokerPermissions, spec.HostPermissions, spec.PrivilegedOverride),
		cooldown:   spec.Cooldown,
		sourcePath: spec.SourcePath,
		digest:     spec.Digest,
		kind:       spec.Kind,
		loadedAt:   time.Now(),
		invoke:     spec.Invoke,
	}, nil
}

func (d *Descriptor) Name() string { return d.name }

// Key is the normalized name used as the registry key.
func (d *Descriptor) Key() string { return d.key }

// Aliases returns normalized alias keys.
func (d *Descriptor) Aliases() []string {
	out := make([]string, len(d.aliases))
	copy(out, d.aliases)
	return out
}

// Requires returns a copy of the declared requirements.
func (d *Descriptor) Requires() Requirements { return d.requires.Clone() }

func (d *Descriptor) Cooldown() time.Duration { return d.cooldown }

func (d *Descriptor) SourcePath() string { return d.sourcePath }

func (d *Descriptor) Digest() string { return d.digest }

func (d *Descriptor) Kind() Kind { return d.kind }

func (d *Descriptor) LoadedAt() time.Time { return d.loadedAt }

func (d *Descriptor) Invoke(ctx context.Context, inv *cmdkit.Invocation) error {
	return d.invoke(ctx, inv)
}

// Info is the serializable view of a descriptor.
type Info struct {
	Name               string    `json:"name"`
	Aliases            []string  `json:"aliases,omitempty"`
	CooldownSeconds    float64   `json:"cooldown_seconds"`
	InvokerPermissions []string  `json:"invoker_permissions,omitempty"`
	HostPermissions    []string  `json:"host_permissions,omitempty"`
	PrivilegedOverride []string  `json:"privileged_override,omitempty"`
	SourcePath         string    `json:"source_path"`
	Digest             string    `json:"digest,omitempty"`
	Kind               Kind      `json:"kind"`
	LoadedAt           time.Time `json:"loaded_at"`
}

func (d *Descriptor) Info() Info {
	return Info{
		Name:               d.name,
		Aliases:            d.Aliases(),
		CooldownSeconds:    d.cooldown.Seconds(),
		InvokerPermissions: d.requires.Invoker.Names(),
		HostPermissions:    d.requires.Host.Names(),
		PrivilegedOverride: d.requires.OverrideIDs(),
		SourcePath:         d.sourcePath,
		Digest:             d.digest,
		Kind:               d.kind,
		LoadedAt:           d.loadedAt,
	}
}
