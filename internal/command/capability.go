package command

import (
	"sort"
	"strings"
)

type Capability string

// Scope says whose capability set failed a permission check.
type Scope string

const (
	ScopeInvoker Scope = "invoker"
	ScopeHost    Scope = "host"
)

type CapabilitySet map[Capability]struct{}

func NewCapabilitySet(names ...string) CapabilitySet {
	set := make(CapabilitySet, len(names))
	for _, name := range names {
		c := CanonicalCapability(name)
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return set
}

// CanonicalCapability upper-cases and trims a capability name so that
// "kick_members" and "KICK_MEMBERS " compare equal.
func CanonicalCapability(name string) Capability {
	return Capability(strings.ToUpper(strings.TrimSpace(name)))
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

func (s CapabilitySet) Len() int {
	return len(s)
}

// Missing returns the members of s not present in held, sorted.
func (s CapabilitySet) Missing(held CapabilitySet) []Capability {
	var missing []Capability
	for c := range s {
		if !held.Has(c) {
			missing = append(missing, c)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

func (s CapabilitySet) Names() []string {
	names := make([]string, 0, len(s))
	for c := range s {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return names
}

func (s CapabilitySet) Clone() CapabilitySet {
	out := make(CapabilitySet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

func (s CapabilitySet) Union(other CapabilitySet) CapabilitySet {
	out := make(CapabilitySet, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// Requirements is what a command declares it needs before it may run.
type Requirements struct {
	Invoker  CapabilitySet
	Host     CapabilitySet
	Override map[string]struct{}
}

func NewRequirements(invoker, host, override []string) Requirements {
	req := Requirements{
		Invoker:  NewCapabilitySet(invoker...),
		Host:     NewCapabilitySet(host...),
		Override: make(map[string]struct{}, len(override)),
	}
	for _, id := range override {
		id = strings.TrimSpace(id)
		if id != "" {
			req.Override[id] = struct{}{}
		}
	}
	return req
}

// Clone returns a copy that shares no maps with r.
func (r Requirements) Clone() Requirements {
	out := Requirements{
		Invoker:  r.Invoker.Clone(),
		Host:     r.Host.Clone(),
		Override: make(map[string]struct{}, len(r.Override)),
	}
	for id := range r.Override {
		out.Override[id] = struct{}{}
	}
	return out
}

func (r Requirements) Overrides(invokerID string) bool {
	_, ok := r.Override[invokerID]
	return ok
}

func (r Requirements) OverrideIDs() []string {
	ids := make([]string, 0, len(r.Override))
	for id := range r.Override {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
