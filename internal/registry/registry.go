// Package registry maps command names and aliases to descriptors.
package registry

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alucardeht/hotcmd/internal/command"
	"github.com/alucardeht/hotcmd/internal/logger"
)

var log = logger.ForComponent("registry")

// snapshot is never modified after it is published.
type snapshot struct {
	byKey  map[string]*command.Descriptor
	byName map[string]*command.Descriptor
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byKey:  make(map[string]*command.Descriptor),
		byName: make(map[string]*command.Descriptor),
	}
}

// Registry publishes immutable snapshots. Readers load the current snapshot
// without locking and see either the state before a swap or after it.
// Writers copy, edit and publish under mu.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
}

func New() *Registry {
	r := &Registry{}
	r.current.Store(emptySnapshot())
	return r
}

// Get resolves a name or alias.
func (r *Registry) Get(nameOrAlias string) (*command.Descriptor, bool) {
	d, ok := r.current.Load().byKey[command.NormalizeName(nameOrAlias)]
	return d, ok
}

// ReplaceAll swaps in a full set of descriptors built from scratch.
func (r *Registry) ReplaceAll(descriptors []*command.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptySnapshot()
	for _, d := range descriptors {
		if _, dup := next.byName[d.Key()]; dup {
			log.Warn("duplicate command name ignored", "command", d.Name(), "path", d.SourcePath())
			continue
		}
		next.byName[d.Key()] = d
		next.byKey[d.Key()] = d
	}
	for _, d := range descriptors {
		if next.byName[d.Key()] == d {
			installAliases(next, d)
		}
	}

	r.current.Store(next)
	log.Info("registry rebuilt", "commands", len(next.byName), "keys", len(next.byKey))
}

// Upsert installs d, dropping every key that pointed at the previous
// descriptor of the same name, in one swap.
func (r *Registry) Upsert(d *command.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := prev.clone()

	if old, ok := next.byName[d.Key()]; ok {
		next.drop(old)
	}
	// The same file may have been renamed to a new command name.
	for _, other := range prev.byName {
		if other.Key() != d.Key() && other.SourcePath() != "" && other.SourcePath() == d.SourcePath() {
			next.drop(other)
		}
	}

	next.byName[d.Key()] = d
	if owner, ok := next.byKey[d.Key()]; ok && owner.Key() != d.Key() {
		log.Warn("command name shadows an alias", "command", d.Name(), "alias_owner", owner.Name())
	}
	next.byKey[d.Key()] = d
	installAliases(next, d)

	r.current.Store(next)
	log.Debug("registry upsert", "command", d.Name(), "aliases", len(d.Aliases()))
}

// Remove evicts a command by name along with its aliases.
func (r *Registry) Remove(name string) (*command.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	d, ok := prev.byName[command.NormalizeName(name)]
	if !ok {
		return nil, false
	}
	next := prev.clone()
	next.drop(d)
	r.current.Store(next)
	return d, true
}

// RemoveByPath evicts every descriptor loaded from path.
func (r *Registry) RemoveByPath(path string) []*command.Descriptor {
	return r.removeWhere(func(d *command.Descriptor) bool {
		return d.SourcePath() == path
	})
}

// RemoveUnder evicts every descriptor loaded from dir or below it.
func (r *Registry) RemoveUnder(dir string) []*command.Descriptor {
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)
	return r.removeWhere(func(d *command.Descriptor) bool {
		return d.SourcePath() == dir || strings.HasPrefix(d.SourcePath(), prefix)
	})
}

func (r *Registry) removeWhere(match func(*command.Descriptor) bool) []*command.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	var removed []*command.Descriptor
	for _, d := range prev.byName {
		if match(d) {
			removed = append(removed, d)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	next := prev.clone()
	for _, d := range removed {
		next.drop(d)
	}
	r.current.Store(next)
	return removed
}

// ByPath returns the descriptor currently loaded from path.
func (r *Registry) ByPath(path string) (*command.Descriptor, bool) {
	for _, d := range r.current.Load().byName {
		if d.SourcePath() == path {
			return d, true
		}
	}
	return nil, false
}

// List returns live descriptors sorted by name.
func (r *Registry) List() []*command.Descriptor {
	snap := r.current.Load()
	out := make([]*command.Descriptor, 0, len(snap.byName))
	for _, d := range snap.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (r *Registry) Len() int {
	return len(r.current.Load().byName)
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		byKey:  make(map[string]*command.Descriptor, len(s.byKey)),
		byName: make(map[string]*command.Descriptor, len(s.byName)),
	}
	for k, d := range s.byKey {
		next.byKey[k] = d
	}
	for k, d := range s.byName {
		next.byName[k] = d
	}
	return next
}

// drop removes d and every key resolving to it.
func (s *snapshot) drop(d *command.Descriptor) {
	delete(s.byName, d.Key())
	for k, owner := range s.byKey {
		if owner == d {
			delete(s.byKey, k)
		}
	}
	// A name key that was shadowed by d's alias falls back to its owner.
	for k, owner := range s.byName {
		if _, ok := s.byKey[k]; !ok {
			s.byKey[k] = owner
		}
	}
	// Aliases d had shadowed with its name return to a command declaring
	// them. Ties go to the lowest name so the result does not depend on
	// map order.
	keys := make([]string, 0, len(s.byName))
	for k := range s.byName {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		owner := s.byName[k]
		for _, alias := range owner.Aliases() {
			if _, taken := s.byKey[alias]; !taken {
				s.byKey[alias] = owner
			}
		}
	}
}

// installAliases adds d's aliases. An alias never takes over the primary
// name of another live command.
func installAliases(s *snapshot, d *command.Descriptor) {
	for _, alias := range d.Aliases() {
		if owner, ok := s.byName[alias]; ok && owner != d {
			log.Warn("alias collides with a command name, skipped",
				"alias", alias, "command", d.Name(), "owner", owner.Name())
			continue
		}
		if owner, ok := s.byKey[alias]; ok && owner != d {
			log.Warn("alias reassigned", "alias", alias, "from", owner.Name(), "to", d.Name())
		}
		s.byKey[alias] = d
	}
}

// View is a consistent read-only picture of the registry at one instant.
type View struct {
	s *snapshot
}

func (r *Registry) Snapshot() View {
	return View{s: r.current.Load()}
}

func (v View) Get(nameOrAlias string) (*command.Descriptor, bool) {
	d, ok := v.s.byKey[command.NormalizeName(nameOrAlias)]
	return d, ok
}

func (v View) Len() int {
	return len(v.s.byName)
}
