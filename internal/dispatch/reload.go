package dispatch

import (
	"fmt"

	"github.com/alucardeht/hotcmd/internal/command"
	"github.com/alucardeht/hotcmd/internal/module"
)

// ModuleChanged reloads one module file and swaps it into the registry. A
// module that fails to load keeps its last good descriptor.
func (d *Dispatcher) ModuleChanged(path string) {
	if _, err := d.reloadPath(path); err != nil {
		log.Error("reload rejected, keeping previous version", "path", path, "error", err)
	}
}

// ModuleRemoved evicts every command loaded from path, which may be a file
// or a whole directory.
func (d *Dispatcher) ModuleRemoved(path string) {
	d.reload.Lock()
	defer d.reload.Unlock()

	removed := d.registry.RemoveUnder(path)
	for _, desc := range removed {
		d.loader.Forget(desc.SourcePath())
		log.Info("command removed", "command", desc.Name(), "path", desc.SourcePath())
	}
}

// Reload forces a reload of the module at path, relative paths resolving
// against the module root. It returns the descriptor now serving the module.
func (d *Dispatcher) Reload(path string) (*command.Descriptor, error) {
	d.mu.Lock()
	st := d.state
	d.mu.Unlock()
	switch st {
	case stateNew:
		return nil, ErrNotInitialized
	case stateShutdown:
		return nil, ErrShutdown
	}

	abs, err := d.absPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return d.reloadPath(abs)
}

func (d *Dispatcher) reloadPath(path string) (*command.Descriptor, error) {
	d.reload.Lock()
	defer d.reload.Unlock()

	desc, err := d.loader.Load(path)
	if err != nil {
		d.loadErrors.Add(1)
		return nil, err
	}

	if owner, ok := d.registry.Get(desc.Name()); ok && owner.Key() == desc.Key() &&
		owner.SourcePath() != desc.SourcePath() {
		d.loadErrors.Add(1)
		return nil, &module.LoadError{
			Path: desc.SourcePath(),
			Err:  fmt.Errorf("command name %q already defined by %s", desc.Name(), owner.SourcePath()),
		}
	}

	prev, existed := d.registry.ByPath(desc.SourcePath())
	d.registry.Upsert(desc)

	switch {
	case !existed:
		log.Info("command added", "command", desc.Name(), "path", desc.SourcePath())
	case prev.Key() != desc.Key():
		log.Info("command renamed", "from", prev.Name(), "to", desc.Name(), "path", desc.SourcePath())
	case prev.Digest() == desc.Digest():
		log.Debug("command reloaded, source unchanged", "command", desc.Name(), "path", desc.SourcePath())
	default:
		log.Info("command reloaded", "command", desc.Name(), "path", desc.SourcePath(),
			"generation", d.loader.Generation(desc.SourcePath()))
	}
	return desc, nil
}
