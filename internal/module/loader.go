package module

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alucardeht/hotcmd/internal/command"
	"github.com/alucardeht/hotcmd/internal/permission"
)

var ErrUnsupported = errors.New("unsupported module type")

// LoadError reports a module that could not become a descriptor. It is
// logged and skipped; it never aborts loading of other modules.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load module %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type LoaderConfig struct {
	DefaultCooldown time.Duration
	Concurrency     int
	Catalog         *permission.Catalog
}

// Loader builds descriptors from module files. Every Load reads the file
// from disk again and evaluates it in a fresh interpreter, so an edit is
// always picked up and no state leaks from the previous version.
type Loader struct {
	config LoaderConfig

	mu          sync.Mutex
	generations map[string]uint64
}

func NewLoader(config LoaderConfig) *Loader {
	if config.Concurrency <= 0 {
		config.Concurrency = runtime.NumCPU()
	}
	return &Loader{
		config:      config,
		generations: make(map[string]uint64),
	}
}

// Generation returns how many times path has been loaded successfully.
func (l *Loader) Generation(path string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generations[path]
}

// Forget drops bookkeeping for a removed module.
func (l *Loader) Forget(path string) {
	l.mu.Lock()
	delete(l.generations, path)
	l.mu.Unlock()
}

func (l *Loader) Load(path string) (d *command.Descriptor, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = &LoadError{Path: abs, Err: fmt.Errorf("panic during load: %v\n%s", r, debug.Stack())}
		}
	}()

	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, &LoadError{Path: abs, Err: err}
	}

	var spec command.Spec
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".go":
		spec, err = loadGo(abs, src)
	case ".lua":
		spec, err = loadLua(abs, src)
	default:
		err = ErrUnsupported
	}
	if err != nil {
		return nil, &LoadError{Path: abs, Err: err}
	}

	spec.SourcePath = abs
	spec.Digest = Digest(src)
	if spec.Cooldown < 0 {
		spec.Cooldown = l.config.DefaultCooldown
	}

	d, err = command.New(spec)
	if err != nil {
		return nil, &LoadError{Path: abs, Err: err}
	}

	l.checkCapabilities(d)

	l.mu.Lock()
	l.generations[abs]++
	l.mu.Unlock()

	log.Debug("module loaded", "path", abs, "command", d.Name(), "kind", d.Kind())
	return d, nil
}

func (l *Loader) checkCapabilities(d *command.Descriptor) {
	if l.config.Catalog == nil {
		return
	}
	req := d.Requires()
	for _, set := range []command.CapabilitySet{req.Invoker, req.Host} {
		for _, c := range l.config.Catalog.Unknown(set) {
			log.Error("module requires an unrecognized capability",
				"path", d.SourcePath(), "command", d.Name(), "capability", string(c))
		}
	}
}

// LoadAll loads paths concurrently. Modules that fail, or that reuse a name
// already claimed by an earlier path, are returned as errors and left out.
func (l *Loader) LoadAll(ctx context.Context, paths []string) ([]*command.Descriptor, []error) {
	results := make([]*command.Descriptor, len(paths))
	failures := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.config.Concurrency)

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				failures[i] = &LoadError{Path: path, Err: err}
				return nil
			}
			d, err := l.Load(path)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = d
			return nil
		})
	}
	g.Wait()

	var errs []error
	for _, err := range failures {
		if err != nil {
			log.Error("skipping module", "error", err)
			errs = append(errs, err)
		}
	}

	order := make([]int, 0, len(results))
	for i, d := range results {
		if d != nil {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return paths[order[a]] < paths[order[b]] })

	owners := make(map[string]string)
	descriptors := make([]*command.Descriptor, 0, len(order))
	for _, i := range order {
		d := results[i]
		if owner, taken := owners[d.Key()]; taken {
			err := &LoadError{Path: d.SourcePath(), Err: fmt.Errorf("command name %q already defined by %s", d.Name(), owner)}
			log.Error("skipping module", "error", err)
			errs = append(errs, err)
			continue
		}
		owners[d.Key()] = d.SourcePath()
		descriptors = append(descriptors, d)
	}

	return descriptors, errs
}

// Digest is the hex sha256 of a module's source.
func Digest(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}
