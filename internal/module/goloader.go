package module

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/alucardeht/hotcmd/internal/command"
	"github.com/alucardeht/hotcmd/pkg/cmdkit"
)

// Symbols exposes pkg/cmdkit to interpreted handlers.
var Symbols = interp.Exports{
	cmdkit.ImportPath + "/cmdkit": {
		"ErrReplyClosed": reflect.ValueOf(&cmdkit.ErrReplyClosed).Elem(),
		"Handler":        reflect.ValueOf((*cmdkit.Handler)(nil)),
		"Invocation":     reflect.ValueOf((*cmdkit.Invocation)(nil)),
		"NewInvocation":  reflect.ValueOf(cmdkit.NewInvocation),
		"Permissions":    reflect.ValueOf((*cmdkit.Permissions)(nil)),
		"ReplyFunc":      reflect.ValueOf((*cmdkit.ReplyFunc)(nil)),
	},
}

// Exported identifiers a Go handler module may declare.
const (
	exportName        = "Name"
	exportInvoke      = "Invoke"
	exportAliases     = "Aliases"
	exportCooldown    = "CooldownSeconds"
	exportPermissions = "RequiredPermissions"
	exportOverride    = "PrivilegedOverride"
)

func loadGo(path string, src []byte) (command.Spec, error) {
	spec := command.Spec{Kind: command.KindGo, Cooldown: -1}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil {
		return spec, fmt.Errorf("parse: %w", err)
	}

	declared := topLevelNames(file)
	if !declared[exportName] {
		return spec, command.ErrNoName
	}
	if !declared[exportInvoke] {
		return spec, command.ErrNoInvoke
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return spec, fmt.Errorf("load stdlib: %w", err)
	}
	if err := i.Use(Symbols); err != nil {
		return spec, fmt.Errorf("load cmdkit: %w", err)
	}

	if _, err := i.Eval(string(src)); err != nil {
		return spec, fmt.Errorf("evaluate: %w", err)
	}

	pkg := file.Name.Name
	lookup := func(name string) (reflect.Value, bool, error) {
		if !declared[name] {
			return reflect.Value{}, false, nil
		}
		v, err := i.Eval(pkg + "." + name)
		if err != nil {
			return reflect.Value{}, false, fmt.Errorf("%s: %w", name, err)
		}
		return v, true, nil
	}

	v, _, err := lookup(exportName)
	if err != nil {
		return spec, err
	}
	if spec.Name, err = stringValue(v); err != nil {
		return spec, fmt.Errorf("%s: %w", exportName, err)
	}

	v, _, err = lookup(exportInvoke)
	if err != nil {
		return spec, err
	}
	if spec.Invoke, err = handlerValue(v); err != nil {
		return spec, err
	}

	if v, ok, err := lookup(exportAliases); err != nil {
		return spec, err
	} else if ok {
		if spec.Aliases, err = stringsValue(v); err != nil {
			return spec, fmt.Errorf("%s: %w", exportAliases, err)
		}
	}

	if v, ok, err := lookup(exportCooldown); err != nil {
		return spec, err
	} else if ok {
		if spec.Cooldown, err = durationValue(v); err != nil {
			return spec, fmt.Errorf("%s: %w", exportCooldown, err)
		}
	}

	if v, ok, err := lookup(exportPermissions); err != nil {
		return spec, err
	} else if ok {
		perms, err := permissionsValue(v)
		if err != nil {
			return spec, fmt.Errorf("%s: %w", exportPermissions, err)
		}
		spec.InvokerPermissions = perms.Invoker
		spec.HostPermissions = perms.Host
	}

	if v, ok, err := lookup(exportOverride); err != nil {
		return spec, err
	} else if ok {
		if spec.PrivilegedOverride, err = stringsValue(v); err != nil {
			return spec, fmt.Errorf("%s: %w", exportOverride, err)
		}
	}

	return spec, nil
}

func topLevelNames(file *ast.File) map[string]bool {
	names := make(map[string]bool)
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil {
				names[d.Name.Name] = true
			}
		case *ast.GenDecl:
			for _, s := range d.Specs {
				if vs, ok := s.(*ast.ValueSpec); ok {
					for _, n := range vs.Names {
						names[n.Name] = true
					}
				}
			}
		}
	}
	return names
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func stringValue(v reflect.Value) (string, error) {
	v = indirect(v)
	if !v.IsValid() || v.Kind() != reflect.String {
		return "", fmt.Errorf("expected string, got %s", kindOf(v))
	}
	return v.String(), nil
}

func stringsValue(v reflect.Value) ([]string, error) {
	v = indirect(v)
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected []string, got %s", kindOf(v))
	}
	out := make([]string, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		s, err := stringValue(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func durationValue(v reflect.Value) (time.Duration, error) {
	v = indirect(v)
	if !v.IsValid() {
		return -1, nil
	}
	if v.Type() == reflect.TypeOf(time.Duration(0)) {
		return time.Duration(v.Int()), nil
	}

	var seconds float64
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		seconds = float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		seconds = float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		seconds = v.Float()
	default:
		return 0, fmt.Errorf("expected number of seconds, got %s", kindOf(v))
	}
	if seconds < 0 {
		return 0, fmt.Errorf("negative cooldown %v", seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func permissionsValue(v reflect.Value) (cmdkit.Permissions, error) {
	v = indirect(v)
	if !v.IsValid() {
		return cmdkit.Permissions{}, nil
	}
	if p, ok := v.Interface().(cmdkit.Permissions); ok {
		return p, nil
	}
	if v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String {
		var p cmdkit.Permissions
		for _, key := range v.MapKeys() {
			list, err := stringsValue(v.MapIndex(key))
			if err != nil {
				return p, fmt.Errorf("%s: %w", key.String(), err)
			}
			switch key.String() {
			case "invoker":
				p.Invoker = list
			case "host":
				p.Host = list
			default:
				return p, fmt.Errorf("unknown permission scope %q", key.String())
			}
		}
		return p, nil
	}
	return cmdkit.Permissions{}, fmt.Errorf("expected cmdkit.Permissions, got %s", v.Type())
}

func handlerValue(v reflect.Value) (cmdkit.Handler, error) {
	v = indirect(v)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s is %s", command.ErrNoInvoke, exportInvoke, kindOf(v))
	}

	switch fn := v.Interface().(type) {
	case func(context.Context, *cmdkit.Invocation) error:
		return fn, nil
	case cmdkit.Handler:
		return fn, nil
	case func(*cmdkit.Invocation) error:
		return func(_ context.Context, inv *cmdkit.Invocation) error { return fn(inv) }, nil
	default:
		return nil, fmt.Errorf("%w: unsupported signature %s", command.ErrNoInvoke, v.Type())
	}
}

func kindOf(v reflect.Value) string {
	if !v.IsValid() {
		return "nil"
	}
	return v.Type().String()
}
