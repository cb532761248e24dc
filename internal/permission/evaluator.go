package permission

import (
	"sync"

	"github.com/alucardeht/hotcmd/internal/command"
	"github.com/alucardeht/hotcmd/internal/logger"
)

var log = logger.ForComponent("permission")

type Decision struct {
	Allowed    bool
	Scope      command.Scope
	Missing    []command.Capability
	Overridden bool
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(scope command.Scope, missing []command.Capability) Decision {
	return Decision{Scope: scope, Missing: missing}
}

type Evaluator struct {
	catalog    *Catalog
	principals map[string]struct{}
	reported   sync.Map
}

// NewEvaluator builds an evaluator. principals bypass the invoker check for
// every command, on top of each command's own override list.
func NewEvaluator(catalog *Catalog, principals []string) *Evaluator {
	if catalog == nil {
		catalog = NewCatalog()
	}
	p := make(map[string]struct{}, len(principals))
	for _, id := range principals {
		if id != "" {
			p[id] = struct{}{}
		}
	}
	return &Evaluator{catalog: catalog, principals: p}
}

func (e *Evaluator) Catalog() *Catalog {
	return e.catalog
}

// Evaluate runs the checks in a fixed order: privileged override, host
// capabilities, invoker capabilities. A host shortfall is a deployment
// problem and is reported under ScopeHost so callers can tell it apart.
func (e *Evaluator) Evaluate(d *command.Descriptor, invokerCaps, hostCaps command.CapabilitySet, invokerID string) Decision {
	req := d.Requires()

	e.reportUnknown(d, req.Host)
	e.reportUnknown(d, req.Invoker)

	if req.Overrides(invokerID) || e.privileged(invokerID) {
		return Decision{Allowed: true, Overridden: true}
	}

	if missing := req.Host.Missing(hostCaps); len(missing) > 0 {
		return Deny(command.ScopeHost, missing)
	}

	if missing := req.Invoker.Missing(invokerCaps); len(missing) > 0 {
		return Deny(command.ScopeInvoker, missing)
	}

	return Allow()
}

func (e *Evaluator) privileged(invokerID string) bool {
	if invokerID == "" {
		return false
	}
	_, ok := e.principals[invokerID]
	return ok
}

// reportUnknown logs each unrecognized capability once per descriptor. The
// requirement still applies; nobody is let through on an unknown name.
func (e *Evaluator) reportUnknown(d *command.Descriptor, set command.CapabilitySet) {
	for _, c := range e.catalog.Unknown(set) {
		key := d.SourcePath() + "\x00" + d.Key() + "\x00" + string(c)
		if _, seen := e.reported.LoadOrStore(key, struct{}{}); seen {
			continue
		}
		log.Error("unrecognized capability in command requirements",
			"command", d.Name(), "capability", string(c), "path", d.SourcePath())
	}
}
