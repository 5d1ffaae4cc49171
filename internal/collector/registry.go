// Package collector gathers the facts needed to validate one change:
// environment health, change context, and a component-specific record.
// Collection is parallel, per-fetch timeout bounded, and failure-isolated;
// a missing fact never aborts the rest and always derives failing checks.
package collector

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Mobizinc/changegate/internal/servicenow"
	"github.com/Mobizinc/changegate/internal/types"
)

// RecordFetcher is the narrow ticket-system surface the collector consumes.
// *servicenow.Client satisfies it; tests substitute fakes.
type RecordFetcher interface {
	GetRecord(ctx context.Context, table, sysID string, fields []string) (servicenow.Record, error)
	QueryTable(ctx context.Context, table, query string, limit int, fields []string) ([]servicenow.Record, error)
}

// FetchFunc retrieves the component-specific record and shapes it into facts.
// A nil result without error means the record does not exist; the collector
// applies the fail-safe policy (every check false).
type FetchFunc func(ctx context.Context, client RecordFetcher, componentID string) (*types.ComponentFacts, error)

// DeriveFunc maps non-nil component facts to boolean checks. It is never
// called with nil facts; the registry defaults every declared check to false
// before overlaying the derived values.
type DeriveFunc func(facts *types.ComponentFacts) map[string]bool

// Definition describes how one component type is fetched and checked.
// Adding a component type is a registration, not a new branch in the
// orchestrator.
type Definition struct {
	Fetch      FetchFunc
	Derive     DeriveFunc
	CheckNames []string
}

// Registry routes component types to their definitions. The zero value is
// unusable; construct with NewRegistry, which installs the built-in types.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns a registry pre-populated with the built-in component
// types (catalog_item, ldap_server, mid_server, workflow).
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	registerBuiltins(r)
	return r
}

// Register installs or replaces the definition for a component type.
func (r *Registry) Register(componentType string, def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[componentType] = def
}

// Lookup returns the definition for a component type, if registered.
func (r *Registry) Lookup(componentType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[componentType]
	return def, ok
}

// Types returns the registered component types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ZeroChecks returns every declared check for the definition set to false.
func (d Definition) ZeroChecks() map[string]bool {
	checks := make(map[string]bool, len(d.CheckNames))
	for _, name := range d.CheckNames {
		checks[name] = false
	}
	return checks
}

// componentsFile is the YAML shape for table-backed component definitions.
type componentsFile struct {
	Components []struct {
		Type   string `yaml:"type"`
		Table  string `yaml:"table"`
		Fields []string `yaml:"fields,omitempty"`
		Checks []struct {
			Name  string `yaml:"name"`
			Field string `yaml:"field"`
			// Kind "present" passes when the field is non-empty;
			// "truthy" passes when it parses as a ServiceNow boolean.
			Kind string `yaml:"kind"`
		} `yaml:"checks"`
	} `yaml:"components"`
}

// LoadDefinitions reads generic table-backed component definitions from YAML
// and registers them. Existing registrations with the same type are replaced;
// built-ins stay untouched unless explicitly overridden.
func (r *Registry) LoadDefinitions(reader io.Reader) error {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read component definitions: %w", err)
	}

	var file componentsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse component definitions: %w", err)
	}

	for _, comp := range file.Components {
		if comp.Type == "" || comp.Table == "" {
			return fmt.Errorf("component definition missing type or table")
		}

		fields := comp.Fields
		checkNames := make([]string, 0, len(comp.Checks))
		type checkRule struct {
			name, field, kind string
		}
		rules := make([]checkRule, 0, len(comp.Checks))
		for _, chk := range comp.Checks {
			if chk.Name == "" || chk.Field == "" {
				return fmt.Errorf("component %q: check missing name or field", comp.Type)
			}
			kind := chk.Kind
			if kind == "" {
				kind = "present"
			}
			if kind != "present" && kind != "truthy" {
				return fmt.Errorf("component %q: check %q has unknown kind %q", comp.Type, chk.Name, kind)
			}
			checkNames = append(checkNames, chk.Name)
			rules = append(rules, checkRule{name: chk.Name, field: chk.Field, kind: kind})
			fields = append(fields, chk.Field)
		}

		componentType := comp.Type
		table := comp.Table
		r.Register(componentType, Definition{
			CheckNames: checkNames,
			Fetch: func(ctx context.Context, client RecordFetcher, componentID string) (*types.ComponentFacts, error) {
				rec, err := client.GetRecord(ctx, table, componentID, dedupe(fields))
				if err != nil {
					return nil, err
				}
				if rec == nil {
					return nil, nil
				}
				generic := make(map[string]string, len(fields))
				for _, f := range dedupe(fields) {
					generic[f] = rec.GetString(f)
				}
				return &types.ComponentFacts{ComponentType: componentType, Generic: generic}, nil
			},
			Derive: func(facts *types.ComponentFacts) map[string]bool {
				checks := make(map[string]bool, len(rules))
				for _, rule := range rules {
					val := facts.Generic[rule.field]
					switch rule.kind {
					case "truthy":
						checks[rule.name] = val == "true" || val == "1" || val == "yes"
					default:
						checks[rule.name] = val != ""
					}
				}
				return checks
			},
		})
	}
	return nil
}

// LoadDefinitionsFile is LoadDefinitions for a file path.
func (r *Registry) LoadDefinitionsFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open component definitions: %w", err)
	}
	defer func() { _ = f.Close() }()
	return r.LoadDefinitions(f)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
