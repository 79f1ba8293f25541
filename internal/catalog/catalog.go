// Package catalog holds the named workloads a launchpad instance may run.
// The catalog is loaded once at startup from a YAML document; submit-time
// validity checks (workload name, mode, config) all resolve against it.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/overture-labs/overture-go/internal/domain"
)

const SpecSchemaV1 = "overture.catalog.v1"

type File struct {
	Schema    string         `yaml:"schema"`
	Workloads []WorkloadSpec `yaml:"workloads"`
}

type WorkloadSpec struct {
	Name         string              `yaml:"name"`
	Description  string              `yaml:"description,omitempty"`
	Runner       string              `yaml:"runner"`
	ConfigSchema map[string]any      `yaml:"config_schema,omitempty"`
	Modes        map[string]ModeSpec `yaml:"modes"`
}

type ModeSpec struct {
	Config map[string]any `yaml:"config,omitempty"`
}

type Catalog struct {
	entries map[string]*entry
}

type entry struct {
	spec   WorkloadSpec
	schema *jsonschema.Schema
}

func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	if strings.TrimSpace(file.Schema) != SpecSchemaV1 {
		return nil, fmt.Errorf("unsupported catalog schema %q (want %s)", file.Schema, SpecSchemaV1)
	}
	if len(file.Workloads) == 0 {
		return nil, errors.New("catalog has no workloads")
	}

	entries := make(map[string]*entry, len(file.Workloads))
	for _, spec := range file.Workloads {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, errors.New("workload name is required")
		}
		if _, exists := entries[name]; exists {
			return nil, fmt.Errorf("duplicate workload %q", name)
		}
		if strings.TrimSpace(spec.Runner) == "" {
			return nil, fmt.Errorf("workload %q: runner is required", name)
		}
		if len(spec.Modes) == 0 {
			return nil, fmt.Errorf("workload %q: at least one mode is required", name)
		}
		for mode := range spec.Modes {
			if strings.TrimSpace(mode) == "" {
				return nil, fmt.Errorf("workload %q: mode name is required", name)
			}
		}

		e := &entry{spec: spec}
		if len(spec.ConfigSchema) > 0 {
			schemaJSON, err := json.Marshal(spec.ConfigSchema)
			if err != nil {
				return nil, fmt.Errorf("workload %q: marshal config schema: %w", name, err)
			}
			compiled, err := jsonschema.CompileString(name+".config.schema.json", string(schemaJSON))
			if err != nil {
				return nil, fmt.Errorf("workload %q: compile config schema: %w", name, err)
			}
			e.schema = compiled
		}
		entries[name] = e
	}

	return &Catalog{entries: entries}, nil
}

// Workloads lists catalog entries sorted by name.
func (c *Catalog) Workloads() []domain.Workload {
	out := make([]domain.Workload, 0, len(c.entries))
	for name, e := range c.entries {
		modes := make([]string, 0, len(e.spec.Modes))
		for mode := range e.spec.Modes {
			modes = append(modes, mode)
		}
		sort.Strings(modes)
		out = append(out, domain.Workload{
			Name:        name,
			Description: strings.TrimSpace(e.spec.Description),
			Runner:      strings.TrimSpace(e.spec.Runner),
			Modes:       modes,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Runners lists the distinct runner kinds the catalog requires.
func (c *Catalog) Runners() []string {
	seen := map[string]bool{}
	for _, e := range c.entries {
		seen[strings.TrimSpace(e.spec.Runner)] = true
	}
	out := make([]string, 0, len(seen))
	for kind := range seen {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// Resolve checks a submitted spec against the catalog and returns the
// executable form: runner kind plus mode base config merged with the
// submit-time overlay. All rejections wrap domain.ErrInvalidSpec.
func (c *Catalog) Resolve(spec domain.RunSpec) (domain.ResolvedSpec, error) {
	workload := strings.TrimSpace(spec.Workload)
	mode := strings.TrimSpace(spec.Mode)
	if workload == "" || mode == "" {
		return domain.ResolvedSpec{}, fmt.Errorf("%w: workload and mode are required", domain.ErrInvalidSpec)
	}

	e, ok := c.entries[workload]
	if !ok {
		return domain.ResolvedSpec{}, fmt.Errorf("%w: unknown workload %q", domain.ErrInvalidSpec, workload)
	}
	modeSpec, ok := e.spec.Modes[mode]
	if !ok {
		return domain.ResolvedSpec{}, fmt.Errorf("%w: workload %q has no mode %q", domain.ErrInvalidSpec, workload, mode)
	}

	merged := mergeConfig(modeSpec.Config, spec.Config)
	if e.schema != nil {
		doc, err := jsonRoundTrip(merged)
		if err != nil {
			return domain.ResolvedSpec{}, fmt.Errorf("%w: config not json-encodable: %v", domain.ErrInvalidSpec, err)
		}
		if err := e.schema.Validate(doc); err != nil {
			return domain.ResolvedSpec{}, fmt.Errorf("%w: config schema violation: %v", domain.ErrInvalidSpec, err)
		}
	}

	return domain.ResolvedSpec{
		Workload: workload,
		Mode:     mode,
		Runner:   strings.TrimSpace(e.spec.Runner),
		Config:   merged,
	}, nil
}

func mergeConfig(base map[string]any, overlay domain.Metadata) domain.Metadata {
	merged := domain.Metadata{}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// jsonRoundTrip normalizes YAML-decoded values (int, map[string]any from
// yaml.v3) into json-decoded form so schema validation sees canonical types.
func jsonRoundTrip(in domain.Metadata) (any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
