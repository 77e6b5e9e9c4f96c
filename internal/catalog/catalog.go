// Package catalog loads agent definitions from YAML or JSON files and keeps
// them available for workflow validation and the store.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rendis/agentgraph/pkg/schema"
)

// Document is the on-disk catalog layout.
type Document struct {
	Agents []*schema.AgentDefinition `json:"agents" yaml:"agents"`
}

// AgentValidator checks one definition. *validation.WorkflowValidator satisfies it.
type AgentValidator interface {
	ValidateAgent(def *schema.AgentDefinition) error
}

// AgentWriter persists definitions.
type AgentWriter interface {
	UpsertAgent(ctx context.Context, agent *schema.AgentDefinition) error
}

// AgentReader lists persisted definitions.
type AgentReader interface {
	ListAgents(ctx context.Context) ([]*schema.AgentDefinition, error)
}

// Catalog is an in-memory, concurrency-safe set of agent definitions keyed by ID.
type Catalog struct {
	mu     sync.RWMutex
	agents map[string]*schema.AgentDefinition
}

// New creates a catalog holding defs. Later duplicates replace earlier ones.
func New(defs ...*schema.AgentDefinition) *Catalog {
	c := &Catalog{agents: make(map[string]*schema.AgentDefinition, len(defs))}
	for _, d := range defs {
		if d != nil {
			c.agents[d.ID] = d
		}
	}
	return c
}

// LoadFile reads a catalog file; the format follows the extension.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	format := detectFormat(path)
	if format == "" {
		return nil, fmt.Errorf("unsupported catalog extension: %s", filepath.Ext(path))
	}
	return Parse(data, format)
}

// Parse decodes a catalog in the given format ("yaml" or "json"). Unknown
// fields and duplicate agent IDs are rejected.
func Parse(data []byte, format string) (*Catalog, error) {
	var doc Document
	switch strings.ToLower(format) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse catalog YAML: %s", err.Error()).WithCause(err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse catalog JSON: %s", err.Error()).WithCause(err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q, use \"yaml\" or \"json\"", format)
	}

	seen := make(map[string]bool, len(doc.Agents))
	for i, def := range doc.Agents {
		if def == nil || def.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "agents[%d]: id is required", i)
		}
		if seen[def.ID] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "agents[%d]: duplicate agent id %q", i, def.ID)
		}
		seen[def.ID] = true
	}
	return New(doc.Agents...), nil
}

// FromStore loads every persisted definition.
func FromStore(ctx context.Context, r AgentReader) (*Catalog, error) {
	defs, err := r.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return New(defs...), nil
}

// LookupAgent returns the definition registered under id.
func (c *Catalog) LookupAgent(id string) (*schema.AgentDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.agents[id]
	return def, ok
}

// Put adds or replaces a definition.
func (c *Catalog) Put(def *schema.AgentDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[def.ID] = def
}

// Agents returns the definitions sorted by ID.
func (c *Catalog) Agents() []*schema.AgentDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*schema.AgentDefinition, 0, len(c.agents))
	for _, def := range c.agents {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.agents)
}

// Validate checks every definition and joins the failures.
func (c *Catalog) Validate(v AgentValidator) error {
	var errs []error
	for _, def := range c.Agents() {
		if err := v.ValidateAgent(def); err != nil {
			errs = append(errs, fmt.Errorf("agent %q: %w", def.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Sync validates the catalog and upserts every definition into w. Nothing is
// written when any definition is invalid.
func (c *Catalog) Sync(ctx context.Context, v AgentValidator, w AgentWriter) (int, error) {
	if v != nil {
		if err := c.Validate(v); err != nil {
			return 0, err
		}
	}
	n := 0
	for _, def := range c.Agents() {
		if err := w.UpsertAgent(ctx, def); err != nil {
			return n, fmt.Errorf("upsert agent %q: %w", def.ID, err)
		}
		n++
	}
	return n, nil
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}
