// Package schema holds the registry of valid labels, properties, and
// relationship triples for the contract knowledge graph. The descriptor is
// loaded once at startup and treated as immutable; every graph write and
// every translated query is validated against it.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrViolation is returned when an entity, relationship, or query references
// anything outside the registered schema.
var ErrViolation = errors.New("lexgraph: schema violation")

// Kind is the scalar type of a property value.
type Kind string

const (
	KindString Kind = "STRING"
	KindInt    Kind = "INTEGER"
	KindFloat  Kind = "FLOAT"
	KindBool   Kind = "BOOLEAN"
)

// Property declares a single allowed property on a label or relationship type.
type Property struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required,omitempty"`
}

// Triple is an allowed (source label, relationship type, target label)
// combination. Relationships outside this table are rejected.
type Triple struct {
	Source string `json:"source"`
	Type   string `json:"type"`
	Target string `json:"target"`
}

// Entity is a typed node. ID is stable and unique within its label;
// Properties is constrained to the declared property set.
type Entity struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relationship is a typed directed edge between two entity ids.
type Relationship struct {
	Type        string         `json:"type"`
	SourceLabel string         `json:"source_label"`
	SourceID    string         `json:"source_id"`
	TargetLabel string         `json:"target_label"`
	TargetID    string         `json:"target_id"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Descriptor is the process-wide schema: valid labels with their property
// sets, valid relationship types, the allowed-triples table, the closed
// clause/agreement type enumerations, and the embedding dimension.
// Read-only after Load; a schema change requires a new load cycle.
type Descriptor struct {
	Labels         map[string][]Property `json:"labels"`
	Relations      map[string][]Property `json:"relations"`
	Triples        []Triple              `json:"triples"`
	ClauseTypes    []string              `json:"clause_types"`
	AgreementTypes []string              `json:"agreement_types"`
	EmbeddingDim   int                   `json:"embedding_dim"`

	tripleSet map[Triple]bool
	clauseSet map[string]bool
}

// Load reads a declarative JSON schema file.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing schema file: %w", err)
	}
	if len(d.Labels) == 0 {
		return nil, fmt.Errorf("schema file %s declares no labels", path)
	}
	if d.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("schema file %s: embedding_dim must be positive", path)
	}
	d.buildSets()
	return &d, nil
}

func (d *Descriptor) buildSets() {
	d.tripleSet = make(map[Triple]bool, len(d.Triples))
	for _, t := range d.Triples {
		d.tripleSet[t] = true
	}
	d.clauseSet = make(map[string]bool, len(d.ClauseTypes))
	for _, ct := range d.ClauseTypes {
		d.clauseSet[ct] = true
	}
}

// HasLabel reports whether the label is registered.
func (d *Descriptor) HasLabel(label string) bool {
	_, ok := d.Labels[label]
	return ok
}

// HasRelation reports whether the relationship type is registered.
func (d *Descriptor) HasRelation(relType string) bool {
	_, ok := d.Relations[relType]
	return ok
}

// HasTriple reports whether the (source, type, target) triple is allowed.
func (d *Descriptor) HasTriple(source, relType, target string) bool {
	return d.tripleSet[Triple{Source: source, Type: relType, Target: target}]
}

// HasClauseType reports whether the clause type name is in the closed set.
func (d *Descriptor) HasClauseType(name string) bool {
	return d.clauseSet[name]
}

// HasProperty reports whether any label or relationship type declares the
// property name. Used by query validation, where a property token cannot
// always be bound to a single label statically.
func (d *Descriptor) HasProperty(name string) bool {
	for _, props := range d.Labels {
		for _, p := range props {
			if p.Name == name {
				return true
			}
		}
	}
	for _, props := range d.Relations {
		for _, p := range props {
			if p.Name == name {
				return true
			}
		}
	}
	return false
}

// ValidateEntity checks the entity against the registered label and property
// set. Unknown labels and undeclared properties are rejected, never dropped.
func (d *Descriptor) ValidateEntity(e Entity) error {
	if e.ID == "" {
		return fmt.Errorf("%w: entity has empty id", ErrViolation)
	}
	props, ok := d.Labels[e.Label]
	if !ok {
		return fmt.Errorf("%w: unknown label %q", ErrViolation, e.Label)
	}

	declared := make(map[string]Property, len(props))
	for _, p := range props {
		declared[p.Name] = p
	}
	for name, value := range e.Properties {
		p, ok := declared[name]
		if !ok {
			return fmt.Errorf("%w: label %s does not declare property %q", ErrViolation, e.Label, name)
		}
		if err := checkKind(p, value); err != nil {
			return fmt.Errorf("%w: %s.%s: %v", ErrViolation, e.Label, name, err)
		}
	}
	for _, p := range props {
		if p.Required {
			if _, ok := e.Properties[p.Name]; !ok {
				return fmt.Errorf("%w: label %s requires property %q", ErrViolation, e.Label, p.Name)
			}
		}
	}

	// Closed-enum labels: the node identity must come from the enum.
	if e.Label == "ClauseType" && !d.clauseSet[e.ID] {
		return fmt.Errorf("%w: unknown clause type %q", ErrViolation, e.ID)
	}
	return nil
}

// ValidateRelationship checks the relationship type, the allowed-triples
// table, and any declared edge properties.
func (d *Descriptor) ValidateRelationship(r Relationship) error {
	if r.SourceID == "" || r.TargetID == "" {
		return fmt.Errorf("%w: relationship %s has empty endpoint id", ErrViolation, r.Type)
	}
	props, ok := d.Relations[r.Type]
	if !ok {
		return fmt.Errorf("%w: unknown relationship type %q", ErrViolation, r.Type)
	}
	if !d.HasTriple(r.SourceLabel, r.Type, r.TargetLabel) {
		return fmt.Errorf("%w: (%s)-[%s]->(%s) is not an allowed triple",
			ErrViolation, r.SourceLabel, r.Type, r.TargetLabel)
	}

	declared := make(map[string]Property, len(props))
	for _, p := range props {
		declared[p.Name] = p
	}
	for name, value := range r.Properties {
		p, ok := declared[name]
		if !ok {
			return fmt.Errorf("%w: relationship %s does not declare property %q", ErrViolation, r.Type, name)
		}
		if err := checkKind(p, value); err != nil {
			return fmt.Errorf("%w: %s.%s: %v", ErrViolation, r.Type, name, err)
		}
	}
	return nil
}

func checkKind(p Property, value any) error {
	switch p.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case KindInt:
		switch value.(type) {
		case int, int64:
		default:
			return fmt.Errorf("expected integer, got %T", value)
		}
	case KindFloat:
		switch value.(type) {
		case float64, float32:
		default:
			return fmt.Errorf("expected float, got %T", value)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	default:
		return fmt.Errorf("unknown property kind %q", p.Kind)
	}
	return nil
}

// Describe renders the schema as deterministic text used to ground query
// translation. Labels, relationship types, and properties are sorted so the
// output is stable across runs and cacheable as prompt context.
func (d *Descriptor) Describe() string {
	var b strings.Builder

	b.WriteString("Node properties:\n")
	for _, label := range sortedKeys(d.Labels) {
		b.WriteString(label)
		b.WriteString(" {")
		b.WriteString(renderProps(d.Labels[label]))
		b.WriteString("}\n")
	}

	b.WriteString("\nRelationship properties:\n")
	for _, relType := range sortedKeys(d.Relations) {
		props := d.Relations[relType]
		if len(props) == 0 {
			continue
		}
		b.WriteString(relType)
		b.WriteString(" {")
		b.WriteString(renderProps(props))
		b.WriteString("}\n")
	}

	b.WriteString("\nThe relationships:\n")
	triples := make([]Triple, len(d.Triples))
	copy(triples, d.Triples)
	sort.Slice(triples, func(i, j int) bool {
		if triples[i].Source != triples[j].Source {
			return triples[i].Source < triples[j].Source
		}
		if triples[i].Type != triples[j].Type {
			return triples[i].Type < triples[j].Type
		}
		return triples[i].Target < triples[j].Target
	})
	for _, t := range triples {
		fmt.Fprintf(&b, "(:%s)-[:%s]->(:%s)\n", t.Source, t.Type, t.Target)
	}

	return b.String()
}

func renderProps(props []Property) string {
	sorted := make([]Property, len(props))
	copy(sorted, props)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = fmt.Sprintf("%s: %s", p.Name, p.Kind)
	}
	return strings.Join(parts, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
