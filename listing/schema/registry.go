package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is safe to use as a SQL identifier
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Registry is the read-only set of entity types known to the engine.
// It is built once at startup and safe for concurrent use afterwards.
type Registry struct {
	entities map[string]*EntityType
	labels   map[string]LabelMapping
	names    []string
}

// NewRegistry validates the given definitions and builds a registry
func NewRegistry(entities []EntityType, labels []LabelMapping) (*Registry, error) {
	r := &Registry{
		entities: make(map[string]*EntityType, len(entities)),
		labels:   make(map[string]LabelMapping, len(labels)),
	}

	for i := range entities {
		e := entities[i]
		if err := prepareEntity(&e); err != nil {
			return nil, err
		}
		if _, dup := r.entities[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity type %q", e.Name)
		}
		r.entities[e.Name] = &e
		r.names = append(r.names, e.Name)
	}
	sort.Strings(r.names)

	for _, l := range labels {
		if l.IDColumn == "" {
			l.IDColumn = FieldName
		}
		if l.Entity == "" {
			return nil, fmt.Errorf("label mapping without entity")
		}
		for _, ident := range []string{l.Table, l.IDColumn, l.LabelColumn} {
			if !ValidIdentifier(ident) {
				return nil, fmt.Errorf("label mapping %q: invalid identifier %q", l.Entity, ident)
			}
		}
		r.labels[l.Entity] = l
	}

	return r, nil
}

// Get returns the entity type registered under name
func (r *Registry) Get(name string) (*EntityType, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.entities[name]
	return e, ok
}

// Names returns the registered entity type names in sorted order
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Label returns the label mapping for references to target
func (r *Registry) Label(target string) (LabelMapping, bool) {
	if r == nil {
		return LabelMapping{}, false
	}
	l, ok := r.labels[target]
	return l, ok
}

// LabelFor returns the label mapping for a reference field, if one is known
func (r *Registry) LabelFor(f Field) (LabelMapping, bool) {
	if f.Type != TypeReference || f.References == "" {
		return LabelMapping{}, false
	}
	return r.Label(f.References)
}

func prepareEntity(e *EntityType) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("entity type without name")
	}
	if e.Table == "" {
		e.Table = defaultTable(e.Name)
	}
	if !ValidIdentifier(e.Table) {
		return fmt.Errorf("entity %q: invalid table %q", e.Name, e.Table)
	}

	fields := StandardFields()
	for _, f := range e.Fields {
		if isStandard(f.Name) {
			continue
		}
		fields = append(fields, f)
	}
	index, err := indexFields(e.Name, fields)
	if err != nil {
		return err
	}
	e.Fields = fields
	e.fieldIndex = index

	if len(e.SearchFields) == 0 {
		e.SearchFields = []string{FieldName}
	}
	for _, sf := range e.SearchFields {
		if _, ok := e.Field(sf); !ok {
			return fmt.Errorf("entity %q: unknown search field %q", e.Name, sf)
		}
	}

	collections := make([]Collection, len(e.Collections))
	copy(collections, e.Collections)
	e.Collections = collections

	embedded := 0
	for i := range e.Collections {
		c := &e.Collections[i]
		if err := prepareCollection(e, c); err != nil {
			return err
		}
		if c.IsEmbedded() {
			embedded++
		}
	}
	if embedded > 1 {
		return fmt.Errorf("entity %q: at most one embedded JSON collection is supported", e.Name)
	}
	return nil
}

func prepareCollection(e *EntityType, c *Collection) error {
	if c.Name == "" {
		return fmt.Errorf("entity %q: collection without name", e.Name)
	}
	if c.ChildType == "" {
		c.ChildType = c.Name
	}
	if c.PendingValue == "" {
		c.PendingValue = DefaultPendingValue
	}

	idents := []string{}
	switch c.Shape {
	case ShapeNormalized:
		if c.Table == "" {
			c.Table = defaultTable(c.ChildType)
		}
		if c.ParentColumn == "" {
			c.ParentColumn = "parent"
		}
		if c.ParentTypeColumn == "" {
			c.ParentTypeColumn = "parenttype"
		}
		idents = append(idents, c.Table, c.ParentColumn, c.ParentTypeColumn)
	case ShapeEmbeddedJSON:
		if c.JSONColumn == "" {
			c.JSONColumn = c.Name
		}
		idents = append(idents, c.JSONColumn)
		if c.SearchKey != "" {
			idents = append(idents, c.SearchKey)
		}
	default:
		return fmt.Errorf("entity %q collection %q: unknown shape %q", e.Name, c.Name, c.Shape)
	}
	for _, ident := range idents {
		if !ValidIdentifier(ident) {
			return fmt.Errorf("entity %q collection %q: invalid identifier %q", e.Name, c.Name, ident)
		}
	}

	fields := make([]Field, len(c.Fields))
	copy(fields, c.Fields)
	index, err := indexFields(e.Name+"."+c.Name, fields)
	if err != nil {
		return err
	}
	c.Fields = fields
	c.fieldIndex = index

	for _, sf := range c.SearchableFields {
		if _, ok := c.Field(sf); !ok {
			return fmt.Errorf("entity %q collection %q: unknown searchable field %q", e.Name, c.Name, sf)
		}
	}
	if c.StatusField != "" {
		if _, ok := c.Field(c.StatusField); !ok {
			return fmt.Errorf("entity %q collection %q: unknown status field %q", e.Name, c.Name, c.StatusField)
		}
	}
	if c.SearchKey != "" {
		if _, ok := c.Field(c.SearchKey); !ok {
			return fmt.Errorf("entity %q collection %q: unknown search key %q", e.Name, c.Name, c.SearchKey)
		}
	}
	return nil
}

func indexFields(owner string, fields []Field) (map[string]int, error) {
	index := make(map[string]int, len(fields))
	for i := range fields {
		f := &fields[i]
		if f.Type == "" {
			f.Type = TypeText
		}
		if !f.Type.IsValid() {
			return nil, fmt.Errorf("%s: field %q has unknown type %q", owner, f.Name, f.Type)
		}
		if !ValidIdentifier(f.Name) || !ValidIdentifier(f.ColumnName()) {
			return nil, fmt.Errorf("%s: invalid field identifier %q", owner, f.Name)
		}
		if _, dup := index[f.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate field %q", owner, f.Name)
		}
		index[f.Name] = i
	}
	return index, nil
}

func isStandard(name string) bool {
	switch name {
	case FieldName, FieldOwner, FieldCreation, FieldModified, FieldIdx:
		return true
	}
	return false
}

func defaultTable(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}
