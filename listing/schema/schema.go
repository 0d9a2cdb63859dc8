package schema

import "strings"

// FieldType is the semantic type of a field
type FieldType string

const (
	TypeText      FieldType = "text"
	TypeNumber    FieldType = "number"
	TypeDate      FieldType = "date"
	TypeDatetime  FieldType = "datetime"
	TypeReference FieldType = "reference"
	TypeJSON      FieldType = "json"
)

// IsValid reports whether t is a known field type
func (t FieldType) IsValid() bool {
	switch t {
	case TypeText, TypeNumber, TypeDate, TypeDatetime, TypeReference, TypeJSON:
		return true
	}
	return false
}

// IsTemporal reports whether t is a date or datetime type
func (t FieldType) IsTemporal() bool {
	return t == TypeDate || t == TypeDatetime
}

// Shape is the storage shape of a nested collection
type Shape string

const (
	// ShapeNormalized collections live in their own table keyed by parent id
	ShapeNormalized Shape = "normalized"
	// ShapeEmbeddedJSON collections are a JSON array in one parent column
	ShapeEmbeddedJSON Shape = "embedded_json"
)

// Standard field names present on every entity type
const (
	FieldName     = "name"
	FieldOwner    = "owner"
	FieldCreation = "creation"
	FieldModified = "modified"
	FieldIdx      = "idx"
)

// DefaultPendingValue is the status value meaning "not yet processed"
const DefaultPendingValue = "Pending"

// Field describes one column of an entity or collection
type Field struct {
	Name       string    `yaml:"name" json:"name"`
	Type       FieldType `yaml:"type" json:"type"`
	Column     string    `yaml:"column,omitempty" json:"column,omitempty"`
	References string    `yaml:"references,omitempty" json:"references,omitempty"`
}

// ColumnName returns the storage column, which defaults to the field name
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// IsNumeric reports whether the field holds numbers
func (f Field) IsNumeric() bool {
	return f.Type == TypeNumber
}

// Collection describes child records of an entity, stored either as rows in
// a child table or as a JSON array inside one parent column.
type Collection struct {
	Name             string   `yaml:"name" json:"name"`
	ChildType        string   `yaml:"child_type" json:"child_type"`
	Shape            Shape    `yaml:"shape" json:"shape"`
	Table            string   `yaml:"table,omitempty" json:"table,omitempty"`
	ParentColumn     string   `yaml:"parent_column,omitempty" json:"parent_column,omitempty"`
	ParentTypeColumn string   `yaml:"parent_type_column,omitempty" json:"parent_type_column,omitempty"`
	JSONColumn       string   `yaml:"json_column,omitempty" json:"json_column,omitempty"`
	Fields           []Field  `yaml:"fields" json:"fields"`
	SearchableFields []string `yaml:"searchable_fields,omitempty" json:"searchable_fields,omitempty"`
	StatusField      string   `yaml:"status_field,omitempty" json:"status_field,omitempty"`
	PendingValue     string   `yaml:"pending_value,omitempty" json:"pending_value,omitempty"`
	SearchKey        string   `yaml:"search_key,omitempty" json:"search_key,omitempty"`

	fieldIndex map[string]int
}

// IsNormalized reports whether the collection is stored as child table rows
func (c *Collection) IsNormalized() bool {
	return c.Shape == ShapeNormalized
}

// IsEmbedded reports whether the collection is a JSON array on the parent
func (c *Collection) IsEmbedded() bool {
	return c.Shape == ShapeEmbeddedJSON
}

// Field looks up a child field by name
func (c *Collection) Field(name string) (Field, bool) {
	if i, ok := c.fieldIndex[name]; ok {
		return c.Fields[i], true
	}
	return Field{}, false
}

// Matches reports whether qualifier addresses this collection, either by its
// field name on the parent or by its child type
func (c *Collection) Matches(qualifier string) bool {
	return qualifier != "" && (qualifier == c.Name || strings.EqualFold(qualifier, c.ChildType))
}

// EntityType is a named record kind with its fields and nested collections
type EntityType struct {
	Name         string       `yaml:"name" json:"name"`
	Table        string       `yaml:"table,omitempty" json:"table,omitempty"`
	Fields       []Field      `yaml:"fields" json:"fields"`
	Collections  []Collection `yaml:"collections,omitempty" json:"collections,omitempty"`
	SearchFields []string     `yaml:"search_fields,omitempty" json:"search_fields,omitempty"`

	fieldIndex map[string]int
}

// Resolved is a field located on the entity or on one of its collections.
// Collection is nil for parent fields.
type Resolved struct {
	Field      Field
	Collection *Collection
}

// Field looks up a parent field, including the standard fields
func (e *EntityType) Field(name string) (Field, bool) {
	if i, ok := e.fieldIndex[name]; ok {
		return e.Fields[i], true
	}
	return Field{}, false
}

// IsNumeric reports whether name is a numeric parent field
func (e *EntityType) IsNumeric(name string) bool {
	f, ok := e.Field(name)
	return ok && f.IsNumeric()
}

// Resolve locates field for a clause qualified by entityType. An empty
// qualifier or the entity's own name searches the parent first and then
// every collection in declaration order.
func (e *EntityType) Resolve(entityType, field string) (Resolved, bool) {
	if entityType == "" || entityType == e.Name {
		if f, ok := e.Field(field); ok {
			return Resolved{Field: f}, true
		}
		if entityType == e.Name {
			return Resolved{}, false
		}
		for i := range e.Collections {
			if f, ok := e.Collections[i].Field(field); ok {
				return Resolved{Field: f, Collection: &e.Collections[i]}, true
			}
		}
		return Resolved{}, false
	}

	for i := range e.Collections {
		c := &e.Collections[i]
		if !c.Matches(entityType) {
			continue
		}
		if f, ok := c.Field(field); ok {
			return Resolved{Field: f, Collection: c}, true
		}
	}
	return Resolved{}, false
}

// Collection looks up a collection by field name or child type
func (e *EntityType) Collection(name string) (*Collection, bool) {
	for i := range e.Collections {
		if e.Collections[i].Matches(name) {
			return &e.Collections[i], true
		}
	}
	return nil, false
}

// NormalizedCollection looks up a child-table collection by field name or child type
func (e *EntityType) NormalizedCollection(name string) (*Collection, bool) {
	c, ok := e.Collection(name)
	if !ok || !c.IsNormalized() {
		return nil, false
	}
	return c, true
}

// EmbeddedCollection returns the entity's JSON-embedded collection, if any
func (e *EntityType) EmbeddedCollection() (*Collection, bool) {
	for i := range e.Collections {
		if e.Collections[i].IsEmbedded() {
			return &e.Collections[i], true
		}
	}
	return nil, false
}

// PendingCollection returns the first child-table collection with a status field
func (e *EntityType) PendingCollection() (*Collection, bool) {
	for i := range e.Collections {
		c := &e.Collections[i]
		if c.IsNormalized() && c.StatusField != "" {
			return c, true
		}
	}
	return nil, false
}

// StandardFields returns the fields every entity table carries
func StandardFields() []Field {
	return []Field{
		{Name: FieldName, Type: TypeText},
		{Name: FieldOwner, Type: TypeText},
		{Name: FieldCreation, Type: TypeDatetime},
		{Name: FieldModified, Type: TypeDatetime},
		{Name: FieldIdx, Type: TypeNumber},
	}
}

// LabelMapping tells how to turn a reference value into a display label
type LabelMapping struct {
	Entity      string `yaml:"entity" json:"entity"`
	Table       string `yaml:"table" json:"table"`
	IDColumn    string `yaml:"id_column,omitempty" json:"id_column,omitempty"`
	LabelColumn string `yaml:"label_column" json:"label_column"`
}
