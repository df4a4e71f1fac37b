// Package schema defines collection schemas: field types, per-field facet and
// optional flags, and document-level validation helpers shared by the index
// and the collection layer.
package schema

import (
	"fmt"
)

// Field type names. Arrays carry the "[]" suffix.
const (
	TypeString      = "string"
	TypeInt32       = "int32"
	TypeInt64       = "int64"
	TypeFloat       = "float"
	TypeBool        = "bool"
	TypeStringArray = "string[]"
	TypeInt32Array  = "int32[]"
	TypeInt64Array  = "int64[]"
	TypeFloatArray  = "float[]"
	TypeBoolArray   = "bool[]"
)

// Field describes one declared field of a collection schema.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Facet    bool   `json:"facet"`
	Optional bool   `json:"optional"`
}

// IsArray reports whether the field holds an array type.
func (f Field) IsArray() bool {
	switch f.Type {
	case TypeStringArray, TypeInt32Array, TypeInt64Array, TypeFloatArray, TypeBoolArray:
		return true
	}
	return false
}

// IsString reports whether the field holds string or string-array values.
func (f Field) IsString() bool {
	return f.Type == TypeString || f.Type == TypeStringArray
}

// IsInteger reports whether the field holds int32/int64 scalar or array values.
func (f Field) IsInteger() bool {
	switch f.Type {
	case TypeInt32, TypeInt64, TypeInt32Array, TypeInt64Array:
		return true
	}
	return false
}

// IsFloat reports whether the field holds float scalar or array values.
func (f Field) IsFloat() bool {
	return f.Type == TypeFloat || f.Type == TypeFloatArray
}

// IsBool reports whether the field holds bool scalar or array values.
func (f Field) IsBool() bool {
	return f.Type == TypeBool || f.Type == TypeBoolArray
}

// IsNumerical reports whether the field is indexed in a numeric tree.
func (f Field) IsNumerical() bool {
	return f.IsInteger() || f.IsFloat() || f.IsBool()
}

// IsSortable reports whether the field can appear in a sort_by clause.
func (f Field) IsSortable() bool {
	switch f.Type {
	case TypeInt32, TypeInt64, TypeFloat, TypeBool:
		return true
	}
	return false
}

// FacetedName returns the name under which a faceted non-string field is also
// indexed in a radix trie, so facet values share the string token path.
func (f Field) FacetedName() string {
	if f.Facet && !f.IsString() {
		return "$facet_" + f.Name
	}
	return f.Name
}

// ValidType reports whether t names a supported field type.
func ValidType(t string) bool {
	switch t {
	case TypeString, TypeInt32, TypeInt64, TypeFloat, TypeBool,
		TypeStringArray, TypeInt32Array, TypeInt64Array, TypeFloatArray, TypeBoolArray:
		return true
	}
	return false
}

// Schema is the declared shape of a collection: its fields and the default
// sorting field, which must be a non-optional scalar numeric field.
type Schema struct {
	Fields           []Field `json:"fields"`
	DefaultSortField string  `json:"default_sorting_field"`
}

// FieldByName returns the declared field with the given name.
func (s Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FacetFields returns the faceted fields in declaration order. The order
// defines each field's facet ordinal used by the facet index.
func (s Schema) FacetFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Facet {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks structural soundness of the schema itself.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema must declare at least one field")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("field name cannot be empty")
		}
		if !ValidType(f.Type) {
			return fmt.Errorf("field %s has unknown type %q", f.Name, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field %s", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	if s.DefaultSortField == "" {
		return fmt.Errorf("default sorting field must be specified")
	}
	dsf, ok := s.FieldByName(s.DefaultSortField)
	if !ok {
		return fmt.Errorf("default sorting field %s is not declared in the schema", s.DefaultSortField)
	}
	switch dsf.Type {
	case TypeInt32, TypeInt64, TypeFloat:
	default:
		return fmt.Errorf("default sorting field %s must be a scalar numeric field", s.DefaultSortField)
	}
	if dsf.Optional {
		return fmt.Errorf("default sorting field %s cannot be optional", s.DefaultSortField)
	}
	return nil
}

// Document is a schema-conforming record as decoded from JSON.
type Document map[string]any
