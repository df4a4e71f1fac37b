package index

import (
	"math"
	"strconv"

	"github.com/voldyman/typesense/internal/schema"
	"github.com/voldyman/typesense/pkg/errors"
)

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// asInt64 coerces a decoded JSON value to int64. JSON numbers decode as
// float64, so integral floats are accepted.
func asInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		if val == math.Trunc(val) {
			return int64(val), true
		}
	case float32:
		if float64(val) == math.Trunc(float64(val)) {
			return int64(val), true
		}
	}
	return 0, false
}

// asFloat64 coerces a decoded JSON value to float64. Integer values widen.
func asFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asArray(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}

// validateFieldValue checks one declared field's value against its type,
// applying the int-to-float widening rule and int32 bounds.
func validateFieldValue(f schema.Field, v any) error {
	if f.IsArray() {
		arr, ok := asArray(v)
		if !ok {
			return errors.Validation("field %s must be an array", f.Name)
		}
		for _, el := range arr {
			if err := validateScalar(f, el); err != nil {
				return err
			}
		}
		return nil
	}
	return validateScalar(f, v)
}

func validateScalar(f schema.Field, v any) error {
	switch f.Type {
	case schema.TypeString, schema.TypeStringArray:
		if _, ok := asString(v); !ok {
			return errors.Validation("field %s must be a string", f.Name)
		}
	case schema.TypeInt32, schema.TypeInt32Array:
		n, ok := asInt64(v)
		if !ok {
			return errors.Validation("field %s must be an int32", f.Name)
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return errors.Validation("field %s exceeds int32 bounds", f.Name)
		}
	case schema.TypeInt64, schema.TypeInt64Array:
		if _, ok := asInt64(v); !ok {
			return errors.Validation("field %s must be an int64", f.Name)
		}
	case schema.TypeFloat, schema.TypeFloatArray:
		if _, ok := asFloat64(v); !ok {
			return errors.Validation("field %s must be a float", f.Name)
		}
	case schema.TypeBool, schema.TypeBoolArray:
		if _, ok := asBool(v); !ok {
			return errors.Validation("field %s must be a bool", f.Name)
		}
	}
	return nil
}

// ValidateDocument checks a document against the schema: required fields
// present (unless optional, or the call is an update), types match with the
// widening rule, and the default sorting field is present and numeric.
func ValidateDocument(doc schema.Document, s schema.Schema, isUpdate bool) error {
	for _, f := range s.Fields {
		v, present := doc[f.Name]
		if !present || v == nil {
			if f.Optional || isUpdate {
				continue
			}
			return errors.Validation("field %s has been declared in the schema, but is not found in the document", f.Name)
		}
		if err := validateFieldValue(f, v); err != nil {
			return err
		}
	}
	if !isUpdate {
		v, present := doc[s.DefaultSortField]
		if !present {
			return errors.Validation("default sorting field %s is missing", s.DefaultSortField)
		}
		if _, ok := asFloat64(v); !ok {
			return errors.Validation("default sorting field %s must be numeric", s.DefaultSortField)
		}
	}
	return nil
}

// GetPoints extracts the default sorting field's value from a document as the
// canonical int64 sort encoding.
func GetPoints(doc schema.Document, s schema.Schema) int64 {
	f, _ := s.FieldByName(s.DefaultSortField)
	v, present := doc[s.DefaultSortField]
	if !present {
		return 0
	}
	if f.IsFloat() {
		fv, ok := asFloat64(v)
		if !ok {
			return 0
		}
		return FloatToInt64(fv)
	}
	n, ok := asInt64(v)
	if !ok {
		return 0
	}
	return n
}
