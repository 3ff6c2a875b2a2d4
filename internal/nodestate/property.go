package nodestate

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fclairamb/treemount/internal/apperrors"
)

// Type is the value type of a property.
type Type uint8

const (
	// TypeString holds string values.
	TypeString Type = iota + 1
	// TypeLong holds int64 values.
	TypeLong
	// TypeDouble holds float64 values.
	TypeDouble
	// TypeBoolean holds bool values.
	TypeBoolean
	// TypeBinary holds []byte values.
	TypeBinary
	// TypeDate holds time.Time values.
	TypeDate
	// TypeName holds string values naming an item.
	TypeName
	// TypePath holds string values referencing a path.
	TypePath
)

// String returns the human-readable name of a property type.
func (t Type) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeLong:
		return "Long"
	case TypeDouble:
		return "Double"
	case TypeBoolean:
		return "Boolean"
	case TypeBinary:
		return "Binary"
	case TypeDate:
		return "Date"
	case TypeName:
		return "Name"
	case TypePath:
		return "Path"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// PropertyState is an immutable named, typed property of a node.
type PropertyState struct {
	name   string
	typ    Type
	multi  bool
	values []any
}

// NewProperty creates a single-valued property, checking that value matches typ.
func NewProperty(name string, typ Type, value any) (PropertyState, error) {
	if err := ValidateName(name); err != nil {
		return PropertyState{}, err
	}
	v, err := checkValue(typ, value)
	if err != nil {
		return PropertyState{}, fmt.Errorf("property %s: %w", name, err)
	}
	return PropertyState{name: name, typ: typ, values: []any{v}}, nil
}

// NewMultiProperty creates a multi-valued property. An empty values slice is allowed.
func NewMultiProperty(name string, typ Type, values []any) (PropertyState, error) {
	if err := ValidateName(name); err != nil {
		return PropertyState{}, err
	}
	checked := make([]any, len(values))
	for i, value := range values {
		v, err := checkValue(typ, value)
		if err != nil {
			return PropertyState{}, fmt.Errorf("property %s[%d]: %w", name, i, err)
		}
		checked[i] = v
	}
	return PropertyState{name: name, typ: typ, multi: true, values: checked}, nil
}

// StringProperty creates a single-valued string property.
func StringProperty(name, value string) PropertyState {
	return PropertyState{name: name, typ: TypeString, values: []any{value}}
}

// StringsProperty creates a multi-valued string property.
func StringsProperty(name string, values ...string) PropertyState {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return PropertyState{name: name, typ: TypeString, multi: true, values: vals}
}

// LongProperty creates a single-valued int64 property.
func LongProperty(name string, value int64) PropertyState {
	return PropertyState{name: name, typ: TypeLong, values: []any{value}}
}

// DoubleProperty creates a single-valued float64 property.
func DoubleProperty(name string, value float64) PropertyState {
	return PropertyState{name: name, typ: TypeDouble, values: []any{value}}
}

// BoolProperty creates a single-valued boolean property.
func BoolProperty(name string, value bool) PropertyState {
	return PropertyState{name: name, typ: TypeBoolean, values: []any{value}}
}

// BinaryProperty creates a single-valued binary property. The value is copied.
func BinaryProperty(name string, value []byte) PropertyState {
	return PropertyState{name: name, typ: TypeBinary, values: []any{bytes.Clone(value)}}
}

// DateProperty creates a single-valued date property, normalized to UTC.
func DateProperty(name string, value time.Time) PropertyState {
	return PropertyState{name: name, typ: TypeDate, values: []any{value.UTC()}}
}

// Name returns the property name.
func (p PropertyState) Name() string { return p.name }

// Type returns the property type.
func (p PropertyState) Type() Type { return p.typ }

// IsMulti reports whether the property is multi-valued.
func (p PropertyState) IsMulti() bool { return p.multi }

// Count returns the number of values.
func (p PropertyState) Count() int { return len(p.values) }

// Value returns the first value, or nil for an empty multi-valued property.
func (p PropertyState) Value() any {
	if len(p.values) == 0 {
		return nil
	}
	return p.values[0]
}

// Values returns a copy of all values.
func (p PropertyState) Values() []any {
	out := make([]any, len(p.values))
	copy(out, p.values)
	return out
}

// Equal reports whether two properties have the same name, type, multiplicity and values.
func (p PropertyState) Equal(other PropertyState) bool {
	if p.name != other.name || p.typ != other.typ || p.multi != other.multi {
		return false
	}
	if len(p.values) != len(other.values) {
		return false
	}
	for i := range p.values {
		if !valueEqual(p.values[i], other.values[i]) {
			return false
		}
	}
	return true
}

// String formats the property for display, e.g. `title = "hello"` or `tags = ["a", "b"]`.
func (p PropertyState) String() string {
	parts := make([]string, len(p.values))
	for i, v := range p.values {
		parts[i] = formatValue(v)
	}
	if p.multi {
		return p.name + " = [" + strings.Join(parts, ", ") + "]"
	}
	return p.name + " = " + strings.Join(parts, "")
}

// ValidateName checks that name can be used as a node or property name.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidName, name)
	}
	return nil
}

func checkValue(typ Type, value any) (any, error) {
	ok := false
	switch typ {
	case TypeString, TypeName, TypePath:
		_, ok = value.(string)
	case TypeLong:
		_, ok = value.(int64)
	case TypeDouble:
		_, ok = value.(float64)
	case TypeBoolean:
		_, ok = value.(bool)
	case TypeBinary:
		var b []byte
		if b, ok = value.([]byte); ok {
			value = bytes.Clone(b)
		}
	case TypeDate:
		var t time.Time
		if t, ok = value.(time.Time); ok {
			value = t.UTC()
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %T is not %s", apperrors.ErrInvalidPropertyValue, value, typ)
	}
	return value, nil
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(val))
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}
