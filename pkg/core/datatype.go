package core

import (
	"fmt"
	"strings"
)

// DataType is the closed set of value types a concept can carry.
// Implemented by Primitive, ListType, MapType, StructType and NumericType.
type DataType interface {
	fmt.Stringer
	dataType()
}

// Primitive is a scalar data type.
type Primitive string

func (Primitive) dataType() {}

func (p Primitive) String() string { return string(p) }

// Primitive values.
const (
	TypeString    Primitive = "string"
	TypeBool      Primitive = "bool"
	TypeInteger   Primitive = "int"
	TypeBigInt    Primitive = "bigint"
	TypeFloat     Primitive = "float"
	TypeNumber    Primitive = "number"
	TypeNumeric   Primitive = "numeric"
	TypeDate      Primitive = "date"
	TypeDatetime  Primitive = "datetime"
	TypeTimestamp Primitive = "timestamp"
	TypeDatePart  Primitive = "date_part"
	TypeNull      Primitive = "null"
	TypeUnknown   Primitive = "unknown"
)

// ListType is an array of Elem.
type ListType struct {
	Elem DataType
}

func (ListType) dataType() {}

func (l ListType) String() string { return "list<" + l.Elem.String() + ">" }

// MapType maps Key to Value.
type MapType struct {
	Key   DataType
	Value DataType
}

func (MapType) dataType() {}

func (m MapType) String() string {
	return "map<" + m.Key.String() + "," + m.Value.String() + ">"
}

// StructField is a named member of a StructType.
type StructField struct {
	Name string
	Type DataType
}

// StructType is a record of named fields.
type StructType struct {
	Fields []StructField
}

func (StructType) dataType() {}

func (s StructType) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.Name + ":" + f.Type.String()
	}
	return "struct<" + strings.Join(parts, ",") + ">"
}

// NumericType is a fixed precision decimal.
type NumericType struct {
	Precision int
	Scale     int
}

func (NumericType) dataType() {}

func (n NumericType) String() string {
	return fmt.Sprintf("numeric(%d,%d)", n.Precision, n.Scale)
}

// DataTypeEqual compares two data types structurally.
func DataTypeEqual(a, b DataType) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// ParseDataType converts a type name such as "int", "numeric(12,2)" or
// "list<string>" into a DataType.
func ParseDataType(s string) (DataType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "":
		return TypeUnknown, nil
	case strings.HasPrefix(s, "list<") && strings.HasSuffix(s, ">"):
		elem, err := ParseDataType(s[5 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return ListType{Elem: elem}, nil
	case strings.HasPrefix(s, "array<") && strings.HasSuffix(s, ">"):
		elem, err := ParseDataType(s[6 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return ListType{Elem: elem}, nil
	case strings.HasPrefix(s, "map<") && strings.HasSuffix(s, ">"):
		inner := s[4 : len(s)-1]
		idx := strings.Index(inner, ",")
		if idx < 0 {
			return nil, &InvalidArgumentError{Message: fmt.Sprintf("invalid map type %q", s)}
		}
		key, err := ParseDataType(inner[:idx])
		if err != nil {
			return nil, err
		}
		value, err := ParseDataType(inner[idx+1:])
		if err != nil {
			return nil, err
		}
		return MapType{Key: key, Value: value}, nil
	case strings.HasPrefix(s, "numeric(") && strings.HasSuffix(s, ")"):
		var p, sc int
		if _, err := fmt.Sscanf(s, "numeric(%d,%d)", &p, &sc); err != nil {
			return nil, &InvalidArgumentError{Message: fmt.Sprintf("invalid numeric type %q", s)}
		}
		return NumericType{Precision: p, Scale: sc}, nil
	}
	switch s {
	case "string", "text", "varchar":
		return TypeString, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "int", "integer":
		return TypeInteger, nil
	case "bigint":
		return TypeBigInt, nil
	case "float", "double":
		return TypeFloat, nil
	case "number":
		return TypeNumber, nil
	case "numeric", "decimal":
		return TypeNumeric, nil
	case "date":
		return TypeDate, nil
	case "datetime":
		return TypeDatetime, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "date_part":
		return TypeDatePart, nil
	case "unknown":
		return TypeUnknown, nil
	}
	return nil, &InvalidArgumentError{Message: fmt.Sprintf("unknown data type %q", s)}
}

// IsNumeric reports whether t is one of the numeric types.
func IsNumeric(t DataType) bool {
	switch v := t.(type) {
	case NumericType:
		return true
	case Primitive:
		switch v {
		case TypeInteger, TypeBigInt, TypeFloat, TypeNumber, TypeNumeric:
			return true
		}
	}
	return false
}

// IsCompatible reports whether values of types a and b can be treated as the
// same column, for example in an align clause.
func IsCompatible(a, b DataType) bool {
	if DataTypeEqual(a, b) {
		return true
	}
	if DataTypeEqual(a, TypeUnknown) || DataTypeEqual(b, TypeUnknown) {
		return true
	}
	return IsNumeric(a) && IsNumeric(b)
}

// MergeDatatypes computes the output type of an expression over inputs.
func MergeDatatypes(inputs []DataType) DataType {
	if len(inputs) == 0 {
		return TypeUnknown
	}
	if len(inputs) == 1 {
		return inputs[0]
	}
	seen := map[string]bool{}
	for _, t := range inputs {
		seen[t.String()] = true
	}
	if len(seen) == 1 {
		return inputs[0]
	}
	if len(seen) == 2 && seen[TypeInteger.String()] && seen[TypeFloat.String()] {
		return TypeFloat
	}
	if len(seen) == 2 && seen[TypeInteger.String()] && seen[TypeNumeric.String()] {
		return TypeNumeric
	}
	allNumeric := true
	var firstNumeric DataType
	for _, t := range inputs {
		if !IsNumeric(t) {
			allNumeric = false
		}
		if _, ok := t.(NumericType); ok && firstNumeric == nil {
			firstNumeric = t
		}
	}
	if allNumeric && firstNumeric != nil {
		return firstNumeric
	}
	return inputs[0]
}

// ArgDatatype returns the data type of a function argument.
func ArgDatatype(arg Expr) DataType {
	switch v := arg.(type) {
	case *Concept:
		return v.Datatype
	case *Function:
		return v.OutputDatatype
	case *AggregateWrapper:
		return v.Function.OutputDatatype
	case *WindowItem:
		return v.OutputDatatype()
	case Literal:
		return v.Datatype()
	case *Parenthetical:
		return ArgDatatype(v.Content)
	}
	return TypeUnknown
}
