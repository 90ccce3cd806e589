package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Expr is any value expression: a concept reference, a literal, a function
// call, an aggregate, a window, or a boolean condition.
type Expr interface {
	fmt.Stringer
	// mapConcepts rebuilds the expression with every referenced concept
	// replaced by fn(concept).
	mapConcepts(fn func(*Concept) *Concept) Expr
}

// Literal is a constant value. Value is one of nil, bool, int64, float64,
// string, []Literal, or a fmt.Stringer holding an exact decimal.
type Literal struct {
	Value any
}

func (l Literal) mapConcepts(func(*Concept) *Concept) Expr { return l }

func (l Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []Literal:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", l.Value)
}

// Datatype infers the literal type.
func (l Literal) Datatype() DataType {
	switch v := l.Value.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBool
	case int, int64:
		return TypeInteger
	case float64:
		return TypeFloat
	case string:
		return TypeString
	case []Literal:
		if len(v) == 0 {
			return ListType{Elem: TypeUnknown}
		}
		return ListType{Elem: v[0].Datatype()}
	case fmt.Stringer:
		return TypeNumeric
	}
	return TypeUnknown
}

// ConceptArguments returns every concept referenced by e, depth first,
// without duplicates.
func ConceptArguments(e Expr) []*Concept {
	var out []*Concept
	seen := map[string]bool{}
	collectConcepts(e, func(c *Concept) {
		if !seen[c.Address()] {
			seen[c.Address()] = true
			out = append(out, c)
		}
	})
	return out
}

func collectConcepts(e Expr, visit func(*Concept)) {
	if e == nil {
		return
	}
	e.mapConcepts(func(c *Concept) *Concept {
		visit(c)
		return c
	})
}

func mapExprs(args []Expr, fn func(*Concept) *Concept) []Expr {
	if args == nil {
		return nil
	}
	out := make([]Expr, len(args))
	for i, a := range args {
		out[i] = a.mapConcepts(fn)
	}
	return out
}

func mapConceptList(cs []*Concept, fn func(*Concept) *Concept) []*Concept {
	if cs == nil {
		return nil
	}
	out := make([]*Concept, len(cs))
	for i, c := range cs {
		out[i] = fn(c)
	}
	return out
}

func exprString(e Expr) string {
	if c, ok := e.(*Concept); ok {
		return c.Address()
	}
	if e == nil {
		return "null"
	}
	return e.String()
}

func joinExprs(args []Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = exprString(a)
	}
	return strings.Join(parts, ",")
}

func joinConceptAddresses(cs []*Concept) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.Address()
	}
	return strings.Join(parts, ",")
}

// Addresses returns the addresses of concepts in order.
func Addresses(cs []*Concept) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Address()
	}
	return out
}

// SortedAddresses returns the sorted unique addresses of concepts.
func SortedAddresses(cs []*Concept) []string {
	set := map[string]bool{}
	for _, c := range cs {
		set[c.Address()] = true
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// UniqueConcepts removes later duplicates by address, keeping order.
func UniqueConcepts(cs []*Concept) []*Concept {
	seen := make(map[string]bool, len(cs))
	out := make([]*Concept, 0, len(cs))
	for _, c := range cs {
		if c == nil || seen[c.Address()] {
			continue
		}
		seen[c.Address()] = true
		out = append(out, c)
	}
	return out
}

// ContainsAddress reports whether any concept in cs has address addr.
func ContainsAddress(cs []*Concept, addr string) bool {
	for _, c := range cs {
		if c.Address() == addr {
			return true
		}
	}
	return false
}

// FindAddress returns the concept in cs matching addr.
func FindAddress(cs []*Concept, addr string) (*Concept, bool) {
	for _, c := range cs {
		if c.Address() == addr {
			return c, true
		}
	}
	return nil, false
}

// AddressSet builds a lookup set of addresses.
func AddressSet(cs []*Concept) map[string]bool {
	out := make(map[string]bool, len(cs))
	for _, c := range cs {
		out[c.Address()] = true
	}
	return out
}
