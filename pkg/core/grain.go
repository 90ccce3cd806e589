package core

import (
	"sort"
	"strings"
)

// Grain is the set of concept addresses whose joint values identify a row,
// with an optional where clause restricting the rows.
type Grain struct {
	components []string
	Where      *WhereClause
}

// NewGrain builds a grain from addresses, deduplicated and sorted.
func NewGrain(addresses ...string) Grain {
	return Grain{components: sortedUnique(addresses)}
}

// GrainFromConcepts derives the grain of a set of concepts. Concepts that
// are implied by others in the set (properties whose keys are present,
// constants, ungrouped aggregates) do not contribute.
func GrainFromConcepts(concepts []*Concept, where *WhereClause) Grain {
	return Grain{components: SortedAddresses(GrainConcepts(concepts)), Where: where}
}

// GrainConcepts returns the members of concepts that define row identity,
// sorted by name.
func GrainConcepts(concepts []*Concept) []*Concept {
	pre := make([]*Concept, 0, len(concepts))
	for _, c := range concepts {
		if f, ok := c.Lineage.(*Function); ok && f.Operator == FuncAlias {
			if args := f.ConceptArguments(); len(args) > 0 {
				pre = append(pre, args[0])
				continue
			}
		}
		pre = append(pre, c)
	}
	others := AddressSet(pre)
	var out []*Concept
	for _, c := range pre {
		if ConceptIsRelevant(c, others) {
			out = append(out, c)
		}
	}
	out = UniqueConcepts(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ConceptIsRelevant reports whether c adds row identity beyond others.
func ConceptIsRelevant(c *Concept, others map[string]bool) bool {
	if DataTypeEqual(c.Datatype, TypeUnknown) {
		return false
	}
	if c.Derivation() == DerivationConstant {
		return false
	}
	if c.IsAggregate() {
		agg, ok := c.Lineage.(*AggregateWrapper)
		if !ok || len(agg.By) == 0 {
			return false
		}
	}
	if (c.Purpose == PurposeProperty || c.Purpose == PurposeMetric || c.Purpose == PurposeKey) && len(c.Keys) > 0 {
		if allIn(c.Keys, others) {
			return false
		}
	}
	if c.Purpose == PurposeMetric && allIn(c.Grain.components, others) {
		return false
	}
	if c.Derivation() == DerivationBasic {
		if f, ok := c.Lineage.(*Function); ok {
			relevant := false
			for _, arg := range f.Arguments {
				relevant = atomIsRelevant(arg, others) || relevant
			}
			return relevant
		}
	}
	return c.Granularity() != SingleRow
}

func atomIsRelevant(e Expr, others map[string]bool) bool {
	switch v := e.(type) {
	case *Concept:
		if others[v.Address()] {
			return false
		}
		return ConceptIsRelevant(v, others)
	case *AggregateWrapper:
		for _, b := range v.By {
			if atomIsRelevant(b, others) {
				return true
			}
		}
		return false
	case *Function:
		for _, a := range v.Arguments {
			if atomIsRelevant(a, others) {
				return true
			}
		}
		return false
	case *Comparison:
		return atomIsRelevant(v.Left, others) || atomIsRelevant(v.Right, others)
	case *SubselectComparison:
		return atomIsRelevant(v.Left, others)
	case *Conditional:
		return atomIsRelevant(v.Left, others) || atomIsRelevant(v.Right, others)
	case *Parenthetical:
		return atomIsRelevant(v.Content, others)
	}
	return false
}

func allIn(addrs []string, set map[string]bool) bool {
	for _, a := range addrs {
		if !set[a] {
			return false
		}
	}
	return true
}

// Components returns the sorted component addresses.
func (g Grain) Components() []string {
	out := make([]string, len(g.components))
	copy(out, g.components)
	return out
}

// Set returns the components as a lookup set.
func (g Grain) Set() map[string]bool {
	out := make(map[string]bool, len(g.components))
	for _, c := range g.components {
		out[c] = true
	}
	return out
}

// Contains reports whether addr is a component.
func (g Grain) Contains(addr string) bool {
	i := sort.SearchStrings(g.components, addr)
	return i < len(g.components) && g.components[i] == addr
}

// IsEmpty reports whether the grain has no components.
func (g Grain) IsEmpty() bool { return len(g.components) == 0 }

// Abstract holds when the grain is empty or only holds the all-rows sentinel.
func (g Grain) Abstract() bool {
	for _, c := range g.components {
		if !strings.HasSuffix(c, AllRowsConcept) {
			return false
		}
	}
	return true
}

// Add is the union of two grains. Where clauses are AND-ed when they differ.
func (g Grain) Add(o Grain) Grain {
	where := g.Where
	if o.Where != nil {
		switch {
		case g.Where == nil:
			where = o.Where
		case !g.Where.Equal(o.Where):
			where = &WhereClause{Conditional: &Conditional{Left: g.Where.Conditional, Right: o.Where.Conditional, Operator: BoolAnd}}
		}
	}
	merged := append(g.Components(), o.components...)
	return Grain{components: sortedUnique(merged), Where: where}
}

// SumGrains adds all grains together.
func SumGrains(gs ...Grain) Grain {
	var out Grain
	for _, g := range gs {
		out = out.Add(g)
	}
	return out
}

// Sub removes the components of o.
func (g Grain) Sub(o Grain) Grain {
	var out []string
	for _, c := range g.components {
		if !o.Contains(c) {
			out = append(out, c)
		}
	}
	return Grain{components: out, Where: g.Where}
}

// Issubset reports whether every component of g is in o.
func (g Grain) Issubset(o Grain) bool {
	for _, c := range g.components {
		if !o.Contains(c) {
			return false
		}
	}
	return true
}

// Intersection keeps components present in both grains.
func (g Grain) Intersection(o Grain) Grain {
	var out []string
	for _, c := range g.components {
		if o.Contains(c) {
			out = append(out, c)
		}
	}
	return Grain{components: out}
}

// Isdisjoint reports whether the grains share no component.
func (g Grain) Isdisjoint(o Grain) bool {
	for _, c := range g.components {
		if o.Contains(c) {
			return false
		}
	}
	return true
}

// WithMerge substitutes target for source.
func (g Grain) WithMerge(source, target string) Grain {
	out := make([]string, len(g.components))
	for i, c := range g.components {
		if c == source {
			out[i] = target
		} else {
			out[i] = c
		}
	}
	return Grain{components: sortedUnique(out), Where: g.Where}
}

// WithNamespace moves default-namespace components into ns.
func (g Grain) WithNamespace(ns string) Grain {
	out := make([]string, len(g.components))
	for i, c := range g.components {
		out[i] = AddressWithNamespace(c, ns)
	}
	var where *WhereClause
	if g.Where != nil {
		where = g.Where.mapConcepts(func(c *Concept) *Concept { return c.WithNamespace(ns) })
	}
	return Grain{components: sortedUnique(out), Where: where}
}

// Equal compares components only.
func (g Grain) Equal(o Grain) bool {
	if len(g.components) != len(o.components) {
		return false
	}
	for i := range g.components {
		if g.components[i] != o.components[i] {
			return false
		}
	}
	return true
}

func (g Grain) String() string {
	var base string
	if g.Abstract() {
		base = "Grain<Abstract>"
	} else {
		base = "Grain<" + strings.Join(g.components, ",") + ">"
	}
	if g.Where != nil {
		base += "|" + g.Where.String()
	}
	return base
}

// AddressWithNamespace moves a default-namespace address into ns, or
// prefixes ns onto any other address.
func AddressWithNamespace(address, ns string) string {
	head, rest, ok := strings.Cut(address, ".")
	if ok && head == DefaultNamespace {
		return ns + "." + rest
	}
	return ns + "." + address
}

func addressNamespace(current, ns string) string {
	if current != "" && current != DefaultNamespace && current != ns {
		return ns + "." + current
	}
	return ns
}

func safeIdentifier(s string) string {
	return strings.ReplaceAll(s, ".", "_")
}
