package core

import (
	"slices"
	"sort"
)

// Concept is a named, typed, purpose-tagged semantic field. Concepts are
// immutable values: every With* method returns a new instance.
type Concept struct {
	Name      string
	Namespace string
	Datatype  DataType
	Purpose   Purpose
	Lineage   Lineage
	// Keys holds the addresses a PROPERTY depends on.
	Keys       []string
	Grain      Grain
	Modifiers  []Modifier
	Pseudonyms []string
}

// NewConcept builds a concept with its default grain.
func NewConcept(name string, datatype DataType, purpose Purpose, lineage Lineage) *Concept {
	c := &Concept{
		Name:      name,
		Namespace: DefaultNamespace,
		Datatype:  datatype,
		Purpose:   purpose,
		Lineage:   lineage,
	}
	if c.Datatype == nil {
		c.Datatype = TypeUnknown
	}
	c.Grain = c.parseGrain()
	return c
}

// AllRows is the sentinel concept that marks an abstract, single-row grain.
var AllRows = &Concept{
	Name:      AllRowsConcept,
	Namespace: InternalNamespace,
	Datatype:  TypeInteger,
	Purpose:   PurposeConstant,
}

// parseGrain is the grain assigned at construction.
func (c *Concept) parseGrain() Grain {
	if c.Purpose == PurposeKey {
		return NewGrain(c.Address())
	}
	if agg, ok := c.Lineage.(*AggregateWrapper); ok && len(agg.By) > 0 {
		return NewGrain(Addresses(agg.By)...)
	}
	return Grain{}
}

func (c *Concept) mapConcepts(fn func(*Concept) *Concept) Expr { return fn(c) }

func (c *Concept) copy() *Concept {
	n := *c
	n.Keys = slices.Clone(c.Keys)
	n.Modifiers = slices.Clone(c.Modifiers)
	n.Pseudonyms = slices.Clone(c.Pseudonyms)
	return &n
}

// Address is the namespaced name of the concept.
func (c *Concept) Address() string {
	ns := c.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return ns + "." + c.Name
}

// SafeAddress is the address usable as a SQL identifier.
func (c *Concept) SafeAddress() string {
	return safeIdentifier(c.Address())
}

func (c *Concept) String() string {
	return c.Address() + "@" + c.Grain.String()
}

// Equal is structural equality over name, type, purpose, namespace and grain.
func (c *Concept) Equal(o *Concept) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Name == o.Name &&
		DataTypeEqual(c.Datatype, o.Datatype) &&
		c.Purpose == o.Purpose &&
		c.Address() == o.Address() &&
		c.Grain.Equal(o.Grain)
}

// HasModifier reports whether m is set on the concept.
func (c *Concept) HasModifier(m Modifier) bool {
	return slices.Contains(c.Modifiers, m)
}

// HasPseudonym reports whether addr is a known equivalent of the concept.
func (c *Concept) HasPseudonym(addr string) bool {
	return slices.Contains(c.Pseudonyms, addr)
}

// Matches reports whether addr names this concept or one of its pseudonyms.
func (c *Concept) Matches(addr string) bool {
	return c.Address() == addr || c.HasPseudonym(addr)
}

// ConceptArguments returns the concepts the lineage reads.
func (c *Concept) ConceptArguments() []*Concept {
	if c.Lineage == nil {
		return nil
	}
	return c.Lineage.ConceptArguments()
}

// Sources returns every upstream concept, transitively.
func (c *Concept) Sources() []*Concept {
	var out []*Concept
	seen := map[string]bool{}
	var walk func(x *Concept)
	walk = func(x *Concept) {
		for _, arg := range x.ConceptArguments() {
			if arg.Address() == c.Address() || seen[arg.Address()] {
				continue
			}
			seen[arg.Address()] = true
			out = append(out, arg)
			walk(arg)
		}
	}
	walk(c)
	return out
}

// IsAggregate reports whether the lineage is an aggregate function.
func (c *Concept) IsAggregate() bool {
	switch l := c.Lineage.(type) {
	case *Function:
		return IsAggregateFunction(l.Operator)
	case *AggregateWrapper:
		return IsAggregateFunction(l.Function.Operator)
	}
	return false
}

// Derivation classifies the concept by its lineage.
func (c *Concept) Derivation() Derivation {
	switch l := c.Lineage.(type) {
	case *WindowItem:
		return DerivationWindow
	case *FilterItem:
		return DerivationFilter
	case *AggregateWrapper:
		return DerivationAggregate
	case *RowsetItem:
		return DerivationRowset
	case *MultiSelectLineage:
		return DerivationMultiSelect
	case *MergeLineage:
		return DerivationMerge
	case *Function:
		switch {
		case IsAggregateFunction(l.Operator):
			return DerivationAggregate
		case l.Operator == FuncUnnest:
			return DerivationUnnest
		case l.Operator == FuncUnion:
			return DerivationUnion
		case IsSingleRowFunction(l.Operator):
			return DerivationConstant
		}
		args := l.ConceptArguments()
		if len(args) == 0 {
			return DerivationConstant
		}
		for _, a := range args {
			if a.Derivation() != DerivationConstant {
				return DerivationBasic
			}
		}
		return DerivationConstant
	case nil:
	}
	if c.Purpose == PurposeConstant {
		return DerivationConstant
	}
	return DerivationRoot
}

// Granularity reports whether the concept resolves to a single row.
func (c *Concept) Granularity() Granularity {
	d := c.Derivation()
	if d == DerivationConstant {
		return SingleRow
	}
	if d == DerivationAggregate {
		if c.Grain.Abstract() {
			return SingleRow
		}
		return MultiRow
	}
	if c.Namespace == InternalNamespace && c.Name == AllRowsConcept {
		return SingleRow
	}
	if d == DerivationUnnest || d == DerivationUnion {
		return MultiRow
	}
	if c.Lineage != nil {
		args := c.Lineage.ConceptArguments()
		for _, a := range args {
			if a.Granularity() != SingleRow {
				return MultiRow
			}
		}
		return SingleRow
	}
	return MultiRow
}

// WithGrain returns a copy bound to grain g.
func (c *Concept) WithGrain(g Grain) *Concept {
	n := c.copy()
	n.Grain = g
	return n
}

// WithDefaultGrain returns a copy with the grain implied by its purpose.
func (c *Concept) WithDefaultGrain() *Concept {
	var g Grain
	switch c.Purpose {
	case PurposeKey:
		g = NewGrain(c.Address())
	case PurposeProperty:
		components := slices.Clone(c.Keys)
		if c.Lineage != nil {
			for _, arg := range c.Lineage.ConceptArguments() {
				components = append(components, Addresses(arg.Sources())...)
			}
		}
		g = NewGrain(components...)
	case PurposeMetric:
		g = Grain{}
	case PurposeConstant:
		if c.Derivation() != DerivationConstant {
			g = NewGrain(c.Address())
		} else {
			g = c.Grain
		}
	default:
		g = c.Grain
	}
	return c.WithGrain(g)
}

// WithNamespace moves a default-namespace concept, and everything it
// references, into namespace ns.
func (c *Concept) WithNamespace(ns string) *Concept {
	n := c.copy()
	n.Namespace = addressNamespace(c.Namespace, ns)
	n.Lineage = mapLineage(c.Lineage, func(x *Concept) *Concept { return x.WithNamespace(ns) })
	n.Grain = c.Grain.WithNamespace(ns)
	for i, k := range n.Keys {
		n.Keys[i] = AddressWithNamespace(k, ns)
	}
	for i, p := range n.Pseudonyms {
		n.Pseudonyms[i] = AddressWithNamespace(p, ns)
	}
	return n
}

// WithMerge substitutes target for source throughout the concept. When the
// concept is the source itself the target is returned, carrying the source
// address as a pseudonym.
func (c *Concept) WithMerge(source, target *Concept, modifiers []Modifier) *Concept {
	if c.Address() == source.Address() {
		n := target.WithGrain(c.Grain.WithMerge(source.Address(), target.Address()))
		n.Pseudonyms = appendUnique(n.Pseudonyms, c.Address())
		return n
	}
	n := c.copy()
	n.Lineage = mapLineage(c.Lineage, func(x *Concept) *Concept { return x.WithMerge(source, target, modifiers) })
	n.Grain = c.Grain.WithMerge(source.Address(), target.Address())
	for i, k := range n.Keys {
		if k == source.Address() {
			n.Keys[i] = target.Address()
		}
	}
	n.Keys = sortedUnique(n.Keys)
	return n
}

// WithPseudonyms returns a copy with extra pseudonym addresses.
func (c *Concept) WithPseudonyms(addrs ...string) *Concept {
	n := c.copy()
	for _, a := range addrs {
		if a != c.Address() {
			n.Pseudonyms = appendUnique(n.Pseudonyms, a)
		}
	}
	return n
}

// WithKeys returns a copy with the given key addresses.
func (c *Concept) WithKeys(keys ...string) *Concept {
	n := c.copy()
	n.Keys = sortedUnique(keys)
	return n
}

// WithModifiers returns a copy with extra modifiers.
func (c *Concept) WithModifiers(ms ...Modifier) *Concept {
	n := c.copy()
	for _, m := range ms {
		if !slices.Contains(n.Modifiers, m) {
			n.Modifiers = append(n.Modifiers, m)
		}
	}
	return n
}

// WithLineage returns a copy with a replaced lineage.
func (c *Concept) WithLineage(l Lineage) *Concept {
	n := c.copy()
	n.Lineage = l
	return n
}

// WithSelectContext binds the concept to the grain of the select that
// outputs it. Aggregates without an explicit grain are grouped by the
// select grain.
func (c *Concept) WithSelectContext(g Grain, lookup func(string) (*Concept, bool)) *Concept {
	n := c.copy()
	finalGrain := c.Grain
	if finalGrain.IsEmpty() {
		finalGrain = g
	}
	if f, ok := c.Lineage.(*Function); ok && c.IsAggregate() && !g.IsEmpty() {
		by := make([]*Concept, 0, len(g.Components()))
		for _, addr := range g.Components() {
			if bc, found := lookup(addr); found {
				by = append(by, bc)
			}
		}
		n.Lineage = &AggregateWrapper{Function: f, By: by}
		finalGrain = g
		n.Keys = g.Components()
	} else if agg, ok := c.Lineage.(*AggregateWrapper); ok && len(c.Keys) == 0 {
		n.Keys = SortedAddresses(agg.By)
	}
	n.Grain = finalGrain
	return n
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	out := append(slices.Clone(list), v)
	sort.Strings(out)
	return out
}

func sortedUnique(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := slices.Clone(list)
	sort.Strings(out)
	return slices.Compact(out)
}
