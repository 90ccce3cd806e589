package core

import (
	"maps"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// Environment is an immutable registry of concepts and datasources. Every
// mutating operation returns a new snapshot and leaves the receiver intact.
type Environment struct {
	namespace   string
	concepts    map[string]*Concept
	datasources map[string]*Datasource
	imports     map[string]string
	// aliasOrigin keeps the original definition of every merged source.
	aliasOrigin map[string]*Concept
	merged      map[string]string
	autoDerived map[string]bool
}

// NewEnvironment returns an environment holding only internal concepts.
func NewEnvironment() *Environment {
	return &Environment{
		namespace:   DefaultNamespace,
		concepts:    map[string]*Concept{AllRows.Address(): AllRows},
		datasources: map[string]*Datasource{},
		imports:     map[string]string{},
		aliasOrigin: map[string]*Concept{},
		merged:      map[string]string{},
		autoDerived: map[string]bool{},
	}
}

func (e *Environment) clone() *Environment {
	return &Environment{
		namespace:   e.namespace,
		concepts:    maps.Clone(e.concepts),
		datasources: maps.Clone(e.datasources),
		imports:     maps.Clone(e.imports),
		aliasOrigin: maps.Clone(e.aliasOrigin),
		merged:      maps.Clone(e.merged),
		autoDerived: maps.Clone(e.autoDerived),
	}
}

// Namespace is the default namespace of unqualified lookups.
func (e *Environment) Namespace() string { return e.namespace }

// Lookup finds a concept by address. Unqualified names resolve against the
// default namespace.
func (e *Environment) Lookup(address string) (*Concept, bool) {
	if c, ok := e.concepts[address]; ok {
		return c, true
	}
	if c, ok := e.concepts[DefaultNamespace+"."+address]; ok {
		return c, true
	}
	return nil, false
}

// Concept finds a concept by address, failing with suggestions for similar
// addresses when it is missing.
func (e *Environment) Concept(address string) (*Concept, error) {
	if c, ok := e.Lookup(address); ok {
		return c, nil
	}
	return nil, &UndefinedConceptError{Address: address, Suggestions: e.Suggest(address)}
}

// Suggest returns known addresses close to address, at most five.
func (e *Environment) Suggest(address string) []string {
	fold := cases.Fold()
	input := fold.String(strings.TrimPrefix(address, DefaultNamespace+"."))
	var out []string
	for _, addr := range e.addresses() {
		if strings.HasPrefix(addr, InternalNamespace+".") {
			continue
		}
		candidate := fold.String(strings.TrimPrefix(addr, DefaultNamespace+"."))
		if candidate == input {
			continue
		}
		if strings.HasPrefix(candidate, input) || levenshtein(input, candidate) <= 3 {
			out = append(out, addr)
		}
		if len(out) == 5 {
			break
		}
	}
	return out
}

// levenshtein is the edit distance between two strings, by rune.
func levenshtein(a, b string) int {
	s1, s2 := []rune(a), []rune(b)
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}
	prev := make([]int, len(s2)+1)
	cur := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		cur[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(s2)]
}

func (e *Environment) addresses() []string {
	out := make([]string, 0, len(e.concepts))
	for k := range e.concepts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Concepts returns every concept sorted by address. Merged addresses that
// redirect to another concept are skipped.
func (e *Environment) Concepts() []*Concept {
	addrs := e.addresses()
	out := make([]*Concept, 0, len(addrs))
	for _, a := range addrs {
		if c := e.concepts[a]; c.Address() == a {
			out = append(out, c)
		}
	}
	return out
}

// Datasource finds a datasource by label: its identifier, prefixed by its
// namespace outside the default one.
func (e *Environment) Datasource(label string) (*Datasource, bool) {
	ds, ok := e.datasources[label]
	return ds, ok
}

// Datasources returns every datasource sorted by label.
func (e *Environment) Datasources() []*Datasource {
	labels := make([]string, 0, len(e.datasources))
	for k := range e.datasources {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	out := make([]*Datasource, 0, len(labels))
	for _, l := range labels {
		out = append(out, e.datasources[l])
	}
	return out
}

// Imports returns the imported namespaces and their origin.
func (e *Environment) Imports() map[string]string { return maps.Clone(e.imports) }

// AliasOrigin returns the definition a merged address had before the merge.
func (e *Environment) AliasOrigin(address string) (*Concept, bool) {
	c, ok := e.aliasOrigin[address]
	return c, ok
}

// IsAutoDerived reports whether the concept was generated from another,
// such as a date part.
func (e *Environment) IsAutoDerived(address string) bool { return e.autoDerived[address] }

// AddConcept registers c, replacing any concept with the same address, and
// generates date part concepts for temporal types.
func (e *Environment) AddConcept(c *Concept) *Environment {
	n := e.clone()
	n.addConcept(c)
	return n
}

func (e *Environment) addConcept(c *Concept) {
	e.concepts[c.Address()] = c
	delete(e.autoDerived, c.Address())
	e.generateRelated(c)
}

var (
	dateParts     = []FunctionType{FuncMonth, FuncYear, FuncQuarter}
	datetimeParts = []FunctionType{FuncDate, FuncHour, FuncMinute, FuncSecond}
)

func (e *Environment) generateRelated(c *Concept) {
	if e.autoDerived[c.Address()] {
		return
	}
	var parts []FunctionType
	switch {
	case DataTypeEqual(c.Datatype, TypeDate):
		parts = dateParts
	case DataTypeEqual(c.Datatype, TypeDatetime), DataTypeEqual(c.Datatype, TypeTimestamp):
		parts = append(slices.Clone(dateParts), datetimeParts...)
	default:
		return
	}
	purpose := PurposeProperty
	if c.Purpose == PurposeConstant {
		purpose = PurposeConstant
	}
	for _, op := range parts {
		f := MustFunction(op, c)
		f.OutputPurpose = purpose
		part := NewConcept(c.Name+"."+string(op), f.OutputDatatype, purpose, f)
		part.Namespace = c.Namespace
		part.Keys = []string{c.Address()}
		if purpose != PurposeConstant {
			part.Grain = NewGrain(c.Address())
		}
		if existing, ok := e.concepts[part.Address()]; ok && !e.autoDerived[existing.Address()] {
			continue
		}
		e.concepts[part.Address()] = part
		e.autoDerived[part.Address()] = true
	}
}

// AddDatasource registers ds. Derived concepts bound to a column are
// re-rooted on the datasource; the derivation survives under a
// _pre_persist_ name.
func (e *Environment) AddDatasource(ds *Datasource) *Environment {
	n := e.clone()
	cols := make([]ColumnAssignment, len(ds.Columns))
	for i, col := range ds.Columns {
		cols[i] = col
		c := col.Concept
		switch c.Derivation() {
		case DerivationRoot, DerivationConstant:
			if _, ok := n.concepts[c.Address()]; !ok {
				n.addConcept(c)
			}
			continue
		}
		derived := c.copy()
		derived.Name = PrePersistPrefix + c.Name
		n.concepts[derived.Address()] = derived

		rooted := c.WithLineage(nil)
		if len(rooted.Keys) == 0 && c.Purpose == PurposeProperty {
			rooted.Keys = ds.Grain.Components()
		}
		n.concepts[rooted.Address()] = rooted
		cols[i].Concept = rooted
	}
	stored := *ds
	stored.Columns = cols
	if stored.Namespace == "" {
		stored.Namespace = DefaultNamespace
	}
	n.datasources[stored.Label()] = &stored
	return n
}

// DeleteDatasource removes a datasource, reporting whether it existed.
func (e *Environment) DeleteDatasource(label string) (*Environment, bool) {
	if _, ok := e.datasources[label]; !ok {
		return e, false
	}
	n := e.clone()
	delete(n.datasources, label)
	return n, true
}

// MergeConcept declares source and target equivalent. Every concept and
// datasource referencing source is rewritten to use target, and lookups of
// source return target.
func (e *Environment) MergeConcept(source, target *Concept, modifiers []Modifier) *Environment {
	n := e.clone()
	if source.Address() == target.Address() {
		return n
	}
	n.aliasOrigin[source.Address()] = source
	n.merged[source.Address()] = target.Address()
	for addr, c := range n.concepts {
		if addr == source.Address() {
			continue
		}
		n.concepts[addr] = c.WithMerge(source, target, modifiers)
	}
	merged := target.WithPseudonyms(source.Address())
	if existing, ok := n.concepts[target.Address()]; ok {
		merged = existing.WithPseudonyms(source.Address())
	}
	n.concepts[target.Address()] = merged
	n.concepts[source.Address()] = merged
	for label, ds := range n.datasources {
		n.datasources[label] = ds.withMerge(source, target, modifiers)
	}
	return n
}

// MergedInto returns the address source was merged into.
func (e *Environment) MergedInto(source string) (string, bool) {
	t, ok := e.merged[source]
	return t, ok
}

// Import adds every concept and datasource of other under namespace alias.
func (e *Environment) Import(alias string, other *Environment, origin string) *Environment {
	n := e.clone()
	n.imports[alias] = origin
	for _, c := range other.Concepts() {
		if c.Namespace == InternalNamespace {
			continue
		}
		nc := c.WithNamespace(alias)
		n.concepts[nc.Address()] = nc
		if other.autoDerived[c.Address()] {
			n.autoDerived[nc.Address()] = true
		}
	}
	for _, ds := range other.Datasources() {
		nds := ds.WithNamespace(alias)
		n.datasources[nds.Label()] = nds
	}
	for src, tgt := range other.merged {
		n.merged[AddressWithNamespace(src, alias)] = AddressWithNamespace(tgt, alias)
	}
	return n
}

// MaterializedConcepts returns concepts bound to a column of any datasource.
func (e *Environment) MaterializedConcepts() []*Concept {
	bound := map[string]bool{}
	for _, ds := range e.datasources {
		for _, c := range ds.OutputConcepts() {
			bound[c.Address()] = true
		}
	}
	var out []*Concept
	for _, c := range e.Concepts() {
		if bound[c.Address()] {
			out = append(out, c)
		}
	}
	return out
}
