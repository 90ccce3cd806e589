package core

import (
	"fmt"
	"slices"
	"strings"
)

// Source is anything a query can read concepts from: a physical Datasource,
// a computed QueryDatasource, or an UnnestJoin.
type Source interface {
	Name() string
	FullName() string
	OutputConcepts() []*Concept
	PartialConcepts() []*Concept
	NullableConcepts() []*Concept
	SourceGrain() Grain
	isSource()
}

// Address is the physical location of a datasource: a table name, or a raw
// query when IsQuery is set.
type Address struct {
	Location string
	IsQuery  bool
}

// ColumnAssignment binds a physical column (or a raw SQL expression) to a
// concept.
type ColumnAssignment struct {
	Alias     string
	RawExpr   string
	Concept   *Concept
	Modifiers []Modifier
}

// IsComplete reports whether the column holds every value of its concept.
func (c ColumnAssignment) IsComplete() bool {
	return !slices.Contains(c.Modifiers, ModifierPartial)
}

// IsNullable reports whether the column may be null.
func (c ColumnAssignment) IsNullable() bool {
	return slices.Contains(c.Modifiers, ModifierNullable)
}

// WithNamespace moves the bound concept into ns.
func (c ColumnAssignment) WithNamespace(ns string) ColumnAssignment {
	return ColumnAssignment{
		Alias:     c.Alias,
		RawExpr:   c.RawExpr,
		Concept:   c.Concept.WithNamespace(ns),
		Modifiers: slices.Clone(c.Modifiers),
	}
}

// Datasource is a physical table or query mapped onto concepts.
type Datasource struct {
	Identifier string
	Namespace  string
	Columns    []ColumnAssignment
	Address    Address
	Grain      Grain
	// Where filters the rows of the physical source.
	Where *WhereClause
	// NonPartialFor is the condition under which partial columns are complete.
	NonPartialFor *WhereClause
}

// NewDatasource builds a datasource. An empty grain defaults to the key
// columns.
func NewDatasource(identifier string, address Address, columns []ColumnAssignment, grain Grain) *Datasource {
	ds := &Datasource{
		Identifier: identifier,
		Namespace:  DefaultNamespace,
		Columns:    columns,
		Address:    address,
		Grain:      grain,
	}
	if ds.Grain.IsEmpty() {
		ds.Grain = ds.defaultGrain()
	}
	return ds
}

func (d *Datasource) defaultGrain() Grain {
	var keys []string
	for _, col := range d.Columns {
		if col.Concept.Purpose == PurposeKey {
			keys = append(keys, col.Concept.Address())
		}
	}
	return NewGrain(keys...)
}

func (*Datasource) isSource() {}

// Name is the datasource identifier.
func (d *Datasource) Name() string { return d.Identifier }

// FullName prefixes the identifier with the namespace, using underscores so
// the result is a valid SQL alias.
func (d *Datasource) FullName() string {
	if d.Namespace == "" {
		return d.Identifier
	}
	return safeIdentifier(d.Namespace) + "_" + d.Identifier
}

// Label is the environment key of the datasource: its identifier, prefixed
// by its namespace outside the default one.
func (d *Datasource) Label() string {
	if d.Namespace == "" || d.Namespace == DefaultNamespace {
		return d.Identifier
	}
	return d.Namespace + "." + d.Identifier
}

// SafeLocation is the table name or raw query to read from.
func (d *Datasource) SafeLocation() string { return d.Address.Location }

// SourceGrain is the declared grain.
func (d *Datasource) SourceGrain() Grain { return d.Grain }

func (d *Datasource) String() string {
	return d.Namespace + "." + d.Identifier + "@<" + d.Grain.String() + ">"
}

// Concepts returns every bound concept.
func (d *Datasource) Concepts() []*Concept {
	out := make([]*Concept, len(d.Columns))
	for i, c := range d.Columns {
		out[i] = c.Concept
	}
	return out
}

// OutputConcepts returns every bound concept.
func (d *Datasource) OutputConcepts() []*Concept { return d.Concepts() }

// FullConcepts returns concepts bound by complete columns.
func (d *Datasource) FullConcepts() []*Concept {
	var out []*Concept
	for _, c := range d.Columns {
		if c.IsComplete() {
			out = append(out, c.Concept)
		}
	}
	return out
}

// PartialConcepts returns concepts bound by partial columns.
func (d *Datasource) PartialConcepts() []*Concept {
	var out []*Concept
	for _, c := range d.Columns {
		if !c.IsComplete() {
			out = append(out, c.Concept)
		}
	}
	return out
}

// NullableConcepts returns concepts bound by nullable columns.
func (d *Datasource) NullableConcepts() []*Concept {
	var out []*Concept
	for _, c := range d.Columns {
		if c.IsNullable() {
			out = append(out, c.Concept)
		}
	}
	return out
}

// Column returns the assignment bound to c, matching pseudonyms on either
// side.
func (d *Datasource) Column(c *Concept) (ColumnAssignment, bool) {
	for _, col := range d.Columns {
		if col.Concept.Address() == c.Address() {
			return col, true
		}
	}
	for _, col := range d.Columns {
		if col.Concept.HasPseudonym(c.Address()) || c.HasPseudonym(col.Concept.Address()) {
			return col, true
		}
	}
	return ColumnAssignment{}, false
}

// GetAlias returns the physical column name for c.
func (d *Datasource) GetAlias(c *Concept) (string, error) {
	col, ok := d.Column(c)
	if !ok {
		return "", fmt.Errorf("concept %s not found on %s; have %s",
			c.Address(), d.Identifier, strings.Join(Addresses(d.Concepts()), ", "))
	}
	if col.RawExpr != "" {
		return col.RawExpr, nil
	}
	return col.Alias, nil
}

// WithNamespace moves the datasource and its columns into ns.
func (d *Datasource) WithNamespace(ns string) *Datasource {
	cols := make([]ColumnAssignment, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = c.WithNamespace(ns)
	}
	fn := func(c *Concept) *Concept { return c.WithNamespace(ns) }
	return &Datasource{
		Identifier:    d.Identifier,
		Namespace:     addressNamespace(d.Namespace, ns),
		Columns:       cols,
		Address:       d.Address,
		Grain:         d.Grain.WithNamespace(ns),
		Where:         d.Where.mapConcepts(fn),
		NonPartialFor: d.NonPartialFor.mapConcepts(fn),
	}
}

// withMerge rewrites every column concept for a merge of source into target.
func (d *Datasource) withMerge(source, target *Concept, modifiers []Modifier) *Datasource {
	n := *d
	n.Columns = make([]ColumnAssignment, len(d.Columns))
	for i, col := range d.Columns {
		mods := slices.Clone(col.Modifiers)
		if col.Concept.Address() == source.Address() {
			for _, m := range modifiers {
				if !slices.Contains(mods, m) {
					mods = append(mods, m)
				}
			}
		}
		n.Columns[i] = ColumnAssignment{
			Alias:     col.Alias,
			RawExpr:   col.RawExpr,
			Concept:   col.Concept.WithMerge(source, target, modifiers),
			Modifiers: mods,
		}
	}
	n.Grain = d.Grain.WithMerge(source.Address(), target.Address())
	return &n
}

// UnnestJoin expands a list concept into rows.
type UnnestJoin struct {
	Concept *Concept
	Alias   string
}

func (*UnnestJoin) isSource() {}

// Name is the join alias.
func (u *UnnestJoin) Name() string {
	if u.Alias == "" {
		return "unnest"
	}
	return u.Alias
}

// FullName identifies the unnested concept.
func (u *UnnestJoin) FullName() string { return u.Name() + "_" + u.Concept.SafeAddress() }

// OutputConcepts returns the unnested concept.
func (u *UnnestJoin) OutputConcepts() []*Concept { return []*Concept{u.Concept} }

// PartialConcepts is always empty.
func (u *UnnestJoin) PartialConcepts() []*Concept { return nil }

// NullableConcepts is always empty.
func (u *UnnestJoin) NullableConcepts() []*Concept { return nil }

// SourceGrain is the grain of the unnested concept.
func (u *UnnestJoin) SourceGrain() Grain { return NewGrain(u.Concept.Address()) }

// ConceptPair joins a left concept to a differently named right concept.
type ConceptPair struct {
	Left  *Concept
	Right *Concept
	// Existing is the source already holding Left, when it differs from the
	// join's left side.
	Existing Source
}

// BaseJoin is a join between two sources of a QueryDatasource.
type BaseJoin struct {
	Left         Source
	Right        Source
	Concepts     []*Concept
	JoinType     JoinType
	ConceptPairs []ConceptPair
}

// NewBaseJoin validates and builds a join on shared concepts. With
// filterToMutual, keys missing from either side are dropped instead of
// failing. When no keys remain, the join degrades to an unconditioned join
// only if one side is single row or at an abstract grain.
func NewBaseJoin(left, right Source, concepts []*Concept, joinType JoinType, filterToMutual bool) (*BaseJoin, error) {
	if left.FullName() == right.FullName() {
		return nil, &InvalidSyntaxError{Message: fmt.Sprintf("cannot join a datasource to itself, joining %s", left.Name())}
	}
	var final []*Concept
	for _, c := range concepts {
		include := true
		for _, side := range []Source{left, right} {
			if !hasConcept(side.OutputConcepts(), c) {
				if !filterToMutual {
					return nil, &InvalidSyntaxError{Message: fmt.Sprintf(
						"invalid join, missing %s on %s, have %s",
						c.Address(), side.Name(), strings.Join(Addresses(side.OutputConcepts()), ", "))}
				}
				include = false
			}
		}
		if include {
			final = append(final, c)
		}
	}
	j := &BaseJoin{Left: left, Right: right, JoinType: joinType, Concepts: final}
	if len(final) == 0 && len(concepts) > 0 {
		for _, side := range []Source{left, right} {
			if allSingleRow(side.OutputConcepts()) || allAbstract(side.OutputConcepts()) {
				j.Concepts = nil
				return j, nil
			}
		}
		return nil, &InvalidSyntaxError{Message: fmt.Sprintf(
			"No mutual join keys found between %s and %s, left_keys %v, right_keys %v, provided join concepts %v",
			left.Name(), right.Name(),
			Addresses(left.OutputConcepts()), Addresses(right.OutputConcepts()), Addresses(concepts))}
	}
	return j, nil
}

// NewPairJoin builds a join whose key columns carry different concepts on
// each side.
func NewPairJoin(left, right Source, pairs []ConceptPair, joinType JoinType) (*BaseJoin, error) {
	if left.FullName() == right.FullName() {
		return nil, &InvalidSyntaxError{Message: fmt.Sprintf("cannot join a datasource to itself, joining %s", left.Name())}
	}
	if len(pairs) == 0 {
		return nil, &InvalidSyntaxError{Message: fmt.Sprintf("no concept pairs to join %s and %s", left.Name(), right.Name())}
	}
	for _, p := range pairs {
		src := left
		if p.Existing != nil {
			src = p.Existing
		}
		if !hasConcept(src.OutputConcepts(), p.Left) {
			return nil, &InvalidSyntaxError{Message: fmt.Sprintf("invalid join, missing %s on %s", p.Left.Address(), src.Name())}
		}
		if !hasConcept(right.OutputConcepts(), p.Right) {
			return nil, &InvalidSyntaxError{Message: fmt.Sprintf("invalid join, missing %s on %s", p.Right.Address(), right.Name())}
		}
	}
	return &BaseJoin{Left: left, Right: right, JoinType: joinType, ConceptPairs: pairs}, nil
}

// UniqueID identifies the join for deduplication.
func (j *BaseJoin) UniqueID() string { return j.String() }

func (j *BaseJoin) String() string {
	keys := Addresses(j.Concepts)
	for _, p := range j.ConceptPairs {
		keys = append(keys, p.Left.Address()+"="+p.Right.Address())
	}
	return string(j.JoinType) + " " + j.Right.Name() + " on " + strings.Join(keys, ",")
}

func hasConcept(cs []*Concept, c *Concept) bool {
	for _, x := range cs {
		if x.Address() == c.Address() || x.HasPseudonym(c.Address()) || c.HasPseudonym(x.Address()) {
			return true
		}
	}
	return false
}

func allSingleRow(cs []*Concept) bool {
	for _, c := range cs {
		if c.Granularity() != SingleRow {
			return false
		}
	}
	return true
}

func allAbstract(cs []*Concept) bool {
	for _, c := range cs {
		if !c.Grain.Abstract() {
			return false
		}
	}
	return true
}
