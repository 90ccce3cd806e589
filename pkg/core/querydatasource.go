package core

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// GroupMode overrides whether a QueryDatasource must emit a GROUP BY.
type GroupMode int

// GroupMode values. GroupAuto derives the decision from the source type.
const (
	GroupAuto GroupMode = iota
	GroupForce
	GroupSkip
)

// QueryDatasource is the computed, not yet materialized, result of
// resolving concepts against sources.
type QueryDatasource struct {
	Inputs  []*Concept
	Outputs []*Concept
	// SourceMap maps each concept address to the sources contributing it.
	// An empty entry means the concept is computed in place.
	SourceMap   map[string][]Source
	Datasources []Source
	Grain       Grain
	Joins       []*BaseJoin
	Limit       int
	Condition   Condition
	OrderBy     *OrderBy
	SourceType  SourceType
	Partial     []*Concept
	Nullable    []*Concept
	Hidden      []*Concept
	JoinDerived []*Concept
	ForceGroup  GroupMode
	// ExistenceSources hold subselect inputs keyed by the condition they serve.
	ExistenceSources map[string][]Source
}

// NewQueryDatasource normalizes and validates q. With validateMissing the
// source map must cover every input and output.
func NewQueryDatasource(q QueryDatasource, validateMissing bool) (*QueryDatasource, error) {
	q.Inputs = UniqueConcepts(q.Inputs)
	q.Outputs = UniqueConcepts(q.Outputs)
	q.Partial = UniqueConcepts(q.Partial)
	q.Nullable = UniqueConcepts(q.Nullable)
	q.Hidden = UniqueConcepts(q.Hidden)
	if q.SourceMap == nil {
		q.SourceMap = map[string][]Source{}
	}
	if q.SourceType == "" {
		q.SourceType = SourceSelect
	}
	seen := map[string]bool{}
	for _, j := range q.Joins {
		if j.Left.FullName() == j.Right.FullName() {
			return nil, &InvalidSyntaxError{Message: fmt.Sprintf("cannot join a datasource to itself, joining %s", j.Left.Name())}
		}
		id := j.UniqueID()
		if seen[id] {
			return nil, &InvalidSyntaxError{Message: fmt.Sprintf("duplicate join %s", id)}
		}
		seen[id] = true
	}
	if validateMissing {
		for _, c := range append(q.Inputs, q.Outputs...) {
			if _, ok := q.SourceMap[c.Address()]; !ok {
				keys := make([]string, 0, len(q.SourceMap))
				for k := range q.SourceMap {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				return nil, &InvalidSyntaxError{Message: fmt.Sprintf(
					"source map missing %s, have %s", c.Address(), strings.Join(keys, ", "))}
			}
		}
	}
	return &q, nil
}

func (*QueryDatasource) isSource() {}

// Identifier is derived from the joined sources, the grain and the
// condition, so equal resolutions share a name.
func (q *QueryDatasource) Identifier() string {
	names := make([]string, len(q.Datasources))
	for i, d := range q.Datasources {
		names[i] = d.Name()
	}
	var b strings.Builder
	b.WriteString(strings.Join(names, "_join_"))
	if comps := q.Grain.Components(); len(comps) > 0 && !q.Grain.Abstract() {
		parts := make([]string, len(comps))
		for i, c := range comps {
			parts[i] = safeIdentifier(c)
		}
		b.WriteString("_at_" + strings.Join(parts, "_"))
	} else {
		b.WriteString("_at_abstract")
	}
	if q.Condition != nil {
		h := fnv.New32a()
		h.Write([]byte(q.Condition.String()))
		b.WriteString("_filtered_by_" + strconv.FormatUint(uint64(h.Sum32()), 10))
	}
	return b.String()
}

// Name is the identifier.
func (q *QueryDatasource) Name() string { return q.Identifier() }

// FullName is the identifier.
func (q *QueryDatasource) FullName() string { return q.Identifier() }

// OutputConcepts returns the outputs.
func (q *QueryDatasource) OutputConcepts() []*Concept { return q.Outputs }

// PartialConcepts returns outputs not complete at the grain.
func (q *QueryDatasource) PartialConcepts() []*Concept { return q.Partial }

// NullableConcepts returns outputs that may be null.
func (q *QueryDatasource) NullableConcepts() []*Concept { return q.Nullable }

// SourceGrain is the result grain.
func (q *QueryDatasource) SourceGrain() Grain { return q.Grain }

func (q *QueryDatasource) String() string { return q.Identifier() + "@<" + q.Grain.String() + ">" }

// GroupRequired reports whether the result must be grouped to its grain.
func (q *QueryDatasource) GroupRequired() bool {
	switch q.ForceGroup {
	case GroupForce:
		return true
	case GroupSkip:
		return false
	}
	return q.SourceType == SourceGroup
}

// NonPartialAddresses returns output addresses not marked partial.
func (q *QueryDatasource) NonPartialAddresses() []string {
	partial := AddressSet(q.Partial)
	var out []string
	for _, c := range q.Outputs {
		if !partial[c.Address()] {
			out = append(out, c.Address())
		}
	}
	return out
}

// Add merges two datasources of the same shape into one.
func (q *QueryDatasource) Add(o *QueryDatasource) (*QueryDatasource, error) {
	switch {
	case !q.Grain.Equal(o.Grain):
		return nil, &InvalidSyntaxError{Message: "can only merge two query datasources with identical grain"}
	case q.SourceType != o.SourceType:
		return nil, &InvalidSyntaxError{Message: "can only merge two query datasources with identical source type"}
	case q.GroupRequired() != o.GroupRequired():
		return nil, &InvalidSyntaxError{Message: "can only merge two datasources if the group required flag is the same"}
	case !sameAddresses(q.JoinDerived, o.JoinDerived):
		return nil, &InvalidSyntaxError{Message: "can only merge two datasources if the join derived concepts are the same"}
	case q.ForceGroup != o.ForceGroup:
		return nil, &InvalidSyntaxError{Message: "can only merge two datasources if the force group flag is the same"}
	}

	merged := map[string]Source{}
	var names []string
	for _, d := range append(append([]Source{}, q.Datasources...), o.Datasources...) {
		existing, ok := merged[d.FullName()]
		if !ok {
			merged[d.FullName()] = d
			names = append(names, d.FullName())
			continue
		}
		eq, lok := existing.(*QueryDatasource)
		oq, rok := d.(*QueryDatasource)
		if lok && rok {
			sum, err := eq.Add(oq)
			if err != nil {
				return nil, err
			}
			merged[d.FullName()] = sum
		}
	}
	sources := make([]Source, 0, len(names))
	for _, name := range names {
		sources = append(sources, merged[name])
	}

	sourceMap := map[string][]Source{}
	for _, m := range []map[string][]Source{q.SourceMap, o.SourceMap} {
		for k, v := range m {
			sourceMap[k] = unionSources(sourceMap[k], v)
		}
	}
	existence := map[string][]Source{}
	for _, m := range []map[string][]Source{q.ExistenceSources, o.ExistenceSources} {
		for k, v := range m {
			existence[k] = unionSources(existence[k], v)
		}
	}

	var joins []*BaseJoin
	seen := map[string]bool{}
	for _, j := range append(append([]*BaseJoin{}, q.Joins...), o.Joins...) {
		if !seen[j.UniqueID()] {
			seen[j.UniqueID()] = true
			joins = append(joins, j)
		}
	}

	limit := q.Limit
	if o.Limit > 0 && (limit == 0 || o.Limit < limit) {
		limit = o.Limit
	}
	orderBy := q.OrderBy
	if orderBy == nil {
		orderBy = o.OrderBy
	}
	return NewQueryDatasource(QueryDatasource{
		Inputs:           append(append([]*Concept{}, q.Inputs...), o.Inputs...),
		Outputs:          append(append([]*Concept{}, q.Outputs...), o.Outputs...),
		SourceMap:        sourceMap,
		Datasources:      sources,
		Grain:            q.Grain,
		Joins:            joins,
		Limit:            limit,
		Condition:        And(q.Condition, o.Condition),
		OrderBy:          orderBy,
		SourceType:       q.SourceType,
		Partial:          append(append([]*Concept{}, q.Partial...), o.Partial...),
		Nullable:         append(append([]*Concept{}, q.Nullable...), o.Nullable...),
		Hidden:           append(append([]*Concept{}, q.Hidden...), o.Hidden...),
		JoinDerived:      q.JoinDerived,
		ForceGroup:       q.ForceGroup,
		ExistenceSources: existence,
	}, false)
}

func unionSources(a, b []Source) []Source {
	out := append([]Source{}, a...)
	for _, s := range b {
		dup := false
		for _, x := range out {
			if x.FullName() == s.FullName() {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

func sameAddresses(a, b []*Concept) bool {
	as, bs := SortedAddresses(a), SortedAddresses(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
