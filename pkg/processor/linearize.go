package processor

import (
	"fmt"
	"slices"
	"sort"

	"github.com/leapstack-labs/grainql/pkg/core"
)

// unionOperator joins the members of a union CTE.
const unionOperator = "UNION ALL"

type linearizer struct {
	names           *nameMap
	validateMissing bool
}

// datasourceQuery wraps a physical datasource so it can become a CTE of
// its own when a parent joins it with other sources.
func datasourceQuery(ds *core.Datasource) (*core.QueryDatasource, error) {
	concepts := ds.Concepts()
	sm := make(map[string][]core.Source, len(concepts))
	for _, c := range concepts {
		sm[c.Address()] = []core.Source{ds}
	}
	return core.NewQueryDatasource(core.QueryDatasource{
		Inputs:      concepts,
		Outputs:     concepts,
		SourceMap:   sm,
		Datasources: []core.Source{ds},
		Grain:       ds.Grain,
		SourceType:  core.SourceSelect,
		Partial:     ds.PartialConcepts(),
		Nullable:    ds.NullableConcepts(),
	}, false)
}

// toCTE converts q and, recursively, everything it reads into CTEs.
func (l *linearizer) toCTE(q *core.QueryDatasource) (*core.CTE, error) {
	if q.SourceType == core.SourceUnion {
		return l.unionCTE(q)
	}

	var (
		parents  []*core.CTE
		bySource = map[string]*core.CTE{}
		sm       map[string][]string
	)
	direct, single := singlePhysical(q)
	if single || len(q.Datasources) == 0 {
		sm = directSourceMap(q, direct)
	} else {
		for _, s := range q.Datasources {
			sub, err := l.sourceCTE(s)
			if err != nil {
				return nil, err
			}
			parents = append(parents, sub)
			bySource[s.FullName()] = sub
		}
		var err error
		if sm, err = l.sourceMap(q, bySource); err != nil {
			return nil, err
		}
	}

	existence, existenceParents, err := l.existenceMap(q)
	if err != nil {
		return nil, err
	}

	joins := make([]*core.Join, 0, len(q.Joins))
	for _, j := range q.Joins {
		join, err := instantiateJoin(j, bySource)
		if err != nil {
			return nil, err
		}
		joins = append(joins, join)
	}

	cte := &core.CTE{
		Name:               l.names.name(q.Identifier()),
		Source:             q,
		OutputColumns:      slices.Clone(q.Outputs),
		SourceMap:          sm,
		ExistenceSourceMap: existence,
		Grain:              q.Grain,
		GroupToGrain:       q.GroupRequired(),
		ParentCTEs:         append(parents, existenceParents...),
		Joins:              joins,
		Condition:          q.Condition,
		Partial:            slices.Clone(q.Partial),
		Nullable:           slices.Clone(q.Nullable),
		JoinDerived:        slices.Clone(q.JoinDerived),
		Hidden:             slices.Clone(q.Hidden),
		OrderBy:            q.OrderBy,
		Limit:              q.Limit,
	}
	if single && len(existenceParents) > 0 {
		cte.BaseNameOverride = direct.SafeLocation()
		cte.BaseAliasOverride = direct.FullName()
	}
	if l.validateMissing {
		for _, c := range cte.OutputColumns {
			if _, ok := sm[c.Address()]; ok {
				continue
			}
			if !slices.ContainsFunc(c.Pseudonyms, func(p string) bool { _, ok := sm[p]; return ok }) {
				return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("missing %s in source map of %s", c.Address(), cte.Name)}
			}
		}
	}
	return cte, nil
}

// singlePhysical reports whether q reads exactly one physical table.
func singlePhysical(q *core.QueryDatasource) (*core.Datasource, bool) {
	if len(q.Datasources) != 1 {
		return nil, false
	}
	ds, ok := q.Datasources[0].(*core.Datasource)
	return ds, ok
}

func directSourceMap(q *core.QueryDatasource, ds *core.Datasource) map[string][]string {
	sm := make(map[string][]string, len(q.SourceMap))
	for k, v := range q.SourceMap {
		if len(v) == 0 || ds == nil {
			sm[k] = []string{}
			continue
		}
		sm[k] = []string{ds.FullName()}
	}
	return sm
}

func (l *linearizer) sourceCTE(s core.Source) (*core.CTE, error) {
	switch v := s.(type) {
	case *core.QueryDatasource:
		return l.toCTE(v)
	case *core.Datasource:
		q, err := datasourceQuery(v)
		if err != nil {
			return nil, err
		}
		return l.toCTE(q)
	}
	return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("cannot linearize source %T", s)}
}

// sourceMap points each concept at the parent CTEs providing it, preferring
// parents where it is complete.
func (l *linearizer) sourceMap(q *core.QueryDatasource, bySource map[string]*core.CTE) (map[string][]string, error) {
	sm := make(map[string][]string, len(q.SourceMap))
	for addr, sources := range q.SourceMap {
		if len(sources) == 0 {
			sm[addr] = []string{}
			continue
		}
		var names, fallback []string
		for _, s := range sources {
			cte, ok := bySource[s.FullName()]
			if !ok {
				continue
			}
			col, ok := findColumn(cte.OutputColumns, addr)
			if !ok {
				continue
			}
			if core.ContainsAddress(cte.Partial, col.Address()) {
				fallback = appendName(fallback, cte.Name)
				continue
			}
			names = appendName(names, cte.Name)
		}
		if len(names) == 0 && len(fallback) > 0 {
			names = fallback[:1]
		}
		if len(names) == 0 {
			if l.validateMissing {
				return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("missing parent CTE for %s in %s", addr, q.Identifier())}
			}
			continue
		}
		sort.Strings(names)
		sm[addr] = names
	}
	return sm, nil
}

func (l *linearizer) existenceMap(q *core.QueryDatasource) (map[string][]string, []*core.CTE, error) {
	if len(q.ExistenceSources) == 0 {
		return nil, nil, nil
	}
	addrs := make([]string, 0, len(q.ExistenceSources))
	for k := range q.ExistenceSources {
		addrs = append(addrs, k)
	}
	sort.Strings(addrs)
	out := map[string][]string{}
	var parents []*core.CTE
	built := map[string]*core.CTE{}
	for _, addr := range addrs {
		for _, s := range q.ExistenceSources[addr] {
			cte, ok := built[s.FullName()]
			if !ok {
				var err error
				if cte, err = l.sourceCTE(s); err != nil {
					return nil, nil, err
				}
				built[s.FullName()] = cte
				parents = append(parents, cte)
			}
			out[addr] = appendName(out[addr], cte.Name)
		}
	}
	return out, parents, nil
}

// instantiateJoin converts a join between sources into a join between the
// CTEs built for them.
func instantiateJoin(j *core.BaseJoin, bySource map[string]*core.CTE) (*core.Join, error) {
	lookup := func(s core.Source) (*core.CTE, error) {
		if s == nil {
			return nil, nil
		}
		cte, ok := bySource[s.FullName()]
		if !ok {
			have := make([]string, 0, len(bySource))
			for k := range bySource {
				have = append(have, k)
			}
			sort.Strings(have)
			return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("could not find CTE for datasource %s, have %v", s.FullName(), have)}
		}
		return cte, nil
	}
	left, err := lookup(j.Left)
	if err != nil {
		return nil, err
	}
	right, err := lookup(j.Right)
	if err != nil {
		return nil, err
	}
	out := &core.Join{Left: left, Right: right, JoinType: j.JoinType}
	if len(j.ConceptPairs) == 0 {
		out.Keys = slices.Clone(j.Concepts)
		return out, nil
	}
	for _, p := range j.ConceptPairs {
		existing := left
		if p.Existing != nil {
			if existing, err = lookup(p.Existing); err != nil {
				return nil, err
			}
		}
		out.Pairs = append(out.Pairs, core.CTEConceptPair{Left: p.Left, Right: p.Right, Existing: existing})
	}
	return out, nil
}

// unionCTE renders every child as an internal statement; the parents of the
// children become the parents of the union.
func (l *linearizer) unionCTE(q *core.QueryDatasource) (*core.CTE, error) {
	var internal, parents []*core.CTE
	for _, s := range q.Datasources {
		child, ok := s.(*core.QueryDatasource)
		if !ok {
			return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("union member %s is not a derived source", s.Name())}
		}
		cte, err := l.toCTE(child)
		if err != nil {
			return nil, err
		}
		internal = append(internal, cte)
		parents = append(parents, cte.ParentCTEs...)
	}
	if len(internal) == 0 {
		return nil, &core.InvalidSyntaxError{Message: "union without members"}
	}
	sm := make(map[string][]string, len(q.Outputs))
	for _, c := range q.Outputs {
		sm[c.Address()] = []string{}
	}
	return &core.CTE{
		Name:          l.names.name(q.Identifier()),
		Source:        q,
		OutputColumns: slices.Clone(q.Outputs),
		SourceMap:     sm,
		Grain:         internal[0].Grain,
		ParentCTEs:    parents,
		Internal:      internal,
		Operator:      unionOperator,
		Hidden:        slices.Clone(q.Hidden),
		OrderBy:       q.OrderBy,
		Limit:         q.Limit,
	}, nil
}

func findColumn(cs []*core.Concept, addr string) (*core.Concept, bool) {
	for _, c := range cs {
		if c.Address() == addr || c.HasPseudonym(addr) {
			return c, true
		}
	}
	return nil, false
}

func appendName(names []string, name string) []string {
	if slices.Contains(names, name) {
		return names
	}
	return append(names, name)
}

// flatten lists cte and every ancestor, children first.
func flatten(cte *core.CTE) []*core.CTE {
	out := []*core.CTE{cte}
	for _, p := range cte.ParentCTEs {
		out = append(out, flatten(p)...)
	}
	return out
}

// dedupe merges CTEs sharing a name and rewires every reference to the
// merged copy. It returns the CTEs parents first and the merged root.
func dedupe(root *core.CTE) ([]*core.CTE, *core.CTE, error) {
	raw := flatten(root)
	slices.Reverse(raw)
	merged, err := core.MergeCTEs(raw)
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]*core.CTE, len(merged))
	for _, c := range merged {
		byName[c.Name] = c
	}
	var relink func(c *core.CTE)
	seen := map[*core.CTE]bool{}
	relink = func(c *core.CTE) {
		if seen[c] {
			return
		}
		seen[c] = true
		parents := make([]*core.CTE, 0, len(c.ParentCTEs))
		for _, p := range c.ParentCTEs {
			if m, ok := byName[p.Name]; ok {
				p = m
			}
			if !slices.Contains(parents, p) {
				parents = append(parents, p)
			}
		}
		c.ParentCTEs = parents
		for _, j := range c.Joins {
			if j.Left != nil {
				if m, ok := byName[j.Left.Name]; ok {
					j.Left = m
				}
			}
			if m, ok := byName[j.Right.Name]; ok {
				j.Right = m
			}
			for i, p := range j.Pairs {
				if p.Existing == nil {
					continue
				}
				if m, ok := byName[p.Existing.Name]; ok {
					j.Pairs[i].Existing = m
				}
			}
		}
		for _, in := range c.Internal {
			relink(in)
		}
	}
	for _, c := range merged {
		relink(c)
	}
	return merged, byName[root.Name], nil
}
