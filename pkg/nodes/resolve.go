package nodes

import (
	"fmt"

	"github.com/leapstack-labs/grainql/pkg/core"
)

func resolveAll(nodes []*Node) ([]core.Source, error) {
	out := make([]core.Source, 0, len(nodes))
	for _, p := range nodes {
		qds, err := p.Resolve()
		if err != nil {
			return nil, err
		}
		out = append(out, qds)
	}
	return out, nil
}

func hiddenOf(s core.Source) map[string]bool {
	if q, ok := s.(*core.QueryDatasource); ok {
		return core.AddressSet(q.Hidden)
	}
	return nil
}

// sourceProvides returns the output of s that satisfies c, matching
// pseudonyms in either direction.
func sourceProvides(s core.Source, c *core.Concept) (*core.Concept, bool) {
	hidden := hiddenOf(s)
	var alias *core.Concept
	for _, o := range s.OutputConcepts() {
		if hidden[o.Address()] {
			continue
		}
		if o.Address() == c.Address() {
			return o, true
		}
		if alias == nil && (o.HasPseudonym(c.Address()) || c.HasPseudonym(o.Address())) {
			alias = o
		}
	}
	return alias, alias != nil
}

func appendSource(list []core.Source, s core.Source) []core.Source {
	for _, x := range list {
		if x.FullName() == s.FullName() {
			return list
		}
	}
	return append(list, s)
}

// conceptMap assigns each needed concept to the sources providing it.
// Complete columns win over partial ones; concepts listed in full are
// mapped to every source so they can be coalesced across a full join.
// Targets that are not inherited are computed in place and map to an
// empty list.
func conceptMap(sources []core.Source, targets, inherited []*core.Concept, full map[string]bool) map[string][]core.Source {
	out := map[string][]core.Source{}
	needed := core.UniqueConcepts(append(append([]*core.Concept{}, inherited...), targets...))
	for _, c := range needed {
		addr := c.Address()
		for _, s := range sources {
			o, ok := sourceProvides(s, c)
			if !ok || core.ContainsAddress(s.PartialConcepts(), o.Address()) {
				continue
			}
			if full[addr] || len(out[addr]) == 0 {
				out[addr] = appendSource(out[addr], s)
			}
		}
	}
	for _, c := range inherited {
		if len(out[c.Address()]) > 0 {
			continue
		}
		for _, s := range sources {
			if _, ok := sourceProvides(s, c); ok {
				out[c.Address()] = []core.Source{s}
				break
			}
		}
	}
	inheritedSet := core.AddressSet(inherited)
	for _, t := range targets {
		if !inheritedSet[t.Address()] {
			out[t.Address()] = []core.Source{}
		}
	}
	return out
}

func (n *Node) inherited() []*core.Concept {
	return core.UniqueConcepts(append(append([]*core.Concept{}, n.Inputs...), core.RowArguments(n.Condition)...))
}

func (n *Node) resolveExistence() (map[string][]core.Source, error) {
	if len(n.ExistenceParents) == 0 {
		return nil, nil
	}
	sources, err := resolveAll(n.ExistenceParents)
	if err != nil {
		return nil, err
	}
	out := map[string][]core.Source{}
	for _, c := range n.Existence {
		for _, s := range sources {
			if _, ok := sourceProvides(s, c); ok {
				out[c.Address()] = appendSource(out[c.Address()], s)
			}
		}
		if len(out[c.Address()]) == 0 {
			return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("no existence source for %s on %s", c.Address(), n)}
		}
	}
	return out, nil
}

func (n *Node) derivedGrain(sources []core.Source) core.Grain {
	if n.Grain != nil {
		return *n.Grain
	}
	if n.Type == core.SourceWindow || n.Type == core.SourceFilter || n.Type == core.SourceUnnest {
		var g core.Grain
		for _, s := range sources {
			g = g.Add(s.SourceGrain())
		}
		if n.Type == core.SourceUnnest {
			for _, c := range n.Outputs {
				if c.Derivation() == core.DerivationUnnest {
					g = g.Add(core.NewGrain(c.Address()))
				}
			}
		}
		return g
	}
	return core.GrainFromConcepts(n.Outputs, nil)
}

func (n *Node) outputsOnly(cs []*core.Concept) []*core.Concept {
	var out []*core.Concept
	for _, c := range cs {
		if core.ContainsAddress(n.Outputs, c.Address()) {
			out = append(out, c)
		}
	}
	return out
}

func (n *Node) resolveBase() (*core.QueryDatasource, error) {
	sources, err := resolveAll(n.Parents)
	if err != nil {
		return nil, err
	}
	existence, err := n.resolveExistence()
	if err != nil {
		return nil, err
	}
	return core.NewQueryDatasource(core.QueryDatasource{
		Inputs:           n.Inputs,
		Outputs:          n.Outputs,
		SourceMap:        conceptMap(sources, n.Outputs, n.inherited(), nil),
		Datasources:      sources,
		Grain:            n.derivedGrain(sources),
		Condition:        n.Condition,
		SourceType:       n.Type,
		Partial:          n.outputsOnly(n.Partial),
		Nullable:         n.outputsOnly(n.Nullable),
		Hidden:           n.Hidden,
		ForceGroup:       n.ForceGroup,
		OrderBy:          n.OrderBy,
		Limit:            n.Limit,
		ExistenceSources: existence,
	}, true)
}

func (n *Node) resolveConstant() (*core.QueryDatasource, error) {
	sm := map[string][]core.Source{}
	for _, c := range n.Outputs {
		sm[c.Address()] = []core.Source{}
	}
	return core.NewQueryDatasource(core.QueryDatasource{
		Outputs:    n.Outputs,
		SourceMap:  sm,
		Grain:      core.Grain{},
		SourceType: core.SourceConstant,
		Hidden:     n.Hidden,
		Condition:  n.Condition,
		ForceGroup: core.GroupSkip,
	}, true)
}

func (n *Node) resolveDatasource() (*core.QueryDatasource, error) {
	ds := n.Datasource
	sm := map[string][]core.Source{}
	inherited := core.AddressSet(n.inherited())
	for _, c := range core.UniqueConcepts(append(n.inherited(), n.Outputs...)) {
		if _, ok := ds.Column(c); ok {
			sm[c.Address()] = []core.Source{ds}
			continue
		}
		if inherited[c.Address()] {
			return nil, &core.NoDatasourceError{Concepts: []string{c.Address()}}
		}
		sm[c.Address()] = []core.Source{}
	}
	existence, err := n.resolveExistence()
	if err != nil {
		return nil, err
	}
	grain := ds.Grain
	switch {
	case n.Grain != nil:
		grain = *n.Grain
	case n.ForceGroup == core.GroupForce:
		grain = core.GrainFromConcepts(n.Outputs, nil)
	}
	return core.NewQueryDatasource(core.QueryDatasource{
		Inputs:           n.Inputs,
		Outputs:          n.Outputs,
		SourceMap:        sm,
		Datasources:      []core.Source{ds},
		Grain:            grain,
		Condition:        n.Condition,
		SourceType:       core.SourceSelect,
		Partial:          n.outputsOnly(n.Partial),
		Nullable:         n.outputsOnly(n.Nullable),
		Hidden:           n.Hidden,
		ForceGroup:       n.ForceGroup,
		OrderBy:          n.OrderBy,
		Limit:            n.Limit,
		ExistenceSources: existence,
	}, true)
}

// reduceGrain drops components implied by other components, using the
// concept definitions found in concepts.
func reduceGrain(g core.Grain, concepts []*core.Concept) core.Grain {
	var (
		known []*core.Concept
		loose []string
	)
	for _, addr := range g.Components() {
		if c, ok := core.FindAddress(concepts, addr); ok {
			known = append(known, c)
		} else {
			loose = append(loose, addr)
		}
	}
	return core.GrainFromConcepts(known, nil).Add(core.NewGrain(loose...))
}

// GroupRequired reports whether sources must be grouped to reach the grain
// of outputs, returning the target grain.
func GroupRequired(outputs []*core.Concept, sources []core.Source) (core.Grain, bool) {
	target := core.GrainFromConcepts(outputs, nil)
	var upstream core.Grain
	var available []*core.Concept
	for _, s := range sources {
		upstream = upstream.Add(s.SourceGrain())
		available = append(available, s.OutputConcepts()...)
	}
	upstream = reduceGrain(upstream, append(available, outputs...))
	return target, !upstream.Issubset(target)
}

func sameAddressSet(a, b []*core.Concept) bool {
	as, bs := core.AddressSet(a), core.AddressSet(b)
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if !bs[k] {
			return false
		}
	}
	return true
}

// computesRowLevel reports whether every output of q is read from a parent
// or computed row by row, so a GROUP BY can be added to q itself.
func computesRowLevel(q *core.QueryDatasource) bool {
	for _, c := range q.Outputs {
		if len(q.SourceMap[c.Address()]) > 0 {
			continue
		}
		switch c.Derivation() {
		case core.DerivationBasic, core.DerivationFilter, core.DerivationConstant:
			if c.IsAggregate() {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (n *Node) resolveGroup() (*core.QueryDatasource, error) {
	sources, err := resolveAll(n.Parents)
	if err != nil {
		return nil, err
	}
	target, required := GroupRequired(n.Outputs, sources)
	if n.Grain != nil {
		target = *n.Grain
	}
	if n.ForceGroup == core.GroupForce {
		required = true
	}

	if len(sources) == 1 && n.Condition == nil && len(n.ExistenceParents) == 0 {
		parent, ok := sources[0].(*core.QueryDatasource)
		if ok && !required && sameAddressSet(parent.Outputs, n.Outputs) && parent.OrderBy == nil && sameAddressSet(parent.Hidden, n.Hidden) {
			return parent, nil
		}
		if ok && required && parent.Limit == 0 && !parent.GroupRequired() && computesRowLevel(parent) && providesAll(parent, n.Outputs) {
			grouped := *parent
			grouped.Outputs = n.Outputs
			grouped.Grain = target
			grouped.ForceGroup = core.GroupForce
			grouped.Partial = n.outputsOnly(parent.Partial)
			grouped.Nullable = n.outputsOnly(parent.Nullable)
			grouped.Hidden = n.Hidden
			grouped.OrderBy = n.OrderBy
			grouped.Limit = n.Limit
			return core.NewQueryDatasource(grouped, false)
		}
	}

	sourceType := core.SourceGroup
	if !required {
		sourceType = core.SourceSelect
	}
	existence, err := n.resolveExistence()
	if err != nil {
		return nil, err
	}
	targets := core.UniqueConcepts(append(append([]*core.Concept{}, n.Outputs...), core.RowArguments(n.Condition)...))
	sm := conceptMap(sources, targets, n.Inputs, nil)
	base := core.QueryDatasource{
		Inputs:           n.Inputs,
		Outputs:          n.Outputs,
		SourceMap:        sm,
		Datasources:      sources,
		Grain:            target,
		Condition:        n.Condition,
		SourceType:       sourceType,
		Partial:          n.outputsOnly(n.Partial),
		Nullable:         n.outputsOnly(findNullable(sm, nil, sources)),
		Hidden:           n.Hidden,
		ExistenceSources: existence,
	}
	if n.Condition == nil || core.IsScalarCondition(n.Condition, core.AddressSet(n.Inputs)) {
		base.OrderBy = n.OrderBy
		base.Limit = n.Limit
		return core.NewQueryDatasource(base, true)
	}

	// A condition over aggregates is evaluated one level up.
	base.Condition = nil
	base.Outputs = core.UniqueConcepts(append(append([]*core.Concept{}, n.Outputs...), core.RowArguments(n.Condition)...))
	base.Hidden = nil
	inner, err := core.NewQueryDatasource(base, true)
	if err != nil {
		return nil, err
	}
	outer := core.QueryDatasource{
		Inputs:      inner.Outputs,
		Outputs:     n.Outputs,
		SourceMap:   conceptMap([]core.Source{inner}, n.Outputs, inner.Outputs, nil),
		Datasources: []core.Source{inner},
		Grain:       target,
		Condition:   n.Condition,
		SourceType:  core.SourceSelect,
		Partial:     inner.Partial,
		Nullable:    inner.Nullable,
		Hidden:      n.Hidden,
		OrderBy:     n.OrderBy,
		Limit:       n.Limit,
	}
	return core.NewQueryDatasource(outer, true)
}

func providesAll(s core.Source, cs []*core.Concept) bool {
	for _, c := range cs {
		if _, ok := sourceProvides(s, c); !ok {
			return false
		}
	}
	return true
}

func (n *Node) resolveUnion() (*core.QueryDatasource, error) {
	sources, err := resolveAll(n.Parents)
	if err != nil {
		return nil, err
	}
	sm := map[string][]core.Source{}
	for _, c := range n.Outputs {
		for _, s := range sources {
			if _, ok := sourceProvides(s, c); !ok {
				return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("union member %s does not provide %s", s.Name(), c.Address())}
			}
			sm[c.Address()] = appendSource(sm[c.Address()], s)
		}
	}
	return core.NewQueryDatasource(core.QueryDatasource{
		Inputs:      n.Outputs,
		Outputs:     n.Outputs,
		SourceMap:   sm,
		Datasources: sources,
		Grain:       n.derivedGrain(sources),
		SourceType:  core.SourceUnion,
		Partial:     n.outputsOnly(n.Partial),
		Nullable:    n.outputsOnly(n.Nullable),
		Hidden:      n.Hidden,
		ForceGroup:  core.GroupSkip,
		OrderBy:     n.OrderBy,
		Limit:       n.Limit,
	}, true)
}
