package resolver

import (
	"slices"
	"sort"
	"strings"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/nodes"
)

// maxCombinationInputs caps the optional concepts tried in every
// combination; beyond it only the full set and the concept alone are tried.
const maxCombinationInputs = 6

// genSelect sources concept, plus as many of the materialized optional
// concepts as possible, straight from datasources: one table when one binds
// them all, otherwise the tables on the shortest join path between them.
func (r *Resolver) genSelect(concept *core.Concept, optional []*core.Concept, cond core.Condition, acceptPartial bool, depth int) *nodes.Node {
	if !r.graph.IsBound(concept.Address()) {
		if concept.Derivation() == core.DerivationConstant {
			return nodes.NewConstantNode([]*core.Concept{concept}).WithDepth(depth)
		}
		return nil
	}
	var materialized []*core.Concept
	for _, c := range optional {
		if r.graph.IsBound(c.Address()) {
			materialized = append(materialized, c)
		}
	}
	for _, combo := range combinations(materialized) {
		all := append([]*core.Concept{concept}, combo...)
		if n := r.selectFromTable(all, cond, acceptPartial); n != nil {
			r.logger.Debug(logPrefix+" found table", "depth", depth, "concepts", core.SortedAddresses(all), "datasource", n.Datasource.Label())
			return n.WithDepth(depth)
		}
		if len(all) == 1 {
			break
		}
		if n := r.selectFromJoin(all, acceptPartial); n != nil {
			r.logger.Debug(logPrefix+" found join", "depth", depth, "concepts", core.SortedAddresses(all))
			return n.WithDepth(depth)
		}
	}
	return nil
}

// combinations lists subsets of cs from largest to smallest, ending with
// the empty set.
func combinations(cs []*core.Concept) [][]*core.Concept {
	if len(cs) > maxCombinationInputs {
		return [][]*core.Concept{cs, nil}
	}
	var out [][]*core.Concept
	for size := len(cs); size > 0; size-- {
		var walk func(start int, acc []*core.Concept)
		walk = func(start int, acc []*core.Concept) {
			if len(acc) == size {
				out = append(out, append([]*core.Concept{}, acc...))
				return
			}
			for i := start; i < len(cs); i++ {
				walk(i+1, append(acc, cs[i]))
			}
		}
		walk(0, nil)
	}
	return append(out, nil)
}

type tableCandidate struct {
	ds      *core.Datasource
	partial int
}

// selectFromTable picks the datasource binding every concept, preferring
// fewer partial bindings, then fewer columns, then the label.
func (r *Resolver) selectFromTable(all []*core.Concept, cond core.Condition, acceptPartial bool) *nodes.Node {
	var candidates []tableCandidate
	for _, ds := range r.env.Datasources() {
		complete := ds.NonPartialFor != nil && core.ConditionEqual(ds.NonPartialFor.Conditional, cond)
		ok, partial := true, 0
		for _, c := range all {
			col, found := ds.Column(c)
			if !found {
				ok = false
				break
			}
			if !col.IsComplete() && !complete {
				partial++
			}
		}
		if !ok || (partial > 0 && !acceptPartial) {
			continue
		}
		candidates = append(candidates, tableCandidate{ds: ds, partial: partial})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.partial != b.partial {
			return a.partial < b.partial
		}
		if len(a.ds.Columns) != len(b.ds.Columns) {
			return len(a.ds.Columns) < len(b.ds.Columns)
		}
		return a.ds.Label() < b.ds.Label()
	})
	best := candidates[0].ds
	n := nodes.NewDatasourceNode(best, all)
	if best.NonPartialFor != nil && core.ConditionEqual(best.NonPartialFor.Conditional, cond) {
		n.Partial = nil
	}
	target := core.GrainFromConcepts(all, nil)
	if !best.Grain.Issubset(target) {
		n = n.WithForceGroup(core.GroupForce)
	}
	return n
}

// selectFromJoin joins the datasources on the shortest graph path linking
// every concept. Each datasource contributes the path concepts it binds.
func (r *Resolver) selectFromJoin(all []*core.Concept, acceptPartial bool) *nodes.Node {
	ids, ok := r.graph.JoinSubgraph(core.Addresses(all))
	if !ok {
		return nil
	}
	requested := map[string]*core.Concept{}
	for _, c := range all {
		requested[c.Address()] = c
	}
	var (
		concepts []*core.Concept
		sources  []*core.Datasource
	)
	for _, id := range ids {
		if strings.HasPrefix(id, "ds~") {
			if ds, ok := r.graph.Datasource(id); ok {
				sources = append(sources, ds)
			}
			continue
		}
		c, ok := r.graph.Concept(id)
		if !ok {
			continue
		}
		if req, ok := requested[c.Address()]; ok {
			c = req
		}
		concepts = append(concepts, c)
	}
	if len(sources) < 2 {
		return nil
	}

	var parents []*nodes.Node
	for _, ds := range sources {
		var outputs []*core.Concept
		for _, c := range concepts {
			if _, ok := ds.Column(c); ok {
				outputs = append(outputs, c)
			}
		}
		if len(outputs) == 0 {
			continue
		}
		n := nodes.NewDatasourceNode(ds, outputs)
		if !acceptPartial && len(n.Partial) == len(n.Outputs) {
			return nil
		}
		parents = append(parents, n)
	}
	for _, c := range all {
		if completeOn(parents, c) {
			continue
		}
		anchor := r.completeSource(c, sources)
		if anchor == nil {
			if !acceptPartial {
				return nil
			}
			continue
		}
		parents = append(parents, nodes.NewDatasourceNode(anchor, []*core.Concept{c}))
	}
	if len(parents) < 2 {
		return nil
	}
	mergeOutputs := core.UniqueConcepts(append(append([]*core.Concept{}, all...), concepts...))
	return nodes.NewMergeNode(mergeOutputs, mergeOutputs, parents, nil)
}

func completeOn(parents []*nodes.Node, c *core.Concept) bool {
	for _, p := range parents {
		if p.Provides(c.Address()) && !core.ContainsAddress(p.Partial, c.Address()) {
			return true
		}
	}
	return false
}

// completeSource finds a datasource outside exclude binding every value of c.
func (r *Resolver) completeSource(c *core.Concept, exclude []*core.Datasource) *core.Datasource {
	for _, ds := range r.env.Datasources() {
		if slices.Contains(exclude, ds) {
			continue
		}
		if col, ok := ds.Column(c); ok && col.IsComplete() {
			return ds
		}
	}
	return nil
}
