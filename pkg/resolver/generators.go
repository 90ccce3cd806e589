package resolver

import (
	"fmt"

	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/nodes"
)

// generate dispatches concept to the generator for its derivation. A nil
// node with a nil error means no strategy found the concept. When cond is
// set the returned node has it applied below the derivation and records
// it as preexisting; generators that cannot push it down return a node
// without it and the caller applies it after merging.
func (r *Resolver) generate(concept *core.Concept, optional []*core.Concept, cond core.Condition, acceptPartial bool, depth int) (*nodes.Node, error) {
	if n, err := r.genMaterialized(concept, optional, cond, acceptPartial, depth); n != nil || err != nil {
		return n, err
	}

	var (
		n   *nodes.Node
		err error
	)
	switch concept.Derivation() {
	case core.DerivationAggregate:
		n, err = r.genGroup(concept, optional, cond, depth)
	case core.DerivationWindow:
		n, err = r.genWindow(concept, optional, cond, depth)
	case core.DerivationFilter:
		n, err = r.genFilter(concept, optional, cond, depth)
	case core.DerivationUnnest:
		n, err = r.genUnnest(concept, optional, cond, depth)
	case core.DerivationUnion:
		n, err = r.genUnion(concept, depth)
	case core.DerivationBasic:
		n, err = r.genBasic(concept, optional, cond, depth)
	case core.DerivationRowset:
		n, err = r.genRowset(concept, optional, depth)
	case core.DerivationMultiSelect:
		n, err = r.genMultiSelect(concept, optional, depth)
	case core.DerivationMerge:
		n, err = r.genConceptMerge(concept, optional, depth)
	case core.DerivationConstant:
		n = nodes.NewConstantNode([]*core.Concept{concept}).WithDepth(depth)
	case core.DerivationRoot:
		n = r.genSelect(concept, optional, nil, acceptPartial, depth)
		if n == nil {
			n = r.genSelect(concept, nil, nil, acceptPartial, depth)
		}
	}
	if err != nil {
		return nil, err
	}
	if n == nil {
		n, err = r.genSynonym(concept, optional, cond, acceptPartial, depth)
	}
	return n, err
}

// genMaterialized reads a derived concept that some datasource already
// binds, for example the output of a persisted select.
func (r *Resolver) genMaterialized(concept *core.Concept, optional []*core.Concept, cond core.Condition, acceptPartial bool, depth int) (*nodes.Node, error) {
	if concept.Derivation() == core.DerivationRoot || !r.graph.IsBound(concept.Address()) {
		return nil, nil
	}
	rowArgs := core.RowArguments(cond)
	n := r.genSelect(concept, union(optional, rowArgs), cond, acceptPartial, depth)
	if n == nil || cond == nil {
		return n, nil
	}
	if !providesAll(n, rowArgs) {
		return nil, nil
	}
	return r.applyCondition(n, cond, depth)
}

// genSynonym tries every pseudonym of concept in its place.
func (r *Resolver) genSynonym(concept *core.Concept, optional []*core.Concept, cond core.Condition, acceptPartial bool, depth int) (*nodes.Node, error) {
	for _, addr := range concept.Pseudonyms {
		alt, ok := r.env.Lookup(addr)
		if !ok || alt.Address() == concept.Address() {
			continue
		}
		r.logger.Debug(logPrefix+" trying synonym", "depth", depth, "concept", concept.Address(), "synonym", addr)
		n, err := r.search(union([]*core.Concept{alt}, optional), cond, acceptPartial, depth+1)
		if err != nil {
			return nil, err
		}
		if n == nil {
			continue
		}
		if !n.Provides(concept.Address()) {
			outputs := union([]*core.Concept{concept}, n.UsableOutputs())
			n = nodes.NewSelectNode(n.UsableOutputs(), outputs, n).WithPreexisting(n.Preexisting).WithDepth(depth)
		}
		return n, nil
	}
	return nil, nil
}

// aggregateParents are the arguments of an aggregate plus the grain it is
// grouped by.
func aggregateParents(concept *core.Concept) (args, by []*core.Concept) {
	switch l := concept.Lineage.(type) {
	case *core.AggregateWrapper:
		return l.Function.ConceptArguments(), l.By
	case *core.Function:
		return l.ConceptArguments(), nil
	}
	return nil, nil
}

// propertyKeys returns the keys of every property argument. The parent of
// an aggregate keeps one row per key; repeated property values must not
// collapse before the aggregate runs.
func (r *Resolver) propertyKeys(args []*core.Concept) []*core.Concept {
	var out []*core.Concept
	for _, a := range args {
		if a.Purpose != core.PurposeProperty {
			continue
		}
		for _, k := range a.Keys {
			if c, ok := r.env.Lookup(k); ok {
				out = append(out, c)
			}
		}
	}
	return core.UniqueConcepts(out)
}

func (r *Resolver) genGroup(concept *core.Concept, optional []*core.Concept, cond core.Condition, depth int) (*nodes.Node, error) {
	args, by := aggregateParents(concept)
	if len(by) == 0 {
		for _, c := range optional {
			if c.Granularity() != core.SingleRow && !c.IsAggregate() {
				by = append(by, c)
			}
		}
	}
	parentConcepts := union(args, by, r.propertyKeys(args))
	outputs := union([]*core.Concept{concept}, by)
	if len(parentConcepts) == 0 {
		return nodes.NewGroupNode(nil, outputs).WithPreexisting(cond).WithDepth(depth), nil
	}
	parent, err := r.search(parentConcepts, cond, false, depth+1)
	if err != nil || parent == nil {
		return nil, err
	}
	for _, b := range by {
		if !parent.Provides(b.Address()) {
			r.logger.Debug(logPrefix+" aggregate grain missing from parent", "depth", depth, "concept", concept.Address(), "missing", b.Address())
			return nil, nil
		}
	}
	return nodes.NewGroupNode(parentConcepts, outputs, parent).WithPreexisting(cond).WithDepth(depth), nil
}

func windowParents(w *core.WindowItem) []*core.Concept {
	out := []*core.Concept{w.Content}
	out = append(out, w.Over...)
	for _, o := range w.OrderBy {
		out = append(out, core.ConceptArguments(o.Expr)...)
	}
	return core.UniqueConcepts(out)
}

func (r *Resolver) genWindow(concept *core.Concept, optional []*core.Concept, cond core.Condition, depth int) (*nodes.Node, error) {
	w, ok := concept.Lineage.(*core.WindowItem)
	if !ok {
		return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("window concept %s has lineage %T", concept.Address(), concept.Lineage)}
	}
	parentConcepts := windowParents(w)
	parent, err := r.search(union(parentConcepts, rowLevel(optional)), cond, false, depth+1)
	if err != nil || parent == nil {
		return nil, err
	}
	outputs := union([]*core.Concept{concept}, parent.UsableOutputs())
	return nodes.NewWindowNode(parent.UsableOutputs(), outputs, parent).WithPreexisting(cond).WithDepth(depth), nil
}

// rowLevel drops concepts that change the row count of a parent when
// sourced alongside it.
func rowLevel(cs []*core.Concept) []*core.Concept {
	var out []*core.Concept
	for _, c := range cs {
		switch c.Derivation() {
		case core.DerivationRoot, core.DerivationBasic, core.DerivationConstant:
			out = append(out, c)
		}
	}
	return out
}

// genFilter sources the filtered content next to the condition arguments.
// With no other concepts requested, the filter becomes a condition on the
// parent so no extra step is needed; otherwise the filtered value is
// computed beside the unfiltered rows.
func (r *Resolver) genFilter(concept *core.Concept, optional []*core.Concept, cond core.Condition, depth int) (*nodes.Node, error) {
	f, ok := concept.Lineage.(*core.FilterItem)
	if !ok {
		return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("filter concept %s has lineage %T", concept.Address(), concept.Lineage)}
	}
	filter := f.Where.Conditional
	parentConcepts := union([]*core.Concept{f.Content}, core.RowArguments(filter))
	parentSet := core.AddressSet(parentConcepts)
	var extra []*core.Concept
	for _, c := range rowLevel(optional) {
		if !parentSet[c.Address()] {
			extra = append(extra, c)
		}
	}

	if len(extra) == 0 {
		parent, err := r.search(parentConcepts, cond, false, depth+1)
		if err != nil || parent == nil {
			return nil, err
		}
		r.logger.Debug(logPrefix+" pushing filter onto parent", "depth", depth, "concept", concept.Address())
		n, err := r.applyCondition(parent, filter, depth)
		if err != nil {
			return nil, err
		}
		return n.WithOutputs(concept).WithPreexisting(cond).WithDepth(depth), nil
	}

	parent, err := r.search(union(parentConcepts, extra), cond, false, depth+1)
	if err != nil || parent == nil {
		return nil, err
	}
	outputs := union([]*core.Concept{concept, f.Content}, extra)
	n := nodes.NewFilterNode(parent.UsableOutputs(), outputs, parent)
	for _, args := range core.ExistenceArguments(filter) {
		ex, err := r.search(args, nil, false, depth+1)
		if err != nil {
			return nil, err
		}
		if ex == nil {
			return nil, &core.NoDatasourceError{Concepts: core.SortedAddresses(args)}
		}
		n = n.WithExistence(ex, args)
	}
	return n.WithPreexisting(cond).WithDepth(depth), nil
}

func (r *Resolver) genUnnest(concept *core.Concept, optional []*core.Concept, cond core.Condition, depth int) (*nodes.Node, error) {
	args := concept.ConceptArguments()
	if len(args) == 0 {
		return nodes.NewUnnestNode(nil, []*core.Concept{concept}).WithPreexisting(cond).WithDepth(depth), nil
	}
	parent, err := r.search(union(args, rowLevel(optional)), cond, false, depth+1)
	if err != nil || parent == nil {
		return nil, err
	}
	outputs := union([]*core.Concept{concept}, parent.UsableOutputs())
	return nodes.NewUnnestNode(parent.UsableOutputs(), outputs, parent).WithPreexisting(cond).WithDepth(depth), nil
}

func (r *Resolver) genBasic(concept *core.Concept, optional []*core.Concept, cond core.Condition, depth int) (*nodes.Node, error) {
	args := concept.ConceptArguments()
	parent, err := r.search(union(args, rowLevel(optional)), cond, false, depth+1)
	if err != nil || parent == nil {
		return nil, err
	}
	outputs := union([]*core.Concept{concept}, parent.UsableOutputs())
	return nodes.NewBasicNode(parent.UsableOutputs(), outputs, parent).WithPreexisting(cond).WithDepth(depth), nil
}

// genUnion stacks one projection per argument, each computing the union
// concept from that argument alone.
func (r *Resolver) genUnion(concept *core.Concept, depth int) (*nodes.Node, error) {
	args := concept.ConceptArguments()
	if len(args) == 0 {
		return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("union %s has no arguments", concept.Address())}
	}
	members := make([]*nodes.Node, 0, len(args))
	for _, arg := range args {
		parent, err := r.search([]*core.Concept{arg}, nil, false, depth+1)
		if err != nil || parent == nil {
			return nil, err
		}
		members = append(members, nodes.NewSelectNode([]*core.Concept{arg}, []*core.Concept{concept}, parent).WithDepth(depth))
	}
	return nodes.NewUnionNode([]*core.Concept{concept}, members...).WithDepth(depth), nil
}

// genRowset resolves the named select and re-exposes its outputs as the
// rowset concepts requested.
func (r *Resolver) genRowset(concept *core.Concept, optional []*core.Concept, depth int) (*nodes.Node, error) {
	item, ok := concept.Lineage.(*core.RowsetItem)
	if !ok {
		return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("rowset concept %s has lineage %T", concept.Address(), concept.Lineage)}
	}
	sel := item.Rowset.Select
	inner, err := r.statementNode(sel, depth+1)
	if err != nil || inner == nil {
		return nil, err
	}
	outputs := []*core.Concept{concept}
	for _, c := range optional {
		if other, ok := c.Lineage.(*core.RowsetItem); ok && other.Rowset.Name == item.Rowset.Name {
			outputs = append(outputs, c)
		}
	}
	var contents []*core.Concept
	for _, c := range outputs {
		contents = append(contents, c.Lineage.(*core.RowsetItem).Content)
	}
	if !providesAll(inner, contents) {
		return nil, nil
	}
	g := core.GrainFromConcepts(outputs, nil)
	return nodes.NewRowsetNode(inner.UsableOutputs(), outputs, inner).WithGrain(g).WithDepth(depth), nil
}

// genMultiSelect resolves every select of a multiselect, projects the
// aligned concepts out of each and full joins them on the aligned values.
func (r *Resolver) genMultiSelect(concept *core.Concept, optional []*core.Concept, depth int) (*nodes.Node, error) {
	lineage, ok := concept.Lineage.(*core.MultiSelectLineage)
	if !ok {
		return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("multiselect concept %s has lineage %T", concept.Address(), concept.Lineage)}
	}
	aligned := make([]*core.Concept, 0, len(lineage.Align.Items))
	for _, item := range lineage.Align.Items {
		c, err := item.GenConcept(lineage)
		if err != nil {
			return nil, err
		}
		aligned = append(aligned, c)
	}
	projections := make([]*nodes.Node, 0, len(lineage.Selects))
	for _, sel := range lineage.Selects {
		inner, err := r.statementNode(sel, depth+1)
		if err != nil || inner == nil {
			return nil, err
		}
		outputs := union(aligned, inner.UsableOutputs())
		projections = append(projections, nodes.NewSelectNode(inner.UsableOutputs(), outputs, inner).WithDepth(depth))
	}
	return fullJoin(projections, aligned, optional, depth), nil
}

// genConceptMerge sources every merged concept independently and full
// joins the results on the merged concept.
func (r *Resolver) genConceptMerge(concept *core.Concept, optional []*core.Concept, depth int) (*nodes.Node, error) {
	lineage, ok := concept.Lineage.(*core.MergeLineage)
	if !ok {
		return nil, &core.InvalidSyntaxError{Message: fmt.Sprintf("merge concept %s has lineage %T", concept.Address(), concept.Lineage)}
	}
	members := core.AddressSet(lineage.Concepts)
	projections := make([]*nodes.Node, 0, len(lineage.Concepts))
	for _, src := range core.UniqueConcepts(lineage.Concepts) {
		var local []*core.Concept
		for _, c := range rowLevel(optional) {
			if !members[c.Address()] && c.Namespace == src.Namespace {
				local = append(local, c)
			}
		}
		parent, err := r.search(union([]*core.Concept{src}, local), nil, false, depth+1)
		if err != nil || parent == nil {
			return nil, err
		}
		outputs := union([]*core.Concept{concept}, parent.UsableOutputs())
		projections = append(projections, nodes.NewSelectNode(parent.UsableOutputs(), outputs, parent).WithDepth(depth))
	}
	return fullJoin(projections, []*core.Concept{concept}, optional, depth), nil
}

func fullJoin(projections []*nodes.Node, keys, optional []*core.Concept, depth int) *nodes.Node {
	if len(projections) == 1 {
		return projections[0]
	}
	var joins []nodes.NodeJoin
	for _, p := range projections[1:] {
		joins = append(joins, nodes.NodeJoin{
			Left:     projections[0],
			Right:    p,
			Concepts: keys,
			JoinType: core.JoinFull,
		})
	}
	var inputs []*core.Concept
	for _, p := range projections {
		inputs = union(inputs, p.UsableOutputs())
	}
	outputs := union(keys)
	for _, c := range optional {
		if core.ContainsAddress(inputs, c.Address()) {
			outputs = union(outputs, []*core.Concept{c})
		}
	}
	return nodes.NewMergeNode(inputs, outputs, projections, joins).
		WithGrain(core.GrainFromConcepts(keys, nil)).
		WithForceGroup(core.GroupSkip).
		WithDepth(depth)
}

// genMerge widens mandatory with the concepts on the graph path joining
// them and searches again. It gives up when the path adds nothing.
func (r *Resolver) genMerge(mandatory []*core.Concept, cond core.Condition, acceptPartial bool, depth int) (*nodes.Node, error) {
	ids, ok := r.graph.JoinSubgraph(core.Addresses(mandatory))
	if !ok {
		r.logger.Debug(logPrefix+" no join path", "depth", depth, "concepts", core.SortedAddresses(mandatory))
		return nil, nil
	}
	expanded := mandatory
	for _, id := range ids {
		if c, ok := r.graph.Concept(id); ok {
			expanded = union(expanded, []*core.Concept{c})
		}
	}
	if len(expanded) == len(mandatory) {
		return nil, nil
	}
	r.logger.Debug(logPrefix+" expanding along join path",
		"depth", depth,
		"concepts", core.SortedAddresses(mandatory),
		"added", core.SortedAddresses(expanded[len(mandatory):]))
	n, err := r.search(expanded, cond, acceptPartial, depth+1)
	if err != nil || n == nil {
		return nil, err
	}
	return n.WithHidden(expanded[len(mandatory):]...), nil
}
