// Package nodes holds the strategy nodes of a resolution tree. Each node
// knows how to resolve itself, and its parents, into a core.QueryDatasource.
//
// Nodes are values. The With* methods return modified copies and leave the
// receiver untouched, so a node already handed to a caller or stored in a
// memo never changes underneath it.
package nodes

import (
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/grainql/pkg/core"
)

// Node is one step of the resolution tree.
type Node struct {
	Type    core.SourceType
	Inputs  []*core.Concept
	Outputs []*core.Concept
	Parents []*Node
	// ExistenceParents source the right side of subselect comparisons.
	// They are referenced by the condition and never joined.
	ExistenceParents []*Node
	Existence        []*core.Concept
	Partial          []*core.Concept
	Nullable         []*core.Concept
	Hidden           []*core.Concept
	Condition        core.Condition
	// Preexisting is a query condition already applied below this node.
	Preexisting core.Condition
	// Grain overrides the derived grain when set.
	Grain      *core.Grain
	ForceGroup core.GroupMode
	OrderBy    *core.OrderBy
	Limit      int
	Depth      int

	// Datasource is the physical source of a datasource select.
	Datasource *core.Datasource
	// Joins are the explicit joins of a merge. Nil means infer them.
	Joins []NodeJoin
	// WholeGrain marks a merge whose parents are already at the output grain.
	WholeGrain bool

	cache *core.QueryDatasource
}

// NodeJoin is an explicit join between two parent nodes of a merge.
type NodeJoin struct {
	Left     *Node
	Right    *Node
	Concepts []*core.Concept
	JoinType core.JoinType
	// FilterToMutual drops keys missing on either side instead of failing.
	FilterToMutual bool
}

func newNode(t core.SourceType, inputs, outputs []*core.Concept, parents []*Node) *Node {
	n := &Node{
		Type:    t,
		Inputs:  core.UniqueConcepts(inputs),
		Outputs: core.UniqueConcepts(outputs),
		Parents: slices.Clone(parents),
	}
	n.Partial = parentPartial(n.Outputs, n.Parents)
	n.Nullable = parentNullable(n.Outputs, n.Parents)
	return n
}

// NewSelectNode projects outputs from parents, computing any output that no
// parent provides.
func NewSelectNode(inputs, outputs []*core.Concept, parents ...*Node) *Node {
	return newNode(core.SourceSelect, inputs, outputs, parents)
}

// NewBasicNode computes scalar functions of its inputs.
func NewBasicNode(inputs, outputs []*core.Concept, parents ...*Node) *Node {
	return newNode(core.SourceBasic, inputs, outputs, parents)
}

// NewFilterNode computes filtered concepts next to the rows they restrict.
func NewFilterNode(inputs, outputs []*core.Concept, parents ...*Node) *Node {
	return newNode(core.SourceFilter, inputs, outputs, parents)
}

// NewWindowNode computes window functions. Row count is unchanged, so the
// grain is the union of the parent grains.
func NewWindowNode(inputs, outputs []*core.Concept, parents ...*Node) *Node {
	return newNode(core.SourceWindow, inputs, outputs, parents)
}

// NewUnnestNode expands a list concept into one row per element.
func NewUnnestNode(inputs, outputs []*core.Concept, parents ...*Node) *Node {
	return newNode(core.SourceUnnest, inputs, outputs, parents)
}

// NewRowsetNode re-exposes the outputs of a named select.
func NewRowsetNode(inputs, outputs []*core.Concept, parent *Node) *Node {
	return newNode(core.SourceRowset, inputs, outputs, []*Node{parent})
}

// NewUnionNode stacks parents with identical outputs.
func NewUnionNode(outputs []*core.Concept, parents ...*Node) *Node {
	n := newNode(core.SourceUnion, outputs, outputs, parents)
	n.Nullable = nil
	for _, c := range n.Outputs {
		for _, p := range parents {
			if core.ContainsAddress(p.Nullable, c.Address()) {
				n.Nullable = append(n.Nullable, c)
				break
			}
		}
	}
	return n
}

// NewConstantNode produces single row constants with nothing to read.
func NewConstantNode(outputs []*core.Concept) *Node {
	g := core.Grain{}
	n := newNode(core.SourceConstant, nil, outputs, nil)
	n.Grain = &g
	return n
}

// NewDatasourceNode selects outputs straight from a physical datasource.
func NewDatasourceNode(ds *core.Datasource, outputs []*core.Concept) *Node {
	n := newNode(core.SourceSelect, outputs, outputs, nil)
	n.Datasource = ds
	partial := core.AddressSet(ds.PartialConcepts())
	nullable := core.AddressSet(ds.NullableConcepts())
	for _, c := range n.Outputs {
		col, ok := ds.Column(c)
		if !ok {
			continue
		}
		if partial[col.Concept.Address()] {
			n.Partial = append(n.Partial, c)
		}
		if nullable[col.Concept.Address()] {
			n.Nullable = append(n.Nullable, c)
		}
	}
	return n
}

// NewGroupNode aggregates or deduplicates its parents to the grain of its
// outputs.
func NewGroupNode(inputs, outputs []*core.Concept, parents ...*Node) *Node {
	return newNode(core.SourceGroup, inputs, outputs, parents)
}

// NewMergeNode joins parents into one result. With nil joins the join tree
// is inferred from shared concepts.
func NewMergeNode(inputs, outputs []*core.Concept, parents []*Node, joins []NodeJoin) *Node {
	n := newNode(core.SourceMerge, inputs, outputs, parents)
	n.Joins = slices.Clone(joins)
	return n
}

func (n *Node) clone() *Node {
	c := *n
	c.Inputs = slices.Clone(n.Inputs)
	c.Outputs = slices.Clone(n.Outputs)
	c.Parents = slices.Clone(n.Parents)
	c.ExistenceParents = slices.Clone(n.ExistenceParents)
	c.Existence = slices.Clone(n.Existence)
	c.Partial = slices.Clone(n.Partial)
	c.Nullable = slices.Clone(n.Nullable)
	c.Hidden = slices.Clone(n.Hidden)
	c.Joins = slices.Clone(n.Joins)
	c.cache = nil
	return &c
}

// Copy returns an unresolved copy of n.
func (n *Node) Copy() *Node { return n.clone() }

// WithCondition returns a copy with cond AND-ed onto the node condition.
func (n *Node) WithCondition(cond core.Condition) *Node {
	c := n.clone()
	c.Condition = core.And(n.Condition, cond)
	return c
}

// WithPreexisting returns a copy recording cond as already applied below.
func (n *Node) WithPreexisting(cond core.Condition) *Node {
	c := n.clone()
	c.Preexisting = cond
	return c
}

// WithOutputs returns a copy with extra outputs appended.
func (n *Node) WithOutputs(cs ...*core.Concept) *Node {
	c := n.clone()
	c.Outputs = core.UniqueConcepts(append(c.Outputs, cs...))
	return c
}

// WithInputs returns a copy with extra inputs appended.
func (n *Node) WithInputs(cs ...*core.Concept) *Node {
	c := n.clone()
	c.Inputs = core.UniqueConcepts(append(c.Inputs, cs...))
	return c
}

// WithHidden returns a copy that computes cs without returning them.
func (n *Node) WithHidden(cs ...*core.Concept) *Node {
	c := n.clone()
	c.Hidden = core.UniqueConcepts(append(c.Hidden, cs...))
	return c
}

// WithPartial returns a copy with extra partial outputs.
func (n *Node) WithPartial(cs ...*core.Concept) *Node {
	c := n.clone()
	c.Partial = core.UniqueConcepts(append(c.Partial, cs...))
	return c
}

// WithGrain returns a copy with an explicit grain.
func (n *Node) WithGrain(g core.Grain) *Node {
	c := n.clone()
	c.Grain = &g
	return c
}

// WithForceGroup returns a copy with the group decision overridden.
func (n *Node) WithForceGroup(m core.GroupMode) *Node {
	c := n.clone()
	c.ForceGroup = m
	return c
}

// WithOrdering returns a copy sorted by order and truncated to limit.
func (n *Node) WithOrdering(order *core.OrderBy, limit int) *Node {
	c := n.clone()
	c.OrderBy = order
	c.Limit = limit
	return c
}

// WithExistence returns a copy that sources concepts through parent for
// subselect comparisons.
func (n *Node) WithExistence(parent *Node, concepts []*core.Concept) *Node {
	c := n.clone()
	c.ExistenceParents = append(c.ExistenceParents, parent)
	c.Existence = core.UniqueConcepts(append(c.Existence, concepts...))
	return c
}

// WithDepth returns a copy tagged with the search depth that built it.
func (n *Node) WithDepth(depth int) *Node {
	c := n.clone()
	c.Depth = depth
	return c
}

// UsableOutputs are the outputs not hidden.
func (n *Node) UsableOutputs() []*core.Concept {
	hidden := core.AddressSet(n.Hidden)
	var out []*core.Concept
	for _, c := range n.Outputs {
		if !hidden[c.Address()] {
			out = append(out, c)
		}
	}
	return out
}

// Provides reports whether n outputs addr, directly or by pseudonym.
func (n *Node) Provides(addr string) bool {
	for _, c := range n.UsableOutputs() {
		if c.Matches(addr) {
			return true
		}
	}
	return false
}

// Resolve computes the QueryDatasource of the node. The result is cached;
// nodes are never mutated after construction.
func (n *Node) Resolve() (*core.QueryDatasource, error) {
	if n.cache != nil {
		return n.cache, nil
	}
	var (
		qds *core.QueryDatasource
		err error
	)
	switch {
	case n.Type == core.SourceConstant:
		qds, err = n.resolveConstant()
	case n.Datasource != nil:
		qds, err = n.resolveDatasource()
	case n.Type == core.SourceGroup:
		qds, err = n.resolveGroup()
	case n.Type == core.SourceMerge:
		qds, err = n.resolveMerge()
	case n.Type == core.SourceUnion:
		qds, err = n.resolveUnion()
	default:
		qds, err = n.resolveBase()
	}
	if err != nil {
		return nil, err
	}
	n.cache = qds
	return qds, nil
}

func (n *Node) String() string {
	addrs := core.SortedAddresses(n.Outputs)
	contents := strings.Join(addrs[:min(3, len(addrs))], ",")
	if len(addrs) > 3 {
		contents += "..." + strconv.Itoa(len(addrs)-3) + " more"
	}
	return string(n.Type) + "<" + contents + ">"
}

// parentPartial returns the concepts partial on at least one parent and
// on every parent that outputs them.
func parentPartial(concepts []*core.Concept, parents []*Node) []*core.Concept {
	var out []*core.Concept
	for _, c := range concepts {
		some, all := false, true
		for _, p := range parents {
			if !p.Provides(c.Address()) {
				continue
			}
			if core.ContainsAddress(p.Partial, c.Address()) {
				some = true
			} else {
				all = false
			}
		}
		if some && all {
			out = append(out, c)
		}
	}
	return out
}

// parentNullable returns the concepts nullable on any parent.
func parentNullable(concepts []*core.Concept, parents []*Node) []*core.Concept {
	var out []*core.Concept
	for _, c := range concepts {
		for _, p := range parents {
			if core.ContainsAddress(p.Nullable, c.Address()) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
