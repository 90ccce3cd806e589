// Package plan builds the concept graph: a directed graph whose nodes are
// concepts and datasources, with production edges from a datasource to the
// concepts its columns bind and dependency edges from a lineage argument to
// the concept derived from it.
package plan

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/grainql/internal/dag"
	"github.com/leapstack-labs/grainql/pkg/core"
)

// Node kinds.
const (
	KindConcept    = "concept"
	KindDatasource = "datasource"
)

// ConceptNode is the graph ID of a concept address.
func ConceptNode(address string) string { return "c~" + address }

// DatasourceNode is the graph ID of a datasource label.
func DatasourceNode(label string) string { return "ds~" + label }

// Edge modifiers recorded on production edges.
type columnTag struct {
	partial  bool
	nullable bool
}

// Graph is the concept graph of one environment snapshot.
type Graph struct {
	g *dag.Graph
	// tags maps "ds~x|c~y" to the production edge modifiers.
	tags map[string]columnTag
	// bound holds concept nodes with at least one production edge.
	bound map[string]bool
}

// BuildGraph builds the concept graph of env. Concepts reachable only via
// partial or nullable columns are included; the edge carries the tag.
func BuildGraph(env *core.Environment) (*Graph, error) {
	out := &Graph{g: dag.NewGraph(), tags: map[string]columnTag{}, bound: map[string]bool{}}

	concepts := env.Concepts()
	for _, c := range concepts {
		out.addConcept(c)
	}
	for _, c := range concepts {
		if err := out.addLineage(c, map[string]bool{}); err != nil {
			return nil, err
		}
	}

	for _, ds := range env.Datasources() {
		label := ds.Label()
		dsID := DatasourceNode(label)
		out.g.AddNode(dsID, KindDatasource, ds)
		for _, col := range ds.Columns {
			out.addConcept(col.Concept)
			cID := ConceptNode(col.Concept.Address())
			if err := out.g.AddEdge(dsID, cID); err != nil {
				return nil, fmt.Errorf("binding %s on %s: %w", col.Concept.Address(), label, err)
			}
			out.tags[dsID+"|"+cID] = columnTag{partial: !col.IsComplete(), nullable: col.IsNullable()}
			out.bound[cID] = true
			for _, p := range col.Concept.Pseudonyms {
				if _, ok := out.g.Node(ConceptNode(p)); ok {
					pID := ConceptNode(p)
					_ = out.g.AddEdge(dsID, pID)
					out.tags[dsID+"|"+pID] = out.tags[dsID+"|"+cID]
					out.bound[pID] = true
				}
			}
		}
	}
	return out, nil
}

func (g *Graph) addConcept(c *core.Concept) {
	id := ConceptNode(c.Address())
	if _, ok := g.g.Node(id); ok {
		return
	}
	g.g.AddNode(id, KindConcept, c)
}

func (g *Graph) addLineage(c *core.Concept, visiting map[string]bool) error {
	if visiting[c.Address()] {
		return nil
	}
	visiting[c.Address()] = true
	for _, arg := range c.ConceptArguments() {
		if arg.Address() == c.Address() {
			continue
		}
		g.addConcept(arg)
		if err := g.g.AddEdge(ConceptNode(arg.Address()), ConceptNode(c.Address())); err != nil {
			return fmt.Errorf("lineage of %s: %w", c.Address(), err)
		}
		if err := g.addLineage(arg, visiting); err != nil {
			return err
		}
	}
	return nil
}

// Dag exposes the underlying graph.
func (g *Graph) Dag() *dag.Graph { return g.g }

// Concept returns the concept payload of a node.
func (g *Graph) Concept(id string) (*core.Concept, bool) {
	n, ok := g.g.Node(id)
	if !ok || n.Kind != KindConcept {
		return nil, false
	}
	c, ok := n.Data.(*core.Concept)
	return c, ok
}

// Datasource returns the datasource payload of a node.
func (g *Graph) Datasource(id string) (*core.Datasource, bool) {
	n, ok := g.g.Node(id)
	if !ok || n.Kind != KindDatasource {
		return nil, false
	}
	ds, ok := n.Data.(*core.Datasource)
	return ds, ok
}

// IsBound reports whether a concept is produced by at least one datasource.
func (g *Graph) IsBound(address string) bool { return g.bound[ConceptNode(address)] }

// IsPartialOn reports whether the datasource binds the concept through a
// partial column.
func (g *Graph) IsPartialOn(dsID, address string) bool {
	return g.tags[dsID+"|"+ConceptNode(address)].partial
}

// IsNullableOn reports whether the datasource binds the concept through a
// nullable column.
func (g *Graph) IsNullableOn(dsID, address string) bool {
	return g.tags[dsID+"|"+ConceptNode(address)].nullable
}

// DatasourcesFor returns the datasources producing address, sorted by ID.
func (g *Graph) DatasourcesFor(address string) []*core.Datasource {
	var out []*core.Datasource
	parents := append([]string{}, g.g.Parents(ConceptNode(address))...)
	sort.Strings(parents)
	for _, p := range parents {
		if ds, ok := g.Datasource(p); ok {
			out = append(out, ds)
		}
	}
	return out
}

// joinable admits datasource nodes and concept nodes bound to a datasource,
// so paths only cross physical joins.
func (g *Graph) joinable(n *dag.Node) bool {
	if n.Kind == KindDatasource {
		return true
	}
	return g.bound[n.ID]
}

// JoinPath is the shortest path between two concepts that only crosses
// datasources and bound concepts.
func (g *Graph) JoinPath(from, to string) ([]string, bool) {
	return g.g.ShortestPath(ConceptNode(from), ConceptNode(to), g.joinable)
}

// JoinSubgraph unions the join paths from the first address to every other
// one. It reports false when some address is unreachable. The result holds
// node IDs, sorted.
func (g *Graph) JoinSubgraph(addresses []string) ([]string, bool) {
	if len(addresses) == 0 {
		return nil, true
	}
	nodes := map[string]bool{ConceptNode(addresses[0]): true}
	for _, other := range addresses[1:] {
		path, ok := g.JoinPath(addresses[0], other)
		if !ok {
			return nil, false
		}
		for _, id := range path {
			nodes[id] = true
		}
	}
	out := make([]string, 0, len(nodes))
	for id := range nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, true
}

// Upstream returns the concepts address transitively derives from.
func (g *Graph) Upstream(address string) []*core.Concept {
	var out []*core.Concept
	for _, id := range g.g.Upstream(ConceptNode(address)) {
		if c, ok := g.Concept(id); ok {
			out = append(out, c)
		}
	}
	return out
}
