package processor

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/leapstack-labs/grainql/internal/dag"
	"github.com/leapstack-labs/grainql/pkg/core"
)

// maxOptimizationLoops bounds how often one rule is re-run to a fixed point.
const maxOptimizationLoops = 100

const optimizePrefix = "[OPTIMIZATION]"

// rule rewrites CTEs in place and reports whether anything changed.
type rule interface {
	Name() string
	Optimize(cte *core.CTE, children map[string][]*core.CTE) bool
}

// childrenOf maps each CTE name to the CTEs reading it.
func childrenOf(ctes []*core.CTE) map[string][]*core.CTE {
	out := map[string][]*core.CTE{}
	for _, c := range ctes {
		for _, p := range c.ParentCTEs {
			out[p.Name] = append(out[p.Name], c)
		}
		for _, in := range c.Internal {
			out[in.Name] = append(out[in.Name], c)
		}
	}
	return out
}

// sensitive derivations change row counts or depend on row order, so a
// select over them cannot be folded into its parent.
func sensitive(c *core.Concept) bool {
	switch c.Derivation() {
	case core.DerivationUnnest, core.DerivationWindow:
		return true
	}
	return false
}

// directReturnParent returns the parent that can replace root as the final
// CTE: the only parent, at the same grain, already producing every output.
func directReturnParent(root *core.CTE) *core.CTE {
	if len(root.ParentCTEs) != 1 || root.GroupToGrain || root.IsUnion() || len(root.Joins) > 0 {
		return nil
	}
	parent := root.ParentCTEs[0]
	if parent.IsUnion() || parent.Inlined || (parent.Limit > 0 && root.OrderBy != nil) {
		return nil
	}
	if !parent.Grain.Equal(root.Grain) {
		return nil
	}
	for _, c := range root.OutputColumns {
		if _, ok := findColumn(parent.OutputColumns, c.Address()); !ok {
			return nil
		}
	}
	for _, c := range root.OutputColumns {
		if len(root.SourceMap[c.Address()]) == 0 && sensitive(c) {
			return nil
		}
	}
	for _, c := range core.RowArguments(root.Condition) {
		if src, ok := parent.SourceMap[c.Address()]; ok && len(src) == 0 {
			// computed in the parent, possibly by its GROUP BY
			return nil
		}
	}
	if root.Condition != nil && parent.GroupToGrain {
		return nil
	}
	return parent
}

// directReturn folds passthrough final selects into their parent.
func directReturn(root *core.CTE, outputs, hidden []*core.Concept, logger *slog.Logger) *core.CTE {
	for {
		parent := directReturnParent(root)
		if parent == nil {
			return root
		}
		logger.Debug(optimizePrefix+" removing passthrough output CTE", "cte", root.Name, "parent", parent.Name)
		parent.OrderBy = root.OrderBy
		parent.Limit = root.Limit
		parent.Condition = core.And(parent.Condition, root.Condition)
		parent.Hidden = core.UniqueConcepts(append(slices.Clone(parent.Hidden), root.Hidden...))
		for _, c := range parent.OutputColumns {
			if !core.ContainsAddress(outputs, c.Address()) {
				parent.Hidden = core.UniqueConcepts(append(parent.Hidden, c))
			}
		}
		sortOutputs(parent, outputs, hidden)
		root = parent
	}
}

// sortOutputs orders the visible columns of cte like the select.
func sortOutputs(cte *core.CTE, outputs, hidden []*core.Concept) {
	hiddenSet := core.AddressSet(hidden)
	var ordered []*core.Concept
	for _, o := range outputs {
		if c, ok := findColumn(cte.OutputColumns, o.Address()); ok && !hiddenSet[o.Address()] {
			ordered = append(ordered, c)
		}
	}
	for _, c := range cte.OutputColumns {
		if !core.ContainsAddress(ordered, c.Address()) {
			ordered = append(ordered, c)
		}
	}
	cte.OutputColumns = ordered
}

// inlineDatasource marks parents that only rename one physical table so
// their children read the table directly.
type inlineDatasource struct{ logger *slog.Logger }

func (inlineDatasource) Name() string { return "inline datasource" }

func (r inlineDatasource) Optimize(cte *core.CTE, _ map[string][]*core.CTE) bool {
	changed := false
	for _, in := range cte.Internal {
		changed = r.Optimize(in, nil) || changed
	}
	for _, p := range cte.ParentCTEs {
		if p.Inlined || !inlineable(p) {
			continue
		}
		r.logger.Debug(optimizePrefix+" inlining datasource", "cte", p.Name, "into", cte.Name)
		p.Inlined = true
		changed = true
	}
	return changed
}

func inlineable(p *core.CTE) bool {
	ds, ok := p.PhysicalSource()
	if !ok || len(p.ParentCTEs) > 0 || p.IsUnion() {
		return false
	}
	if p.Condition != nil || p.GroupToGrain || p.OrderBy != nil || p.Limit > 0 {
		return false
	}
	if !ds.Grain.Issubset(p.Grain) {
		return false
	}
	for _, c := range p.OutputColumns {
		if len(p.SourceMap[c.Address()]) == 0 {
			return false
		}
	}
	return true
}

// isChildOf reports whether a is one of the AND-ed atoms of b.
func isChildOf(a, b core.Condition) bool {
	if b == nil {
		return false
	}
	if core.ConditionEqual(a, b) {
		return true
	}
	for _, atom := range core.Decompose(b) {
		if core.ConditionEqual(a, atom) {
			return true
		}
	}
	return false
}

// predicatePushdown moves scalar conditions into parents when every child
// of the parent applies the same condition.
type predicatePushdown struct {
	logger   *slog.Logger
	complete map[string]bool
}

func (predicatePushdown) Name() string { return "predicate pushdown" }

func (r *predicatePushdown) Optimize(cte *core.CTE, children map[string][]*core.CTE) bool {
	if len(cte.ParentCTEs) == 0 || cte.Condition == nil || r.complete[cte.Name] {
		return false
	}
	changed := false
	for _, candidate := range core.Decompose(cte.Condition) {
		if !core.IsScalarCondition(candidate, nil) {
			continue
		}
		for _, parent := range cte.ParentCTEs {
			if r.pushTo(cte, parent, candidate, children) {
				r.complete[parent.Name] = false
				changed = true
			}
		}
	}
	r.complete[cte.Name] = true
	return changed
}

func (r *predicatePushdown) pushTo(cte, parent *core.CTE, candidate core.Condition, children map[string][]*core.CTE) bool {
	if parent.Inlined || parent.IsUnion() || isChildOf(candidate, parent.Condition) {
		return false
	}
	rowArgs := core.RowArguments(candidate)
	if len(rowArgs) == 0 {
		return false
	}
	materialized := map[string]bool{}
	for k, v := range parent.SourceMap {
		if len(v) > 0 {
			materialized[k] = true
		}
	}
	if len(materialized) == 0 {
		return false
	}
	for _, group := range core.ExistenceArguments(candidate) {
		for _, c := range group {
			if _, ok := findColumn(parent.OutputColumns, c.Address()); ok {
				return false
			}
		}
	}
	if ds, ok := parent.PhysicalSource(); ok && len(parent.ParentCTEs) == 0 {
		for _, c := range rowArgs {
			if _, ok := ds.Column(c); ok && !materialized[c.Address()] {
				materialized[c.Address()] = true
				parent.SourceMap[c.Address()] = []string{ds.FullName()}
			}
		}
	}
	for _, c := range rowArgs {
		if !materialized[c.Address()] {
			return false
		}
	}
	for _, child := range children[parent.Name] {
		if !isChildOf(candidate, child.Condition) {
			return false
		}
	}
	if parent.Condition != nil && !core.IsScalarCondition(parent.Condition, nil) {
		return false
	}
	r.logger.Debug(optimizePrefix+" pushing condition to parent", "cte", cte.Name, "parent", parent.Name, "condition", candidate.String())
	parent.Condition = core.And(parent.Condition, candidate)
	rowSet := core.AddressSet(rowArgs)
	for _, c := range core.ConceptArguments(candidate) {
		if rowSet[c.Address()] {
			continue
		}
		names, ok := cte.ExistenceSourceMap[c.Address()]
		if !ok {
			continue
		}
		if parent.ExistenceSourceMap == nil {
			parent.ExistenceSourceMap = map[string][]string{}
		}
		parent.ExistenceSourceMap[c.Address()] = names
		for _, n := range names {
			if p, ok := cte.Parent(n); ok && !slices.Contains(parent.ParentCTEs, p) {
				parent.ParentCTEs = append(parent.ParentCTEs, p)
			}
		}
	}
	return true
}

// predicatePushdownRemove drops a condition every parent already applies.
type predicatePushdownRemove struct{ logger *slog.Logger }

func (predicatePushdownRemove) Name() string { return "predicate pushdown remove" }

func (r predicatePushdownRemove) Optimize(cte *core.CTE, _ map[string][]*core.CTE) bool {
	if len(cte.ParentCTEs) == 0 || cte.Condition == nil {
		return false
	}
	if _, ok := singlePhysical(cte.Source); ok {
		return false
	}
	var existenceAddrs []string
	for _, group := range core.ExistenceArguments(cte.Condition) {
		existenceAddrs = append(existenceAddrs, core.Addresses(group)...)
	}
	var existenceOnly []*core.CTE
	for _, p := range cte.ParentCTEs {
		if len(existenceAddrs) > 0 && allAddressesIn(p.OutputColumns, existenceAddrs) {
			existenceOnly = append(existenceOnly, p)
			continue
		}
		if !isChildOf(cte.Condition, p.Condition) {
			return false
		}
	}
	r.logger.Debug(optimizePrefix+" parents apply the condition, removing it", "cte", cte.Name)
	cte.Condition = nil
	if len(existenceOnly) > 0 {
		cte.ParentCTEs = slices.DeleteFunc(cte.ParentCTEs, func(p *core.CTE) bool {
			return slices.Contains(existenceOnly, p)
		})
		cte.ExistenceSourceMap = nil
	}
	return true
}

func allAddressesIn(cs []*core.Concept, addrs []string) bool {
	for _, c := range cs {
		if !slices.Contains(addrs, c.Address()) {
			return false
		}
	}
	return true
}

// inlineConstant replaces constants read from a parent with their literal
// and drops joins that only supplied them.
type inlineConstant struct{ logger *slog.Logger }

func (inlineConstant) Name() string { return "inline constant" }

func (r inlineConstant) Optimize(cte *core.CTE, _ map[string][]*core.CTE) bool {
	changed := false
	for _, in := range cte.Internal {
		changed = r.Optimize(in, nil) || changed
	}
	if cte.Source == nil {
		return changed
	}
	for _, c := range cte.Source.Inputs {
		names := cte.SourceMap[c.Address()]
		if len(names) == 0 || c.Derivation() != core.DerivationConstant {
			continue
		}
		if _, ok := core.InlineConstant(c, c); !ok {
			continue
		}
		r.logger.Debug(optimizePrefix+" inlining constant", "cte", cte.Name, "concept", c.Address())
		cte.SourceMap[c.Address()] = []string{}
		if cte.Condition != nil {
			if inlined, ok := core.InlineConstant(cte.Condition, c); ok {
				if cond, ok := inlined.(core.Condition); ok {
					cte.Condition = cond
				}
			}
		}
		for _, name := range names {
			if stillRead(cte, name) {
				continue
			}
			cte.Joins = slices.DeleteFunc(cte.Joins, func(j *core.Join) bool { return j.Right.Name == name })
			base, _ := cte.BaseName()
			if base != name {
				cte.ParentCTEs = slices.DeleteFunc(cte.ParentCTEs, func(p *core.CTE) bool { return p.Name == name })
			}
		}
		changed = true
	}
	return changed
}

func stillRead(cte *core.CTE, name string) bool {
	for _, names := range cte.SourceMap {
		if slices.Contains(names, name) {
			return true
		}
	}
	for _, names := range cte.ExistenceSourceMap {
		if slices.Contains(names, name) {
			return true
		}
	}
	return false
}

// relevant keeps the CTEs reachable from root.
func relevant(ctes []*core.CTE, root *core.CTE) []*core.CTE {
	keep := map[string]bool{}
	var walk func(c *core.CTE)
	walk = func(c *core.CTE) {
		if keep[c.Name] {
			return
		}
		keep[c.Name] = true
		for _, p := range c.ParentCTEs {
			walk(p)
		}
		for _, in := range c.Internal {
			for _, p := range in.ParentCTEs {
				walk(p)
			}
		}
	}
	walk(root)
	return slices.DeleteFunc(slices.Clone(ctes), func(c *core.CTE) bool { return !keep[c.Name] })
}

// reorder sorts CTEs so every parent precedes its children.
func reorder(ctes []*core.CTE) ([]*core.CTE, error) {
	g := dag.NewGraph()
	byName := make(map[string]*core.CTE, len(ctes))
	for _, c := range ctes {
		g.AddNode(c.Name, "cte", c)
		byName[c.Name] = c
	}
	for _, c := range ctes {
		parents := slices.Clone(c.ParentCTEs)
		for _, in := range c.Internal {
			parents = append(parents, in.ParentCTEs...)
		}
		for _, p := range parents {
			if _, ok := byName[p.Name]; !ok {
				continue
			}
			if err := g.AddEdge(p.Name, c.Name); err != nil {
				return nil, fmt.Errorf("ordering ctes: %w", err)
			}
		}
	}
	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("ordering ctes: %w", err)
	}
	out := make([]*core.CTE, 0, len(sorted))
	for _, n := range sorted {
		out = append(out, byName[n.ID])
	}
	return out, nil
}

// optimize runs every enabled rule to a fixed point and returns the final
// CTE list and root.
func optimize(ctes []*core.CTE, root *core.CTE, outputs, hidden []*core.Concept, cfg Config, logger *slog.Logger) ([]*core.CTE, *core.CTE, error) {
	root = directReturn(root, outputs, hidden, logger)

	var rules []rule
	if cfg.InlineDatasources {
		rules = append(rules, inlineDatasource{logger: logger})
	}
	if cfg.PredicatePushdown {
		rules = append(rules, &predicatePushdown{logger: logger, complete: map[string]bool{}}, predicatePushdownRemove{logger: logger})
	}
	rules = append(rules, inlineConstant{logger: logger})

	for _, rl := range rules {
		loops := 0
		for done := false; !done && loops <= maxOptimizationLoops; loops++ {
			look := []*core.CTE{root}
			for _, c := range reversed(ctes) {
				if c != root {
					look = append(look, c)
				}
			}
			children := childrenOf(look)
			changed := false
			for _, c := range look {
				changed = rl.Optimize(c, children) || changed
			}
			done = !changed
			ctes = relevant(ctes, root)
		}
		logger.Debug(optimizePrefix+" finished rule", "rule", rl.Name(), "loops", loops)
	}

	ordered, err := reorder(relevant(ctes, root))
	if err != nil {
		return nil, nil, err
	}
	return slices.DeleteFunc(ordered, func(c *core.CTE) bool { return c.Inlined }), root, nil
}

func reversed(ctes []*core.CTE) []*core.CTE {
	out := slices.Clone(ctes)
	slices.Reverse(out)
	return out
}
