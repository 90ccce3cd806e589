package resolver

import (
	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/nodes"
)

// QueryNode returns the root strategy node of stmt. The root produces every
// selected concept at the select grain with the where clause applied below
// it and the having clause, ordering and limit applied on top.
func (r *Resolver) QueryNode(stmt *core.SelectStatement) (*nodes.Node, error) {
	n, err := r.statementNode(stmt, 0)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &core.NoDatasourceError{Concepts: core.SortedAddresses(stmt.OutputComponents())}
	}
	return n, nil
}

func (r *Resolver) statementNode(stmt *core.SelectStatement, depth int) (*nodes.Node, error) {
	outputs := stmt.OutputComponents()
	return r.finalize(outputs, stmt.HiddenComponents(), stmt.Where, stmt.Having, stmt.OrderBy, stmt.Limit, depth)
}

// MultiSelectNode returns the root strategy node of a multiselect. The
// aligned concepts come first in the output, followed by every output of
// the individual selects.
func (r *Resolver) MultiSelectNode(stmt *core.MultiSelectStatement) (*nodes.Node, error) {
	outputs, err := stmt.OutputComponents()
	if err != nil {
		return nil, err
	}
	n, err := r.finalize(outputs, stmt.HiddenComponents(), stmt.Where, nil, stmt.OrderBy, stmt.Limit, 0)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &core.NoDatasourceError{Concepts: core.SortedAddresses(outputs)}
	}
	return n, nil
}

func (r *Resolver) finalize(outputs, hidden []*core.Concept, where, having *core.WhereClause, order *core.OrderBy, limit, depth int) (*nodes.Node, error) {
	mandatory := union(outputs, having.RowArguments(), order.ConceptArguments())
	var cond core.Condition
	if where != nil {
		cond = where.Conditional
	}
	r.logger.Debug(logPrefix+" resolving statement",
		"depth", depth,
		"outputs", core.SortedAddresses(outputs),
		"where", core.ConditionString(cond))

	root, err := r.search(mandatory, cond, false, depth)
	if err != nil || root == nil {
		return nil, err
	}
	final := nodes.NewGroupNode(root.UsableOutputs(), outputs, root).WithDepth(depth)
	if len(hidden) > 0 {
		final = final.WithHidden(hidden...)
	}
	if having != nil && having.Conditional != nil {
		rn, err := r.applyCondition(final, having.Conditional, depth)
		if err != nil {
			return nil, err
		}
		final = rn
	}
	if cond != nil {
		final = final.WithPreexisting(core.And(cond, final.Condition))
	}
	if order != nil || limit > 0 {
		final = final.WithOrdering(order, limit)
	}
	if _, err := final.Resolve(); err != nil {
		return nil, err
	}
	return final, nil
}
