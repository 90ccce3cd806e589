package core

import "strings"

// Condition is a boolean expression usable in where and having clauses.
type Condition interface {
	Expr
	condition()
}

// Comparison compares two expressions.
type Comparison struct {
	Left     Expr
	Right    Expr
	Operator ComparisonOperator
}

func (*Comparison) condition() {}

func (c *Comparison) mapConcepts(fn func(*Concept) *Concept) Expr {
	return &Comparison{Left: c.Left.mapConcepts(fn), Right: c.Right.mapConcepts(fn), Operator: c.Operator}
}

func (c *Comparison) String() string {
	return exprString(c.Left) + " " + string(c.Operator) + " " + exprString(c.Right)
}

// SubselectComparison tests membership of Left in the set of values of a
// concept sourced independently (IN/EXISTS semantics).
type SubselectComparison struct {
	Left     Expr
	Right    Expr
	Operator ComparisonOperator
}

func (*SubselectComparison) condition() {}

func (c *SubselectComparison) mapConcepts(fn func(*Concept) *Concept) Expr {
	return &SubselectComparison{Left: c.Left.mapConcepts(fn), Right: c.Right.mapConcepts(fn), Operator: c.Operator}
}

func (c *SubselectComparison) String() string {
	return exprString(c.Left) + " " + string(c.Operator) + " (" + exprString(c.Right) + ")"
}

// Conditional combines two conditions.
type Conditional struct {
	Left     Expr
	Right    Expr
	Operator BooleanOperator
}

func (*Conditional) condition() {}

func (c *Conditional) mapConcepts(fn func(*Concept) *Concept) Expr {
	return &Conditional{Left: c.Left.mapConcepts(fn), Right: c.Right.mapConcepts(fn), Operator: c.Operator}
}

func (c *Conditional) String() string {
	return exprString(c.Left) + " " + string(c.Operator) + " " + exprString(c.Right)
}

// Parenthetical groups an expression.
type Parenthetical struct {
	Content Expr
}

func (*Parenthetical) condition() {}

func (p *Parenthetical) mapConcepts(fn func(*Concept) *Concept) Expr {
	return &Parenthetical{Content: p.Content.mapConcepts(fn)}
}

func (p *Parenthetical) String() string { return "(" + exprString(p.Content) + ")" }

// And combines conditions, skipping nils. Equal conditions are not repeated.
func And(conds ...Condition) Condition {
	var out Condition
	for _, c := range conds {
		if c == nil {
			continue
		}
		if out == nil {
			out = c
			continue
		}
		if ConditionEqual(out, c) {
			continue
		}
		out = &Conditional{Left: out, Right: c, Operator: BoolAnd}
	}
	return out
}

// ConditionEqual compares conditions by rendered form.
func ConditionEqual(a, b Condition) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// Decompose splits a condition into its AND-ed atoms.
func Decompose(c Condition) []Condition {
	switch v := c.(type) {
	case nil:
		return nil
	case *Conditional:
		if v.Operator == BoolAnd {
			l, lok := v.Left.(Condition)
			r, rok := v.Right.(Condition)
			if lok && rok {
				return append(Decompose(l), Decompose(r)...)
			}
		}
	case *Parenthetical:
		if inner, ok := v.Content.(*Conditional); ok && inner.Operator == BoolAnd {
			return Decompose(inner)
		}
	}
	return []Condition{c}
}

// ExistenceArguments returns the concept groups that must be sourced
// independently to evaluate subselect comparisons.
func ExistenceArguments(e Expr) [][]*Concept {
	switch v := e.(type) {
	case *SubselectComparison:
		args := ConceptArguments(v.Right)
		if len(args) == 0 {
			return nil
		}
		return [][]*Concept{args}
	case *Conditional:
		return append(ExistenceArguments(v.Left), ExistenceArguments(v.Right)...)
	case *Parenthetical:
		return ExistenceArguments(v.Content)
	case *Comparison:
		return append(ExistenceArguments(v.Left), ExistenceArguments(v.Right)...)
	}
	return nil
}

// RowArguments returns the concepts that must be sourced alongside the
// filtered rows.
func RowArguments(e Expr) []*Concept {
	switch v := e.(type) {
	case *SubselectComparison:
		return ConceptArguments(v.Left)
	case *Conditional:
		return UniqueConcepts(append(RowArguments(v.Left), RowArguments(v.Right)...))
	case *Parenthetical:
		return RowArguments(v.Content)
	case *Comparison:
		return UniqueConcepts(append(RowArguments(v.Left), RowArguments(v.Right)...))
	case nil:
		return nil
	}
	return ConceptArguments(e)
}

// IsScalarCondition reports whether e can be evaluated row by row, without
// an aggregate or window. Concepts in materialized count as scalar.
func IsScalarCondition(e Expr, materialized map[string]bool) bool {
	switch v := e.(type) {
	case nil, Literal:
		return true
	case *Concept:
		if materialized[v.Address()] {
			return true
		}
		switch l := v.Lineage.(type) {
		case *AggregateWrapper, *WindowItem:
			return false
		case *Function:
			return !IsAggregateFunction(l.Operator)
		}
		return true
	case *Function:
		if IsAggregateFunction(v.Operator) {
			return false
		}
		for _, a := range v.Arguments {
			if !IsScalarCondition(a, materialized) {
				return false
			}
		}
		return true
	case *AggregateWrapper, *WindowItem:
		return false
	case *Comparison:
		return IsScalarCondition(v.Left, materialized) && IsScalarCondition(v.Right, materialized)
	case *SubselectComparison:
		return IsScalarCondition(v.Left, materialized)
	case *Conditional:
		return IsScalarCondition(v.Left, materialized) && IsScalarCondition(v.Right, materialized)
	case *Parenthetical:
		return IsScalarCondition(v.Content, materialized)
	}
	return true
}

// InlineConstant replaces references to a constant concept with its literal
// value. It reports false when the concept is not an inlinable constant.
func InlineConstant(e Expr, c *Concept) (Expr, bool) {
	f, ok := c.Lineage.(*Function)
	if !ok || f.Operator != FuncConstant || c.Derivation() != DerivationConstant {
		return e, false
	}
	lit, ok := f.Arguments[0].(Literal)
	if !ok {
		return e, false
	}
	return replaceConcept(e, c.Address(), lit), true
}

func replaceConcept(e Expr, addr string, with Expr) Expr {
	switch v := e.(type) {
	case *Concept:
		if v.Address() == addr {
			return with
		}
		return v
	case *Comparison:
		return &Comparison{Left: replaceConcept(v.Left, addr, with), Right: replaceConcept(v.Right, addr, with), Operator: v.Operator}
	case *SubselectComparison:
		return &SubselectComparison{Left: replaceConcept(v.Left, addr, with), Right: replaceConcept(v.Right, addr, with), Operator: v.Operator}
	case *Conditional:
		return &Conditional{Left: replaceConcept(v.Left, addr, with), Right: replaceConcept(v.Right, addr, with), Operator: v.Operator}
	case *Parenthetical:
		return &Parenthetical{Content: replaceConcept(v.Content, addr, with)}
	case *Function:
		args := make([]Expr, len(v.Arguments))
		for i, a := range v.Arguments {
			args[i] = replaceConcept(a, addr, with)
		}
		return &Function{Operator: v.Operator, Arguments: args, OutputDatatype: v.OutputDatatype, OutputPurpose: v.OutputPurpose}
	}
	return e
}

// WhereClause is the row filter of a select or grain.
type WhereClause struct {
	Conditional Condition
}

// NewWhereClause wraps c, returning nil when c is nil.
func NewWhereClause(c Condition) *WhereClause {
	if c == nil {
		return nil
	}
	return &WhereClause{Conditional: c}
}

// ConceptArguments returns all concepts referenced by the clause.
func (w *WhereClause) ConceptArguments() []*Concept {
	if w == nil {
		return nil
	}
	return ConceptArguments(w.Conditional)
}

// RowArguments returns the concepts sourced with the filtered rows.
func (w *WhereClause) RowArguments() []*Concept {
	if w == nil {
		return nil
	}
	return RowArguments(w.Conditional)
}

// ExistenceArguments returns the independently sourced concept groups.
func (w *WhereClause) ExistenceArguments() [][]*Concept {
	if w == nil {
		return nil
	}
	return ExistenceArguments(w.Conditional)
}

func (w *WhereClause) mapConcepts(fn func(*Concept) *Concept) *WhereClause {
	if w == nil {
		return nil
	}
	return &WhereClause{Conditional: w.Conditional.mapConcepts(fn).(Condition)}
}

// Equal compares two clauses by rendered form.
func (w *WhereClause) Equal(o *WhereClause) bool {
	if w == nil || o == nil {
		return w == nil && o == nil
	}
	return ConditionEqual(w.Conditional, o.Conditional)
}

func (w *WhereClause) String() string {
	if w == nil {
		return ""
	}
	return w.Conditional.String()
}

// ConditionString renders c, or "" for nil.
func ConditionString(c Condition) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.String())
}
