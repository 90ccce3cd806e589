package dialect

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/leapstack-labs/grainql/pkg/core"
)

const logPrefix = "[RENDERING]"

// ErrUnsupported is returned when a dialect has no template for a function.
var ErrUnsupported = errors.New("unsupported by dialect")

// Renderer compiles processed statements into SQL text for one dialect.
type Renderer struct {
	d      *Dialect
	logger *slog.Logger
}

// Renderer returns a renderer for d. A nil logger discards output.
func (d *Dialect) Renderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Renderer{d: d, logger: logger}
}

// RenderQuery renders q with a discarding logger.
func (d *Dialect) RenderQuery(q *core.ProcessedQuery) (string, error) {
	return d.Renderer(nil).RenderQuery(q)
}

// Compile renders any processed statement.
func (r *Renderer) Compile(stmt any) (string, error) {
	switch s := stmt.(type) {
	case *core.ProcessedQuery:
		return r.RenderQuery(s)
	case *core.ProcessedQueryPersist:
		return r.RenderPersist(s)
	case *core.ProcessedShowStatement:
		return r.RenderShow(s)
	}
	return "", &core.InvalidArgumentError{Message: fmt.Sprintf("cannot render statement of type %T", stmt)}
}

// RenderPersist renders a query writing its rows into the target
// datasource.
func (r *Renderer) RenderPersist(q *core.ProcessedQueryPersist) (string, error) {
	body, err := r.RenderQuery(&q.ProcessedQuery)
	if err != nil {
		return "", err
	}
	return r.d.PersistPrefix(q.OutputTo.Location) + body, nil
}

// RenderShow renders the explain form of a query.
func (r *Renderer) RenderShow(s *core.ProcessedShowStatement) (string, error) {
	if s.Query == nil {
		return "", &core.InvalidArgumentError{Message: "show statement has no query"}
	}
	body, err := r.RenderQuery(s.Query)
	if err != nil {
		return "", err
	}
	return r.d.Explain + " " + body, nil
}

// RenderQuery renders the CTE list as a WITH clause followed by the final
// select over the base CTE.
func (r *Renderer) RenderQuery(q *core.ProcessedQuery) (string, error) {
	if q == nil || q.Base == nil {
		return "", &core.InvalidArgumentError{Message: "processed query has no base"}
	}
	var with []string
	for _, cte := range q.CTEs {
		if cte == q.Base {
			continue
		}
		stmt, err := r.renderCTE(cte, nil)
		if err != nil {
			return "", fmt.Errorf("rendering cte %s: %w", cte.Name, err)
		}
		with = append(with, cte.Name+" as (\n"+stmt+")")
	}
	final, err := r.renderCTE(q.Base, q.OutputColumns)
	if err != nil {
		return "", fmt.Errorf("rendering cte %s: %w", q.Base.Name, err)
	}
	r.logger.Debug(logPrefix+" rendered query", "dialect", r.d.Name, "ctes", len(with)+1)
	if len(with) == 0 {
		return final, nil
	}
	return "WITH\n" + strings.Join(with, ",\n") + "\n" + final, nil
}

func (r *Renderer) quote(name string) string { return r.d.QuoteIdentifier(name) }

func (r *Renderer) ref(relation, column string) string {
	return r.quote(relation) + "." + r.quote(column)
}

// renderCTE renders one select. order fixes the column order of the final
// select; other CTEs list their columns sorted.
func (r *Renderer) renderCTE(cte *core.CTE, order []*core.Concept) (string, error) {
	if cte.IsUnion() {
		return r.renderUnion(cte, order)
	}
	columns := cte.VisibleColumns()
	if order != nil {
		columns = orderedColumns(columns, order)
	}
	selects := make([]string, 0, len(columns))
	for _, c := range columns {
		s, err := r.concept(c, cte, true)
		if err != nil {
			return "", err
		}
		selects = append(selects, s)
	}
	if order == nil {
		slices.Sort(selects)
	}

	var b strings.Builder
	b.WriteString("SELECT\n\t")
	b.WriteString(strings.Join(selects, ",\n\t"))
	b.WriteString("\n")

	if cte.RenderFromClause() {
		from, err := r.fromClause(cte)
		if err != nil {
			return "", err
		}
		b.WriteString("FROM\n\t" + from + "\n")
		for _, j := range cte.Joins {
			js, err := r.join(j, cte)
			if err != nil {
				return "", err
			}
			b.WriteString("\t" + js + "\n")
		}
	}

	where, having, err := r.conditions(cte)
	if err != nil {
		return "", err
	}
	if where != "" {
		b.WriteString("WHERE\n\t" + where + "\n")
	}
	if cte.GroupToGrain {
		groups, err := r.groupBy(cte)
		if err != nil {
			return "", err
		}
		if len(groups) > 0 {
			b.WriteString("GROUP BY\n\t" + strings.Join(groups, ",\n\t") + "\n")
		}
	}
	if having != "" {
		b.WriteString("HAVING\n\t" + having + "\n")
	}
	if err := r.orderAndLimit(&b, cte); err != nil {
		return "", err
	}
	r.logger.Debug(logPrefix+" rendered cte", "cte", cte.Name, "joins", len(cte.Joins), "grouped", cte.GroupToGrain)
	return b.String(), nil
}

func (r *Renderer) renderUnion(cte *core.CTE, order []*core.Concept) (string, error) {
	if order == nil {
		order = cte.OutputColumns
	}
	parts := make([]string, 0, len(cte.Internal))
	for _, internal := range cte.Internal {
		s, err := r.renderCTE(internal, order)
		if err != nil {
			return "", err
		}
		parts = append(parts, strings.TrimSuffix(s, "\n"))
	}
	op := cte.Operator
	if op == "" {
		op = "UNION ALL"
	}
	var b strings.Builder
	b.WriteString(strings.Join(parts, "\n"+op+"\n"))
	b.WriteString("\n")
	if err := r.orderAndLimit(&b, cte); err != nil {
		return "", err
	}
	return b.String(), nil
}

func orderedColumns(columns, order []*core.Concept) []*core.Concept {
	index := make(map[string]int, len(order))
	for i, c := range order {
		if _, ok := index[c.Address()]; !ok {
			index[c.Address()] = i
		}
	}
	out := slices.Clone(columns)
	slices.SortStableFunc(out, func(a, b *core.Concept) int {
		ia, aok := index[a.Address()]
		ib, bok := index[b.Address()]
		switch {
		case aok && bok:
			return ia - ib
		case aok:
			return -1
		case bok:
			return 1
		}
		return 0
	})
	return out
}

func (r *Renderer) orderAndLimit(b *strings.Builder, cte *core.CTE) error {
	if cte.OrderBy != nil && len(cte.OrderBy.Items) > 0 {
		items := make([]string, 0, len(cte.OrderBy.Items))
		for _, item := range cte.OrderBy.Items {
			s, err := r.orderItem(item, cte)
			if err != nil {
				return err
			}
			items = append(items, s)
		}
		b.WriteString("ORDER BY\n\t" + strings.Join(items, ",\n\t") + "\n")
	}
	if cte.Limit > 0 {
		switch r.d.Limit {
		case LimitFetch:
			fmt.Fprintf(b, "FETCH FIRST %d ROWS ONLY\n", cte.Limit)
		default:
			fmt.Fprintf(b, "LIMIT %d\n", cte.Limit)
		}
	}
	return nil
}

func (r *Renderer) orderItem(item core.OrderItem, cte *core.CTE) (string, error) {
	s, err := r.expr(item.Expr, cte)
	if err != nil {
		return "", err
	}
	order := item.Order
	if order == "" {
		order = core.Ascending
	}
	return s + " " + string(order), nil
}

func (r *Renderer) fromClause(cte *core.CTE) (string, error) {
	base, err := cte.BaseName()
	if err != nil {
		return "", err
	}
	source := base
	if cte.BaseIsQuery() {
		source = "(" + base + ")"
	}
	if alias := cte.BaseAlias(); alias != base {
		source += " as " + r.quote(alias)
	}
	return source, nil
}

// relation is how a join refers to a parent: its CTE name, or the physical
// table it reads when inlined.
func (r *Renderer) relation(c *core.CTE) string {
	if c.Inlined {
		if ds, ok := c.PhysicalSource(); ok {
			loc := ds.SafeLocation()
			if ds.Address.IsQuery {
				loc = "(" + loc + ")"
			}
			return loc + " as " + r.quote(c.Name)
		}
	}
	return c.Name
}

// column renders c as read from parent.
func (r *Renderer) column(parent *core.CTE, c *core.Concept) string {
	if parent.Inlined {
		if ds, ok := parent.PhysicalSource(); ok {
			if col, ok := ds.Column(c); ok {
				if col.RawExpr != "" {
					return col.RawExpr
				}
				return r.ref(parent.Name, col.Alias)
			}
		}
	}
	if out, ok := core.FindAddress(parent.OutputColumns, c.Address()); ok {
		return r.ref(parent.Name, out.SafeAddress())
	}
	for _, out := range parent.OutputColumns {
		if out.HasPseudonym(c.Address()) || c.HasPseudonym(out.Address()) {
			return r.ref(parent.Name, out.SafeAddress())
		}
	}
	return r.ref(parent.Name, c.SafeAddress())
}

func isNullableIn(c *core.Concept, cte *core.CTE) bool {
	return cte != nil && core.ContainsAddress(cte.Nullable, c.Address())
}

func nullSafeEqual(left, right string, nullable bool) string {
	if nullable {
		return "(" + left + " = " + right + " or (" + left + " is null and " + right + " is null))"
	}
	return left + " = " + right
}

func (r *Renderer) join(j *core.Join, cte *core.CTE) (string, error) {
	right := r.relation(j.Right)
	if j.JoinType == core.JoinCross {
		return "CROSS JOIN " + right, nil
	}
	var keys []string
	for _, pair := range j.Pairs {
		left := pair.Existing
		if left == nil {
			left = j.Left
		}
		if left == nil {
			return "", &core.InvalidSyntaxError{Message: fmt.Sprintf("join %s has no left side for %s", j, pair.Left.Address())}
		}
		nullable := isNullableIn(pair.Left, left) || isNullableIn(pair.Right, j.Right)
		keys = append(keys, nullSafeEqual(r.column(left, pair.Left), r.column(j.Right, pair.Right), nullable))
	}
	for _, key := range j.Keys {
		left := j.Left
		if left == nil {
			left = keySource(cte, key, j.Right)
		}
		if left == nil {
			return "", &core.InvalidSyntaxError{Message: fmt.Sprintf("join %s has no left side for %s", j, key.Address())}
		}
		nullable := isNullableIn(key, left) || isNullableIn(key, j.Right)
		keys = append(keys, nullSafeEqual(r.column(left, key), r.column(j.Right, key), nullable))
	}
	on := "1=1"
	if len(keys) > 0 {
		slices.Sort(keys)
		on = strings.Join(slices.Compact(keys), " AND ")
	}
	return strings.ToUpper(string(j.JoinType)) + " JOIN " + right + " on " + on, nil
}

// keySource finds a parent other than exclude that provides key.
func keySource(cte *core.CTE, key *core.Concept, exclude *core.CTE) *core.CTE {
	for _, name := range cte.SourceMap[key.Address()] {
		if name == exclude.Name {
			continue
		}
		if p, ok := cte.Parent(name); ok {
			return p
		}
	}
	for _, p := range cte.ParentCTEs {
		if p != exclude && core.ContainsAddress(p.OutputColumns, key.Address()) {
			return p
		}
	}
	return nil
}

func sourcesFor(c *core.Concept, cte *core.CTE) []string {
	if s := cte.SourceMap[c.Address()]; len(s) > 0 {
		return s
	}
	for _, p := range c.Pseudonyms {
		if s := cte.SourceMap[p]; len(s) > 0 {
			return s
		}
	}
	return nil
}

// concept renders c within cte, falling back to a pseudonym the CTE
// carries when c itself cannot be rendered.
func (r *Renderer) concept(c *core.Concept, cte *core.CTE, alias bool) (string, error) {
	out, err := r.conceptValue(c, cte)
	if err != nil {
		for _, p := range c.Pseudonyms {
			candidate, ok := core.FindAddress(cte.OutputColumns, p)
			if !ok {
				continue
			}
			if alt, altErr := r.conceptValue(candidate, cte); altErr == nil {
				out, err = alt, nil
				break
			}
		}
	}
	if err != nil {
		return "", err
	}
	if alias {
		out += " as " + r.quote(c.SafeAddress())
	}
	return out, nil
}

func (r *Renderer) conceptValue(c *core.Concept, cte *core.CTE) (string, error) {
	sources := sourcesFor(c, cte)
	if c.Lineage != nil && len(sources) == 0 {
		return r.lineage(c, cte)
	}
	switch len(sources) {
	case 0:
		if cte.IsUnion() || cte.Source == nil {
			return r.quote(c.SafeAddress()), nil
		}
		return "", &core.InvalidSyntaxError{Message: fmt.Sprintf("missing source reference to %s in cte %s", c.Address(), cte.Name)}
	case 1:
		return r.sourced(c, cte, sources[0])
	}
	refs := make([]string, 0, len(sources))
	for _, s := range sources {
		ref, err := r.sourced(c, cte, s)
		if err != nil {
			return "", err
		}
		refs = append(refs, ref)
	}
	slices.Sort(refs)
	coalesce, _ := r.d.Function(core.FuncCoalesce, true)
	return coalesce(slices.Compact(refs)), nil
}

func (r *Renderer) sourced(c *core.Concept, cte *core.CTE, name string) (string, error) {
	if ds, ok := cte.PhysicalSource(); ok && (name == ds.FullName() || name == ds.Identifier) {
		col, ok := ds.Column(c)
		if !ok {
			return "", &core.InvalidSyntaxError{Message: fmt.Sprintf("concept %s not found on %s", c.Address(), ds.Identifier)}
		}
		if col.RawExpr != "" {
			return col.RawExpr, nil
		}
		relation := cte.BaseAlias()
		if len(cte.ParentCTEs) > 0 {
			relation = name
		}
		return r.ref(relation, col.Alias), nil
	}
	if p, ok := cte.Parent(name); ok {
		return r.column(p, c), nil
	}
	return r.ref(name, c.SafeAddress()), nil
}

func (r *Renderer) lineage(c *core.Concept, cte *core.CTE) (string, error) {
	switch l := c.Lineage.(type) {
	case *core.WindowItem:
		return r.window(l, cte)
	case *core.FilterItem:
		return r.filter(l, cte)
	case *core.RowsetItem:
		return r.concept(l.Content, cte, false)
	case *core.MultiSelectLineage:
		if item, ok := l.Item(c.Name); ok {
			for _, ic := range item.Concepts {
				if len(sourcesFor(ic, cte)) > 0 {
					return r.concept(ic, cte, false)
				}
			}
		}
		return r.quote(c.SafeAddress()), nil
	case *core.MergeLineage:
		for _, m := range l.Concepts {
			if len(sourcesFor(m, cte)) > 0 {
				return r.concept(m, cte, false)
			}
		}
		return "", &core.InvalidSyntaxError{Message: fmt.Sprintf("no merged source for %s in cte %s", c.Address(), cte.Name)}
	case *core.AggregateWrapper:
		return r.function(l.Function, cte)
	case *core.Function:
		if l.Operator == core.FuncUnion {
			for _, arg := range core.ConceptArguments(l) {
				if len(sourcesFor(arg, cte)) > 0 {
					return r.concept(arg, cte, false)
				}
			}
			return r.quote(c.SafeAddress()), nil
		}
		return r.function(l, cte)
	}
	return "", &core.InvalidSyntaxError{Message: fmt.Sprintf("cannot render lineage %T of %s", c.Lineage, c.Address())}
}

func (r *Renderer) window(w *core.WindowItem, cte *core.CTE) (string, error) {
	fn, ok := r.d.Window(w.Type)
	if !ok {
		return "", fmt.Errorf("%w: window %s in %s", ErrUnsupported, w.Type, r.d.Name)
	}
	content, err := r.concept(w.Content, cte, false)
	if err != nil {
		return "", err
	}
	partition := make([]string, 0, len(w.Over))
	for _, o := range w.Over {
		s, err := r.concept(o, cte, false)
		if err != nil {
			return "", err
		}
		partition = append(partition, s)
	}
	sorts := make([]string, 0, len(w.OrderBy))
	for _, item := range w.OrderBy {
		s, err := r.orderItem(item, cte)
		if err != nil {
			return "", err
		}
		sorts = append(sorts, s)
	}
	return fn(content, strings.Join(partition, ","), strings.Join(sorts, ","), w.Index), nil
}

// filter renders content directly when the CTE already applies the filter
// condition; otherwise it nulls out non-matching rows.
func (r *Renderer) filter(f *core.FilterItem, cte *core.CTE) (string, error) {
	content, err := r.concept(f.Content, cte, false)
	if err != nil {
		return "", err
	}
	if f.Where == nil || f.Where.Conditional == nil {
		return content, nil
	}
	if cte.Condition != nil {
		for _, atom := range core.Decompose(cte.Condition) {
			if core.ConditionEqual(atom, f.Where.Conditional) || core.ConditionEqual(cte.Condition, f.Where.Conditional) {
				return content, nil
			}
		}
	}
	cond, err := r.expr(f.Where.Conditional, cte)
	if err != nil {
		return "", err
	}
	return "CASE WHEN " + cond + " THEN " + content + " ELSE NULL END", nil
}

func isArithmetic(op core.FunctionType) bool {
	switch op {
	case core.FuncAdd, core.FuncSubtract, core.FuncMultiply, core.FuncDivide:
		return true
	}
	return false
}

func (r *Renderer) function(f *core.Function, cte *core.CTE) (string, error) {
	grouped := cte == nil || cte.GroupToGrain
	fn, ok := r.d.Function(f.Operator, grouped)
	if !ok {
		return "", fmt.Errorf("%w: function %s in %s", ErrUnsupported, f.Operator, r.d.Name)
	}
	args := make([]string, 0, len(f.Arguments))
	for i, arg := range f.Arguments {
		if f.Operator == core.FuncCast && i == 1 {
			s, err := r.castType(arg)
			if err != nil {
				return "", err
			}
			args = append(args, s)
			continue
		}
		s, err := r.expr(arg, cte)
		if err != nil {
			return "", err
		}
		if c, ok := arg.(*core.Concept); ok && len(sourcesFor(c, cte)) == 0 {
			if inner, ok := c.Lineage.(*core.Function); ok && isArithmetic(inner.Operator) {
				s = "(" + s + ")"
			}
		}
		args = append(args, s)
	}
	return fn(args), nil
}

func (r *Renderer) castType(arg core.Expr) (string, error) {
	lit, ok := arg.(core.Literal)
	if !ok {
		return "", &core.InvalidArgumentError{Message: fmt.Sprintf("cast target must be a type name, got %s", arg)}
	}
	name, ok := lit.Value.(string)
	if !ok {
		return "", &core.InvalidArgumentError{Message: fmt.Sprintf("cast target must be a type name, got %s", arg)}
	}
	dt, err := core.ParseDataType(name)
	if err != nil {
		return "", err
	}
	return r.d.Datatype(dt), nil
}

func (r *Renderer) expr(e core.Expr, cte *core.CTE) (string, error) {
	switch v := e.(type) {
	case nil:
		return "", &core.InvalidSyntaxError{Message: "cannot render empty expression"}
	case *core.Concept:
		if cte == nil {
			return r.quote(v.SafeAddress()), nil
		}
		return r.concept(v, cte, false)
	case core.Literal:
		return r.literal(v), nil
	case *core.Function:
		return r.function(v, cte)
	case *core.AggregateWrapper:
		return r.function(v.Function, cte)
	case *core.WindowItem:
		return r.window(v, cte)
	case *core.FilterItem:
		return r.filter(v, cte)
	case *core.Comparison:
		return r.comparison(v, cte)
	case *core.SubselectComparison:
		return r.subselect(v, cte)
	case *core.Conditional:
		left, err := r.expr(v.Left, cte)
		if err != nil {
			return "", err
		}
		right, err := r.expr(v.Right, cte)
		if err != nil {
			return "", err
		}
		return left + " " + strings.ToUpper(string(v.Operator)) + " " + right, nil
	case *core.Parenthetical:
		inner, err := r.expr(v.Content, cte)
		if err != nil {
			return "", err
		}
		return "( " + inner + " )", nil
	}
	return "", &core.InvalidSyntaxError{Message: fmt.Sprintf("cannot render expression %T", e)}
}

func (r *Renderer) comparison(c *core.Comparison, cte *core.CTE) (string, error) {
	left, err := r.expr(c.Left, cte)
	if err != nil {
		return "", err
	}
	if lit, ok := c.Right.(core.Literal); ok {
		switch v := lit.Value.(type) {
		case nil:
			op := c.Operator
			switch op {
			case core.OpEq:
				op = core.OpIs
			case core.OpNe:
				op = core.OpIsNot
			}
			return left + " " + string(op) + " null", nil
		case []core.Literal:
			return left + " " + string(c.Operator) + " " + r.tuple(v), nil
		}
	}
	right, err := r.expr(c.Right, cte)
	if err != nil {
		return "", err
	}
	return left + " " + string(c.Operator) + " " + right, nil
}

func (r *Renderer) tuple(items []core.Literal) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = r.literal(item)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// subselect renders membership against the distinct non-null values of a
// concept sourced by an existence parent.
func (r *Renderer) subselect(s *core.SubselectComparison, cte *core.CTE) (string, error) {
	left, err := r.expr(s.Left, cte)
	if err != nil {
		return "", err
	}
	switch right := s.Right.(type) {
	case core.Literal:
		if items, ok := right.Value.([]core.Literal); ok {
			return left + " " + string(s.Operator) + " " + r.tuple(items), nil
		}
		return left + " " + string(s.Operator) + " (" + r.literal(right) + ")", nil
	case *core.Concept:
		target := existenceTarget(right, cte)
		if target == "" {
			return "", &core.InvalidSyntaxError{Message: fmt.Sprintf("no existence source for %s in cte %s", right.Address(), cte.Name)}
		}
		from := target
		column := r.ref(target, right.SafeAddress())
		if p, ok := existenceParent(cte, target); ok {
			column = r.column(p, right)
			if p.Inlined {
				from = r.relation(p)
			}
		}
		return fmt.Sprintf("%s %s (select %s from %s where %s is not null)", left, s.Operator, column, from, column), nil
	case *core.Parenthetical:
		inner, err := r.expr(right, cte)
		if err != nil {
			return "", err
		}
		return left + " " + string(s.Operator) + " " + inner, nil
	}
	inner, err := r.expr(s.Right, cte)
	if err != nil {
		return "", err
	}
	return left + " " + string(s.Operator) + " (" + inner + ")", nil
}

func existenceTarget(c *core.Concept, cte *core.CTE) string {
	if cte == nil {
		return ""
	}
	if s := cte.ExistenceSourceMap[c.Address()]; len(s) > 0 {
		return s[0]
	}
	if s := sourcesFor(c, cte); len(s) > 0 {
		return s[0]
	}
	return ""
}

func existenceParent(cte *core.CTE, name string) (*core.CTE, bool) {
	if p, ok := cte.Parent(name); ok {
		return p, true
	}
	for _, p := range cte.ParentCTEs {
		for _, gp := range p.ParentCTEs {
			if gp.Name == name {
				return gp, true
			}
		}
	}
	return nil, false
}

func (r *Renderer) literal(l core.Literal) string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return decimal.NewFromFloat(v).String()
	case decimal.Decimal:
		return v.String()
	case []core.Literal:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = r.literal(item)
		}
		array, _ := r.d.Function(core.FuncArray, true)
		return array(parts)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", l.Value)
}

// conditions splits the CTE condition into the row-level part rendered in
// WHERE and the part over aggregates rendered in HAVING.
func (r *Renderer) conditions(cte *core.CTE) (where, having string, err error) {
	if cte.Condition == nil {
		return "", "", nil
	}
	materialized := map[string]bool{}
	for addr, sources := range cte.SourceMap {
		if len(sources) > 0 {
			materialized[addr] = true
		}
	}
	if !cte.GroupToGrain || core.IsScalarCondition(cte.Condition, materialized) {
		where, err = r.expr(cte.Condition, cte)
		return where, "", err
	}
	var whereParts, havingParts []string
	for _, atom := range core.Decompose(cte.Condition) {
		s, err := r.expr(atom, cte)
		if err != nil {
			return "", "", err
		}
		if core.IsScalarCondition(atom, materialized) {
			whereParts = append(whereParts, s)
		} else {
			havingParts = append(havingParts, s)
		}
	}
	return strings.Join(whereParts, " AND "), strings.Join(havingParts, " AND "), nil
}

// notGrouped reports whether c is computed in cte without contributing a
// GROUP BY key.
func notGrouped(c *core.Concept, cte *core.CTE) bool {
	if len(sourcesFor(c, cte)) > 0 {
		return false
	}
	if c.Purpose == core.PurposeMetric || c.IsAggregate() {
		return true
	}
	switch c.Derivation() {
	case core.DerivationConstant, core.DerivationAggregate:
		return true
	case core.DerivationBasic:
		args := core.ConceptArguments(c.Lineage)
		if len(args) == 0 {
			return true
		}
		for _, arg := range args {
			if !notGrouped(arg, cte) {
				return false
			}
		}
		return true
	}
	return false
}

func (r *Renderer) groupBy(cte *core.CTE) ([]string, error) {
	var groups []string
	for _, c := range cte.OutputColumns {
		if notGrouped(c, cte) {
			continue
		}
		s, err := r.concept(c, cte, false)
		if err != nil {
			return nil, err
		}
		groups = append(groups, s)
	}
	slices.Sort(groups)
	return slices.Compact(groups), nil
}
