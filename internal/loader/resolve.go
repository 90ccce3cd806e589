package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/grainql/internal/dag"
	"github.com/leapstack-labs/grainql/pkg/core"
)

// binder is phase two: it resolves stubs into concepts against the
// environment built so far.
type binder struct {
	st     *symbolTable
	env    *core.Environment
	logger *slog.Logger
}

func (l *Loader) resolve(st *symbolTable) (*Model, error) {
	b := &binder{st: st, env: core.NewEnvironment(), logger: l.logger}

	for _, s := range st.order {
		c, err := b.concept(s)
		if err != nil {
			return nil, b.definitionError(s.doc, s.line, "concept", s.address, err)
		}
		b.env = b.env.AddConcept(c)
	}

	for _, doc := range st.docs {
		for i, def := range doc.def.Datasources {
			ds, err := b.datasource(def, doc.ns)
			if err != nil {
				return nil, b.definitionError(doc, lineOf(doc.pos.Datasources, i), "datasource", def.Name, err)
			}
			b.env = b.env.AddDatasource(ds)
		}
	}

	for _, doc := range st.docs {
		for _, m := range doc.def.Merges {
			if err := b.merge(m, doc.ns); err != nil {
				return nil, b.definitionError(doc, 0, "merge", m.Source, err)
			}
		}
	}

	model := &Model{Env: b.env, Queries: map[string]*Query{}}
	for _, doc := range st.docs {
		names := make([]string, 0, len(doc.def.Queries))
		for name := range doc.def.Queries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			line := doc.pos.Queries[name].Line
			if prev, dup := model.Queries[name]; dup {
				return nil, b.definitionError(doc, line, "query", name, fmt.Errorf("already defined in %s:%d", prev.File, prev.Line))
			}
			stmt, err := buildQuery(b.env, doc.ns, name, doc.def.Queries[name], b.st.qualify)
			if err != nil {
				return nil, b.definitionError(doc, line, "query", name, err)
			}
			model.Queries[name] = &Query{Name: name, File: doc.name, Line: line, Statement: stmt}
		}
	}

	model.Files = fileOrder(st, l)
	return model, nil
}

func (b *binder) definitionError(doc *document, line int, kind, name string, err error) error {
	var undefined *core.UndefinedConceptError
	if errors.As(err, &undefined) && undefined.Line == 0 {
		undefined.Line = line
	}
	return &DefinitionError{File: doc.name, Line: line, Kind: kind, Name: name, Err: err}
}

func (b *binder) lookup(ref, ns string) (*core.Concept, error) {
	return b.env.Concept(b.st.qualify(ref, ns))
}

func (b *binder) concept(s *stub) (*core.Concept, error) {
	def, ns := s.def, s.doc.ns
	lineage, err := b.lineage(def.Lineage, ns)
	if err != nil {
		return nil, err
	}

	var dt core.DataType
	if def.Type != "" {
		if dt, err = core.ParseDataType(def.Type); err != nil {
			return nil, err
		}
	} else {
		dt = inferDatatype(lineage)
	}

	var purpose core.Purpose
	switch {
	case def.Purpose != "":
		p, ok := core.ParsePurpose(def.Purpose)
		if !ok {
			return nil, fmt.Errorf("unknown purpose %q", def.Purpose)
		}
		purpose = p
	case lineage != nil:
		purpose = inferPurpose(lineage)
	default:
		return nil, errors.New("purpose is required for a concept without lineage")
	}

	c := core.NewConcept(def.Name, dt, purpose, lineage)
	if ns != core.DefaultNamespace {
		c.Namespace = ns
		if purpose == core.PurposeKey {
			c.Grain = core.NewGrain(c.Address())
		}
	}
	if len(def.Keys) > 0 {
		keys := make([]string, 0, len(def.Keys))
		for _, k := range def.Keys {
			kc, err := b.lookup(k, ns)
			if err != nil {
				return nil, err
			}
			keys = append(keys, kc.Address())
		}
		c = c.WithKeys(keys...)
	} else if purpose == core.PurposeProperty && lineage == nil {
		// empty grain: the property joins like a metric
		b.logger.Warn(logPrefix+" property has no keys", "concept", c.Address(), "file", s.doc.name)
	}
	if len(def.Modifiers) > 0 {
		mods, err := parseModifiers(def.Modifiers)
		if err != nil {
			return nil, err
		}
		c = c.WithModifiers(mods...)
	}
	if len(def.Pseudonyms) > 0 {
		addrs := make([]string, len(def.Pseudonyms))
		for i, p := range def.Pseudonyms {
			addrs[i] = b.st.qualify(p, ns)
		}
		c = c.WithPseudonyms(addrs...)
	}
	return c, nil
}

func (b *binder) lineage(def *lineageDef, ns string) (core.Lineage, error) {
	if def == nil {
		return nil, nil
	}
	kinds := 0
	for _, set := range []bool{def.Function != "", def.Window != "", def.Filter != ""} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return nil, errors.New("lineage needs exactly one of function, window or filter")
	}

	switch {
	case def.Window != "":
		return b.window(def, ns)
	case def.Filter != "":
		content, err := b.lookup(def.Filter, ns)
		if err != nil {
			return nil, err
		}
		if def.Where == nil {
			return nil, errors.New("filter requires where")
		}
		cond, err := condition(b.env, ns, def.Where, b.st.qualify)
		if err != nil {
			return nil, err
		}
		return &core.FilterItem{Content: content, Where: core.NewWhereClause(cond)}, nil
	}

	f, err := function(b.env, ns, def.Function, def.Args, b.st.qualify)
	if err != nil {
		return nil, err
	}
	if len(def.By) == 0 {
		return f, nil
	}
	if !core.IsAggregateFunction(f.Operator) {
		return nil, fmt.Errorf("by requires an aggregate, got %s", f.Operator)
	}
	by, err := b.concepts(def.By, ns)
	if err != nil {
		return nil, err
	}
	return &core.AggregateWrapper{Function: f, By: by}, nil
}

func (b *binder) window(def *lineageDef, ns string) (core.Lineage, error) {
	wt, ok := core.ParseWindowType(def.Window)
	if !ok {
		return nil, fmt.Errorf("unknown window function %q", def.Window)
	}
	if def.Content == "" {
		return nil, errors.New("window requires content")
	}
	content, err := b.lookup(def.Content, ns)
	if err != nil {
		return nil, err
	}
	over, err := b.concepts(def.Over, ns)
	if err != nil {
		return nil, err
	}
	order, err := orderItems(b.env, ns, def.OrderBy, b.st.qualify)
	if err != nil {
		return nil, err
	}
	w := &core.WindowItem{Type: wt, Content: content, Over: over, Index: def.Index}
	if order != nil {
		w.OrderBy = order.Items
	}
	return w, nil
}

func (b *binder) concepts(refs []string, ns string) ([]*core.Concept, error) {
	out := make([]*core.Concept, 0, len(refs))
	for _, ref := range refs {
		c, err := b.lookup(ref, ns)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (b *binder) datasource(def datasourceDef, ns string) (*core.Datasource, error) {
	if def.Name == "" {
		return nil, errors.New("name is required")
	}
	addr := core.Address{Location: def.Address}
	switch {
	case def.Query != "" && def.Address != "":
		return nil, errors.New("address and query are exclusive")
	case def.Query != "":
		addr = core.Address{Location: def.Query, IsQuery: true}
	case def.Address == "":
		addr = core.Address{Location: def.Name}
	}

	cols := make([]core.ColumnAssignment, 0, len(def.Columns))
	for _, col := range def.Columns {
		c, err := b.lookup(col.Concept, ns)
		if err != nil {
			return nil, err
		}
		mods, err := parseModifiers(col.Modifiers)
		if err != nil {
			return nil, err
		}
		alias := col.Alias
		if alias == "" && col.Raw == "" {
			alias = c.Name
		}
		cols = append(cols, core.ColumnAssignment{Alias: alias, RawExpr: col.Raw, Concept: c, Modifiers: mods})
	}

	var grain core.Grain
	if len(def.Grain) > 0 {
		gc, err := b.concepts(def.Grain, ns)
		if err != nil {
			return nil, err
		}
		grain = core.NewGrain(core.Addresses(gc)...)
	}
	ds := core.NewDatasource(def.Name, addr, cols, grain)
	ds.Namespace = ns
	if def.Where != nil {
		cond, err := condition(b.env, ns, def.Where, b.st.qualify)
		if err != nil {
			return nil, err
		}
		ds.Where = core.NewWhereClause(cond)
	}
	return ds, nil
}

func (b *binder) merge(def mergeDef, ns string) error {
	source, err := b.lookup(def.Source, ns)
	if err != nil {
		return err
	}
	target, err := b.lookup(def.Target, ns)
	if err != nil {
		return err
	}
	mods, err := parseModifiers(def.Modifiers)
	if err != nil {
		return err
	}
	if !core.IsCompatible(source.Datatype, target.Datatype) {
		return fmt.Errorf("cannot merge %s (%s) into %s (%s)", source.Address(), source.Datatype, target.Address(), target.Datatype)
	}
	b.env = b.env.MergeConcept(source, target, mods)
	return nil
}

func parseModifiers(names []string) ([]core.Modifier, error) {
	var out []core.Modifier
	for _, n := range names {
		switch m := core.Modifier(n); m {
		case core.ModifierPartial, core.ModifierNullable, core.ModifierHidden:
			out = append(out, m)
		default:
			return nil, fmt.Errorf("unknown modifier %q", n)
		}
	}
	return out, nil
}

func inferDatatype(l core.Lineage) core.DataType {
	switch x := l.(type) {
	case *core.Function:
		return x.OutputDatatype
	case *core.AggregateWrapper:
		return x.Function.OutputDatatype
	case *core.WindowItem:
		return x.OutputDatatype()
	case *core.FilterItem:
		return x.Content.Datatype
	}
	return core.TypeUnknown
}

func inferPurpose(l core.Lineage) core.Purpose {
	switch x := l.(type) {
	case *core.Function:
		return x.OutputPurpose
	case *core.AggregateWrapper:
		return core.PurposeMetric
	case *core.FilterItem:
		return x.Content.Purpose
	}
	return core.PurposeProperty
}

// qualifier maps a reference in a namespace onto an address.
type qualifier func(ref, ns string) string

func function(env *core.Environment, ns, name string, args []yaml.Node, q qualifier) (*core.Function, error) {
	op, ok := core.ParseFunctionType(name)
	if !ok {
		return nil, &core.InvalidArgumentError{Message: fmt.Sprintf("unknown function %q", name)}
	}
	exprs := make([]core.Expr, 0, len(args))
	for i := range args {
		e, err := expr(env, ns, &args[i], q)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return core.NewFunction(op, exprs...)
}

// expr converts a YAML value: plain strings name concepts, quoted strings
// and other scalars are literals, sequences are list literals, and
// mappings are nested {function, args} calls or {value: x} literals.
func expr(env *core.Environment, ns string, n *yaml.Node, q qualifier) (core.Expr, error) {
	switch n.Kind {
	case 0:
		return nil, errors.New("missing expression")
	case yaml.ScalarNode:
		if isReference(n) {
			return env.Concept(q(n.Value, ns))
		}
		return literal(n)
	case yaml.SequenceNode:
		return literal(n)
	case yaml.MappingNode:
		var call struct {
			Function string      `yaml:"function"`
			Args     []yaml.Node `yaml:"args"`
			Value    *yaml.Node  `yaml:"value"`
		}
		if err := n.Decode(&call); err != nil {
			return nil, err
		}
		if call.Value != nil {
			return literal(call.Value)
		}
		if call.Function == "" {
			return nil, fmt.Errorf("line %d: expected function or value", n.Line)
		}
		return function(env, ns, call.Function, call.Args, q)
	case yaml.AliasNode:
		return expr(env, ns, n.Alias, q)
	}
	return nil, fmt.Errorf("line %d: unsupported expression", n.Line)
}

func literal(n *yaml.Node) (core.Literal, error) {
	if n.Kind == yaml.SequenceNode {
		items := make([]core.Literal, 0, len(n.Content))
		for _, c := range n.Content {
			item, err := literal(c)
			if err != nil {
				return core.Literal{}, err
			}
			items = append(items, item)
		}
		return core.Literal{Value: items}, nil
	}
	switch n.Tag {
	case "!!null":
		return core.Literal{}, nil
	case "!!bool":
		v, err := strconv.ParseBool(n.Value)
		return core.Literal{Value: v}, err
	case "!!int":
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return core.Literal{}, err
		}
		return core.Literal{Value: int(v)}, nil
	case "!!float":
		v, err := strconv.ParseFloat(n.Value, 64)
		return core.Literal{Value: v}, err
	}
	return core.Literal{Value: n.Value}, nil
}

func condition(env *core.Environment, ns string, def *conditionDef, q qualifier) (core.Condition, error) {
	groups := 0
	for _, set := range []bool{len(def.And) > 0, len(def.Or) > 0, def.Op != ""} {
		if set {
			groups++
		}
	}
	if groups != 1 {
		return nil, errors.New("condition needs exactly one of op, and, or")
	}

	if def.Op == "" {
		parts, op := def.And, core.BoolAnd
		if len(def.Or) > 0 {
			parts, op = def.Or, core.BoolOr
		}
		var out core.Condition
		for i := range parts {
			c, err := condition(env, ns, &parts[i], q)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = c
				continue
			}
			out = &core.Conditional{Left: out, Right: c, Operator: op}
		}
		if op == core.BoolOr {
			return &core.Parenthetical{Content: out}, nil
		}
		return out, nil
	}

	op, ok := core.ParseComparisonOperator(def.Op)
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", def.Op)
	}
	left, err := expr(env, ns, &def.Left, q)
	if err != nil {
		return nil, err
	}
	right, err := expr(env, ns, &def.Right, q)
	if err != nil {
		return nil, err
	}
	if _, isConcept := right.(*core.Concept); isConcept && (op == core.OpIn || op == core.OpNotIn) {
		return &core.SubselectComparison{Left: left, Right: right, Operator: op}, nil
	}
	return &core.Comparison{Left: left, Right: right, Operator: op}, nil
}

func orderItems(env *core.Environment, ns string, defs []orderDef, q qualifier) (*core.OrderBy, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	items := make([]core.OrderItem, 0, len(defs))
	for _, d := range defs {
		c, err := env.Concept(q(d.Concept, ns))
		if err != nil {
			return nil, err
		}
		order := core.Ascending
		switch d.Order {
		case "", "asc":
		case "desc":
			order = core.Descending
		default:
			return nil, fmt.Errorf("unknown order %q", d.Order)
		}
		items = append(items, core.OrderItem{Expr: c, Order: order})
	}
	return &core.OrderBy{Items: items}, nil
}

// fileOrder lists documents with the files they reference first. Mutual
// references fall back to load order.
func fileOrder(st *symbolTable, l *Loader) []string {
	g := dag.NewGraph()
	for _, doc := range st.docs {
		g.AddNode(doc.name, "file", doc)
	}
	for _, s := range st.order {
		for _, parent := range st.graph.Parents(s.address) {
			from := st.stubs[parent].doc.name
			if from != s.doc.name {
				_ = g.AddEdge(from, s.doc.name)
			}
		}
	}
	names := make([]string, 0, len(st.docs))
	nodes, err := g.TopologicalSort()
	if err != nil {
		l.logger.Debug(logPrefix+" model files reference each other", "error", err)
		for _, doc := range st.docs {
			names = append(names, doc.name)
		}
		return names
	}
	for _, n := range nodes {
		names = append(names, n.ID)
	}
	return names
}
