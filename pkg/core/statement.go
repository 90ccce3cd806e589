package core

import (
	"fmt"
	"slices"
	"strings"
)

// OrderItem is one sort key.
type OrderItem struct {
	Expr  Expr
	Order Ordering
}

func (o OrderItem) String() string {
	return exprString(o.Expr) + " " + string(o.Order)
}

// OrderBy is an ordered list of sort keys.
type OrderBy struct {
	Items []OrderItem
}

// ConceptArguments returns the concepts the sort keys reference.
func (o *OrderBy) ConceptArguments() []*Concept {
	if o == nil {
		return nil
	}
	var out []*Concept
	for _, item := range o.Items {
		out = append(out, ConceptArguments(item.Expr)...)
	}
	return UniqueConcepts(out)
}

func (o *OrderBy) mapConcepts(fn func(*Concept) *Concept) *OrderBy {
	if o == nil {
		return nil
	}
	items := make([]OrderItem, len(o.Items))
	for i, item := range o.Items {
		items[i] = OrderItem{Expr: item.Expr.mapConcepts(fn), Order: item.Order}
	}
	return &OrderBy{Items: items}
}

// SelectItem is one output of a select.
type SelectItem struct {
	Content   *Concept
	Modifiers []Modifier
}

// Hidden reports whether the item is computed but not returned.
func (s SelectItem) Hidden() bool {
	return slices.Contains(s.Modifiers, ModifierHidden)
}

// SelectStatement is a query over concepts. Build it with NewSelectStatement
// so outputs are bound to the select grain.
type SelectStatement struct {
	Selection []SelectItem
	Where     *WhereClause
	Having    *WhereClause
	OrderBy   *OrderBy
	// Limit of 0 means no limit.
	Limit int

	grain Grain
}

// NewSelectStatement binds every selected concept to the grain of the
// select. lookup resolves grain component addresses back to concepts.
func NewSelectStatement(items []SelectItem, where, having *WhereClause, order *OrderBy, limit int, lookup func(string) (*Concept, bool)) *SelectStatement {
	s := &SelectStatement{Where: where, Having: having, OrderBy: order, Limit: limit}

	contents := make([]*Concept, 0, len(items))
	for _, item := range items {
		contents = append(contents, item.Content)
	}
	first := GrainFromConcepts(contents, nil)

	local := func(addr string) (*Concept, bool) {
		if c, ok := FindAddress(contents, addr); ok {
			return c, true
		}
		if lookup == nil {
			return nil, false
		}
		return lookup(addr)
	}
	s.Selection = make([]SelectItem, len(items))
	for i, item := range items {
		s.Selection[i] = SelectItem{
			Content:   item.Content.WithSelectContext(first, local),
			Modifiers: slices.Clone(item.Modifiers),
		}
	}
	if s.OrderBy != nil {
		bound := map[string]*Concept{}
		for _, item := range s.Selection {
			bound[item.Content.Address()] = item.Content
		}
		s.OrderBy = s.OrderBy.mapConcepts(func(c *Concept) *Concept {
			if b, ok := bound[c.Address()]; ok {
				return b
			}
			return c
		})
	}
	s.grain = GrainFromConcepts(s.OutputComponents(), where)
	return s
}

// Grain is the set of outputs that identifies a result row.
func (s *SelectStatement) Grain() Grain { return s.grain }

// OutputComponents returns every selected concept, hidden ones included.
func (s *SelectStatement) OutputComponents() []*Concept {
	out := make([]*Concept, 0, len(s.Selection))
	for _, item := range s.Selection {
		out = append(out, item.Content)
	}
	return UniqueConcepts(out)
}

// HiddenComponents returns the selected concepts not returned to the caller.
func (s *SelectStatement) HiddenComponents() []*Concept {
	var out []*Concept
	for _, item := range s.Selection {
		if item.Hidden() {
			out = append(out, item.Content)
		}
	}
	return out
}

// InputComponents returns every concept read by the select.
func (s *SelectStatement) InputComponents() []*Concept {
	var out []*Concept
	for _, item := range s.Selection {
		out = append(out, item.Content.ConceptArguments()...)
	}
	out = append(out, s.Where.ConceptArguments()...)
	out = append(out, s.Having.ConceptArguments()...)
	out = append(out, s.OrderBy.ConceptArguments()...)
	return UniqueConcepts(out)
}

// WithNamespace moves the statement and all of its concepts into ns.
func (s *SelectStatement) WithNamespace(ns string) *SelectStatement {
	fn := func(c *Concept) *Concept { return c.WithNamespace(ns) }
	n := &SelectStatement{
		Where:   s.Where.mapConcepts(fn),
		Having:  s.Having.mapConcepts(fn),
		OrderBy: s.OrderBy.mapConcepts(fn),
		Limit:   s.Limit,
		grain:   s.grain.WithNamespace(ns),
	}
	n.Selection = make([]SelectItem, len(s.Selection))
	for i, item := range s.Selection {
		n.Selection[i] = SelectItem{Content: fn(item.Content), Modifiers: slices.Clone(item.Modifiers)}
	}
	return n
}

// ToDatasource describes the table a persisted select writes.
func (s *SelectStatement) ToDatasource(namespace, identifier, address string, grain *Grain) *Datasource {
	g := s.grain
	if grain != nil {
		g = *grain
	}
	g.Where = nil
	var cols []ColumnAssignment
	for _, c := range s.OutputComponents() {
		cols = append(cols, ColumnAssignment{Alias: c.SafeAddress(), Concept: c.WithGrain(g)})
	}
	return &Datasource{
		Identifier: identifier,
		Namespace:  namespace,
		Address:    Address{Location: address},
		Columns:    cols,
		Grain:      g,
	}
}

func (s *SelectStatement) String() string {
	parts := make([]string, 0, len(s.Selection))
	for _, item := range s.Selection {
		parts = append(parts, item.Content.Address())
	}
	out := "SELECT " + strings.Join(parts, ", ")
	if s.Where != nil {
		out += " WHERE " + s.Where.String()
	}
	if s.Having != nil {
		out += " HAVING " + s.Having.String()
	}
	if s.OrderBy != nil && len(s.OrderBy.Items) > 0 {
		items := make([]string, len(s.OrderBy.Items))
		for i, it := range s.OrderBy.Items {
			items[i] = it.String()
		}
		out += " ORDER BY " + strings.Join(items, ", ")
	}
	if s.Limit > 0 {
		out += fmt.Sprintf(" LIMIT %d", s.Limit)
	}
	return out
}

// GenConcept builds the aligned output concept of a multiselect. Every
// aligned concept must share one datatype.
func (a AlignItem) GenConcept(parent *MultiSelectLineage) (*Concept, error) {
	if len(a.Concepts) == 0 {
		return nil, &InvalidSyntaxError{Message: fmt.Sprintf("align item %s has no concepts", a.Alias)}
	}
	dt := a.Concepts[0].Datatype
	purpose := a.Concepts[0].Purpose
	for _, c := range a.Concepts[1:] {
		if !DataTypeEqual(c.Datatype, dt) {
			return nil, &InvalidSyntaxError{
				Message: fmt.Sprintf("datatypes do not align for merged statements %s, have %s and %s", a.Alias, dt, c.Datatype),
			}
		}
		if c.Purpose != purpose {
			purpose = PurposeKey
		}
	}
	c := NewConcept(a.Alias, dt, purpose, parent)
	if parent.Namespace != "" {
		c.Namespace = parent.Namespace
	}
	c.Grain = c.parseGrain()
	return c, nil
}

// MultiSelectStatement runs several selects side by side and aligns their
// outputs into shared concepts.
type MultiSelectStatement struct {
	Selects   []*SelectStatement
	Align     AlignClause
	Namespace string
	Where     *WhereClause
	OrderBy   *OrderBy
	Limit     int
}

// Lineage is the derivation shared by every aligned concept.
func (m *MultiSelectStatement) Lineage() *MultiSelectLineage {
	return &MultiSelectLineage{Selects: m.Selects, Align: m.Align, Namespace: m.Namespace}
}

// DerivedConcepts returns one concept per align item.
func (m *MultiSelectStatement) DerivedConcepts() ([]*Concept, error) {
	lineage := m.Lineage()
	out := make([]*Concept, 0, len(m.Align.Items))
	for _, item := range m.Align.Items {
		c, err := item.GenConcept(lineage)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// OutputComponents returns the aligned concepts followed by every select output.
func (m *MultiSelectStatement) OutputComponents() ([]*Concept, error) {
	out, err := m.DerivedConcepts()
	if err != nil {
		return nil, err
	}
	for _, s := range m.Selects {
		out = append(out, s.OutputComponents()...)
	}
	return UniqueConcepts(out), nil
}

// HiddenComponents returns hidden outputs of every select.
func (m *MultiSelectStatement) HiddenComponents() []*Concept {
	var out []*Concept
	for _, s := range m.Selects {
		out = append(out, s.HiddenComponents()...)
	}
	return out
}

// Grain is the sum of the select grains.
func (m *MultiSelectStatement) Grain() Grain {
	var g Grain
	for _, s := range m.Selects {
		g = g.Add(s.Grain())
	}
	g.Where = m.Where
	return g
}

// RowsetDerivationStatement names a select so its outputs can be reused as
// new concepts under the rowset namespace.
type RowsetDerivationStatement struct {
	Name      string
	Select    *SelectStatement
	Namespace string
}

// DerivedConcepts returns the re-exposed concepts, with keys and grain
// remapped onto the rowset copies.
func (r *RowsetDerivationStatement) DerivedConcepts() []*Concept {
	derivation := &RowsetDerivation{Name: r.Name, Select: r.Select}
	ns := r.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	orig := map[string]string{}
	var out []*Concept
	for _, c := range r.Select.OutputComponents() {
		n := c.copy()
		n.Lineage = &RowsetItem{Content: c, Rowset: derivation}
		if c.Namespace != ns {
			n.Namespace = r.Name + "." + c.Namespace
		} else {
			n.Namespace = r.Name
		}
		orig[c.Address()] = n.Address()
		out = append(out, n)
	}
	all := Addresses(out)
	for _, n := range out {
		remapped, ok := remapAll(n.Keys, orig)
		if ok {
			n.Keys = sortedUnique(remapped)
		} else {
			n.Keys = nil
		}
		if comps, ok := remapAll(n.Grain.components, orig); ok && len(comps) > 0 {
			n.Grain = NewGrain(comps...)
		} else {
			n.Grain = NewGrain(all...)
		}
	}
	return out
}

func remapAll(addrs []string, m map[string]string) ([]string, bool) {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		r, ok := m[a]
		if !ok {
			return nil, false
		}
		out = append(out, r)
	}
	return out, true
}

// PersistStatement materializes a select into a datasource.
type PersistStatement struct {
	Datasource *Datasource
	Select     *SelectStatement
}

// Identifier is the target datasource identifier.
func (p *PersistStatement) Identifier() string { return p.Datasource.Identifier }

// ShowStatement asks for the compiled form of a select instead of its rows.
type ShowStatement struct {
	Select *SelectStatement
}
