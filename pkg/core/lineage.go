package core

import (
	"strconv"
	"strings"
)

// Lineage is the derivation of a concept. The set of implementations is
// closed: *Function, *AggregateWrapper, *WindowItem, *FilterItem,
// *RowsetItem, *MultiSelectLineage and *MergeLineage.
type Lineage interface {
	Expr
	ConceptArguments() []*Concept
	lineage()
}

func mapLineage(l Lineage, fn func(*Concept) *Concept) Lineage {
	if l == nil {
		return nil
	}
	return l.mapConcepts(fn).(Lineage)
}

// AggregateWrapper is an aggregate function evaluated at an explicit grain.
type AggregateWrapper struct {
	Function *Function
	By       []*Concept
}

func (*AggregateWrapper) lineage() {}

// ConceptArguments returns the aggregate inputs and the grouping concepts.
func (a *AggregateWrapper) ConceptArguments() []*Concept {
	return UniqueConcepts(append(a.Function.ConceptArguments(), a.By...))
}

func (a *AggregateWrapper) mapConcepts(fn func(*Concept) *Concept) Expr {
	return &AggregateWrapper{
		Function: a.Function.mapConcepts(fn).(*Function),
		By:       mapConceptList(a.By, fn),
	}
}

func (a *AggregateWrapper) String() string {
	if len(a.By) == 0 {
		return a.Function.String()
	}
	return a.Function.String() + " by " + joinConceptAddresses(a.By)
}

// WindowItem is a window function over a content concept.
type WindowItem struct {
	Type    WindowType
	Content *Concept
	Over    []*Concept
	OrderBy []OrderItem
	// Index is the offset for lag and lead.
	Index int
}

func (*WindowItem) lineage() {}

// OutputDatatype returns INTEGER for ranking windows and the content type otherwise.
func (w *WindowItem) OutputDatatype() DataType {
	switch w.Type {
	case WindowRowNumber, WindowRank, WindowDenseRank, WindowCount:
		return TypeInteger
	case WindowAvg:
		return TypeFloat
	}
	return w.Content.Datatype
}

// ConceptArguments returns content, partition and order concepts.
func (w *WindowItem) ConceptArguments() []*Concept {
	out := []*Concept{w.Content}
	out = append(out, w.Over...)
	for _, o := range w.OrderBy {
		out = append(out, ConceptArguments(o.Expr)...)
	}
	return UniqueConcepts(out)
}

func (w *WindowItem) mapConcepts(fn func(*Concept) *Concept) Expr {
	order := make([]OrderItem, len(w.OrderBy))
	for i, o := range w.OrderBy {
		order[i] = OrderItem{Expr: o.Expr.mapConcepts(fn), Order: o.Order}
	}
	return &WindowItem{
		Type:    w.Type,
		Content: fn(w.Content),
		Over:    mapConceptList(w.Over, fn),
		OrderBy: order,
		Index:   w.Index,
	}
}

func (w *WindowItem) String() string {
	var b strings.Builder
	b.WriteString(string(w.Type))
	b.WriteString("(")
	b.WriteString(w.Content.Address())
	if w.Index != 0 {
		b.WriteString("," + strconv.Itoa(w.Index))
	}
	b.WriteString(")")
	if len(w.Over) > 0 {
		b.WriteString(" over " + joinConceptAddresses(w.Over))
	}
	if len(w.OrderBy) > 0 {
		parts := make([]string, len(w.OrderBy))
		for i, o := range w.OrderBy {
			parts[i] = o.String()
		}
		b.WriteString(" order by " + strings.Join(parts, ","))
	}
	return b.String()
}

// FilterItem restricts a content concept to rows matching Where.
type FilterItem struct {
	Content *Concept
	Where   *WhereClause
}

func (*FilterItem) lineage() {}

// ConceptArguments returns the content followed by the condition arguments.
func (f *FilterItem) ConceptArguments() []*Concept {
	return UniqueConcepts(append([]*Concept{f.Content}, f.Where.ConceptArguments()...))
}

func (f *FilterItem) mapConcepts(fn func(*Concept) *Concept) Expr {
	return &FilterItem{Content: fn(f.Content), Where: f.Where.mapConcepts(fn)}
}

func (f *FilterItem) String() string {
	return "filter " + f.Content.Address() + " where " + f.Where.String()
}

// RowsetDerivation is a named select whose outputs are re-exposed.
type RowsetDerivation struct {
	Name   string
	Select *SelectStatement
}

// RowsetItem is a concept projected out of a rowset.
type RowsetItem struct {
	Content *Concept
	Rowset  *RowsetDerivation
}

func (*RowsetItem) lineage() {}

// ConceptArguments returns the inner concept.
func (r *RowsetItem) ConceptArguments() []*Concept { return []*Concept{r.Content} }

func (r *RowsetItem) mapConcepts(fn func(*Concept) *Concept) Expr {
	return &RowsetItem{Content: fn(r.Content), Rowset: r.Rowset}
}

func (r *RowsetItem) String() string {
	return r.Rowset.Name + "<" + r.Content.Address() + ">"
}

// AlignItem unifies one concept from each select of a multiselect.
type AlignItem struct {
	Alias     string
	Concepts  []*Concept
	Namespace string
}

// AlignClause lists the aligned outputs of a multiselect.
type AlignClause struct {
	Items []AlignItem
}

// MultiSelectLineage is the derivation of an aligned multiselect output.
type MultiSelectLineage struct {
	Selects   []*SelectStatement
	Align     AlignClause
	Namespace string
}

func (*MultiSelectLineage) lineage() {}

// ConceptArguments returns every aligned source concept.
func (m *MultiSelectLineage) ConceptArguments() []*Concept {
	var out []*Concept
	for _, item := range m.Align.Items {
		out = append(out, item.Concepts...)
	}
	return UniqueConcepts(out)
}

func (m *MultiSelectLineage) mapConcepts(fn func(*Concept) *Concept) Expr {
	items := make([]AlignItem, len(m.Align.Items))
	for i, item := range m.Align.Items {
		items[i] = AlignItem{Alias: item.Alias, Concepts: mapConceptList(item.Concepts, fn), Namespace: item.Namespace}
	}
	return &MultiSelectLineage{Selects: m.Selects, Align: AlignClause{Items: items}, Namespace: m.Namespace}
}

func (m *MultiSelectLineage) String() string {
	parts := make([]string, len(m.Align.Items))
	for i, item := range m.Align.Items {
		parts[i] = item.Alias + ":" + joinConceptAddresses(item.Concepts)
	}
	return "multiselect align " + strings.Join(parts, ";")
}

// Item returns the align item with the given alias.
func (m *MultiSelectLineage) Item(alias string) (AlignItem, bool) {
	for _, item := range m.Align.Items {
		if item.Alias == alias {
			return item, true
		}
	}
	return AlignItem{}, false
}

// MergeLineage is a concept whose values are the coalesced union of several
// equivalent concepts sourced independently.
type MergeLineage struct {
	Concepts []*Concept
}

func (*MergeLineage) lineage() {}

// ConceptArguments returns the merged concepts.
func (m *MergeLineage) ConceptArguments() []*Concept { return UniqueConcepts(m.Concepts) }

func (m *MergeLineage) mapConcepts(fn func(*Concept) *Concept) Expr {
	return &MergeLineage{Concepts: mapConceptList(m.Concepts, fn)}
}

func (m *MergeLineage) String() string {
	return "merge(" + joinConceptAddresses(m.Concepts) + ")"
}
