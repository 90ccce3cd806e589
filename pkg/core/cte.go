package core

import (
	"fmt"
	"slices"
	"strings"
)

// CTE is a named, linearized query step wrapping one QueryDatasource.
type CTE struct {
	Name          string
	Source        *QueryDatasource
	OutputColumns []*Concept
	// SourceMap maps concept addresses to the names of the parent CTEs or
	// datasource aliases that provide them. An empty list means the concept
	// is computed in this CTE.
	SourceMap          map[string][]string
	ExistenceSourceMap map[string][]string
	Grain              Grain
	Base               bool
	GroupToGrain       bool
	ParentCTEs         []*CTE
	Joins              []*Join
	Condition          Condition
	Partial            []*Concept
	Nullable           []*Concept
	JoinDerived        []*Concept
	Hidden             []*Concept
	OrderBy            *OrderBy
	Limit              int
	// Inlined marks a CTE that only renames one physical datasource; parents
	// read the table directly instead of a WITH entry.
	Inlined           bool
	BaseNameOverride  string
	BaseAliasOverride string

	// Internal and Operator are set on union CTEs only.
	Internal []*CTE
	Operator string
}

// IsUnion reports whether the CTE is a set operation over Internal.
func (c *CTE) IsUnion() bool { return len(c.Internal) > 0 }

// Add merges a second copy of the same CTE into c. Grain and condition must
// match.
func (c *CTE) Add(o *CTE) (*CTE, error) {
	if !c.Grain.Equal(o.Grain) {
		return nil, &InvalidSyntaxError{Message: fmt.Sprintf(
			"attempting to merge two ctes of different grains %s %s grains %s %s",
			c.Name, o.Name, c.Grain, o.Grain)}
	}
	if !ConditionEqual(c.Condition, o.Condition) {
		return nil, &InvalidSyntaxError{Message: fmt.Sprintf(
			"attempting to merge two ctes with different conditions %s %s conditions %s %s",
			c.Name, o.Name, ConditionString(c.Condition), ConditionString(o.Condition))}
	}
	n := *c
	n.Partial = UniqueConcepts(append(slices.Clone(c.Partial), o.Partial...))
	n.Nullable = UniqueConcepts(append(slices.Clone(c.Nullable), o.Nullable...))
	n.JoinDerived = UniqueConcepts(append(slices.Clone(c.JoinDerived), o.JoinDerived...))
	n.Hidden = UniqueConcepts(append(slices.Clone(c.Hidden), o.Hidden...))
	parents, err := MergeCTEs(append(slices.Clone(c.ParentCTEs), o.ParentCTEs...))
	if err != nil {
		return nil, err
	}
	n.ParentCTEs = parents
	n.SourceMap = mergeNameMaps(c.SourceMap, o.SourceMap)
	n.ExistenceSourceMap = mergeNameMaps(c.ExistenceSourceMap, o.ExistenceSourceMap)
	n.OutputColumns = UniqueConcepts(append(slices.Clone(c.OutputColumns), o.OutputColumns...))
	seen := map[string]bool{}
	n.Joins = nil
	for _, j := range append(slices.Clone(c.Joins), o.Joins...) {
		if !seen[j.UniqueID()] {
			seen[j.UniqueID()] = true
			n.Joins = append(n.Joins, j)
		}
	}
	src := *c.Source
	src.Outputs = UniqueConcepts(append(slices.Clone(c.Source.Outputs), o.Source.Outputs...))
	src.SourceMap = map[string][]Source{}
	for _, m := range []map[string][]Source{c.Source.SourceMap, o.Source.SourceMap} {
		for k, v := range m {
			src.SourceMap[k] = unionSources(src.SourceMap[k], v)
		}
	}
	n.Source = &src
	return &n, nil
}

func mergeNameMaps(a, b map[string][]string) map[string][]string {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string][]string, len(a)+len(b))
	for _, m := range []map[string][]string{a, b} {
		for k, v := range m {
			merged := slices.Clone(out[k])
			for _, name := range v {
				if !slices.Contains(merged, name) {
					merged = append(merged, name)
				}
			}
			out[k] = merged
			if merged == nil {
				out[k] = []string{}
			}
		}
	}
	return out
}

// MergeCTEs collapses CTEs sharing a name, keeping first-seen order.
func MergeCTEs(ctes []*CTE) ([]*CTE, error) {
	byName := map[string]*CTE{}
	var order []string
	for _, c := range ctes {
		existing, ok := byName[c.Name]
		if !ok {
			byName[c.Name] = c
			order = append(order, c.Name)
			continue
		}
		if existing == c {
			continue
		}
		merged, err := existing.Add(c)
		if err != nil {
			return nil, err
		}
		byName[c.Name] = merged
	}
	out := make([]*CTE, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

// Parent returns the parent CTE with the given name.
func (c *CTE) Parent(name string) (*CTE, bool) {
	for _, p := range c.ParentCTEs {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// PhysicalSource returns the datasource when the CTE reads exactly one
// physical table.
func (c *CTE) PhysicalSource() (*Datasource, bool) {
	if c.Source == nil || len(c.Source.Datasources) != 1 {
		return nil, false
	}
	ds, ok := c.Source.Datasources[0].(*Datasource)
	return ds, ok
}

func (c *CTE) relationName() string {
	if c.Inlined {
		if ds, ok := c.PhysicalSource(); ok {
			return ds.SafeLocation()
		}
	}
	return c.Name
}

// BaseName is the relation the CTE selects FROM.
func (c *CTE) BaseName() (string, error) {
	if c.BaseNameOverride != "" {
		return c.BaseNameOverride, nil
	}
	if ds, ok := c.PhysicalSource(); ok && len(c.ParentCTEs) == 0 {
		return ds.SafeLocation(), nil
	}
	if c.Source != nil && len(c.Source.Datasources) == 1 && len(c.ParentCTEs) == 1 {
		return c.ParentCTEs[0].relationName(), nil
	}
	if len(c.Joins) > 0 {
		disallowed := map[string]bool{}
		for _, j := range c.Joins {
			disallowed[j.Right.Name] = true
		}
		for _, j := range c.Joins {
			if j.Left != nil && !disallowed[j.Left.Name] {
				return j.Left.relationName(), nil
			}
		}
		return "", &InvalidSyntaxError{Message: fmt.Sprintf("invalid join configuration on %s", c.Name)}
	}
	if len(c.ParentCTEs) > 0 {
		return c.ParentCTEs[0].relationName(), nil
	}
	if c.Source != nil {
		return c.Source.Name(), nil
	}
	return c.Name, nil
}

// BaseAlias is the alias of the FROM relation.
func (c *CTE) BaseAlias() string {
	if c.BaseAliasOverride != "" {
		return c.BaseAliasOverride
	}
	if ds, ok := c.PhysicalSource(); ok && len(c.ParentCTEs) == 0 {
		return ds.FullName()
	}
	if len(c.Joins) > 0 && c.Joins[0].Left != nil {
		return c.Joins[0].Left.Name
	}
	if len(c.ParentCTEs) > 0 {
		return c.ParentCTEs[0].Name
	}
	return c.Name
}

// BaseIsQuery reports whether the FROM relation is a raw query.
func (c *CTE) BaseIsQuery() bool {
	if ds, ok := c.PhysicalSource(); ok && len(c.ParentCTEs) == 0 {
		return ds.Address.IsQuery
	}
	var root *CTE
	if len(c.Joins) > 0 && c.Joins[0].Left != nil {
		root = c.Joins[0].Left
	} else if len(c.ParentCTEs) > 0 {
		root = c.ParentCTEs[0]
	}
	if root != nil && root.Inlined {
		ds, _ := root.PhysicalSource()
		return ds != nil && ds.Address.IsQuery
	}
	return false
}

// RenderFromClause is false for constant-only CTEs with nothing to read.
func (c *CTE) RenderFromClause() bool {
	if len(c.ParentCTEs) > 0 || c.GroupToGrain {
		return true
	}
	if _, ok := c.PhysicalSource(); ok {
		return true
	}
	for _, col := range c.OutputColumns {
		if col.Derivation() != DerivationConstant {
			return true
		}
	}
	return false
}

// SourcedConcepts returns outputs that come from a parent or datasource.
func (c *CTE) SourcedConcepts() []*Concept {
	var out []*Concept
	for _, col := range c.OutputColumns {
		if len(c.SourceMap[col.Address()]) > 0 {
			out = append(out, col)
		}
	}
	return out
}

// VisibleColumns returns outputs not marked hidden.
func (c *CTE) VisibleColumns() []*Concept {
	hidden := AddressSet(c.Hidden)
	var out []*Concept
	for _, col := range c.OutputColumns {
		if !hidden[col.Address()] {
			out = append(out, col)
		}
	}
	return out
}

func (c *CTE) String() string {
	return c.Name + "@<" + c.Grain.String() + ">"
}

// CTEConceptPair joins a left concept to a differently named right concept.
type CTEConceptPair struct {
	Left     *Concept
	Right    *Concept
	Existing *CTE
}

// Join is a join between two CTEs of a linearized query.
type Join struct {
	Left     *CTE
	Right    *CTE
	JoinType JoinType
	Keys     []*Concept
	Pairs    []CTEConceptPair
}

// UniqueID identifies the join for deduplication.
func (j *Join) UniqueID() string {
	left := ""
	if j.Left != nil {
		left = j.Left.Name
	}
	return left + j.Right.Name + string(j.JoinType)
}

func (j *Join) String() string {
	keys := Addresses(j.Keys)
	for _, p := range j.Pairs {
		keys = append(keys, p.Left.Address()+"="+p.Right.Address())
	}
	left := ""
	if j.Left != nil {
		left = j.Left.Name
	}
	return fmt.Sprintf("%s JOIN %s and %s on %s", strings.ToUpper(string(j.JoinType)), left, j.Right.Name, strings.Join(keys, ","))
}

// ProcessedQuery is a linearized select ready for rendering.
type ProcessedQuery struct {
	OutputColumns []*Concept
	CTEs          []*CTE
	Base          *CTE
	Hidden        []*Concept
	Grain         Grain
	Limit         int
	Where         *WhereClause
	Having        *WhereClause
	OrderBy       *OrderBy
	LocalConcepts []*Concept
}

// VisibleColumns returns output columns not marked hidden.
func (p *ProcessedQuery) VisibleColumns() []*Concept {
	hidden := AddressSet(p.Hidden)
	var out []*Concept
	for _, c := range p.OutputColumns {
		if !hidden[c.Address()] {
			out = append(out, c)
		}
	}
	return out
}

// ProcessedQueryPersist writes a processed query into a datasource.
type ProcessedQueryPersist struct {
	ProcessedQuery
	OutputTo   Address
	Datasource *Datasource
}

// ProcessedShowStatement carries the compiled form of a select.
type ProcessedShowStatement struct {
	OutputColumns []string
	Query         *ProcessedQuery
}
