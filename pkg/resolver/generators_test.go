package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/grainql/internal/testutil"
	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/nodes"
)

// walk visits n and every parent below it.
func walk(n *nodes.Node, fn func(*nodes.Node)) {
	fn(n)
	for _, p := range n.Parents {
		walk(p, fn)
	}
}

func nodesOfType(root *nodes.Node, t core.SourceType) []*nodes.Node {
	var out []*nodes.Node
	walk(root, func(n *nodes.Node) {
		if n.Type == t {
			out = append(out, n)
		}
	})
	return out
}

func selectConcepts(env *core.Environment, concepts ...*core.Concept) *core.SelectStatement {
	items := make([]core.SelectItem, len(concepts))
	for i, c := range concepts {
		items[i] = core.SelectItem{Content: c}
	}
	return core.NewSelectStatement(items, nil, nil, nil, 0, env.Lookup)
}

func TestQueryNode_AggregateKeepsPropertyKeys(t *testing.T) {
	f := testutil.NewOrderFixture()

	tests := []struct {
		name     string
		concepts []*core.Concept
	}{
		{"ungrouped", []*core.Concept{f.TotalRevenue}},
		{"by product", []*core.Concept{f.ProductID, f.TotalRevenue}},
		{"by category", []*core.Concept{f.CategoryName, f.TotalRevenue}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t, f.Env)
			root, err := r.QueryNode(f.Select(tt.concepts...))
			require.NoError(t, err)

			var agg *nodes.Node
			for _, g := range nodesOfType(root, core.SourceGroup) {
				if g.Provides(f.TotalRevenue.Address()) && !core.ContainsAddress(g.Inputs, f.TotalRevenue.Address()) {
					agg = g
				}
			}
			require.NotNil(t, agg, "aggregate node in %s", root)
			assert.True(t, core.ContainsAddress(agg.Inputs, f.OrderID.Address()), "inputs %v", core.Addresses(agg.Inputs))
			assert.False(t, core.ContainsAddress(agg.Outputs, f.OrderID.Address()), "the key only feeds the aggregate")
			require.Len(t, agg.Parents, 1)
			assert.True(t, agg.Parents[0].Provides(f.OrderID.Address()))

			walk(root, func(n *nodes.Node) {
				if n.Datasource != nil && n.Datasource.Identifier == "orders" {
					assert.NotEqual(t, core.GroupForce, n.ForceGroup, "orders is read at its own grain")
				}
			})
		})
	}
}

func TestQueryNode_Window(t *testing.T) {
	f := testutil.NewOrderFixture()
	rank := core.NewConcept("revenue_rank", core.TypeInteger, core.PurposeProperty, &core.WindowItem{
		Type:    core.WindowRank,
		Content: f.OrderID,
		OrderBy: []core.OrderItem{{Expr: f.Revenue, Order: core.Descending}},
	})
	env := f.Env.AddConcept(rank)
	r := newResolver(t, env)

	root, err := r.QueryNode(selectConcepts(env, f.OrderID, rank))
	require.NoError(t, err)

	windows := nodesOfType(root, core.SourceWindow)
	require.Len(t, windows, 1)
	w := windows[0]
	assert.True(t, w.Provides(rank.Address()))
	assert.True(t, w.Provides(f.OrderID.Address()))
	require.Len(t, w.Parents, 1)
	assert.True(t, w.Parents[0].Provides(f.Revenue.Address()), "order by concept is sourced below the window")

	qds, err := w.Resolve()
	require.NoError(t, err)
	assert.True(t, qds.Grain.Contains(f.OrderID.Address()), qds.Grain.String())
	assert.False(t, qds.GroupRequired())
}

func TestQueryNode_Rowset(t *testing.T) {
	f := testutil.NewOrderFixture()
	rs := &core.RowsetDerivationStatement{Name: "order_revenue", Select: f.Select(f.OrderID, f.Revenue)}
	derived := rs.DerivedConcepts()
	require.Len(t, derived, 2)
	env := f.Env
	for _, c := range derived {
		env = env.AddConcept(c)
	}
	r := newResolver(t, env)

	root, err := r.QueryNode(selectConcepts(env, derived...))
	require.NoError(t, err)

	rowsets := nodesOfType(root, core.SourceRowset)
	require.Len(t, rowsets, 1)
	n := rowsets[0]
	assert.ElementsMatch(t, []string{"order_revenue.order_id", "order_revenue.revenue"}, core.Addresses(n.Outputs))
	require.NotNil(t, n.Grain)
	assert.Equal(t, []string{"order_revenue.order_id"}, n.Grain.Components())
	require.Len(t, n.Parents, 1)
	assert.True(t, n.Parents[0].Provides(f.Revenue.Address()), "inner select exposes the original concepts")
}

func TestMultiSelectNode(t *testing.T) {
	f := testutil.NewOrderFixture()
	newStatement := func(align ...*core.Concept) *core.MultiSelectStatement {
		return &core.MultiSelectStatement{
			Selects: []*core.SelectStatement{f.Select(f.OrderID), f.Select(f.ProductID)},
			Align:   core.AlignClause{Items: []core.AlignItem{{Alias: "any_id", Concepts: align}}},
		}
	}

	t.Run("full joins on the aligned concept", func(t *testing.T) {
		r := newResolver(t, f.Env)
		root, err := r.MultiSelectNode(newStatement(f.OrderID, f.ProductID))
		require.NoError(t, err)
		assert.True(t, root.Provides("local.any_id"))

		var joined *nodes.Node
		for _, m := range nodesOfType(root, core.SourceMerge) {
			if len(m.Joins) > 0 {
				joined = m
			}
		}
		require.NotNil(t, joined, "merge with joins in %s", root)
		require.Len(t, joined.Joins, 1)
		assert.Equal(t, core.JoinFull, joined.Joins[0].JoinType)
		assert.Equal(t, []string{"local.any_id"}, core.Addresses(joined.Joins[0].Concepts))
		assert.Len(t, joined.Parents, 2)
	})

	t.Run("mismatched datatypes", func(t *testing.T) {
		r := newResolver(t, f.Env)
		_, err := r.MultiSelectNode(newStatement(f.OrderID, f.CategoryName))
		require.Error(t, err)
		var syntaxErr *core.InvalidSyntaxError
		assert.ErrorAs(t, err, &syntaxErr)
		assert.ErrorIs(t, err, core.ErrInvalidSyntax)
		assert.Contains(t, err.Error(), "datatypes do not align")
	})
}

func TestQueryNode_ConceptMerge(t *testing.T) {
	f := testutil.NewOrderFixture()
	anyID := core.NewConcept("any_id", core.TypeInteger, core.PurposeKey, &core.MergeLineage{
		Concepts: []*core.Concept{f.OrderID, f.ProductID},
	})
	env := f.Env.AddConcept(anyID)
	r := newResolver(t, env)

	root, err := r.QueryNode(selectConcepts(env, anyID))
	require.NoError(t, err)

	var joined *nodes.Node
	for _, m := range nodesOfType(root, core.SourceMerge) {
		if len(m.Joins) > 0 {
			joined = m
		}
	}
	require.NotNil(t, joined)
	require.Len(t, joined.Joins, 1)
	assert.Equal(t, core.JoinFull, joined.Joins[0].JoinType)
	require.NotNil(t, joined.Grain)
	assert.Equal(t, []string{anyID.Address()}, joined.Grain.Components())
	assert.Equal(t, core.GroupSkip, joined.ForceGroup)

	var sourced []string
	for _, p := range joined.Parents {
		assert.True(t, p.Provides(anyID.Address()))
		for _, c := range []*core.Concept{f.OrderID, f.ProductID} {
			if p.Provides(c.Address()) {
				sourced = append(sourced, c.Address())
			}
		}
	}
	assert.ElementsMatch(t, []string{f.OrderID.Address(), f.ProductID.Address()}, sourced, "each merged concept is sourced on its own")
}

func TestQueryNode_Union(t *testing.T) {
	f := testutil.NewOrderFixture()
	anyKey := core.NewConcept("any_key", core.TypeInteger, core.PurposeKey, core.MustFunction(core.FuncUnion, f.OrderID, f.ProductID))
	env := f.Env.AddConcept(anyKey)
	r := newResolver(t, env)

	root, err := r.QueryNode(selectConcepts(env, anyKey))
	require.NoError(t, err)

	unions := nodesOfType(root, core.SourceUnion)
	require.Len(t, unions, 1)
	u := unions[0]
	assert.Equal(t, []string{anyKey.Address()}, core.Addresses(u.Outputs))
	require.Len(t, u.Parents, 2)
	for i, arg := range []*core.Concept{f.OrderID, f.ProductID} {
		member := u.Parents[i]
		assert.Equal(t, []string{arg.Address()}, core.Addresses(member.Inputs))
		assert.Equal(t, []string{anyKey.Address()}, core.Addresses(member.Outputs))
	}
}

func TestQueryNode_Unnest(t *testing.T) {
	f := testutil.NewOrderFixture()
	tags := core.NewConcept("tags", core.ListType{Elem: core.TypeString}, core.PurposeProperty, nil).WithKeys(f.OrderID.Address())
	tag := core.NewConcept("tag", core.TypeString, core.PurposeKey, core.MustFunction(core.FuncUnnest, tags))
	env := f.Env.AddConcept(tags).AddConcept(tag)
	env = env.AddDatasource(core.NewDatasource("order_tags", core.Address{Location: "order_tags"}, []core.ColumnAssignment{
		{Alias: "order_id", Concept: f.OrderID},
		{Alias: "tags", Concept: tags},
	}, core.NewGrain(f.OrderID.Address())))
	r := newResolver(t, env)

	root, err := r.QueryNode(selectConcepts(env, f.OrderID, tag))
	require.NoError(t, err)

	unnests := nodesOfType(root, core.SourceUnnest)
	require.Len(t, unnests, 1)
	n := unnests[0]
	assert.True(t, n.Provides(tag.Address()))
	assert.True(t, n.Provides(f.OrderID.Address()), "row level concepts are carried through the expansion")
	require.Len(t, n.Parents, 1)
	assert.True(t, n.Parents[0].Provides(tags.Address()))
}

func TestQueryNode_Synonym(t *testing.T) {
	f := testutil.NewOrderFixture()
	ref := core.NewConcept("order_ref", core.TypeInteger, core.PurposeKey, nil).WithPseudonyms(f.OrderID.Address())
	env := f.Env.AddConcept(ref)
	r := newResolver(t, env)

	root, err := r.QueryNode(selectConcepts(env, ref))
	require.NoError(t, err)
	assert.True(t, root.Provides(ref.Address()))

	var read bool
	walk(root, func(n *nodes.Node) {
		if n.Datasource != nil && n.Provides(f.OrderID.Address()) {
			read = true
		}
	})
	assert.True(t, read, "order_ref is read through order_id")
}

func TestHistory_CutSearchesAreRetried(t *testing.T) {
	h := NewHistory()

	require.True(t, h.start("outer"))
	mark := h.mark()
	require.True(t, h.start("inner"))
	assert.False(t, h.start("outer"), "recursive request is cut")
	h.finish("inner", nil, h.cutSince(mark))
	_, ok := h.Get("inner")
	assert.False(t, ok, "an empty result caused by a cut is not memoized")
	h.finish("outer", nil, h.cutSince(mark))

	mark = h.mark()
	require.True(t, h.start("inner"), "inner can be searched again")
	h.finish("inner", nil, h.cutSince(mark))
	n, ok := h.Get("inner")
	assert.True(t, ok, "an empty result without a cut is memoized")
	assert.Nil(t, n)
}
