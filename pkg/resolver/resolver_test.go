package resolver

import (
	"strings"
	"testing"

	"github.com/leapstack-labs/grainql/internal/testutil"
	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T, env *core.Environment) *Resolver {
	t.Helper()
	r, err := New(env, Config{Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	return r
}

// conditions collects every condition applied anywhere in the tree.
func conditions(q *core.QueryDatasource) []string {
	var out []string
	if q.Condition != nil {
		out = append(out, q.Condition.String())
	}
	for _, s := range q.Datasources {
		if child, ok := s.(*core.QueryDatasource); ok {
			out = append(out, conditions(child)...)
		}
	}
	return out
}

func TestQueryNode_CategoryRevenue(t *testing.T) {
	f := testutil.NewOrderFixture()
	r := newResolver(t, f.Env)

	n, err := r.QueryNode(f.Select(f.CategoryName, f.TotalRevenue))
	require.NoError(t, err)
	qds, err := n.Resolve()
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{f.CategoryName.Address(), f.TotalRevenue.Address()},
		core.Addresses(qds.Outputs))
	assert.True(t, qds.Grain.Equal(core.NewGrain(f.CategoryID.Address())), qds.Grain.String())
}

func TestQueryNode_ChainOuterJoins(t *testing.T) {
	f := testutil.NewChainFixture()
	r := newResolver(t, f.Env)

	n, err := r.QueryNode(core.NewSelectStatement([]core.SelectItem{
		{Content: f.AID},
		{Content: f.CValue},
	}, nil, nil, nil, 0, f.Env.Lookup))
	require.NoError(t, err)
	qds, err := n.Resolve()
	require.NoError(t, err)

	assert.True(t, core.ContainsAddress(qds.Nullable, f.CValue.Address()), "c_value is reached through outer joins")
	assert.False(t, core.ContainsAddress(qds.Partial, f.AID.Address()), "a_id is read from its complete source")
}

func TestQueryNode_WhereCondition(t *testing.T) {
	f := testutil.NewOrderFixture()
	r := newResolver(t, f.Env)
	where := core.NewWhereClause(&core.Comparison{
		Left:     f.CategoryName,
		Right:    core.Literal{Value: "toys"},
		Operator: core.OpEq,
	})
	stmt := core.NewSelectStatement([]core.SelectItem{
		{Content: f.OrderID},
		{Content: f.Revenue},
	}, where, nil, nil, 0, f.Env.Lookup)

	n, err := r.QueryNode(stmt)
	require.NoError(t, err)
	assert.True(t, core.ConditionEqual(n.Preexisting, where.Conditional))

	qds, err := n.Resolve()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.OrderID.Address(), f.Revenue.Address()}, core.Addresses(qds.Outputs))
	conds := conditions(qds)
	require.NotEmpty(t, conds)
	assert.Contains(t, strings.Join(conds, " "), f.CategoryName.Address())
}

func TestQueryNode_FilterPushdown(t *testing.T) {
	f := testutil.NewOrderFixture()
	large := core.NewConcept("large_revenue", core.TypeFloat, core.PurposeProperty, &core.FilterItem{
		Content: f.Revenue,
		Where: core.NewWhereClause(&core.Comparison{
			Left:     f.Revenue,
			Right:    core.Literal{Value: 100},
			Operator: core.OpGt,
		}),
	})
	env := f.Env.AddConcept(large)

	tests := []struct {
		name     string
		concepts []*core.Concept
		wantType core.SourceType
	}{
		{name: "alone becomes a condition", concepts: []*core.Concept{large}},
		{name: "with other concepts computes beside them", concepts: []*core.Concept{f.OrderID, large}, wantType: core.SourceFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t, env)
			items := make([]core.SelectItem, len(tt.concepts))
			for i, c := range tt.concepts {
				items[i] = core.SelectItem{Content: c}
			}
			n, err := r.QueryNode(core.NewSelectStatement(items, nil, nil, nil, 0, env.Lookup))
			require.NoError(t, err)
			qds, err := n.Resolve()
			require.NoError(t, err)

			if tt.wantType == "" {
				assert.NotEmpty(t, conditions(qds), "filter is applied as a where clause")
				return
			}
			var types []core.SourceType
			var walk func(q *core.QueryDatasource)
			walk = func(q *core.QueryDatasource) {
				types = append(types, q.SourceType)
				for _, s := range q.Datasources {
					if child, ok := s.(*core.QueryDatasource); ok {
						walk(child)
					}
				}
			}
			walk(qds)
			assert.Contains(t, types, tt.wantType)
		})
	}
}

func TestQueryNode_NoDatasource(t *testing.T) {
	f := testutil.NewOrderFixture()
	ghost := core.NewConcept("ghost", core.TypeString, core.PurposeKey, nil)
	env := f.Env.AddConcept(ghost)
	r := newResolver(t, env)

	_, err := r.QueryNode(core.NewSelectStatement([]core.SelectItem{{Content: ghost}}, nil, nil, nil, 0, env.Lookup))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNoDatasource)
}

func TestQueryNode_MaxDepth(t *testing.T) {
	f := testutil.NewOrderFixture()
	r, err := New(f.Env, Config{Logger: testutil.NewTestLogger(t), MaxDepth: 1})
	require.NoError(t, err)

	_, err = r.QueryNode(f.Select(f.CategoryName, f.TotalRevenue))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrUnresolvable)
}

func TestQueryNode_Deterministic(t *testing.T) {
	f := testutil.NewOrderFixture()
	stmt := f.Select(f.CategoryName, f.TotalRevenue)

	first := newResolver(t, f.Env)
	a, err := first.QueryNode(stmt)
	require.NoError(t, err)
	second := newResolver(t, f.Env)
	b, err := second.QueryNode(stmt)
	require.NoError(t, err)

	qa, err := a.Resolve()
	require.NoError(t, err)
	qb, err := b.Resolve()
	require.NoError(t, err)
	assert.Equal(t, qa.Identifier(), qb.Identifier())
	assert.Equal(t, a.String(), b.String())

	hits := first.history.Hits()
	_, err = first.QueryNode(stmt)
	require.NoError(t, err)
	assert.Greater(t, first.history.Hits(), hits, "repeated searches are memoized")
}

func TestHistory_Key(t *testing.T) {
	f := testutil.NewOrderFixture()
	h := NewHistory()
	cond := &core.Comparison{Left: f.Revenue, Right: core.Literal{Value: 1}, Operator: core.OpGt}

	assert.Equal(t,
		h.Key([]*core.Concept{f.OrderID, f.Revenue}, nil, false),
		h.Key([]*core.Concept{f.Revenue, f.OrderID}, nil, false))
	assert.NotEqual(t,
		h.Key([]*core.Concept{f.OrderID}, nil, false),
		h.Key([]*core.Concept{f.OrderID}, cond, false))
	assert.NotEqual(t,
		h.Key([]*core.Concept{f.OrderID}, nil, false),
		h.Key([]*core.Concept{f.OrderID}, nil, true))
}

func TestCombinations(t *testing.T) {
	f := testutil.NewOrderFixture()
	got := combinations([]*core.Concept{f.OrderID, f.Revenue})
	require.Len(t, got, 4)
	assert.Len(t, got[0], 2)
	assert.Nil(t, got[3])

	many := []*core.Concept{f.OrderID, f.ProductID, f.CategoryID, f.CategoryName, f.Revenue, f.TotalRevenue, f.OrderID}
	assert.Len(t, combinations(many), 2)
}
