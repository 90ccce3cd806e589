package processor

import (
	"slices"
	"strings"
	"testing"

	"github.com/leapstack-labs/grainql/internal/testutil"
	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessor(t *testing.T, env *core.Environment, mutate ...func(*Config)) *Processor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = testutil.NewTestLogger(t)
	for _, m := range mutate {
		m(&cfg)
	}
	return New(env, cfg)
}

func largeRevenue(f *testutil.OrderFixture) *core.Concept {
	return core.NewConcept("large_revenue", core.TypeFloat, core.PurposeProperty, &core.FilterItem{
		Content: f.Revenue,
		Where: core.NewWhereClause(&core.Comparison{
			Left:     f.Revenue,
			Right:    core.Literal{Value: 100},
			Operator: core.OpGt,
		}),
	})
}

func ctesString(ctes []*core.CTE) string {
	names := make([]string, len(ctes))
	for i, c := range ctes {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}

func TestProcessQuery_CategoryRevenue(t *testing.T) {
	f := testutil.NewOrderFixture()
	p := newProcessor(t, f.Env)

	pq, err := p.ProcessQuery(f.Select(f.CategoryID, f.CategoryName, f.TotalRevenue))
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]string{f.CategoryID.Address(), f.CategoryName.Address(), f.TotalRevenue.Address()},
		core.Addresses(pq.OutputColumns))
	require.NotNil(t, pq.Base)
	assert.True(t, pq.Base.Base)
	assert.Equal(t, pq.Base, pq.CTEs[len(pq.CTEs)-1], "final CTE is last: %s", ctesString(pq.CTEs))
	assert.True(t, pq.Base.Grain.Equal(core.NewGrain(f.CategoryID.Address())), pq.Base.Grain.String())
}

func TestProcessQuery_ParentsFirst(t *testing.T) {
	f := testutil.NewOrderFixture()
	p := newProcessor(t, f.Env, func(c *Config) { c.InlineDatasources = false })

	pq, err := p.ProcessQuery(f.Select(f.CategoryName, f.TotalRevenue))
	require.NoError(t, err)

	index := map[string]int{}
	for i, c := range pq.CTEs {
		index[c.Name] = i
	}
	for i, c := range pq.CTEs {
		for _, parent := range c.ParentCTEs {
			pi, ok := index[parent.Name]
			require.True(t, ok, "parent %s of %s is rendered", parent.Name, c.Name)
			assert.Less(t, pi, i, "%s precedes %s", parent.Name, c.Name)
		}
	}
}

func TestProcessQuery_FilterAddsNoCTE(t *testing.T) {
	f := testutil.NewOrderFixture()
	large := largeRevenue(f)
	env := f.Env.AddConcept(large)

	tests := []struct {
		name     string
		filtered *core.Concept
		plain    *core.Concept
	}{
		{name: "row level", filtered: large, plain: f.Revenue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain, err := newProcessor(t, env).ProcessQuery(core.NewSelectStatement(
				[]core.SelectItem{{Content: tt.plain}}, nil, nil, nil, 0, env.Lookup))
			require.NoError(t, err)
			filtered, err := newProcessor(t, env).ProcessQuery(core.NewSelectStatement(
				[]core.SelectItem{{Content: tt.filtered}}, nil, nil, nil, 0, env.Lookup))
			require.NoError(t, err)

			assert.Len(t, filtered.CTEs, len(plain.CTEs), "filtered %s, plain %s", ctesString(filtered.CTEs), ctesString(plain.CTEs))
			var conds []string
			for _, c := range filtered.CTEs {
				if c.Condition != nil {
					conds = append(conds, c.Condition.String())
				}
			}
			assert.NotEmpty(t, conds, "filter is applied as a condition")
		})
	}
}

func TestProcessQuery_HumanNames(t *testing.T) {
	f := testutil.NewOrderFixture()
	stmt := f.Select(f.CategoryName, f.TotalRevenue)
	human := func(c *Config) { c.HumanNames = true }

	a, err := newProcessor(t, f.Env, human).ProcessQuery(stmt)
	require.NoError(t, err)
	b, err := newProcessor(t, f.Env, human).ProcessQuery(stmt)
	require.NoError(t, err)

	require.Len(t, b.CTEs, len(a.CTEs))
	for i := range a.CTEs {
		assert.Equal(t, a.CTEs[i].Name, b.CTEs[i].Name)
		word, _, _ := strings.Cut(a.CTEs[i].Name, "_")
		assert.Contains(t, cteWords, word)
	}
}

func TestProcessQuery_InlineDatasources(t *testing.T) {
	f := testutil.NewOrderFixture()
	stmt := f.Select(f.CategoryName, f.TotalRevenue)

	inlined, err := newProcessor(t, f.Env).ProcessQuery(stmt)
	require.NoError(t, err)
	plain, err := newProcessor(t, f.Env, func(c *Config) { c.InlineDatasources = false }).ProcessQuery(stmt)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(inlined.CTEs), len(plain.CTEs))
	for _, c := range inlined.CTEs {
		assert.False(t, c.Inlined, "inlined CTE %s is not rendered", c.Name)
	}
}

func TestProcessQuery_WhereCondition(t *testing.T) {
	f := testutil.NewOrderFixture()
	where := core.NewWhereClause(&core.Comparison{
		Left:     f.CategoryName,
		Right:    core.Literal{Value: "toys"},
		Operator: core.OpEq,
	})
	stmt := core.NewSelectStatement([]core.SelectItem{
		{Content: f.OrderID},
		{Content: f.Revenue},
	}, where, nil, nil, 0, f.Env.Lookup)

	for _, pushdown := range []bool{true, false} {
		pq, err := newProcessor(t, f.Env, func(c *Config) { c.PredicatePushdown = pushdown }).ProcessQuery(stmt)
		require.NoError(t, err)
		assert.Same(t, where, pq.Where)
		found := slices.ContainsFunc(pq.CTEs, func(c *core.CTE) bool {
			return c.Condition != nil && strings.Contains(c.Condition.String(), f.CategoryName.Address())
		})
		assert.True(t, found, "pushdown=%v: condition is applied in %s", pushdown, ctesString(pq.CTEs))
	}
}

func TestProcess_Dispatch(t *testing.T) {
	f := testutil.NewOrderFixture()
	p := newProcessor(t, f.Env)
	stmt := f.Select(f.CategoryName, f.TotalRevenue)

	out, err := p.Process(&core.ShowStatement{Select: stmt})
	require.NoError(t, err)
	show, ok := out.(*core.ProcessedShowStatement)
	require.True(t, ok)
	assert.Equal(t, []string{"__grainql_internal_query_text"}, show.OutputColumns)
	require.NotNil(t, show.Query)

	target := core.NewDatasource("category_revenue", core.Address{Location: "category_revenue"}, []core.ColumnAssignment{
		{Alias: "name", Concept: f.CategoryName},
		{Alias: "revenue", Concept: f.TotalRevenue},
	}, core.NewGrain(f.CategoryName.Address()))
	out, err = p.Process(&core.PersistStatement{Datasource: target, Select: stmt})
	require.NoError(t, err)
	persist, ok := out.(*core.ProcessedQueryPersist)
	require.True(t, ok)
	assert.Equal(t, target.Address, persist.OutputTo)

	_, err = p.Process("select 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestProcessQuery_Errors(t *testing.T) {
	f := testutil.NewOrderFixture()
	ghost := core.NewConcept("ghost", core.TypeString, core.PurposeKey, nil)
	env := f.Env.AddConcept(ghost)
	p := newProcessor(t, env)

	_, err := p.ProcessQuery(core.NewSelectStatement([]core.SelectItem{{Content: ghost}}, nil, nil, nil, 0, env.Lookup))
	assert.ErrorIs(t, err, core.ErrNoDatasource)

	_, err = p.ProcessQuery(core.NewSelectStatement(nil, nil, nil, nil, 0, env.Lookup))
	assert.ErrorIs(t, err, core.ErrInvalidSyntax)
}

func TestDedupe(t *testing.T) {
	f := testutil.NewOrderFixture()
	grain := core.NewGrain(f.OrderID.Address())
	parent := func() *core.CTE {
		return &core.CTE{
			Name:          "orders_at_order_id",
			Source:        &core.QueryDatasource{},
			OutputColumns: []*core.Concept{f.OrderID},
			SourceMap:     map[string][]string{f.OrderID.Address(): {"local_orders"}},
			Grain:         grain,
		}
	}
	left, right := parent(), parent()
	right.OutputColumns = []*core.Concept{f.Revenue}
	right.SourceMap = map[string][]string{f.Revenue.Address(): {"local_orders"}}
	root := &core.CTE{
		Name:       "root",
		Source:     &core.QueryDatasource{},
		Grain:      grain,
		ParentCTEs: []*core.CTE{left, right},
	}

	ctes, merged, err := dedupe(root)
	require.NoError(t, err)
	require.Len(t, ctes, 2)
	require.Len(t, merged.ParentCTEs, 1)
	assert.ElementsMatch(t,
		[]string{f.OrderID.Address(), f.Revenue.Address()},
		core.Addresses(merged.ParentCTEs[0].OutputColumns))
}

func TestNames(t *testing.T) {
	t.Run("safe", func(t *testing.T) {
		assert.Equal(t, "local_orders_at_local_order_id", safeName("local.orders_at_local.order_id"))
		long := safeName(strings.Repeat("local_orders_join_", 10))
		assert.LessOrEqual(t, len(long), maxNameLength)
		assert.NotEqual(t, long, safeName(strings.Repeat("local_orders_join_", 11)))
	})
	t.Run("human names are unique", func(t *testing.T) {
		m := newNameMap(true)
		seen := map[string]bool{}
		for i := range len(cteWords) + 5 {
			n := m.name(strings.Repeat("x", i+1))
			assert.False(t, seen[n], n)
			seen[n] = true
		}
		assert.Equal(t, m.name("x"), m.name("x"))
	})
}
