package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseJoin(t *testing.T) {
	m := newOrderModel()
	env := m.environment()
	orders, _ := env.Datasource("orders")
	products, _ := env.Datasource("products")
	category, _ := env.Datasource("category")

	t.Run("shared key", func(t *testing.T) {
		j, err := NewBaseJoin(orders, products, []*Concept{m.productID}, JoinInner, false)
		require.NoError(t, err)
		assert.Equal(t, "inner products on local.product_id", j.UniqueID())
	})

	t.Run("self join", func(t *testing.T) {
		_, err := NewBaseJoin(orders, orders, []*Concept{m.orderID}, JoinInner, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidSyntax))
	})

	t.Run("missing key without filter", func(t *testing.T) {
		_, err := NewBaseJoin(orders, category, []*Concept{m.categoryID}, JoinInner, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing local.category_id on orders")
	})

	t.Run("no mutual keys", func(t *testing.T) {
		_, err := NewBaseJoin(orders, category, []*Concept{m.categoryID}, JoinInner, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "No mutual join keys found between orders and category")
	})

	t.Run("single row side degrades to unconditioned", func(t *testing.T) {
		constant := NewConcept("one", TypeInteger, PurposeConstant, MustFunction(FuncConstant, Literal{Value: int64(1)}))
		single := &QueryDatasource{
			Outputs:     []*Concept{constant},
			Datasources: []Source{&UnnestJoin{Concept: constant, Alias: "one"}},
			SourceType:  SourceConstant,
		}
		j, err := NewBaseJoin(orders, single, []*Concept{m.orderID}, JoinFull, true)
		require.NoError(t, err)
		assert.Empty(t, j.Concepts)
	})
}

func TestNewQueryDatasource_Validation(t *testing.T) {
	m := newOrderModel()
	env := m.environment()
	orders, _ := env.Datasource("orders")
	products, _ := env.Datasource("products")

	join, err := NewBaseJoin(orders, products, []*Concept{m.productID}, JoinInner, false)
	require.NoError(t, err)

	t.Run("duplicate join", func(t *testing.T) {
		_, err := NewQueryDatasource(QueryDatasource{
			Datasources: []Source{orders, products},
			Joins:       []*BaseJoin{join, join},
		}, false)
		require.Error(t, err)
		var syntaxErr *InvalidSyntaxError
		assert.ErrorAs(t, err, &syntaxErr)
	})

	t.Run("missing source map entry", func(t *testing.T) {
		_, err := NewQueryDatasource(QueryDatasource{
			Outputs:     []*Concept{m.orderID, m.revenue},
			SourceMap:   map[string][]Source{m.orderID.Address(): {orders}},
			Datasources: []Source{orders},
		}, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "source map missing local.revenue")
	})

	t.Run("defaults", func(t *testing.T) {
		q, err := NewQueryDatasource(QueryDatasource{
			Outputs:     []*Concept{m.orderID, m.orderID},
			Datasources: []Source{orders},
		}, false)
		require.NoError(t, err)
		assert.Equal(t, SourceSelect, q.SourceType)
		assert.Len(t, q.Outputs, 1)
		assert.NotNil(t, q.SourceMap)
	})
}

func TestQueryDatasource_Identifier(t *testing.T) {
	m := newOrderModel()
	env := m.environment()
	orders, _ := env.Datasource("orders")
	products, _ := env.Datasource("products")

	cond := &Comparison{Left: m.revenue, Right: Literal{Value: int64(5)}, Operator: OpGt}
	build := func(c Condition, g Grain) *QueryDatasource {
		return &QueryDatasource{Datasources: []Source{orders, products}, Grain: g, Condition: c}
	}

	plain := build(nil, NewGrain(m.orderID.Address()))
	assert.Equal(t, "orders_join_products_at_local_order_id", plain.Identifier())
	assert.Equal(t, "orders_join_products_at_abstract", build(nil, Grain{}).Identifier())

	filtered := build(cond, NewGrain(m.orderID.Address()))
	again := build(&Comparison{Left: m.revenue, Right: Literal{Value: int64(5)}, Operator: OpGt}, NewGrain(m.orderID.Address()))
	assert.Equal(t, filtered.Identifier(), again.Identifier())
	assert.Contains(t, filtered.Identifier(), "_filtered_by_")
	assert.NotEqual(t, plain.Identifier(), filtered.Identifier())
}

func TestQueryDatasource_Add(t *testing.T) {
	m := newOrderModel()
	env := m.environment()
	orders, _ := env.Datasource("orders")
	g := NewGrain(m.orderID.Address())

	left := &QueryDatasource{
		Outputs:     []*Concept{m.orderID},
		SourceMap:   map[string][]Source{m.orderID.Address(): {orders}},
		Datasources: []Source{orders},
		Grain:       g,
		SourceType:  SourceSelect,
		Limit:       10,
	}
	right := &QueryDatasource{
		Outputs:     []*Concept{m.orderID, m.revenue},
		SourceMap:   map[string][]Source{m.orderID.Address(): {orders}, m.revenue.Address(): {orders}},
		Datasources: []Source{orders},
		Grain:       g,
		SourceType:  SourceSelect,
		Limit:       5,
		Partial:     []*Concept{m.revenue},
	}

	sum, err := left.Add(right)
	require.NoError(t, err)
	assert.Equal(t, []string{"local.order_id", "local.revenue"}, Addresses(sum.Outputs))
	assert.Len(t, sum.Datasources, 1)
	assert.Len(t, sum.SourceMap[m.orderID.Address()], 1)
	assert.Equal(t, 5, sum.Limit)
	assert.Equal(t, []string{"local.order_id"}, sum.NonPartialAddresses())

	tests := []struct {
		name   string
		mutate func(q *QueryDatasource)
		msg    string
	}{
		{"grain", func(q *QueryDatasource) { q.Grain = Grain{} }, "identical grain"},
		{"source type", func(q *QueryDatasource) { q.SourceType = SourceGroup }, "identical source type"},
		{"force group", func(q *QueryDatasource) { q.ForceGroup = GroupForce }, "group required"},
		{"join derived", func(q *QueryDatasource) { q.JoinDerived = []*Concept{m.orderID} }, "join derived"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := *right
			tt.mutate(&other)
			_, err := left.Add(&other)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestQueryDatasource_GroupRequired(t *testing.T) {
	tests := []struct {
		name string
		q    QueryDatasource
		want bool
	}{
		{"select", QueryDatasource{SourceType: SourceSelect}, false},
		{"group", QueryDatasource{SourceType: SourceGroup}, true},
		{"forced", QueryDatasource{SourceType: SourceSelect, ForceGroup: GroupForce}, true},
		{"skipped", QueryDatasource{SourceType: SourceGroup, ForceGroup: GroupSkip}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.GroupRequired())
		})
	}
}
