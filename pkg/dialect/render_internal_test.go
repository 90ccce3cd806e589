package dialect

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/grainql/internal/testutil"
	"github.com/leapstack-labs/grainql/pkg/core"
)

func ordersCTE(f *testutil.OrderFixture) *core.CTE {
	orders, _ := f.Env.Datasource("orders")
	return &core.CTE{
		Name:          "orders_grouped",
		Source:        &core.QueryDatasource{Datasources: []core.Source{orders}},
		OutputColumns: []*core.Concept{f.ProductID, f.TotalRevenue},
		SourceMap: map[string][]string{
			f.ProductID.Address():    {orders.FullName()},
			f.Revenue.Address():      {orders.FullName()},
			f.TotalRevenue.Address(): {},
		},
		Grain:        core.NewGrain(f.ProductID.Address()),
		GroupToGrain: true,
		Base:         true,
	}
}

func TestRenderCTE_Grouped(t *testing.T) {
	f := testutil.NewOrderFixture()
	cte := ordersCTE(f)
	cte.Limit = 10
	cte.OrderBy = &core.OrderBy{Items: []core.OrderItem{{Expr: f.TotalRevenue, Order: core.Descending}}}

	d := NewDialect("test").Limit(LimitClause).Build()
	sql, err := d.Renderer(testutil.NewTestLogger(t)).RenderQuery(&core.ProcessedQuery{
		OutputColumns: []*core.Concept{f.ProductID, f.TotalRevenue},
		CTEs:          []*core.CTE{cte},
		Base:          cte,
	})
	require.NoError(t, err)

	want := `SELECT
	"local_orders"."product_id" as "local_product_id",
	sum("local_orders"."revenue") as "local_total_revenue"
FROM
	orders as "local_orders"
GROUP BY
	"local_orders"."product_id"
ORDER BY
	sum("local_orders"."revenue") desc
LIMIT 10
`
	assert.Equal(t, want, sql)
}

func TestRenderCTE_GrainMatch(t *testing.T) {
	f := testutil.NewOrderFixture()
	cte := ordersCTE(f)
	cte.GroupToGrain = false

	sql, err := ANSI.RenderQuery(&core.ProcessedQuery{
		OutputColumns: []*core.Concept{f.ProductID, f.TotalRevenue},
		CTEs:          []*core.CTE{cte},
		Base:          cte,
	})
	require.NoError(t, err)
	assert.Contains(t, sql, `"local_orders"."revenue" as "local_total_revenue"`)
	assert.NotContains(t, sql, "GROUP BY")
}

func TestRenderCTE_WhereHavingSplit(t *testing.T) {
	f := testutil.NewOrderFixture()
	cte := ordersCTE(f)
	cte.Condition = core.And(
		&core.Comparison{Left: f.ProductID, Right: core.Literal{Value: 3}, Operator: core.OpGt},
		&core.Comparison{Left: f.TotalRevenue, Right: core.Literal{Value: 100}, Operator: core.OpGte},
	)

	sql, err := ANSI.RenderQuery(&core.ProcessedQuery{
		OutputColumns: []*core.Concept{f.ProductID, f.TotalRevenue},
		CTEs:          []*core.CTE{cte},
		Base:          cte,
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE\n\t\"local_orders\".\"product_id\" > 3\n")
	assert.Contains(t, sql, "HAVING\n\tsum(\"local_orders\".\"revenue\") >= 100\n")
}

func TestRenderCTE_MissingSource(t *testing.T) {
	f := testutil.NewOrderFixture()
	cte := ordersCTE(f)
	cte.OutputColumns = append(cte.OutputColumns, f.CategoryName)

	_, err := ANSI.RenderQuery(&core.ProcessedQuery{CTEs: []*core.CTE{cte}, Base: cte})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidSyntax)
}

func TestRenderJoin(t *testing.T) {
	f := testutil.NewOrderFixture()
	left := &core.CTE{Name: "orders_cte", OutputColumns: []*core.Concept{f.ProductID}}
	right := &core.CTE{Name: "products_cte", OutputColumns: []*core.Concept{f.ProductID}, Nullable: []*core.Concept{f.ProductID}}
	cte := &core.CTE{Name: "joined", ParentCTEs: []*core.CTE{left, right}}
	r := ANSI.Renderer(nil)

	tests := []struct {
		name string
		join *core.Join
		want string
	}{
		{
			name: "keys",
			join: &core.Join{Left: left, Right: right, JoinType: core.JoinLeftOuter, Keys: []*core.Concept{f.ProductID}},
			want: `LEFT OUTER JOIN products_cte on ("orders_cte"."local_product_id" = "products_cte"."local_product_id" or ("orders_cte"."local_product_id" is null and "products_cte"."local_product_id" is null))`,
		},
		{
			name: "no keys",
			join: &core.Join{Left: left, Right: right, JoinType: core.JoinInner},
			want: "INNER JOIN products_cte on 1=1",
		},
		{
			name: "cross",
			join: &core.Join{Left: left, Right: right, JoinType: core.JoinCross},
			want: "CROSS JOIN products_cte",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.join(tt.join, cte)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderLiteral(t *testing.T) {
	r := ANSI.Renderer(nil)
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{true, "TRUE"},
		{"it's", "'it''s'"},
		{42, "42"},
		{int64(7), "7"},
		{1.5, "1.5"},
		{decimal.RequireFromString("10.25"), "10.25"},
		{[]core.Literal{{Value: 1}, {Value: 2}}, "[1, 2]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.literal(core.Literal{Value: tt.in}))
	}
}

func TestRenderComparison(t *testing.T) {
	f := testutil.NewOrderFixture()
	r := ANSI.Renderer(nil)
	tests := []struct {
		name string
		cmp  *core.Comparison
		want string
	}{
		{"in list", &core.Comparison{Left: f.ProductID, Right: core.Literal{Value: []core.Literal{{Value: 1}, {Value: 2}}}, Operator: core.OpIn}, `"local_product_id" in (1, 2)`},
		{"null equality", &core.Comparison{Left: f.ProductID, Right: core.Literal{}, Operator: core.OpEq}, `"local_product_id" is null`},
		{"string", &core.Comparison{Left: f.CategoryName, Right: core.Literal{Value: "toys"}, Operator: core.OpNe}, `"local_category_name" != 'toys'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.comparison(tt.cmp, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialectDatatype(t *testing.T) {
	assert.Equal(t, "varchar", ANSI.Datatype(core.TypeString))
	assert.Equal(t, "integer[]", ANSI.Datatype(core.ListType{Elem: core.TypeInteger}))
	assert.Equal(t, `"order"`, ANSI.QuoteIdentifierIfNeeded("order"))
	assert.Equal(t, "revenue", ANSI.QuoteIdentifierIfNeeded("revenue"))
	assert.Equal(t, `"a""b"`, ANSI.QuoteIdentifier(`a"b`))
}
