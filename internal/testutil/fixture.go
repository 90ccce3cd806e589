package testutil

import (
	"github.com/leapstack-labs/grainql/pkg/core"
)

// OrderFixture is the order/product/category model: revenue lives on
// orders, products map to categories, and categories carry a name.
type OrderFixture struct {
	OrderID      *core.Concept
	ProductID    *core.Concept
	CategoryID   *core.Concept
	CategoryName *core.Concept
	Revenue      *core.Concept
	TotalRevenue *core.Concept
	Env          *core.Environment
}

// NewOrderFixture builds the order model with three datasources:
// orders(order_id, product_id, revenue), products(product_id, category_id)
// and category(category_id, category_name).
func NewOrderFixture() *OrderFixture {
	f := &OrderFixture{
		OrderID:    core.NewConcept("order_id", core.TypeInteger, core.PurposeKey, nil),
		ProductID:  core.NewConcept("product_id", core.TypeInteger, core.PurposeKey, nil),
		CategoryID: core.NewConcept("category_id", core.TypeInteger, core.PurposeKey, nil),
	}
	f.CategoryName = core.NewConcept("category_name", core.TypeString, core.PurposeProperty, nil).
		WithKeys(f.CategoryID.Address())
	f.Revenue = core.NewConcept("revenue", core.TypeFloat, core.PurposeProperty, nil).
		WithKeys(f.OrderID.Address())
	f.TotalRevenue = core.NewConcept("total_revenue", core.TypeFloat, core.PurposeMetric,
		core.MustFunction(core.FuncSum, f.Revenue))

	env := core.NewEnvironment()
	for _, c := range []*core.Concept{f.OrderID, f.ProductID, f.CategoryID, f.CategoryName, f.Revenue, f.TotalRevenue} {
		env = env.AddConcept(c)
	}
	env = env.AddDatasource(core.NewDatasource("orders", core.Address{Location: "orders"}, []core.ColumnAssignment{
		{Alias: "order_id", Concept: f.OrderID},
		{Alias: "product_id", Concept: f.ProductID},
		{Alias: "revenue", Concept: f.Revenue},
	}, core.NewGrain(f.OrderID.Address())))
	env = env.AddDatasource(core.NewDatasource("products", core.Address{Location: "products"}, []core.ColumnAssignment{
		{Alias: "product_id", Concept: f.ProductID},
		{Alias: "category_id", Concept: f.CategoryID},
	}, core.NewGrain(f.ProductID.Address())))
	env = env.AddDatasource(core.NewDatasource("category", core.Address{Location: "category"}, []core.ColumnAssignment{
		{Alias: "category_id", Concept: f.CategoryID},
		{Alias: "category_name", Concept: f.CategoryName},
	}, core.NewGrain(f.CategoryID.Address())))
	f.Env = env
	return f
}

// Lookup resolves an address against the fixture environment.
func (f *OrderFixture) Lookup(address string) (*core.Concept, bool) {
	return f.Env.Lookup(address)
}

// Select builds a select over the given concepts bound to the fixture.
func (f *OrderFixture) Select(concepts ...*core.Concept) *core.SelectStatement {
	items := make([]core.SelectItem, len(concepts))
	for i, c := range concepts {
		items[i] = core.SelectItem{Content: c}
	}
	return core.NewSelectStatement(items, nil, nil, nil, 0, f.Env.Lookup)
}

// ChainFixture is a three table chain a <- b <- c: a holds a_id, b maps
// a_id to b_id, and c maps b_id to c_value. Columns on b and c are
// partial for their parent key, so joins toward them are outer joins.
type ChainFixture struct {
	AID    *core.Concept
	BID    *core.Concept
	CValue *core.Concept
	Env    *core.Environment
}

// NewChainFixture builds the chain model.
func NewChainFixture() *ChainFixture {
	f := &ChainFixture{
		AID: core.NewConcept("a_id", core.TypeInteger, core.PurposeKey, nil),
		BID: core.NewConcept("b_id", core.TypeInteger, core.PurposeKey, nil),
	}
	f.CValue = core.NewConcept("c_value", core.TypeString, core.PurposeProperty, nil).WithKeys(f.BID.Address())

	env := core.NewEnvironment()
	for _, c := range []*core.Concept{f.AID, f.BID, f.CValue} {
		env = env.AddConcept(c)
	}
	partial := []core.Modifier{core.ModifierPartial}
	env = env.AddDatasource(core.NewDatasource("a", core.Address{Location: "a"}, []core.ColumnAssignment{
		{Alias: "id", Concept: f.AID},
	}, core.NewGrain(f.AID.Address())))
	env = env.AddDatasource(core.NewDatasource("b", core.Address{Location: "b"}, []core.ColumnAssignment{
		{Alias: "a_id", Concept: f.AID, Modifiers: partial},
		{Alias: "id", Concept: f.BID},
	}, core.NewGrain(f.BID.Address())))
	env = env.AddDatasource(core.NewDatasource("c", core.Address{Location: "c"}, []core.ColumnAssignment{
		{Alias: "b_id", Concept: f.BID, Modifiers: partial},
		{Alias: "value", Concept: f.CValue},
	}, core.NewGrain(f.BID.Address())))
	f.Env = env
	return f
}
