package core

type orderModel struct {
	orderID      *Concept
	productID    *Concept
	categoryID   *Concept
	categoryName *Concept
	revenue      *Concept
	totalRevenue *Concept
}

func newOrderModel() orderModel {
	m := orderModel{
		orderID:    NewConcept("order_id", TypeInteger, PurposeKey, nil),
		productID:  NewConcept("product_id", TypeInteger, PurposeKey, nil),
		categoryID: NewConcept("category_id", TypeInteger, PurposeKey, nil),
	}
	m.categoryName = NewConcept("category_name", TypeString, PurposeProperty, nil).WithKeys(m.categoryID.Address())
	m.revenue = NewConcept("revenue", TypeFloat, PurposeProperty, nil).WithKeys(m.orderID.Address())
	m.totalRevenue = NewConcept("total_revenue", TypeFloat, PurposeMetric, MustFunction(FuncSum, m.revenue))
	return m
}

func (m orderModel) environment() *Environment {
	env := NewEnvironment()
	for _, c := range []*Concept{m.orderID, m.productID, m.categoryID, m.categoryName, m.revenue, m.totalRevenue} {
		env = env.AddConcept(c)
	}
	env = env.AddDatasource(NewDatasource("orders", Address{Location: "db.orders"}, []ColumnAssignment{
		{Alias: "id", Concept: m.orderID},
		{Alias: "product", Concept: m.productID},
		{Alias: "rev", Concept: m.revenue},
	}, NewGrain(m.orderID.Address())))
	env = env.AddDatasource(NewDatasource("products", Address{Location: "db.products"}, []ColumnAssignment{
		{Alias: "id", Concept: m.productID},
		{Alias: "category", Concept: m.categoryID},
	}, NewGrain(m.productID.Address())))
	env = env.AddDatasource(NewDatasource("category", Address{Location: "db.category"}, []ColumnAssignment{
		{Alias: "id", Concept: m.categoryID},
		{Alias: "name", Concept: m.categoryName},
	}, NewGrain(m.categoryID.Address())))
	return env
}
