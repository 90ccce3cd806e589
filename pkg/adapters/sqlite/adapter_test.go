package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/grainql/internal/testutil"
	"github.com/leapstack-labs/grainql/pkg/adapter"
	"github.com/leapstack-labs/grainql/pkg/core"
	"github.com/leapstack-labs/grainql/pkg/processor"
)

func connect(t *testing.T) *Adapter {
	t.Helper()
	adp := New(testutil.NewTestLogger(t))
	require.NoError(t, adp.Connect(context.Background(), adapter.Config{Path: ":memory:"}))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func seedOrders(t *testing.T, adp *Adapter) {
	t.Helper()
	for _, stmt := range []string{
		`CREATE TABLE orders (order_id INTEGER, product_id INTEGER, revenue REAL)`,
		`CREATE TABLE products (product_id INTEGER, category_id INTEGER)`,
		`CREATE TABLE category (category_id INTEGER, category_name TEXT)`,
		`INSERT INTO orders VALUES (1, 10, 5.0), (2, 10, 7.0), (3, 20, 11.0), (4, 30, 2.0)`,
		`INSERT INTO products VALUES (10, 1), (20, 2), (30, 1)`,
		`INSERT INTO category VALUES (1, 'toys'), (2, 'games')`,
	} {
		require.NoError(t, adp.Exec(context.Background(), stmt))
	}
}

func run(t *testing.T, adp *Adapter, env *core.Environment, stmt *core.SelectStatement) *adapter.Result {
	t.Helper()
	cfg := processor.DefaultConfig()
	cfg.Logger = testutil.NewTestLogger(t)
	pq, err := processor.New(env, cfg).ProcessQuery(stmt)
	require.NoError(t, err)
	sql, err := adp.Dialect().Renderer(cfg.Logger).RenderQuery(pq)
	require.NoError(t, err)

	rows, err := adp.Query(context.Background(), sql)
	require.NoError(t, err, sql)
	res, err := adapter.Collect(rows, 0)
	require.NoError(t, err, sql)
	return res
}

func TestAdapter_Connect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grain.db")
	adp := New(nil)
	require.NoError(t, adp.Connect(context.Background(), adapter.Config{Path: path}))
	require.NoError(t, adp.Exec(context.Background(), "CREATE TABLE t (id INTEGER)"))
	require.NoError(t, adp.Close())

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestAdapter_GetTableMetadata(t *testing.T) {
	adp := connect(t)
	seedOrders(t, adp)

	meta, err := adp.GetTableMetadata(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "main", meta.Schema)
	assert.Equal(t, int64(4), meta.RowCount)
	require.Len(t, meta.Columns, 3)
	assert.Equal(t, "order_id", meta.Columns[0].Name)
	assert.Equal(t, 1, meta.Columns[0].Position)
	assert.Equal(t, "REAL", meta.Columns[2].Type)

	_, err = adp.GetTableMetadata(context.Background(), "missing")
	assert.Error(t, err)
}

func TestAdapter_LoadCSV(t *testing.T) {
	adp := connect(t)
	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,alice\n2,bob\n"), 0600))

	require.NoError(t, adp.LoadCSV(context.Background(), "people", path))
	rows, err := adp.Query(context.Background(), `SELECT name FROM people ORDER BY id`)
	require.NoError(t, err)
	res, err := adapter.Collect(rows, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"alice"}, {"bob"}}, res.Rows)
}

func TestAdapter_RunsCompiledQueries(t *testing.T) {
	adp := connect(t)
	seedOrders(t, adp)
	f := testutil.NewOrderFixture()

	t.Run("revenue by category", func(t *testing.T) {
		res := run(t, adp, f.Env, f.Select(f.CategoryName, f.TotalRevenue))
		got := map[string]float64{}
		for _, row := range res.Maps() {
			got[row[f.CategoryName.SafeAddress()].(string)] = row[f.TotalRevenue.SafeAddress()].(float64)
		}
		assert.Equal(t, map[string]float64{"toys": 14, "games": 11}, got)
	})

	t.Run("filtered orders", func(t *testing.T) {
		where := core.NewWhereClause(&core.Comparison{
			Left:     f.CategoryName,
			Right:    core.Literal{Value: "toys"},
			Operator: core.OpEq,
		})
		stmt := core.NewSelectStatement([]core.SelectItem{{Content: f.OrderID}, {Content: f.Revenue}}, where, nil, nil, 0, f.Env.Lookup)
		res := run(t, adp, f.Env, stmt)

		var ids []int64
		for _, row := range res.Maps() {
			ids = append(ids, row[f.OrderID.SafeAddress()].(int64))
		}
		assert.ElementsMatch(t, []int64{1, 2, 4}, ids)
	})

	t.Run("total", func(t *testing.T) {
		res := run(t, adp, f.Env, f.Select(f.TotalRevenue))
		require.Len(t, res.Rows, 1)
		assert.InDelta(t, 25.0, res.Rows[0][0], 0.0001)
	})
}
