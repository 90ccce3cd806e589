package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/grainql/internal/testutil"
	"github.com/leapstack-labs/grainql/pkg/adapter"
	"github.com/leapstack-labs/grainql/pkg/processor"
)

func connect(t *testing.T, cfg adapter.Config) *Adapter {
	t.Helper()
	adp := New(testutil.NewTestLogger(t))
	require.NoError(t, adp.Connect(context.Background(), cfg))
	t.Cleanup(func() { _ = adp.Close() })
	return adp
}

func TestAdapter_Connect(t *testing.T) {
	tests := []struct {
		name      string
		setupPath func(t *testing.T) string
		verify    func(t *testing.T, path string)
	}{
		{
			name:      "in-memory",
			setupPath: func(_ *testing.T) string { return ":memory:" },
		},
		{
			name: "file-based",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "test.duckdb")
			},
			verify: func(t *testing.T, path string) {
				_, err := os.Stat(path)
				assert.False(t, os.IsNotExist(err), "database file was not created")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.setupPath(t)
			connect(t, adapter.Config{Path: path})
			if tt.verify != nil {
				tt.verify(t, path)
			}
		})
	}
}

func TestAdapter_NotConnected(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)

	assert.ErrorIs(t, adp.Exec(ctx, "SELECT 1"), adapter.ErrNotConnected)
	_, err := adp.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, adapter.ErrNotConnected)
	assert.ErrorIs(t, adp.LoadCSV(ctx, "t", "x.csv"), adapter.ErrNotConnected)
	assert.NoError(t, adp.Close())
}

func TestAdapter_GetTableMetadata(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, adapter.Config{Path: ":memory:"})

	require.NoError(t, adp.Exec(ctx, `CREATE TABLE products (product_id INTEGER NOT NULL, name VARCHAR, price DOUBLE)`))
	require.NoError(t, adp.Exec(ctx, `INSERT INTO products VALUES (1, 'Widget', 9.99), (2, 'Gadget', 19.99)`))

	meta, err := adp.GetTableMetadata(ctx, "products")
	require.NoError(t, err)
	assert.Equal(t, "main", meta.Schema)
	assert.Equal(t, int64(2), meta.RowCount)
	require.Len(t, meta.Columns, 3)
	assert.Equal(t, "INTEGER", meta.Columns[0].Type)
	assert.False(t, meta.Columns[0].Nullable)

	_, err = adp.GetTableMetadata(ctx, "nonexistent_table")
	assert.Error(t, err)
}

func TestAdapter_LoadCSV(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, adapter.Config{Path: ":memory:"})

	csvPath := filepath.Join(t.TempDir(), "test_data.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id,name,value\n1,alice,100.5\n2,bob,200.75\n3,charlie,300.25\n"), 0600))
	require.NoError(t, adp.LoadCSV(ctx, "test_data", csvPath))

	meta, err := adp.GetTableMetadata(ctx, "test_data")
	require.NoError(t, err)
	assert.Len(t, meta.Columns, 3)
	assert.Equal(t, int64(3), meta.RowCount)
}

func TestConnect_WithSettings(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, adapter.Config{
		Path:   ":memory:",
		Params: map[string]any{"settings": map[string]any{"threads": "2"}},
	})

	rows, err := adp.Query(ctx, "SELECT CAST(current_setting('threads') AS VARCHAR)")
	require.NoError(t, err)
	res, err := adapter.Collect(rows, 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "2", res.Rows[0][0])
}

func TestConnect_InvalidParams(t *testing.T) {
	adp := New(nil)
	err := adp.Connect(context.Background(), adapter.Config{
		Path:   ":memory:",
		Params: map[string]any{"extensions": map[string]any{"bad": 1}},
	})
	assert.Error(t, err)
}

func TestAdapter_RunsCompiledQuery(t *testing.T) {
	ctx := context.Background()
	adp := connect(t, adapter.Config{Path: ":memory:"})
	for _, stmt := range []string{
		`CREATE TABLE orders (order_id INTEGER, product_id INTEGER, revenue DOUBLE)`,
		`CREATE TABLE products (product_id INTEGER, category_id INTEGER)`,
		`CREATE TABLE category (category_id INTEGER, category_name VARCHAR)`,
		`INSERT INTO orders VALUES (1, 10, 5.0), (2, 10, 7.0), (3, 20, 11.0)`,
		`INSERT INTO products VALUES (10, 1), (20, 2)`,
		`INSERT INTO category VALUES (1, 'toys'), (2, 'games')`,
	} {
		require.NoError(t, adp.Exec(ctx, stmt))
	}

	f := testutil.NewOrderFixture()
	pq, err := processor.New(f.Env, processor.DefaultConfig()).ProcessQuery(f.Select(f.CategoryName, f.TotalRevenue))
	require.NoError(t, err)
	sql, err := adp.Dialect().RenderQuery(pq)
	require.NoError(t, err)

	rows, err := adp.Query(ctx, sql)
	require.NoError(t, err, sql)
	res, err := adapter.Collect(rows, 0)
	require.NoError(t, err)

	got := map[string]float64{}
	for _, row := range res.Maps() {
		name, _ := row[f.CategoryName.SafeAddress()].(string)
		total, _ := row[f.TotalRevenue.SafeAddress()].(float64)
		got[name] = total
	}
	assert.Equal(t, map[string]float64{"toys": 12, "games": 11}, got, sql)
}
