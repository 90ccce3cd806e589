package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/grainql/pkg/adapter"
)

func TestBuildPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		config   adapter.Config
		expected string
	}{
		{
			name: "basic connection",
			config: adapter.Config{
				Host:     "localhost",
				Port:     5432,
				Database: "testdb",
				Username: "user",
				Password: "pass",
			},
			expected: "host=localhost port=5432 dbname=testdb sslmode=disable user=user password=pass",
		},
		{
			name: "with custom sslmode",
			config: adapter.Config{
				Host:     "prod.example.com",
				Database: "proddb",
				Username: "admin",
				Options:  map[string]string{"sslmode": "require"},
			},
			expected: "host=prod.example.com port=5432 dbname=proddb sslmode=require user=admin",
		},
		{
			name:     "defaults",
			config:   adapter.Config{Database: "mydb"},
			expected: "host=localhost port=5432 dbname=mydb sslmode=disable",
		},
		{
			name:     "schema",
			config:   adapter.Config{Host: "db", Port: 5433, Database: "analytics", Schema: "marts"},
			expected: "host=db port=5433 dbname=analytics sslmode=disable search_path=marts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildPostgresDSN(tt.config))
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"name", "name"},
		{"my column", "my_column"},
		{"user", `"user"`},
		{"order", `"order"`},
		{"window", `"window"`},
		{"my-field", "my_field"},
		{"total(usd)", `"total(usd)"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeIdentifier(tt.input))
		})
	}
}

func TestTableIdentifier(t *testing.T) {
	assert.Equal(t, `"public"."orders"`, tableIdentifier("public.orders"))
	assert.Equal(t, `"orders"`, tableIdentifier("orders"))
}

func TestAdapter_NotConnected(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)

	assert.False(t, adp.IsConnected())
	assert.ErrorIs(t, adp.Exec(ctx, "SELECT 1"), adapter.ErrNotConnected)
	_, err := adp.GetTableMetadata(ctx, "users")
	assert.ErrorIs(t, err, adapter.ErrNotConnected)
	assert.ErrorIs(t, adp.LoadCSV(ctx, "test", "/tmp/test.csv"), adapter.ErrNotConnected)
	assert.NoError(t, adp.Close())
}

func TestAdapter_GetTableMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`table_schema = \$1 AND table_name = \$2`).
		WithArgs("marts", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}).
			AddRow("order_id", "integer", "NO", 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	adp := New(nil)
	adp.DB = db
	adp.Cfg = adapter.Config{Schema: "marts"}

	meta, err := adp.GetTableMetadata(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, "marts", meta.Schema)
	assert.Equal(t, int64(3), meta.RowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_Registry(t *testing.T) {
	factory, ok := adapter.Get("postgres")
	require.True(t, ok)

	pg, ok := factory(nil).(*Adapter)
	require.True(t, ok)
	assert.Equal(t, "postgres", pg.Dialect().Name)
}
