package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		limit     int
		wantRows  [][]any
		truncated bool
	}{
		{
			name:  "all rows",
			limit: 0,
			wantRows: [][]any{
				{int64(1), "toys", "2024-03-01T12:00:00Z"},
				{int64(2), "games", nil},
			},
		},
		{
			name:      "limited",
			limit:     1,
			wantRows:  [][]any{{int64(1), "toys", "2024-03-01T12:00:00Z"}},
			truncated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()

			mock.ExpectQuery("SELECT").WillReturnRows(
				sqlmock.NewRows([]string{"id", "name", "at"}).
					AddRow(int64(1), []byte("toys"), ts).
					AddRow(int64(2), "games", nil))

			base := &BaseSQLAdapter{DB: db}
			rows, err := base.Query(context.Background(), "SELECT id, name, at FROM category")
			require.NoError(t, err)

			res, err := Collect(rows, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, []string{"id", "name", "at"}, res.Columns)
			assert.Equal(t, tt.wantRows, res.Rows)
			assert.Equal(t, tt.truncated, res.Truncated)
		})
	}
}

func TestResult_Maps(t *testing.T) {
	res := &Result{Columns: []string{"a", "b"}, Rows: [][]any{{1, "x"}}}
	assert.Equal(t, []map[string]any{{"a": 1, "b": "x"}}, res.Maps())
}

func TestGetTableMetadataCommon(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("information_schema.columns").
		WithArgs("main", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}).
			AddRow("order_id", "INTEGER", "NO", 1).
			AddRow("revenue", "DOUBLE", "YES", 2))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

	base := &BaseSQLAdapter{DB: db}
	meta, err := base.GetTableMetadataCommon(context.Background(), "orders", "main", func(int) string { return "?" })
	require.NoError(t, err)
	assert.Equal(t, "main", meta.Schema)
	assert.Equal(t, int64(42), meta.RowCount)
	require.Len(t, meta.Columns, 2)
	assert.True(t, meta.Columns[1].Nullable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseQualifiedName(t *testing.T) {
	schema, name := ParseQualifiedName("analytics.orders", "public")
	assert.Equal(t, "analytics", schema)
	assert.Equal(t, "orders", name)

	schema, name = ParseQualifiedName("orders", "public")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "orders", name)
}
