package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockBase(t *testing.T) (*BaseSQLAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &BaseSQLAdapter{DB: db}, mock
}

func TestBaseSQLAdapter_NotConnected(t *testing.T) {
	base := &BaseSQLAdapter{}
	ctx := context.Background()

	assert.False(t, base.IsConnected())
	assert.NoError(t, base.Close())
	assert.ErrorIs(t, base.Exec(ctx, "CREATE TABLE t AS SELECT 1"), ErrNotConnected)
	_, err := base.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = base.GetTableMetadataCommon(ctx, "orders", "public", func(int) string { return "?" })
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestBaseSQLAdapter_ExecPersist(t *testing.T) {
	base, mock := newMockBase(t)
	assert.True(t, base.IsConnected())

	stmt := `CREATE TABLE revenue AS SELECT "local_category_name" FROM cte`
	mock.ExpectExec(`CREATE TABLE revenue AS`).WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, base.Exec(context.Background(), stmt))

	mock.ExpectExec(`CREATE TABLE revenue AS`).WillReturnError(errors.New("table exists"))
	err := base.Exec(context.Background(), stmt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute SQL")
	assert.Contains(t, err.Error(), "table exists")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseSQLAdapter_QueryCollect(t *testing.T) {
	base, mock := newMockBase(t)

	mock.ExpectQuery(`WITH`).WillReturnRows(
		sqlmock.NewRows([]string{"local_category_name", "local_total_revenue"}).
			AddRow("toys", 14.0).
			AddRow("games", 11.0),
	)
	rows, err := base.Query(context.Background(), "WITH cte AS (SELECT 1) SELECT * FROM cte")
	require.NoError(t, err)
	res, err := Collect(rows, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"local_category_name", "local_total_revenue"}, res.Columns)
	assert.Len(t, res.Rows, 2)
	assert.False(t, res.Truncated)

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("no such table: orders"))
	_, err = base.Query(context.Background(), "SELECT * FROM orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute query")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseSQLAdapter_MetadataMissingTable(t *testing.T) {
	base, mock := newMockBase(t)

	mock.ExpectQuery(`information_schema.columns`).
		WithArgs("public", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "ordinal_position"}))
	_, err := base.GetTableMetadataCommon(context.Background(), "missing", "public", func(n int) string {
		return "$" + string(rune('0'+n))
	})
	assert.ErrorContains(t, err, "table missing not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseSQLAdapter_Close(t *testing.T) {
	base, mock := newMockBase(t)
	mock.ExpectClose()
	require.NoError(t, base.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
