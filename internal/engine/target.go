package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// DatasourceCheck compares one datasource binding with the target table.
type DatasourceCheck struct {
	Name     string   `json:"name"`
	Table    string   `json:"table"`
	RowCount int64    `json:"row_count"`
	Missing  []string `json:"missing_columns,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// OK reports whether the table exists with every bound column.
func (c DatasourceCheck) OK() bool {
	return c.Error == "" && len(c.Missing) == 0
}

// CheckDatasources reads the target's metadata for every table bound
// datasource and lists bound columns the table lacks. Query addressed
// datasources and computed columns are not checked.
func (e *Engine) CheckDatasources(ctx context.Context) ([]DatasourceCheck, error) {
	m, err := e.Model()
	if err != nil {
		return nil, err
	}
	db, err := e.ensureDBConnected(ctx)
	if err != nil {
		return nil, err
	}

	var out []DatasourceCheck
	for _, ds := range m.Env.Datasources() {
		if ds.Address.IsQuery {
			continue
		}
		check := DatasourceCheck{Name: ds.Label(), Table: ds.Address.Location}
		meta, err := db.GetTableMetadata(ctx, ds.Address.Location)
		if err != nil {
			check.Error = err.Error()
			out = append(out, check)
			continue
		}
		check.RowCount = meta.RowCount

		present := make(map[string]bool, len(meta.Columns))
		for _, col := range meta.Columns {
			present[strings.ToLower(col.Name)] = true
		}
		for _, col := range ds.Columns {
			if col.RawExpr != "" {
				continue
			}
			if !present[strings.ToLower(col.Alias)] {
				check.Missing = append(check.Missing, col.Alias)
			}
		}
		out = append(out, check)
	}
	e.logger.Debug("checked datasources", "count", len(out))
	return out, nil
}

// Seed loads a CSV file into table on the target, replacing its rows.
// An empty table name uses the file name without extension.
func (e *Engine) Seed(ctx context.Context, table, path string) (string, error) {
	if table == "" {
		table = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	db, err := e.ensureDBConnected(ctx)
	if err != nil {
		return "", err
	}
	if err := db.LoadCSV(ctx, table, path); err != nil {
		return "", fmt.Errorf("failed to seed %s: %w", table, err)
	}
	e.logger.Info("seeded table", "table", table, "file", path)
	return table, nil
}
