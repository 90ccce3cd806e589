package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// OrderModelYAML is the order/product/category model in the model file
// format, with two named queries.
const OrderModelYAML = `concepts:
  - {name: order_id, purpose: key, type: int}
  - {name: product_id, purpose: key, type: int}
  - {name: category_id, purpose: key, type: int}
  - {name: category_name, purpose: property, type: string, keys: [category_id]}
  - {name: revenue, purpose: property, type: float, keys: [order_id]}
  - {name: total_revenue, purpose: metric, type: float,
     lineage: {function: sum, args: [revenue]}}

datasources:
  - name: orders
    address: orders
    grain: [order_id]
    columns:
      - {alias: order_id, concept: order_id}
      - {alias: product_id, concept: product_id}
      - {alias: revenue, concept: revenue}
  - name: products
    address: products
    grain: [product_id]
    columns:
      - {alias: product_id, concept: product_id}
      - {alias: category_id, concept: category_id}
  - name: category
    address: category
    grain: [category_id]
    columns:
      - {alias: category_id, concept: category_id}
      - {alias: category_name, concept: category_name}

queries:
  revenue_by_category:
    select: [category_name, total_revenue]
    order_by: [{concept: total_revenue, order: desc}]
  toy_orders:
    select: [order_id, revenue]
    where: {left: category_name, op: "=", right: 'toys'}
    order_by: [{concept: order_id}]
`

// OrderSeedSQL creates and fills the order tables. Revenue by category is
// toys 14 and games 11.
var OrderSeedSQL = []string{
	`CREATE TABLE orders (order_id INTEGER, product_id INTEGER, revenue REAL)`,
	`CREATE TABLE products (product_id INTEGER, category_id INTEGER)`,
	`CREATE TABLE category (category_id INTEGER, category_name TEXT)`,
	`INSERT INTO orders VALUES (1, 10, 5.0), (2, 10, 7.0), (3, 20, 11.0), (4, 30, 2.0)`,
	`INSERT INTO products VALUES (10, 1), (20, 2), (30, 1)`,
	`INSERT INTO category VALUES (1, 'toys'), (2, 'games')`,
}

// Project is a temporary grainql project on disk.
type Project struct {
	Root      string
	ModelsDir string
	Database  string
	StatePath string
}

// NewOrderProject writes a project holding the order model, a grainql.yaml
// targeting a seeded SQLite database, and an empty state path.
func NewOrderProject(t testing.TB) *Project {
	t.Helper()
	root := t.TempDir()
	p := &Project{
		Root:      root,
		ModelsDir: filepath.Join(root, "models"),
		Database:  filepath.Join(root, "shop.db"),
		StatePath: filepath.Join(root, ".grainql", "state.db"),
	}
	WriteFile(t, filepath.Join(p.ModelsDir, "orders.yaml"), OrderModelYAML)
	WriteFile(t, filepath.Join(root, "grainql.yaml"), "models_dir: models\ntarget:\n  type: sqlite\n  database: "+p.Database+"\n")
	SeedSQLite(t, p.Database, OrderSeedSQL...)
	return p
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// SeedSQLite runs statements against the SQLite database at path.
func SeedSQLite(t testing.TB, path string, statements ...string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer db.Close()
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
}
