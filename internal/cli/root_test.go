package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clitest "github.com/leapstack-labs/grainql/internal/cli/testutil"
	"github.com/leapstack-labs/grainql/internal/testutil"
)

func run(t *testing.T, p *testutil.Project, args ...string) clitest.Result {
	t.Helper()
	args = append([]string{"--config", filepath.Join(p.Root, "grainql.yaml")}, args...)
	return clitest.Execute(t, NewRootCmd(), args...)
}

func TestCompileCommand(t *testing.T) {
	p := testutil.NewOrderProject(t)

	t.Run("json single query", func(t *testing.T) {
		res := run(t, p, "compile", "revenue_by_category", "-o", "json")
		require.NoError(t, res.Err, res.Stderr)
		var out map[string]any
		require.NoError(t, json.Unmarshal([]byte(res.Stdout), &out), res.Stdout)
		assert.Equal(t, "revenue_by_category", out["name"])
		assert.Equal(t, "sqlite", out["dialect"])
		assert.Contains(t, out["sql"], "SELECT")
		assert.NotEmpty(t, out["fingerprint"])
	})

	t.Run("markdown all queries", func(t *testing.T) {
		res := run(t, p, "compile", "-o", "markdown")
		require.NoError(t, res.Err, res.Stderr)
		clitest.AssertNoANSI(t, res.Stdout)
		clitest.AssertValidMarkdown(t, res.Stdout)
		assert.Contains(t, res.Stdout, "## revenue_by_category")
		assert.Contains(t, res.Stdout, "## toy_orders")
		assert.Contains(t, res.Stdout, "```sql")
	})

	t.Run("dialect flag overrides target", func(t *testing.T) {
		res := run(t, p, "compile", "revenue_by_category", "--dialect", "ansi", "-o", "json")
		require.NoError(t, res.Err, res.Stderr)
		assert.Contains(t, res.Stdout, `"dialect": "ansi"`)
	})

	t.Run("ad-hoc source", func(t *testing.T) {
		res := run(t, p, "compile", "--source", "category_name, total_revenue", "-o", "json")
		require.NoError(t, res.Err, res.Stderr)
		assert.Contains(t, res.Stdout, `"local.total_revenue"`)
	})

	t.Run("unknown query fails", func(t *testing.T) {
		res := run(t, p, "compile", "nope", "-o", "json")
		require.Error(t, res.Err)
		assert.Contains(t, res.Stdout, "unknown query")
	})

	t.Run("source with names is rejected", func(t *testing.T) {
		res := run(t, p, "compile", "toy_orders", "--source", "order_id")
		require.Error(t, res.Err)
		assert.Contains(t, res.Err.Error(), "--source")
	})
}

func TestRunCommand(t *testing.T) {
	p := testutil.NewOrderProject(t)

	res := run(t, p, "run", "revenue_by_category", "-o", "json")
	require.NoError(t, res.Err, res.Stderr)
	var out struct {
		Rows     []map[string]any `json:"rows"`
		RowCount int              `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Stdout), &out), res.Stdout)
	require.Equal(t, 2, out.RowCount)
	assert.Equal(t, "toys", out.Rows[0]["local_category_name"])

	res = run(t, p, "run", "toy_orders", "-o", "markdown", "--limit", "2")
	require.NoError(t, res.Err, res.Stderr)
	assert.Contains(t, res.Stdout, "| local_order_id |")
	assert.Contains(t, res.Stdout, "more available")

	res = run(t, p, "run")
	require.Error(t, res.Err)
}

func TestCatalogCommands(t *testing.T) {
	p := testutil.NewOrderProject(t)

	res := run(t, p, "concepts", "-o", "json")
	require.NoError(t, res.Err, res.Stderr)
	var concepts []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Stdout), &concepts))
	assert.Len(t, concepts, 6)

	res = run(t, p, "concepts", "--purpose", "metric", "-o", "markdown")
	require.NoError(t, res.Err, res.Stderr)
	assert.Contains(t, res.Stdout, "# Concepts (1)")
	assert.Contains(t, res.Stdout, "local.total_revenue")

	res = run(t, p, "datasources", "--columns", "-o", "markdown")
	require.NoError(t, res.Err, res.Stderr)
	assert.Contains(t, res.Stdout, "# Datasources (3)")
	assert.Contains(t, res.Stdout, "## orders")

	res = run(t, p, "datasources", "--check", "-o", "json")
	require.NoError(t, res.Err, res.Stderr)
	var checks []struct {
		Name     string `json:"name"`
		RowCount int64  `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Stdout), &checks))
	assert.Len(t, checks, 3)
}

func TestSeedCommand(t *testing.T) {
	p := testutil.NewOrderProject(t)
	csv := filepath.Join(p.Root, "category.csv")
	require.NoError(t, os.WriteFile(csv, []byte("category_id,category_name,extra\n1,toys,x\n"), 0o600))

	res := run(t, p, "seed", csv, "-o", "json")
	require.NoError(t, res.Err, res.Stderr)
	assert.JSONEq(t, `{"tables": ["category"]}`, res.Stdout)

	res = run(t, p, "datasources", "--check", "-o", "markdown")
	require.NoError(t, res.Err, res.Stderr)
	assert.Contains(t, res.Stdout, "# Datasource check (3)")

	res = run(t, p, "seed", "--table", "x", csv, csv)
	assert.ErrorContains(t, res.Err, "single file")
}

func TestHistoryCommand(t *testing.T) {
	p := testutil.NewOrderProject(t)

	res := run(t, p, "history", "-o", "json")
	require.NoError(t, res.Err, res.Stderr)
	assert.JSONEq(t, "[]", res.Stdout)

	require.NoError(t, run(t, p, "run", "toy_orders", "-o", "json").Err)

	res = run(t, p, "history", "-o", "json")
	require.NoError(t, res.Err, res.Stderr)
	var recs []struct {
		ID        string
		QueryName string
		Status    string
	}
	require.NoError(t, json.Unmarshal([]byte(res.Stdout), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "toy_orders", recs[0].QueryName)
	assert.Equal(t, "success", recs[0].Status)

	res = run(t, p, "history", "show", recs[0].ID[:8], "-o", "markdown")
	require.NoError(t, res.Err, res.Stderr)
	assert.Contains(t, res.Stdout, "## Executions")
	assert.Contains(t, res.Stdout, "```sql")

	res = run(t, p, "history", "stats", "-o", "json")
	require.NoError(t, res.Err, res.Stderr)
	assert.Contains(t, res.Stdout, "toy_orders")

	res = run(t, p, "history", "prune", "--keep", "0", "-o", "json")
	require.NoError(t, res.Err, res.Stderr)
	assert.JSONEq(t, `{"deleted": 1}`, res.Stdout)

	res = run(t, p, "history", "--status", "bogus")
	require.Error(t, res.Err)
}

func TestRootCommand(t *testing.T) {
	t.Run("version needs no config", func(t *testing.T) {
		res := clitest.Execute(t, NewRootCmd(), "version")
		require.NoError(t, res.Err)
		assert.Contains(t, res.Stdout, "grainql v"+Version)
	})

	t.Run("completion", func(t *testing.T) {
		res := clitest.Execute(t, NewRootCmd(), "completion", "bash")
		require.NoError(t, res.Err)
		assert.Contains(t, res.Stdout, "grainql")
	})

	t.Run("invalid output format", func(t *testing.T) {
		p := testutil.NewOrderProject(t)
		res := run(t, p, "concepts", "-o", "yaml")
		require.Error(t, res.Err)
		assert.Contains(t, res.Err.Error(), "invalid output format")
	})

	t.Run("missing models dir", func(t *testing.T) {
		p := testutil.NewOrderProject(t)
		res := run(t, p, "concepts", "--models-dir", filepath.Join(p.Root, "absent"))
		require.Error(t, res.Err)
		assert.Contains(t, res.Err.Error(), "models directory does not exist")
	})

	t.Run("subcommands registered", func(t *testing.T) {
		root := NewRootCmd()
		var names []string
		for _, c := range root.Commands() {
			names = append(names, c.Name())
		}
		for _, want := range []string{"compile", "explain", "run", "concepts", "datasources", "repl", "watch", "serve", "history", "seed", "version", "completion"} {
			assert.Contains(t, names, want)
		}
		assert.NotNil(t, root.PersistentFlags().Lookup("target"))
		assert.True(t, strings.Contains(root.Long, "semantic model"))
	})
}
