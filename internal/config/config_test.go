package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/grainql/pkg/adapters/sqlite"
	_ "github.com/leapstack-labs/grainql/pkg/dialects/duckdb"
)

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadFromDir_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, found, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, filepath.Join(dir, DefaultModelsDir), cfg.ModelsDir)
	assert.True(t, cfg.Compile.InlineDatasources)
	assert.True(t, cfg.Compile.PredicatePushdown)
	assert.True(t, cfg.Compile.ValidateMissing)
	assert.False(t, cfg.Compile.HumanNames)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultDebounce, cfg.Server.Debounce)
	assert.Nil(t, cfg.Target)
}

func TestLoadFromDir_File(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		check func(t *testing.T, cfg *ProjectConfig)
	}{
		{
			name: "compile overrides",
			file: ConfigFileName,
			check: func(t *testing.T, cfg *ProjectConfig) {
				assert.False(t, cfg.Compile.PredicatePushdown)
				assert.True(t, cfg.Compile.HumanNames)
				assert.Equal(t, 12, cfg.Compile.MaxDepth)
				assert.Equal(t, "duckdb", cfg.Dialect)
				assert.Equal(t, 2*time.Second, cfg.Server.Debounce)
			},
		},
		{
			name: "alternate name",
			file: ConfigFileNameAlt,
			check: func(t *testing.T, cfg *ProjectConfig) {
				assert.Equal(t, "duckdb", cfg.Dialect)
			},
		},
	}
	body := `
models_dir: semantic
dialect: duckdb
compile:
  predicate_pushdown: false
  human_names: true
  max_depth: 12
server:
  debounce: 2s
target:
  type: sqlite
  database: shop.db
`
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.file, body)

			cfg, found, err := LoadFromDir(dir)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, filepath.Join(dir, "semantic"), cfg.ModelsDir)
			require.NotNil(t, cfg.Target)
			assert.Equal(t, "main", cfg.Target.Schema)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromDir_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, ConfigFileName, "compile: [unclosed")
	_, _, err := LoadFromDir(dir)
	require.Error(t, err)
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, ConfigFileName, "dialect: ansi\n")
	nested := filepath.Join(root, "models", "sales")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, root, FindProjectRoot(nested))
	assert.Equal(t, "", FindProjectRoot(t.TempDir()))
}

func TestTargetConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		target  TargetConfig
		wantErr string
	}{
		{"registered", TargetConfig{Type: "sqlite"}, ""},
		{"case insensitive", TargetConfig{Type: "SQLite"}, ""},
		{"missing", TargetConfig{}, "target type is required"},
		{"unknown", TargetConfig{Type: "oracle"}, "oracle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTargetConfig_ToAdapterConfig(t *testing.T) {
	pg := &TargetConfig{Type: "postgres", Host: "db", User: "app", Database: "shop"}
	pg.ApplyDefaults()
	cfg := pg.ToAdapterConfig()
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "public", cfg.Schema)
	assert.Equal(t, "app", cfg.Username)
	assert.Empty(t, cfg.Path)

	file := (&TargetConfig{Type: "DuckDB", Database: "warehouse.duckdb"}).ToAdapterConfig()
	assert.Equal(t, "duckdb", file.Type)
	assert.Equal(t, "warehouse.duckdb", file.Path)
}

func TestResolveDialect(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProjectConfig
		want string
	}{
		{"default", ProjectConfig{}, "ansi"},
		{"explicit", ProjectConfig{Dialect: "duckdb"}, "duckdb"},
		{"from target", ProjectConfig{Target: &TargetConfig{Type: "duckdb"}}, "duckdb"},
		{"target without dialect", ProjectConfig{Target: &TargetConfig{Type: "mystery"}}, "ansi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.cfg.ResolveDialect()
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name)
		})
	}

	_, err := (&ProjectConfig{Dialect: "oracle"}).ResolveDialect()
	assert.Error(t, err)
}

func TestCompileConfig_ProcessorConfig(t *testing.T) {
	pc := CompileConfig{HumanNames: true, PredicatePushdown: true, MaxDepth: 4}.ProcessorConfig()
	assert.True(t, pc.HumanNames)
	assert.True(t, pc.PredicatePushdown)
	assert.False(t, pc.InlineDatasources)
	assert.Equal(t, 4, pc.MaxDepth)
}
