// Package loader reads semantic model files (YAML) into an Environment and
// a set of named queries.
//
// Loading runs in two phases. The first registers every concept name of
// every file as a stub. The second resolves lineage arguments, keys,
// datasource columns and queries against the complete table, in
// dependency order, so definitions may reference each other across files
// and in any order.
package loader

import (
	"gopkg.in/yaml.v3"
)

// fileDef is the top level of a model file.
type fileDef struct {
	Namespace   string              `yaml:"namespace"`
	Concepts    []conceptDef        `yaml:"concepts"`
	Datasources []datasourceDef     `yaml:"datasources"`
	Merges      []mergeDef          `yaml:"merges"`
	Queries     map[string]queryDef `yaml:"queries"`
}

type conceptDef struct {
	Name        string      `yaml:"name"`
	Purpose     string      `yaml:"purpose"`
	Type        string      `yaml:"type"`
	Keys        []string    `yaml:"keys"`
	Modifiers   []string    `yaml:"modifiers"`
	Pseudonyms  []string    `yaml:"pseudonyms"`
	Description string      `yaml:"description"`
	Lineage     *lineageDef `yaml:"lineage"`
}

// lineageDef holds exactly one of a function call, a window or a filter.
type lineageDef struct {
	Function string      `yaml:"function"`
	Args     []yaml.Node `yaml:"args"`
	By       []string    `yaml:"by"`

	Window  string     `yaml:"window"`
	Over    []string   `yaml:"over"`
	OrderBy []orderDef `yaml:"order_by"`
	Index   int        `yaml:"index"`

	Filter string        `yaml:"filter"`
	Where  *conditionDef `yaml:"where"`

	Content string `yaml:"content"`
}

type datasourceDef struct {
	Name    string      `yaml:"name"`
	Address string      `yaml:"address"`
	Query   string      `yaml:"query"`
	Grain   []string    `yaml:"grain"`
	Columns []columnDef `yaml:"columns"`
	// Where restricts the rows the table exposes.
	Where *conditionDef `yaml:"where"`
}

type columnDef struct {
	Alias     string   `yaml:"alias"`
	Raw       string   `yaml:"raw"`
	Concept   string   `yaml:"concept"`
	Modifiers []string `yaml:"modifiers"`
}

type mergeDef struct {
	Source    string   `yaml:"source"`
	Target    string   `yaml:"target"`
	Modifiers []string `yaml:"modifiers"`
}

// conditionDef is a comparison {left, op, right} or a boolean group.
type conditionDef struct {
	Left  yaml.Node      `yaml:"left"`
	Op    string         `yaml:"op"`
	Right yaml.Node      `yaml:"right"`
	And   []conditionDef `yaml:"and"`
	Or    []conditionDef `yaml:"or"`
}

type orderDef struct {
	Concept string `yaml:"concept"`
	Order   string `yaml:"order"`
}

type queryDef struct {
	Select  []string      `yaml:"select"`
	Hidden  []string      `yaml:"hidden"`
	Where   *conditionDef `yaml:"where"`
	Having  *conditionDef `yaml:"having"`
	OrderBy []orderDef    `yaml:"order_by"`
	Limit   int           `yaml:"limit"`
	Persist *persistDef   `yaml:"persist"`
}

type persistDef struct {
	Name    string   `yaml:"name"`
	Address string   `yaml:"address"`
	Grain   []string `yaml:"grain"`
}

// positions records the source line of each definition. It is decoded
// from the same document as fileDef.
type positions struct {
	Concepts    []yaml.Node          `yaml:"concepts"`
	Datasources []yaml.Node          `yaml:"datasources"`
	Queries     map[string]yaml.Node `yaml:"queries"`
}

func lineOf(nodes []yaml.Node, i int) int {
	if i < len(nodes) {
		return nodes[i].Line
	}
	return 0
}
