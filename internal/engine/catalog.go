package engine

import (
	"strings"

	"github.com/leapstack-labs/grainql/pkg/core"
)

// ConceptInfo is a flat description of a concept.
type ConceptInfo struct {
	Address    string   `json:"address"`
	Datatype   string   `json:"datatype"`
	Purpose    string   `json:"purpose"`
	Derivation string   `json:"derivation"`
	Grain      []string `json:"grain,omitempty"`
	Keys       []string `json:"keys,omitempty"`
	Lineage    string   `json:"lineage,omitempty"`
	Pseudonyms []string `json:"pseudonyms,omitempty"`
	Derived    bool     `json:"derived,omitempty"`
}

// ColumnInfo is one bound column of a datasource.
type ColumnInfo struct {
	Alias     string   `json:"alias,omitempty"`
	Raw       string   `json:"raw,omitempty"`
	Concept   string   `json:"concept"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// DatasourceInfo is a flat description of a datasource.
type DatasourceInfo struct {
	Name    string       `json:"name"`
	Address string       `json:"address"`
	IsQuery bool         `json:"is_query,omitempty"`
	Grain   []string     `json:"grain,omitempty"`
	Columns []ColumnInfo `json:"columns"`
	Where   string       `json:"where,omitempty"`
}

// ConceptFilter narrows Concepts.
type ConceptFilter struct {
	Namespace string
	Purpose   string
	// Derived includes auto generated concepts such as date parts.
	Derived bool
}

// Concepts describes the concepts of the active model.
func (e *Engine) Concepts(filter ConceptFilter) ([]ConceptInfo, error) {
	m, err := e.Model()
	if err != nil {
		return nil, err
	}
	var out []ConceptInfo
	for _, c := range m.Env.Concepts() {
		if c.Namespace == core.InternalNamespace {
			continue
		}
		derived := m.Env.IsAutoDerived(c.Address())
		if derived && !filter.Derived {
			continue
		}
		if filter.Namespace != "" && c.Namespace != filter.Namespace {
			continue
		}
		if filter.Purpose != "" && !strings.EqualFold(string(c.Purpose), filter.Purpose) {
			continue
		}
		info := ConceptInfo{
			Address:    c.Address(),
			Datatype:   c.Datatype.String(),
			Purpose:    string(c.Purpose),
			Derivation: string(c.Derivation()),
			Grain:      c.Grain.Components(),
			Keys:       c.Keys,
			Pseudonyms: c.Pseudonyms,
			Derived:    derived,
		}
		if c.Lineage != nil {
			info.Lineage = c.Lineage.String()
		}
		out = append(out, info)
	}
	return out, nil
}

// Datasources describes the datasources of the active model.
func (e *Engine) Datasources() ([]DatasourceInfo, error) {
	m, err := e.Model()
	if err != nil {
		return nil, err
	}
	dss := m.Env.Datasources()
	out := make([]DatasourceInfo, 0, len(dss))
	for _, ds := range dss {
		info := DatasourceInfo{
			Name:    ds.Label(),
			Address: ds.Address.Location,
			IsQuery: ds.Address.IsQuery,
			Grain:   ds.Grain.Components(),
		}
		if ds.Where != nil {
			info.Where = ds.Where.String()
		}
		for _, col := range ds.Columns {
			ci := ColumnInfo{Alias: col.Alias, Raw: col.RawExpr, Concept: col.Concept.Address()}
			for _, mod := range col.Modifiers {
				ci.Modifiers = append(ci.Modifiers, string(mod))
			}
			info.Columns = append(info.Columns, ci)
		}
		out = append(out, info)
	}
	return out, nil
}
