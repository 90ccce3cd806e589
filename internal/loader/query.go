package loader

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/grainql/pkg/core"
)

func buildQuery(env *core.Environment, ns, name string, def queryDef, q qualifier) (any, error) {
	if len(def.Select) == 0 {
		return nil, errors.New("select is empty")
	}
	items := make([]core.SelectItem, 0, len(def.Select)+len(def.Hidden))
	for _, ref := range def.Select {
		c, err := env.Concept(q(ref, ns))
		if err != nil {
			return nil, err
		}
		items = append(items, core.SelectItem{Content: c})
	}
	for _, ref := range def.Hidden {
		c, err := env.Concept(q(ref, ns))
		if err != nil {
			return nil, err
		}
		items = append(items, core.SelectItem{Content: c, Modifiers: []core.Modifier{core.ModifierHidden}})
	}

	var where, having *core.WhereClause
	if def.Where != nil {
		c, err := condition(env, ns, def.Where, q)
		if err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
		where = core.NewWhereClause(c)
	}
	if def.Having != nil {
		c, err := condition(env, ns, def.Having, q)
		if err != nil {
			return nil, fmt.Errorf("having: %w", err)
		}
		having = core.NewWhereClause(c)
	}
	order, err := orderItems(env, ns, def.OrderBy, q)
	if err != nil {
		return nil, fmt.Errorf("order_by: %w", err)
	}
	if def.Limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", def.Limit)
	}

	stmt := core.NewSelectStatement(items, where, having, order, def.Limit, env.Lookup)
	if def.Persist == nil {
		return stmt, nil
	}

	target := def.Persist.Name
	if target == "" {
		target = name
	}
	address := def.Persist.Address
	if address == "" {
		address = target
	}
	var grain *core.Grain
	if len(def.Persist.Grain) > 0 {
		addrs := make([]string, 0, len(def.Persist.Grain))
		for _, ref := range def.Persist.Grain {
			c, err := env.Concept(q(ref, ns))
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, c.Address())
		}
		g := core.NewGrain(addrs...)
		grain = &g
	}
	return &core.PersistStatement{
		Datasource: stmt.ToDatasource(ns, target, address, grain),
		Select:     stmt,
	}, nil
}

// ParseQuery compiles an ad-hoc query against a loaded model. The input is
// a query mapping in the model file format, or a bare comma separated list
// of concepts to select.
func (m *Model) ParseQuery(src string) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, errors.New("empty query")
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(src), &node); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid query: %v", err)}
	}
	root := &node
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	var def queryDef
	switch root.Kind {
	case yaml.MappingNode:
		if err := root.Decode(&def); err != nil {
			return nil, &ParseError{Message: fmt.Sprintf("invalid query: %v", err)}
		}
	default:
		for _, part := range strings.Split(src, ",") {
			if part = strings.TrimSpace(part); part != "" {
				def.Select = append(def.Select, part)
			}
		}
	}
	ns := m.Env.Namespace()
	stmt, err := buildQuery(m.Env, ns, "adhoc", def, m.qualify)
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

// qualify resolves references against the loaded environment.
func (m *Model) qualify(ref, ns string) string {
	if _, ok := m.Env.Lookup(ns + "." + ref); ok {
		return ns + "." + ref
	}
	return ref
}
