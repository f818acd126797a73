package store

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// itemWrites collects the writes that land on one record. A transaction may
// touch each item only once, so all nested writes share one UpdateItem.
type itemWrites struct {
	table  string
	id     string
	put    map[string]types.AttributeValue
	del    bool
	nested []nestedWrite
}

type nestedWrite struct {
	attr  []string
	value types.AttributeValue
	del   bool
}

func (g *itemWrites) hasSets() bool {
	for _, w := range g.nested {
		if !w.del {
			return true
		}
	}
	return false
}

func (g *itemWrites) deleteOnly() bool {
	return g.put == nil && !g.del && len(g.nested) > 0 && !g.hasSets()
}

// group validates writes and merges them per record, preserving first-seen order.
// A later write to the same location replaces an earlier one.
func (s *Store) group(writes []Write) ([]*itemWrites, error) {
	index := make(map[string]*itemWrites)
	var groups []*itemWrites

	for _, w := range writes {
		if err := w.Path.Validate(); err != nil {
			return nil, err
		}
		table, err := s.table(w.Path.Collection)
		if err != nil {
			return nil, err
		}

		key := table + "/" + w.Path.ID
		g, ok := index[key]
		if !ok {
			g = &itemWrites{table: table, id: w.Path.ID}
			index[key] = g
			groups = append(groups, g)
		}

		if w.Path.IsRecord() {
			if len(g.nested) > 0 {
				return nil, fmt.Errorf("%w: %s", ErrConflictingWrites, w.Path)
			}
			if w.Delete {
				g.put, g.del = nil, true
				continue
			}
			item, err := MarshalRecord(w.Path.ID, w.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", w.Path, err)
			}
			g.put, g.del = item, false
			continue
		}

		if g.put != nil || g.del {
			return nil, fmt.Errorf("%w: %s", ErrConflictingWrites, w.Path)
		}

		nw := nestedWrite{attr: w.Path.Attr, del: w.Delete}
		if !w.Delete {
			nw.value, err = MarshalValue(w.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", w.Path, err)
			}
		}
		if err := g.addNested(nw); err != nil {
			return nil, fmt.Errorf("%w: %s", err, w.Path)
		}
	}
	return groups, nil
}

func (g *itemWrites) addNested(nw nestedWrite) error {
	for i, existing := range g.nested {
		if equalAttr(existing.attr, nw.attr) {
			g.nested[i] = nw
			return nil
		}
		if isPrefix(existing.attr, nw.attr) || isPrefix(nw.attr, existing.attr) {
			return ErrConflictingWrites
		}
	}
	g.nested = append(g.nested, nw)
	return nil
}

func equalAttr(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isPrefix(prefix, attr []string) bool {
	if len(prefix) > len(attr) {
		return false
	}
	return equalAttr(prefix, attr[:len(prefix)])
}

// exprBuilder assigns expression placeholders to attribute names and values.
type exprBuilder struct {
	names   map[string]string
	aliases map[string]string
	values  map[string]types.AttributeValue
}

func (e *exprBuilder) name(n string) string {
	if e.aliases == nil {
		e.aliases = make(map[string]string)
		e.names = make(map[string]string)
	}
	if p, ok := e.aliases[n]; ok {
		return p
	}
	p := fmt.Sprintf("#n%d", len(e.aliases))
	e.aliases[n] = p
	e.names[p] = n
	return p
}

func (e *exprBuilder) path(attr []string) string {
	parts := make([]string, len(attr))
	for i, a := range attr {
		parts[i] = e.name(a)
	}
	return strings.Join(parts, ".")
}

func (e *exprBuilder) value(v types.AttributeValue) string {
	if e.values == nil {
		e.values = make(map[string]types.AttributeValue)
	}
	p := fmt.Sprintf(":v%d", len(e.values))
	e.values[p] = v
	return p
}

type updateParts struct {
	expr   string
	cond   *string
	names  map[string]string
	values map[string]types.AttributeValue
}

// update renders the nested writes of g as one update expression. Delete-only
// updates are conditioned on the record and every parent map existing, so that
// cleaning up under a deleted owner cannot recreate it.
func (g *itemWrites) update() updateParts {
	var ex exprBuilder
	var sets, removes []string

	for _, w := range g.nested {
		if w.del {
			removes = append(removes, ex.path(w.attr))
			continue
		}
		sets = append(sets, ex.path(w.attr)+" = "+ex.value(w.value))
	}

	var clauses []string
	if len(sets) > 0 {
		clauses = append(clauses, "SET "+strings.Join(sets, ", "))
	}
	if len(removes) > 0 {
		clauses = append(clauses, "REMOVE "+strings.Join(removes, ", "))
	}

	u := updateParts{expr: strings.Join(clauses, " ")}
	if g.deleteOnly() {
		conds := []string{"attribute_exists(" + ex.name("id") + ")"}
		seen := make(map[string]bool)
		for _, w := range g.nested {
			if len(w.attr) < 2 {
				continue
			}
			parent := ex.path(w.attr[:len(w.attr)-1])
			if !seen[parent] {
				seen[parent] = true
				conds = append(conds, "attribute_exists("+parent+")")
			}
		}
		u.cond = aws.String(strings.Join(conds, " AND "))
	}
	u.names = ex.names
	u.values = ex.values
	return u
}

// transactItems renders one transaction item per record.
func transactItems(groups []*itemWrites) []types.TransactWriteItem {
	items := make([]types.TransactWriteItem, 0, len(groups))
	for _, g := range groups {
		switch {
		case g.put != nil:
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(g.table),
					Item:      g.put,
				},
			})
		case g.del:
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(g.table),
					Key:       itemKey(g.id),
				},
			})
		default:
			u := g.update()
			items = append(items, types.TransactWriteItem{
				Update: &types.Update{
					TableName:                 aws.String(g.table),
					Key:                       itemKey(g.id),
					UpdateExpression:          aws.String(u.expr),
					ConditionExpression:       u.cond,
					ExpressionAttributeNames:  u.names,
					ExpressionAttributeValues: u.values,
				},
			})
		}
	}
	return items
}
