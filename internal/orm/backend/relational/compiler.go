package relational

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// column is one selected column of a join node
type column struct {
	field *schema.FieldDescriptor
	name  string
}

// joinNode is a plan node reachable from the statement's root through
// single-valued branches; all of them are loaded by one SELECT.
type joinNode struct {
	node    *query.Node
	alias   string
	via     *schema.FieldDescriptor
	parent  *joinNode
	columns []column
	// offset of the node's id column in the result row
	offset int
}

// selectStmt is a compiled SELECT over a join tree
type selectStmt struct {
	sql   string
	args  []interface{}
	nodes []*joinNode
	width int
}

// compiler accumulates bind arguments while rendering SQL
type compiler struct {
	d    Dialect
	args []interface{}
}

func newCompiler(d Dialect) *compiler {
	return &compiler{d: d}
}

// bind adds an argument and returns its placeholder
func (c *compiler) bind(v interface{}) string {
	c.args = append(c.args, v)
	return c.d.Placeholder(len(c.args))
}

// joinTree lays out the nodes joined into one statement, root first
func joinTree(root *query.Node) []*joinNode {
	nodes := []*joinNode{{node: root, alias: "t0"}}
	for i := 0; i < len(nodes); i++ {
		cur := nodes[i]
		for _, f := range cur.node.FetchFields() {
			fd, ok := cur.node.Schema.Field(f)
			if !ok || isLinked(fd) {
				continue
			}
			cur.columns = append(cur.columns, column{field: fd, name: columnName(fd)})
		}
		for _, b := range cur.node.Branches {
			if b.Field.IsList() {
				continue
			}
			nodes = append(nodes, &joinNode{
				node:   b.Node,
				alias:  fmt.Sprintf("t%d", len(nodes)),
				via:    b.Field,
				parent: cur,
			})
		}
	}
	return nodes
}

// selectFrom renders the column list and FROM/JOIN clause of a join tree
func selectFrom(nodes []*joinNode) (string, int) {
	var cols []string
	width := 0
	for _, n := range nodes {
		n.offset = width
		cols = append(cols,
			fmt.Sprintf("%s.%s", n.alias, quote(colID)),
			fmt.Sprintf("%s.%s", n.alias, quote(colObjectID)))
		for _, c := range n.columns {
			cols = append(cols, fmt.Sprintf("%s.%s", n.alias, quote(c.name)))
		}
		width += 2 + len(n.columns)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s %s", strings.Join(cols, ", "), quote(tableName(nodes[0].node.Schema.Name)), nodes[0].alias)
	for _, n := range nodes[1:] {
		fmt.Fprintf(&b, " LEFT JOIN %s %s ON %s.%s = %s.%s",
			quote(tableName(n.node.Schema.Name)), n.alias,
			n.alias, quote(colID),
			n.parent.alias, quote(columnName(n.via)))
	}
	return b.String(), width
}

// compileSelect compiles a plan into one SELECT; limit overrides the plan's when positive
func compileSelect(d Dialect, plan *query.Plan, limit int) (*selectStmt, error) {
	c := newCompiler(d)
	nodes := joinTree(plan.Root)
	head, width := selectFrom(nodes)

	where, err := c.where(plan.Conditions)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = plan.Limit
	}

	parts := []string{head}
	if where != "" {
		parts = append(parts, "WHERE "+where)
	}
	parts = append(parts, orderBy(plan.Root.Schema, plan.Sort))
	if l := d.Limit(limit, plan.Offset); l != "" {
		parts = append(parts, l)
	}

	return &selectStmt{sql: strings.Join(parts, " "), args: c.args, nodes: nodes, width: width}, nil
}

// compileFetch compiles the SELECT loading one node's records by id
func compileFetch(d Dialect, node *query.Node, ids []int64) *selectStmt {
	c := newCompiler(d)
	nodes := joinTree(node)
	head, width := selectFrom(nodes)

	sql := fmt.Sprintf("%s WHERE t0.%s IN (%s) ORDER BY t0.%s", head, quote(colID), c.bindIDs(ids), quote(colID))
	return &selectStmt{sql: sql, args: c.args, nodes: nodes, width: width}
}

// compileIDs compiles the SELECT returning the ids a plan matches
func compileIDs(d Dialect, plan *query.Plan) (string, []interface{}, error) {
	c := newCompiler(d)
	where, err := c.where(plan.Conditions)
	if err != nil {
		return "", nil, err
	}

	parts := []string{fmt.Sprintf("SELECT t0.%s FROM %s t0", quote(colID), quote(tableName(plan.Model())))}
	if where != "" {
		parts = append(parts, "WHERE "+where)
	}
	parts = append(parts, orderBy(plan.Root.Schema, plan.Sort))
	if l := d.Limit(plan.Limit, plan.Offset); l != "" {
		parts = append(parts, l)
	}
	return strings.Join(parts, " "), c.args, nil
}

// compileLinks compiles the SELECT loading the items of one list<model> field
func compileLinks(d Dialect, model string, f *schema.FieldDescriptor, owners []int64) (string, []interface{}) {
	c := newCompiler(d)
	sql := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s) ORDER BY %s, %s",
		quote(colOwner), quote(colTarget), quote(linkTable(model, f)),
		quote(colOwner), c.bindIDs(owners),
		quote(colOwner), quote(colPosition))
	return sql, c.args
}

func (c *compiler) bindIDs(ids []int64) string {
	phs := make([]string, len(ids))
	for i, id := range ids {
		phs[i] = c.bind(id)
	}
	return strings.Join(phs, ", ")
}

// orderBy sorts nulls first ascending like the in-memory comparison, with
// the id as tie breaker in the same direction
func orderBy(rs *schema.ResolvedSchema, key query.SortKey) string {
	dir := "ASC"
	nulls := " NULLS FIRST"
	if key.Direction == query.Desc {
		dir = "DESC"
		nulls = " NULLS LAST"
	}
	if key.Field == "" || key.Field == schema.FieldID {
		return fmt.Sprintf("ORDER BY t0.%s %s", quote(colID), dir)
	}
	col := schema.ToSnakeCase(key.Field)
	if f, ok := rs.Field(key.Field); ok {
		col = columnName(f)
	}
	return fmt.Sprintf("ORDER BY t0.%s %s%s, t0.%s %s", quote(col), dir, nulls, quote(colID), dir)
}

// where renders the conditions joined with AND
func (c *compiler) where(conds []query.Condition) (string, error) {
	var parts []string
	for _, cond := range conds {
		part, err := c.condition(cond)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " AND "), nil
}

func (c *compiler) condition(cond query.Condition) (string, error) {
	col := "t0." + quote(columnName(cond.Field))

	args := make([]interface{}, len(cond.Values))
	for i, v := range cond.Values {
		arg, err := encodeValue(c.d, cond.Field, v)
		if err != nil {
			return "", err
		}
		args[i] = arg
	}

	switch cond.Operator {
	case query.OpEqual:
		return fmt.Sprintf("%s = %s", col, c.bind(args[0])), nil
	case query.OpNotEqual:
		return fmt.Sprintf("%s <> %s", col, c.bind(args[0])), nil
	case query.OpGreaterThan:
		return fmt.Sprintf("%s > %s", col, c.bind(args[0])), nil
	case query.OpGreaterThanOrEqual:
		return fmt.Sprintf("%s >= %s", col, c.bind(args[0])), nil
	case query.OpLessThan:
		return fmt.Sprintf("%s < %s", col, c.bind(args[0])), nil
	case query.OpLessThanOrEqual:
		return fmt.Sprintf("%s <= %s", col, c.bind(args[0])), nil
	case query.OpIn, query.OpNotIn:
		if len(args) == 0 {
			// an empty set matches nothing, and its negation every non-null value
			if cond.Operator == query.OpIn {
				return "1 = 0", nil
			}
			return fmt.Sprintf("%s IS NOT NULL", col), nil
		}
		phs := make([]string, len(args))
		for i, a := range args {
			phs[i] = c.bind(a)
		}
		op := "IN"
		if cond.Operator == query.OpNotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(phs, ", ")), nil
	case query.OpLike:
		return fmt.Sprintf("%s LIKE %s", col, c.bind(args[0])), nil
	case query.OpILike:
		return c.d.ILike(col, c.bind(args[0])), nil
	case query.OpIsNull:
		return fmt.Sprintf("%s IS NULL", col), nil
	case query.OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", col), nil
	case query.OpBetween:
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, c.bind(args[0]), c.bind(args[1])), nil
	default:
		return "", fmt.Errorf("unsupported operator %s", cond.Operator)
	}
}

// insertSQL renders the INSERT of a record's column values
func insertSQL(d Dialect, rec *record.Record) (string, []interface{}, error) {
	c := newCompiler(d)
	cols := []string{quote(colObjectID)}
	phs := []string{c.bind(rec.ObjectID())}

	var err error
	rec.Range(func(f *schema.FieldDescriptor, v record.Value) bool {
		if isLinked(f) {
			return true
		}
		var arg interface{}
		arg, err = encodeValue(d, f, v)
		if err != nil {
			return false
		}
		cols = append(cols, quote(columnName(f)))
		phs = append(phs, c.bind(arg))
		return true
	})
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quote(tableName(rec.Model())), strings.Join(cols, ", "), strings.Join(phs, ", "), quote(colID))
	return sql, c.args, nil
}

// updateSQL renders the UPDATE of a record's populated column values.
// It returns an empty statement when only link-table fields changed.
func updateSQL(d Dialect, rec *record.Record) (string, []interface{}, error) {
	c := newCompiler(d)
	var sets []string

	var err error
	rec.Range(func(f *schema.FieldDescriptor, v record.Value) bool {
		if isLinked(f) {
			return true
		}
		var arg interface{}
		arg, err = encodeValue(d, f, v)
		if err != nil {
			return false
		}
		sets = append(sets, fmt.Sprintf("%s = %s", quote(columnName(f)), c.bind(arg)))
		return true
	})
	if err != nil || len(sets) == 0 {
		return "", nil, err
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quote(tableName(rec.Model())), strings.Join(sets, ", "), quote(colID), c.bind(rec.ID()))
	return sql, c.args, nil
}
