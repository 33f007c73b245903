package query

import (
	"fmt"
	"strings"
)

// PlanCost summarizes the work a plan implies for either backend
type PlanCost struct {
	Nodes          int
	Joins          int // single-valued branches a relational backend can LEFT JOIN
	ListStatements int // list branches fetched with their own statement
	References     int
	MaxDepth       int
}

// EstimateCost walks the plan tree and counts joins and extra statements
func (p *Plan) EstimateCost() PlanCost {
	var cost PlanCost
	for _, n := range p.Nodes() {
		cost.Nodes++
		cost.References += len(n.References)
		if n.Depth > cost.MaxDepth {
			cost.MaxDepth = n.Depth
		}
		for _, b := range n.Branches {
			if b.Field.IsList() {
				cost.ListStatements++
			} else {
				cost.Joins++
			}
		}
	}
	return cost
}

// Explain renders the plan as an indented tree
func (p *Plan) Explain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s (max depth %d)\n", p.Model(), p.MaxDepth)
	for _, c := range p.Conditions {
		fmt.Fprintf(&b, "  where %s %s", c.Field.Name, c.Operator)
		if len(c.Values) > 0 {
			vals := make([]string, len(c.Values))
			for i, v := range c.Values {
				vals[i] = v.String()
			}
			fmt.Fprintf(&b, " %s", strings.Join(vals, ", "))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "  order by %s %s", p.Sort.Field, p.Sort.Direction)
	if p.Offset > 0 {
		fmt.Fprintf(&b, " offset %d", p.Offset)
	}
	if p.Limit > 0 {
		fmt.Fprintf(&b, " limit %d", p.Limit)
	}
	b.WriteByte('\n')
	explainNode(&b, p.Root, "", 1)

	cost := p.EstimateCost()
	fmt.Fprintf(&b, "cost: %d nodes, %d joins, %d list statements, %d references\n",
		cost.Nodes, cost.Joins, cost.ListStatements, cost.References)
	return b.String()
}

func explainNode(b *strings.Builder, n *Node, via string, indent int) {
	pad := strings.Repeat("  ", indent)
	if via == "" {
		fmt.Fprintf(b, "%s%s [%s]", pad, n.Schema.Name, strings.Join(n.Fields, ", "))
	} else {
		fmt.Fprintf(b, "%s%s -> %s [%s]", pad, via, n.Schema.Name, strings.Join(n.Fields, ", "))
	}
	if len(n.Support) > 0 {
		fmt.Fprintf(b, " +support [%s]", strings.Join(n.Support, ", "))
	}
	if len(n.References) > 0 {
		fmt.Fprintf(b, " refs [%s]", strings.Join(n.References, ", "))
	}
	b.WriteByte('\n')
	for _, br := range n.Branches {
		explainNode(b, br.Node, br.Field.Name, indent+1)
	}
}
