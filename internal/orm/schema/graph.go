package schema

import (
	"fmt"
	"sort"
	"strings"
)

const (
	unvisited = iota
	inProgress
	finished
)

// inheritanceOrder returns the schema names ordered so every parent comes
// before its children. Parents that are not in the set are ignored.
func inheritanceOrder(schemas map[string]*Schema) ([]string, error) {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))
	var stack []string
	var cycles []string

	var walk func(name string)
	walk = func(name string) {
		state[name] = inProgress
		stack = append(stack, name)
		for _, parent := range schemas[name].Inherits {
			if _, ok := schemas[parent]; !ok {
				continue
			}
			switch state[parent] {
			case unvisited:
				walk(parent)
			case inProgress:
				cycles = append(cycles, describeCycle(stack, parent))
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = finished
		order = append(order, name)
	}

	for _, name := range names {
		if state[name] == unvisited {
			walk(name)
		}
	}
	if len(cycles) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrCyclicInheritance, strings.Join(cycles, "; "))
	}
	return order, nil
}

// describeCycle renders the stack suffix starting at head, closed back on head.
func describeCycle(stack []string, head string) string {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == head {
			return strings.Join(append(append([]string{}, stack[i:]...), head), " -> ")
		}
	}
	return head
}
