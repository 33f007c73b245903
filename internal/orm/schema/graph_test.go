package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestInheritanceOrder(t *testing.T) {
	schemas := map[string]*Schema{
		"post":      {Name: "post", Inherits: []string{"content", "auditable"}},
		"content":   {Name: "content", Inherits: []string{"base"}},
		"auditable": {Name: "auditable"},
		"base":      {Name: "base", Inherits: []string{"external"}},
	}

	order, err := inheritanceOrder(schemas)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	if len(pos) != 4 {
		t.Fatalf("expected 4 names, got %v", order)
	}
	for child, s := range schemas {
		for _, p := range s.Inherits {
			if _, ok := schemas[p]; ok && pos[p] > pos[child] {
				t.Errorf("%s must come before %s in %v", p, child, order)
			}
		}
	}
}

func TestInheritanceOrderReportsCycle(t *testing.T) {
	schemas := map[string]*Schema{
		"a": {Name: "a", Inherits: []string{"b"}},
		"b": {Name: "b", Inherits: []string{"c"}},
		"c": {Name: "c", Inherits: []string{"a"}},
	}

	_, err := inheritanceOrder(schemas)
	if !errors.Is(err, ErrCyclicInheritance) {
		t.Fatalf("expected ErrCyclicInheritance, got %v", err)
	}
	if !strings.Contains(err.Error(), "a -> b -> c -> a") {
		t.Errorf("cycle path missing from %q", err.Error())
	}
}
