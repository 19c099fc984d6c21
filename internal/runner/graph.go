package runner

import (
	"fmt"
	"strings"

	"github.com/y0f/apiprobe/internal/check"
)

// Validate checks names and the dependency graph. It returns a
// *check.ConfigError listing every problem found, or nil.
func Validate(checks []check.Check) error {
	_, err := plan(checks)
	return err
}

// plan validates checks and returns their execution order as indexes into
// checks. Among checks whose dependencies are satisfied, the one declared
// first runs first, so a catalog without forward references runs in
// declaration order.
func plan(checks []check.Check) ([]int, error) {
	var problems []string

	index := make(map[string]int, len(checks))
	for i, c := range checks {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			problems = append(problems, fmt.Sprintf("check #%d has no name", i+1))
			continue
		}
		if _, dup := index[name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate check name %q", name))
			continue
		}
		index[name] = i
		if c.Action == nil {
			problems = append(problems, fmt.Sprintf("check %q has no action", name))
		}
		if c.Score == nil {
			problems = append(problems, fmt.Sprintf("check %q has no score function", name))
		}
	}
	for _, c := range checks {
		for _, dep := range c.DependsOn {
			switch {
			case dep == c.Name:
				problems = append(problems, fmt.Sprintf("check %q depends on itself", c.Name))
			case !has(index, dep):
				problems = append(problems, fmt.Sprintf("check %q depends on unknown check %q", c.Name, dep))
			}
		}
	}
	if len(problems) > 0 {
		return nil, &check.ConfigError{Problems: problems}
	}

	order := make([]int, 0, len(checks))
	done := make([]bool, len(checks))
	for len(order) < len(checks) {
		next := -1
		for i, c := range checks {
			if done[i] {
				continue
			}
			if ready(c, index, done) {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, &check.ConfigError{Problems: []string{"dependency cycle: " + findCycle(checks, index, done)}}
		}
		done[next] = true
		order = append(order, next)
	}
	return order, nil
}

func has(index map[string]int, name string) bool {
	_, ok := index[name]
	return ok
}

func ready(c check.Check, index map[string]int, done []bool) bool {
	for _, dep := range c.DependsOn {
		if !done[index[dep]] {
			return false
		}
	}
	return true
}

// findCycle walks unresolved dependencies from the first blocked check
// until a name repeats. Every blocked check has at least one blocked
// dependency, so the walk always closes a loop.
func findCycle(checks []check.Check, index map[string]int, done []bool) string {
	start := -1
	for i := range checks {
		if !done[i] {
			start = i
			break
		}
	}
	seen := make(map[int]int)
	var path []string
	for cur := start; ; {
		if at, ok := seen[cur]; ok {
			loop := append(path[at:], checks[cur].Name)
			return strings.Join(loop, " -> ")
		}
		seen[cur] = len(path)
		path = append(path, checks[cur].Name)
		for _, dep := range checks[cur].DependsOn {
			if j := index[dep]; !done[j] {
				cur = j
				break
			}
		}
	}
}
