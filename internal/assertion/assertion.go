// Package assertion scores check outcomes against declarative conditions.
package assertion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/y0f/apiprobe/internal/check"
)

// Assertion defines a single condition on an outcome.
type Assertion struct {
	Type     string `yaml:"type" json:"type"`         // status_code, body_contains, body_regex, json_path, header, response_time, cert_expiry
	Operator string `yaml:"operator" json:"operator"` // eq, neq, gt, lt, gte, lte, in, contains, not_contains, matches, not_matches, exists, not_exists
	Target   string `yaml:"target" json:"target"`     // header name or json path
	Value    string `yaml:"value" json:"value"`       // expected value
	Lenient  bool   `yaml:"lenient" json:"lenient"`   // failure is inconclusive rather than fail
}

// ConditionGroup combines assertions with "and" (default) or "or".
type ConditionGroup struct {
	Operator   string      `yaml:"operator" json:"operator"`
	Conditions []Assertion `yaml:"conditions" json:"conditions"`
}

// ConditionSet combines groups with "and" (default) or "or".
type ConditionSet struct {
	Operator string           `yaml:"operator" json:"operator"`
	Groups   []ConditionGroup `yaml:"groups" json:"groups"`
}

// UnmarshalYAML accepts either a full set or a plain list of conditions,
// which becomes a single "and" group.
func (cs *ConditionSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var conds []Assertion
		if err := node.Decode(&conds); err != nil {
			return err
		}
		*cs = ConditionSet{Operator: "and", Groups: []ConditionGroup{{Operator: "and", Conditions: conds}}}
		return nil
	}
	type plain ConditionSet
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*cs = ConditionSet(p)
	return nil
}

// Empty reports whether the set has no conditions at all.
func (cs ConditionSet) Empty() bool {
	for _, g := range cs.Groups {
		if len(g.Conditions) > 0 {
			return false
		}
	}
	return true
}

// Validate rejects unknown types, operators the type cannot evaluate and
// values that cannot be parsed, before a run starts.
func (cs ConditionSet) Validate() error {
	if err := validCombinator(cs.Operator); err != nil {
		return err
	}
	for i, g := range cs.Groups {
		if err := validCombinator(g.Operator); err != nil {
			return fmt.Errorf("groups[%d]: %w", i, err)
		}
		for j, a := range g.Conditions {
			if err := a.validate(); err != nil {
				return fmt.Errorf("groups[%d].conditions[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func (a Assertion) validate() error {
	ops, ok := typeOperators[a.Type]
	if !ok {
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if a.Operator != "" && !knownOperators[a.Operator] {
		return fmt.Errorf("unknown operator %q", a.Operator)
	}
	if a.Operator != "" && !ops[a.Operator] {
		return fmt.Errorf("operator %q is not valid for %s", a.Operator, a.Type)
	}
	if (a.Type == "header" || a.Type == "json_path") && a.Target == "" {
		return fmt.Errorf("%s requires a target", a.Type)
	}

	switch a.Type {
	case "status_code", "response_time", "cert_expiry":
		values := []string{a.Value}
		if a.Operator == "in" {
			values = strings.Split(a.Value, ",")
		}
		for _, v := range values {
			if _, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err != nil {
				return fmt.Errorf("%s value %q must be an integer", a.Type, a.Value)
			}
		}
	case "body_regex", "json_path", "header":
		if a.Type == "body_regex" || a.Operator == "matches" || a.Operator == "not_matches" {
			if _, err := regexp.Compile(a.Value); err != nil {
				return fmt.Errorf("%s value %q: %w", a.Type, a.Value, err)
			}
		}
	}
	return nil
}

func validCombinator(op string) error {
	switch op {
	case "", "and", "or":
		return nil
	}
	return fmt.Errorf("operator must be and/or, got %q", op)
}

var knownOperators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "lt": true, "gte": true, "lte": true, "in": true,
	"contains": true, "not_contains": true, "matches": true, "not_matches": true,
	"exists": true, "not_exists": true,
}

var (
	numericOperators = operators("eq", "neq", "gt", "lt", "gte", "lte")
	stringOperators  = operators("eq", "neq", "gt", "lt", "gte", "lte", "in",
		"contains", "not_contains", "matches", "not_matches", "exists", "not_exists")
)

// typeOperators lists the operators each assertion type evaluates.
var typeOperators = map[string]map[string]bool{
	"status_code":   operators("eq", "neq", "gt", "lt", "gte", "lte", "in"),
	"body_contains": operators("contains", "not_contains"),
	"body_regex":    operators("matches", "not_matches"),
	"json_path":     stringOperators,
	"header":        stringOperators,
	"response_time": numericOperators,
	"cert_expiry":   numericOperators,
}

func operators(ops ...string) map[string]bool {
	m := make(map[string]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

// Result holds the outcome of evaluating a condition set.
type Result struct {
	Verdict check.Verdict
	Message string
	Details []Detail
}

// Detail holds the result of a single assertion.
type Detail struct {
	Assertion Assertion
	Verdict   check.Verdict
	Actual    string
	Message   string
}
