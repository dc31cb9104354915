package graphir

import (
	"fmt"
	"regexp"
)

// Query is a read against the temporal graph.
//
// Query types:
//   - Traversal: root-to-target path rows valid at an instant
//   - Times: distinct interval start times below one node
type Query interface {
	queryNode()
}

// Predicate is a condition in a Traversal's WHERE clause.
//
// Predicate types:
//   - Compare: property <op> literal
//   - During: interval.from <= at < interval.to
//   - And: all predicates must be true
type Predicate interface {
	predicateNode()
}

// Step matches one identity node.
type Step struct {
	// Var names the identity node, e.g. "host".
	Var string

	// Label is the node label.
	Label string

	// Identity is the identity property name of Label.
	Identity string

	// Rel is the relationship reaching this step from the previous one.
	// Empty on the first step.
	Rel string

	// RelVar names the relationship, e.g. "r0". Empty on the first step.
	RelVar string

	// State matches the step's state node; nil for stateless types.
	State *StateStep
}

// StateStep matches a state node reached over HAS_STATE.
type StateStep struct {
	Var    string // e.g. "host_state"
	RelVar string // e.g. "r_host_state"
	Label  string // e.g. "HostState"
}

// Ref names a property of a matched node.
type Ref struct {
	Var  string
	Prop string
}

// Order is one ORDER BY key.
type Order struct {
	Ref  Ref
	Desc bool
}

// Traversal returns every path row matching its steps and predicate.
//
// Semantics:
//
//	MATCH (steps[0])-[rel]->(steps[1])-...->(steps[n])
//	MATCH (step)-[:HAS_STATE]->(state) for each stateful step
//	WHERE <Where>
//	RETURN every node  (or count(*) when Count is set)
//	ORDER BY <Order> SKIP <Skip> LIMIT <Limit>
type Traversal struct {
	Steps []Step
	Where Predicate

	// Order, Skip and Limit are ignored when Count is set.
	Order []Order
	Skip  int
	Limit int // 0 means unbounded

	Count bool
}

func (Traversal) queryNode() {}

// Times returns the distinct `from` values of every relationship reachable
// from one identity node, newest first.
type Times struct {
	Label    string
	Identity string // identity property name
	Value    string
}

func (Times) queryNode() {}

// Operator is a comparison operator.
type Operator string

// Supported operators.
const (
	OpEq         Operator = "="
	OpNe         Operator = "<>"
	OpLt         Operator = "<"
	OpLe         Operator = "<="
	OpGt         Operator = ">"
	OpGe         Operator = ">="
	OpStartsWith Operator = "STARTS WITH"
	OpEndsWith   Operator = "ENDS WITH"
	OpContains   Operator = "CONTAINS"
)

// Operators lists every supported operator.
var Operators = []Operator{OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpStartsWith, OpEndsWith, OpContains}

// ParseOperator returns the operator spelled s.
func ParseOperator(s string) (Operator, bool) {
	for _, op := range Operators {
		if string(op) == s {
			return op, true
		}
	}
	return "", false
}

// IsString reports whether the operator only applies to strings.
func (o Operator) IsString() bool {
	return o == OpStartsWith || o == OpEndsWith || o == OpContains
}

// Compare is a property-versus-literal predicate.
//
// Value must already be normalized (string, bool, int64 or float64).
type Compare struct {
	Ref   Ref
	Op    Operator
	Value any
}

func (Compare) predicateNode() {}

// During holds when the named relationship's interval contains At.
//
//	<Var>.from <= At AND At < <Var>.to
type During struct {
	Var string
	At  int64
}

func (During) predicateNode() {}

// And is a conjunction. An empty And is true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that every name in the traversal is an identifier and
// every variable a predicate or order key references is matched.
// Backends call Validate before rendering.
func (t Traversal) Validate() error {
	if len(t.Steps) == 0 {
		return fmt.Errorf("traversal has no steps")
	}
	vars := map[string]bool{}
	rels := map[string]bool{}
	declare := func(name string, set map[string]bool) error {
		if !identPattern.MatchString(name) {
			return fmt.Errorf("invalid name %q", name)
		}
		if vars[name] || rels[name] {
			return fmt.Errorf("variable %q declared twice", name)
		}
		set[name] = true
		return nil
	}
	for i, s := range t.Steps {
		if err := declare(s.Var, vars); err != nil {
			return err
		}
		if !identPattern.MatchString(s.Label) || !identPattern.MatchString(s.Identity) {
			return fmt.Errorf("step %d: invalid label or identity", i)
		}
		if i > 0 {
			if !identPattern.MatchString(s.Rel) {
				return fmt.Errorf("step %d: invalid relationship %q", i, s.Rel)
			}
			if err := declare(s.RelVar, rels); err != nil {
				return err
			}
		}
		if s.State != nil {
			if err := declare(s.State.Var, vars); err != nil {
				return err
			}
			if err := declare(s.State.RelVar, rels); err != nil {
				return err
			}
			if !identPattern.MatchString(s.State.Label) {
				return fmt.Errorf("step %d: invalid state label %q", i, s.State.Label)
			}
		}
	}
	if t.Skip < 0 || t.Limit < 0 {
		return fmt.Errorf("skip and limit must be non-negative")
	}
	for _, o := range t.Order {
		if err := checkRef(o.Ref, vars); err != nil {
			return err
		}
	}
	return checkPredicate(t.Where, vars, rels)
}

func checkRef(r Ref, vars map[string]bool) error {
	if !vars[r.Var] {
		return fmt.Errorf("unknown variable %q", r.Var)
	}
	if !identPattern.MatchString(r.Prop) {
		return fmt.Errorf("invalid property name %q", r.Prop)
	}
	return nil
}

func checkPredicate(p Predicate, vars, rels map[string]bool) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Compare:
		if _, ok := ParseOperator(string(pred.Op)); !ok {
			return fmt.Errorf("unsupported operator %q", pred.Op)
		}
		return checkRef(pred.Ref, vars)
	case During:
		if !rels[pred.Var] {
			return fmt.Errorf("unknown relationship variable %q", pred.Var)
		}
		return nil
	case And:
		for _, sub := range pred.Predicates {
			if err := checkPredicate(sub, vars, rels); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// Returns lists, in order, the variables a row carries: each step variable
// followed by its state variable when present.
func (t Traversal) Returns() []string {
	var out []string
	for _, s := range t.Steps {
		out = append(out, s.Var)
		if s.State != nil {
			out = append(out, s.State.Var)
		}
	}
	return out
}
