package schema

import (
	"sort"
	"sync"
)

// PathStep is one hop on the way from a root to a type: the ancestor type
// and the relationship leaving it.
type PathStep struct {
	Label        string `json:"label"`
	Relationship string `json:"relationship"`
}

// Registry holds the catalogue of entity types and the forest they form.
//
// A Registry is safe for concurrent reads once populated. Register takes
// a write lock.
type Registry struct {
	mu      sync.RWMutex
	types   map[string]*EntityType
	parents map[string]string // child label -> parent label
	order   []string          // registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[string]*EntityType),
		parents: make(map[string]string),
	}
}

// Register adds a type. Declarations are validated here, never at write time.
func (r *Registry) Register(t EntityType) error {
	if t.StateLabel == "" {
		t.StateLabel = t.Label + "State"
	}
	t.Children = append([]Child(nil), t.Children...)
	sort.Slice(t.Children, func(i, j int) bool { return t.Children[i].Role < t.Children[j].Role })

	if err := t.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[t.Label]; exists {
		return &Error{Code: ErrCodeInvalidType, Label: t.Label, Message: "type already registered"}
	}

	claimed := map[string]bool{}
	for _, c := range t.Children {
		if parent, ok := r.parents[c.Label]; ok || claimed[c.Label] {
			if !ok {
				parent = t.Label
			}
			return &Error{
				Code:     ErrCodeMultipleParents,
				Label:    c.Label,
				Property: c.Role,
				Message:  "type already has parent " + parent,
			}
		}
		if c.Label == t.Label {
			return &Error{Code: ErrCodeInvalidType, Label: t.Label, Property: c.Role, Message: "type cannot be its own child"}
		}
		claimed[c.Label] = true
	}

	for _, c := range t.Children {
		r.parents[c.Label] = t.Label
	}
	r.types[t.Label] = &t
	r.order = append(r.order, t.Label)
	return nil
}

// MustRegister registers every type and panics on the first error.
func (r *Registry) MustRegister(types ...EntityType) *Registry {
	for _, t := range types {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Validate checks cross-type consistency: every child label must be
// registered and the parent relation must be acyclic.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, label := range r.order {
		for _, c := range r.types[label].Children {
			if _, ok := r.types[c.Label]; !ok {
				return &Error{Code: ErrCodeUnknownChild, Label: label, Property: c.Role, Message: "child type " + c.Label + " is not registered"}
			}
		}
	}
	for _, label := range r.order {
		seen := map[string]bool{label: true}
		for cur := label; ; {
			parent, ok := r.parents[cur]
			if !ok {
				break
			}
			if seen[parent] {
				return &Error{Code: ErrCodeInvalidType, Label: label, Message: "parent chain forms a cycle"}
			}
			seen[parent] = true
			cur = parent
		}
	}
	return nil
}

// Type returns the declaration for label.
func (r *Registry) Type(label string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[label]
	return t, ok
}

// Labels returns every registered label in registration order.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Roots returns the labels with no declared parent, in registration order.
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var roots []string
	for _, label := range r.order {
		if _, ok := r.parents[label]; !ok {
			roots = append(roots, label)
		}
	}
	return roots
}

// Parent returns the parent label of label, if it has one.
func (r *Registry) Parent(label string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parents[label]
	return p, ok
}

// PathTo returns the (ancestor, relationship) steps from the nearest root
// down to label. A root yields an empty, non-nil path. The second return is
// false when label is not registered.
func (r *Registry) PathTo(label string) ([]PathStep, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.types[label]; !ok {
		return nil, false
	}

	path := []PathStep{}
	for cur := label; ; {
		parent, ok := r.parents[cur]
		if !ok {
			break
		}
		child, _ := r.types[parent].ChildOfLabel(cur)
		path = append(path, PathStep{Label: parent, Relationship: child.Relationship})
		cur = parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

// PathsFrom returns every label path from label down to a leaf type. Each
// path starts with label. A leaf label yields a single one-element path.
// Returns nil when label is not registered.
//
// Traversal is an iterative depth-first walk over children in role order;
// a path is recorded only when a node without children is reached.
func (r *Registry) PathsFrom(label string) [][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.types[label]; !ok {
		return nil
	}

	var paths [][]string
	stack := [][]string{{label}}
	for len(stack) > 0 {
		path := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		t := r.types[path[len(path)-1]]
		if len(t.Children) == 0 {
			paths = append(paths, path)
			continue
		}
		// Push in reverse so the first role is visited first.
		for i := len(t.Children) - 1; i >= 0; i-- {
			next := make([]string, len(path), len(path)+1)
			copy(next, path)
			stack = append(stack, append(next, t.Children[i].Label))
		}
	}
	return paths
}

// PropertiesOf returns the identity, static and state property names of
// label, sorted.
func (r *Registry) PropertiesOf(label string) ([]string, bool) {
	t, ok := r.Type(label)
	if !ok {
		return nil, false
	}
	return t.Properties(), true
}

// Describe returns the declaration of label in a JSON-friendly shape.
func (r *Registry) Describe(label string) (map[string]any, bool) {
	t, ok := r.Type(label)
	if !ok {
		return nil, false
	}
	children := map[string]any{}
	for _, c := range t.Children {
		children[c.Role] = map[string]any{"relationship": c.Relationship, "label": c.Label}
	}
	path, _ := r.PathTo(label)
	return map[string]any{
		"label":             t.Label,
		"state_label":       t.StateLabel,
		"identity":          t.Identity,
		"concat":            nonNil(t.Concat),
		"static_properties": nonNil(t.Static),
		"state_properties":  nonNil(t.State),
		"children":          children,
		"path":              path,
	}, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
