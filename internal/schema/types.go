package schema

import (
	"fmt"
	"regexp"
	"sort"
)

// HasState is the relationship linking an identity node to its state nodes.
const HasState = "HAS_STATE"

// CreatedAt is the identity-node property holding the creation timestamp.
const CreatedAt = "created_at"

// EntityType declares one kind of graph entity.
type EntityType struct {
	// Label names the identity node.
	Label string `json:"label"`

	// StateLabel names state nodes. Defaults to Label + "State".
	StateLabel string `json:"state_label,omitempty"`

	// Identity is the property holding the identity value.
	Identity string `json:"identity"`

	// Concat lists the properties joined with "-" to build the identity
	// when the identity property itself is not supplied.
	Concat []string `json:"concat,omitempty"`

	// Static properties are overwritten in place.
	Static []string `json:"static,omitempty"`

	// State properties are versioned through state nodes.
	State []string `json:"state,omitempty"`

	// Children are the relationship roles from this type, sorted by Role.
	Children []Child `json:"children,omitempty"`
}

// Child is one parent-to-child relationship role.
type Child struct {
	Role         string `json:"role"`
	Relationship string `json:"relationship"`
	Label        string `json:"label"`
}

// HasState reports whether the type declares versioned properties.
func (t *EntityType) HasState() bool {
	return len(t.State) > 0
}

// Child returns the relationship role with the given name.
func (t *EntityType) Child(role string) (Child, bool) {
	for _, c := range t.Children {
		if c.Role == role {
			return c, true
		}
	}
	return Child{}, false
}

// ChildOfLabel returns the relationship role that leads to label.
func (t *EntityType) ChildOfLabel(label string) (Child, bool) {
	for _, c := range t.Children {
		if c.Label == label {
			return c, true
		}
	}
	return Child{}, false
}

// Properties returns identity, static and state property names, sorted.
func (t *EntityType) Properties() []string {
	seen := map[string]bool{t.Identity: true}
	props := []string{t.Identity}
	for _, list := range [][]string{t.Static, t.State} {
		for _, p := range list {
			if !seen[p] {
				seen[p] = true
				props = append(props, p)
			}
		}
	}
	sort.Strings(props)
	return props
}

// IsState reports whether prop is a versioned property of the type.
func (t *EntityType) IsState(prop string) bool {
	for _, p := range t.State {
		if p == prop {
			return true
		}
	}
	return false
}

// HasProperty reports whether prop is an identity, static or state property.
func (t *EntityType) HasProperty(prop string) bool {
	if prop == t.Identity {
		return true
	}
	for _, list := range [][]string{t.Static, t.State} {
		for _, p := range list {
			if p == prop {
				return true
			}
		}
	}
	return false
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validate checks the declaration in isolation.
//
// Every name (identity, static, state, role) must be unique across the
// declaration. The identity property may also appear in Static when it is
// supplied directly rather than concatenated, and Concat components are
// references to static properties rather than declarations.
func (t *EntityType) validate() error {
	if !namePattern.MatchString(t.Label) {
		return &Error{Code: ErrCodeInvalidType, Label: t.Label, Message: "label must be an identifier"}
	}
	if t.Identity == "" {
		return &Error{Code: ErrCodeInvalidType, Label: t.Label, Message: "identity property is required"}
	}

	seen := map[string]bool{}
	declare := func(name string) error {
		if !namePattern.MatchString(name) {
			return &Error{Code: ErrCodeInvalidType, Label: t.Label, Property: name, Message: "name must be an identifier"}
		}
		if seen[name] {
			return newDuplicate(t.Label, name)
		}
		seen[name] = true
		return nil
	}

	if err := declare(t.Identity); err != nil {
		return err
	}
	for _, p := range t.Static {
		if p == t.Identity {
			continue
		}
		if err := declare(p); err != nil {
			return err
		}
	}
	for _, p := range t.State {
		if err := declare(p); err != nil {
			return err
		}
	}
	for _, c := range t.Children {
		if err := declare(c.Role); err != nil {
			return err
		}
		if !namePattern.MatchString(c.Relationship) || c.Relationship == HasState {
			return &Error{Code: ErrCodeInvalidType, Label: t.Label, Property: c.Role, Message: fmt.Sprintf("invalid relationship name %q", c.Relationship)}
		}
	}
	for _, p := range t.Concat {
		if !seen[p] {
			return NewUnknownProperty(t.Label, p)
		}
	}
	return nil
}
