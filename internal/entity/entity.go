// Package entity builds immutable entity instances from declared
// properties.
//
// An Instance carries its type, its identity value and the normalized
// static and state properties the type declares. Instances hold no storage
// handles; the versioned store consumes them.
package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/snitch/internal/propval"
	"github.com/roach88/snitch/internal/schema"
)

// Source is implemented by typed entity structs. Properties returns the
// declared property values keyed by name; undeclared keys are rejected.
type Source interface {
	Label() string
	Properties() map[string]any
}

// Instance is one entity value. It is immutable after construction.
type Instance struct {
	typ      *schema.EntityType
	identity string
	static   map[string]any
	state    map[string]any
}

// New builds an instance of t from props. The identity is taken from the
// identity property when present, otherwise computed by joining the Concat
// components with "-". Unknown properties are an error.
func New(t *schema.EntityType, props map[string]any) (Instance, error) {
	for k := range props {
		if !t.HasProperty(k) {
			return Instance{}, schema.NewUnknownProperty(t.Label, k)
		}
	}

	norm, err := propval.NormalizeMap(props)
	if err != nil {
		return Instance{}, fmt.Errorf("%s: %w", t.Label, err)
	}

	identity, err := computeIdentity(t, norm)
	if err != nil {
		return Instance{}, err
	}

	in := Instance{
		typ:      t,
		identity: identity,
		static:   make(map[string]any, len(t.Static)),
		state:    make(map[string]any, len(t.State)),
	}
	for _, p := range t.Static {
		if v, ok := norm[p]; ok {
			in.static[p] = v
		}
	}
	for _, p := range t.State {
		if v, ok := norm[p]; ok {
			in.state[p] = v
		}
	}
	return in, nil
}

// FromSource builds an instance from a typed entity struct.
func FromSource(reg *schema.Registry, src Source) (Instance, error) {
	t, ok := reg.Type(src.Label())
	if !ok {
		return Instance{}, schema.NewUnknownType(src.Label())
	}
	return New(t, src.Properties())
}

// FromProperties rebuilds an instance from stored identity-node properties.
// Properties the type does not declare (such as created_at) are ignored.
func FromProperties(t *schema.EntityType, stored map[string]any) (Instance, error) {
	props := make(map[string]any, len(stored))
	for k, v := range stored {
		if t.HasProperty(k) {
			props[k] = v
		}
	}
	return New(t, props)
}

func computeIdentity(t *schema.EntityType, props map[string]any) (string, error) {
	if v, ok := props[t.Identity]; ok {
		return propval.String(v), nil
	}
	if len(t.Concat) == 0 {
		return "", fmt.Errorf("%s: identity property %q is required", t.Label, t.Identity)
	}
	parts := make([]string, len(t.Concat))
	for i, p := range t.Concat {
		parts[i] = propval.String(props[p])
	}
	id := strings.Join(parts, "-")
	if strings.Trim(id, "-") == "" {
		return "", fmt.Errorf("%s: identity components %v are empty", t.Label, t.Concat)
	}
	return id, nil
}

// Type returns the entity type.
func (in Instance) Type() *schema.EntityType { return in.typ }

// Label returns the type label.
func (in Instance) Label() string { return in.typ.Label }

// Identity returns the identity value.
func (in Instance) Identity() string { return in.identity }

// IsZero reports whether the instance was never constructed.
func (in Instance) IsZero() bool { return in.typ == nil }

// Static returns a copy of the non-nil static properties.
func (in Instance) Static() map[string]any { return copyMap(in.static) }

// State returns a copy of the non-nil state properties.
func (in Instance) State() map[string]any { return copyMap(in.state) }

// Get returns a property value, including the identity property.
func (in Instance) Get(prop string) (any, bool) {
	if prop == in.typ.Identity {
		return in.identity, true
	}
	if v, ok := in.static[prop]; ok {
		return v, true
	}
	v, ok := in.state[prop]
	return v, ok
}

// Properties returns identity, static and state properties merged.
func (in Instance) Properties() map[string]any {
	out := make(map[string]any, 1+len(in.static)+len(in.state))
	for k, v := range in.static {
		out[k] = v
	}
	for k, v := range in.state {
		out[k] = v
	}
	out[in.typ.Identity] = in.identity
	return out
}

// IdentityProperties returns the identity property plus non-nil statics,
// the set written to the identity node.
func (in Instance) IdentityProperties() map[string]any {
	out := copyMap(in.static)
	out[in.typ.Identity] = in.identity
	return out
}

// String implements fmt.Stringer.
func (in Instance) String() string {
	if in.typ == nil {
		return "<nil>"
	}
	return in.typ.Label + "(" + in.identity + ")"
}

// Identities returns the identity values of instances, sorted and unique.
func Identities(instances []Instance) []string {
	seen := make(map[string]bool, len(instances))
	out := make([]string, 0, len(instances))
	for _, in := range instances {
		if !seen[in.identity] {
			seen[in.identity] = true
			out = append(out, in.identity)
		}
	}
	sort.Strings(out)
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
