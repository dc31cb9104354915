package schema

import (
	_ "embed"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed fleet.cue
var fleetCUE []byte

// cueType mirrors the #Type definition in a catalogue file.
type cueType struct {
	StateLabel string              `json:"state_label"`
	Identity   string              `json:"identity"`
	Concat     []string            `json:"concat"`
	Static     []string            `json:"static"`
	State      []string            `json:"state"`
	Children   map[string]cueChild `json:"children"`
}

type cueChild struct {
	Rel   string `json:"rel"`
	Label string `json:"label"`
}

// LoadCUE parses a catalogue written in CUE and returns its entity types
// sorted by label. The source must define a "types" struct keyed by label.
func LoadCUE(filename string, src []byte) ([]EntityType, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	typesVal := v.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return nil, fmt.Errorf("%s: no types declared", filename)
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []EntityType
	for iter.Next() {
		label := iter.Label()
		var ct cueType
		if err := iter.Value().Decode(&ct); err != nil {
			return nil, fmt.Errorf("type %s: %w", label, formatCUEError(err))
		}
		out = append(out, ct.entityType(label))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (ct cueType) entityType(label string) EntityType {
	t := EntityType{
		Label:      label,
		StateLabel: ct.StateLabel,
		Identity:   ct.Identity,
		Concat:     ct.Concat,
		Static:     ct.Static,
		State:      ct.State,
	}
	for role, c := range ct.Children {
		t.Children = append(t.Children, Child{Role: role, Relationship: c.Rel, Label: c.Label})
	}
	sort.Slice(t.Children, func(i, j int) bool { return t.Children[i].Role < t.Children[j].Role })
	return t
}

// NewFromCUE builds and validates a registry from a CUE catalogue.
func NewFromCUE(filename string, src []byte) (*Registry, error) {
	types, err := LoadCUE(filename, src)
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	for _, t := range types {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Default returns a registry holding the built-in fleet catalogue.
func Default() (*Registry, error) {
	return NewFromCUE("fleet.cue", fleetCUE)
}

// FleetSource returns the built-in catalogue source.
func FleetSource() []byte {
	return append([]byte(nil), fleetCUE...)
}

// formatCUEError returns the first CUE error with its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return fmt.Errorf("%s: %s", positions[0], first.Error())
	}
	return first
}
