// Package schema declares graph entity types and derives the forest they
// form.
//
// Each EntityType names an identity property (optionally built by joining
// other properties with "-"), static properties that are overwritten in
// place, versioned properties that are tracked through state nodes, and
// child relationship roles. A type is the child of at most one other type,
// so the registered types form a forest whose roots have no parent.
//
// The Registry answers the structural questions used by the store, query
// and diff layers:
//
//   - PathTo: the ancestor chain from a root down to a type
//   - PathsFrom: every root-to-leaf label path below a type
//   - PropertiesOf: the declared property names of a type
//
// The built-in fleet catalogue is declared in fleet.cue and loaded with
// Default.
package schema
