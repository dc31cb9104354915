// Package graphir defines the structured query representation used to read
// the temporal graph.
//
// A Traversal is a chain of identity-node steps from a root type down to a
// target type. Each step after the first is reached over a named versioned
// relationship, and a step whose type declares versioned properties also
// matches its state node over HAS_STATE. Predicates reference step or state
// variables by name; nothing is interpolated from user input.
//
// Backends compile a Traversal to their own query language:
// internal/cypher for Neo4j and internal/graphsql for SQLite.
//
// Query and Predicate are sealed interfaces. The marker method pattern
// prevents external implementations and enables exhaustive type switches in
// backend compilers.
package graphir
