// Package propval normalizes property values before they are compared or
// written to the graph.
//
// Scalars are reduced to a small closed set of Go types (string, bool,
// int64, float64). Structured values (maps, slices, structs) are encoded as
// canonical JSON strings: object keys sorted by UTF-16 code units, strings
// NFC-normalized, no HTML escaping. Two structured values therefore compare
// equal exactly when their decoded contents are equal, regardless of the key
// order they were produced in.
//
// nil means "absent". NormalizeMap drops nil entries so that a property set
// to null and a property that was never set are indistinguishable.
package propval
