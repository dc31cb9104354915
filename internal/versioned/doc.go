// Package versioned turns entity snapshots into an append-mostly temporal
// graph.
//
// Store.Update makes the graph reflect one instance as of a timestamp:
// the identity node is upserted (static properties overwritten in place,
// never cleared) and, for types with state properties, the open state is
// dirty-checked against the instance. Only a difference closes the open
// HAS_STATE interval and opens a new one, so repeated snapshots leave no
// trace in history.
//
// EdgeSet.Update reconciles a parent's full child set for one
// relationship role: edges to children that disappeared are closed,
// edges to new children are opened, and unchanged edges are not touched.
//
// Both operations run in one backend transaction wrapped by a retry
// policy. Each attempt re-reads the graph, so a retried attempt never
// applies a stale comparison.
package versioned
