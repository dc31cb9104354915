// Package graph defines the boundary between the temporal store and the
// graph database holding it.
//
// A Backend opens self-contained transactions. Tx exposes the handful of
// primitives the versioning discipline needs: identity nodes addressed by
// label and identity value, state nodes hanging off them over HAS_STATE,
// and versioned relationships between identity nodes. Every relationship
// carries a half-open [from, to) interval in milliseconds; to == EndOfTime
// marks the open, current version.
//
// Backends also classify their own errors: IsTransient reports contention
// and availability failures that are safe to retry.
package graph

import (
	"context"
	"math"

	"github.com/roach88/snitch/internal/graphir"
)

// EndOfTime marks an open interval.
const EndOfTime int64 = math.MaxInt64

// Key addresses one identity node.
type Key struct {
	Label    string
	Property string // identity property name
	Identity string
}

// State is the open state of an identity node.
type State struct {
	From  int64
	Props map[string]any
}

// OpenEdge is one open relationship: its destination identity and the
// start of its interval.
type OpenEdge struct {
	Identity string
	From     int64
}

// Row is one traversal result keyed by label. Each value merges the
// identity node's properties with its state properties.
type Row map[string]map[string]any

// Reader runs read queries.
type Reader interface {
	// Query returns the rows of a traversal.
	Query(ctx context.Context, q graphir.Traversal) ([]Row, error)

	// Count returns the number of rows a traversal would produce.
	Count(ctx context.Context, q graphir.Traversal) (int64, error)

	// Times returns the distinct interval start times reachable from a
	// node, newest first.
	Times(ctx context.Context, q graphir.Times) ([]int64, error)
}

// Tx is one self-contained transaction.
type Tx interface {
	Reader

	// Node returns the identity node's properties.
	Node(ctx context.Context, k Key) (map[string]any, bool, error)

	// CreateNode creates an identity node with props.
	CreateNode(ctx context.Context, k Key, props map[string]any) error

	// SetNode overwrites the given properties of an existing identity node.
	SetNode(ctx context.Context, k Key, props map[string]any) error

	// LockNode takes a write lock on an existing identity node for the rest
	// of the transaction.
	LockNode(ctx context.Context, k Key) error

	// CurrentState returns the open state of an identity node.
	CurrentState(ctx context.Context, k Key) (State, bool, error)

	// CloseState sets to = at on the open state.
	CloseState(ctx context.Context, k Key, at int64) error

	// ReplaceState overwrites the properties of the open state in place.
	ReplaceState(ctx context.Context, k Key, props map[string]any) error

	// OpenState creates a state node valid over [from, EndOfTime).
	OpenState(ctx context.Context, k Key, stateLabel string, props map[string]any, from int64) error

	// OpenEdges returns the open rel edges from src to nodes labeled
	// dst.Label, ordered by destination identity.
	OpenEdges(ctx context.Context, src Key, rel string, dst Key) ([]OpenEdge, error)

	// CloseEdge sets to = at on the open rel edge from src to dst.
	CloseEdge(ctx context.Context, src Key, rel string, dst Key, at int64) error

	// DeleteEdge removes the open rel edge from src to dst. It is only
	// used for an edge opened at the instant it would be closed.
	DeleteEdge(ctx context.Context, src Key, rel string, dst Key) error

	// OpenEdge creates a rel edge from src to dst valid over [from, EndOfTime).
	OpenEdge(ctx context.Context, src Key, rel string, dst Key, from int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend is a graph database.
type Backend interface {
	Reader

	// Begin starts a read-write transaction.
	Begin(ctx context.Context) (Tx, error)

	// IsTransient reports whether err is a retryable contention or
	// availability failure.
	IsTransient(err error) bool

	// EnsureConstraints creates uniqueness constraints for identity
	// properties. It is idempotent.
	EnsureConstraints(ctx context.Context, keys []Key) error

	Close(ctx context.Context) error
}

// InTx runs fn in a transaction, committing on success and rolling back
// on error or panic.
func InTx(ctx context.Context, b Backend, fn func(tx Tx) error) (err error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
