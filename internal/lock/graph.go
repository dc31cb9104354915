package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/graph"
	"github.com/roach88/snitch/internal/schema"
	"github.com/roach88/snitch/internal/versioned"
)

// LockLabel is the entity type holding environment locks.
const LockLabel = "EnvironmentLock"

// GraphLocker keeps locks as EnvironmentLock nodes in the graph. Each
// Acquire and Release is a single transaction that write-locks the node
// before reading it.
type GraphLocker struct {
	store  *versioned.Store
	typ    *schema.EntityType
	now    func() time.Time
	logger *slog.Logger
}

// NewGraphLocker creates a locker over store. now defaults to time.Now.
func NewGraphLocker(store *versioned.Store, now func() time.Time, logger *slog.Logger) (*GraphLocker, error) {
	t, ok := store.Registry().Type(LockLabel)
	if !ok {
		return nil, schema.NewUnknownType(LockLabel)
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphLocker{store: store, typ: t, now: now, logger: logger}, nil
}

// read returns the stored key of the lock node, write-locking it first.
func (l *GraphLocker) read(ctx context.Context, tx graph.Tx, k graph.Key) (int64, bool, error) {
	if _, ok, err := tx.Node(ctx, k); err != nil || !ok {
		return 0, ok, err
	}
	if err := tx.LockNode(ctx, k); err != nil {
		return 0, false, err
	}
	props, ok, err := tx.Node(ctx, k)
	if err != nil || !ok {
		return 0, ok, err
	}
	switch v := props["locked"].(type) {
	case int64:
		return v, true, nil
	case float64:
		return int64(v), true, nil
	case nil:
		return 0, true, nil
	default:
		return 0, false, fmt.Errorf("lock %s: locked is %T", k.Identity, v)
	}
}

func (l *GraphLocker) write(ctx context.Context, tx graph.Tx, account, name string, key, at int64) error {
	in, err := entity.New(l.typ, map[string]any{
		"account_number": account,
		"name":           name,
		"locked":         key,
	})
	if err != nil {
		return err
	}
	return l.store.UpdateTx(ctx, tx, in, at)
}

func (l *GraphLocker) Acquire(ctx context.Context, account, name string) (int64, error) {
	key := l.now().UnixMilli()
	k := versioned.Key(l.typ, identity(account, name))

	err := l.store.Retry(ctx, func(ctx context.Context, tx graph.Tx) error {
		held, exists, err := l.read(ctx, tx, k)
		if err != nil {
			return err
		}
		if exists && held != 0 {
			return fmt.Errorf("%s (held since %d): %w", k.Identity, held, ErrEnvironmentLocked)
		}
		return l.write(ctx, tx, account, name, key, key)
	})
	if err != nil {
		return 0, err
	}
	return key, nil
}

func (l *GraphLocker) Release(ctx context.Context, account, name string, key int64) (bool, error) {
	k := versioned.Key(l.typ, identity(account, name))

	var released bool
	err := l.store.Retry(ctx, func(ctx context.Context, tx graph.Tx) error {
		held, exists, err := l.read(ctx, tx, k)
		if err != nil {
			return err
		}
		switch {
		case !exists || held == 0:
			released = true
			return nil
		case held != key:
			released = false
			return nil
		}
		released = true
		return l.write(ctx, tx, account, name, 0, l.now().UnixMilli())
	})
	if err != nil {
		return false, err
	}
	if !released {
		l.logger.Warn("unable to release lock", "lock", k.Identity, "key", key)
	}
	return released, nil
}
