// Package lock provides per-environment mutual exclusion for ingestion.
//
// A lock is keyed by environment (account number and name) and holds
// either 0 (open) or the millisecond timestamp of its acquisition. The
// timestamp is the capability key: only a Release presenting the same key
// opens the lock again. Acquire never waits; a held lock fails
// immediately with ErrEnvironmentLocked so the caller can skip the run and
// try on a later pass.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrEnvironmentLocked is returned by Acquire when another sync holds the
// lock.
var ErrEnvironmentLocked = errors.New("environment is locked")

// ErrLockLost is the cancellation cause given to fn by With when a held
// lock could not be refreshed.
var ErrLockLost = errors.New("environment lock lost")

// Locker acquires and releases environment locks.
type Locker interface {
	// Acquire takes the lock and returns its key.
	Acquire(ctx context.Context, account, name string) (int64, error)

	// Release opens the lock if key matches the stored key. It reports
	// false, leaving the lock held, on a mismatch.
	Release(ctx context.Context, account, name string, key int64) (bool, error)
}

// Refresher is implemented by lockers whose locks expire. With refreshes
// the lock every RefreshInterval while fn runs; a zero interval disables
// refreshing.
type Refresher interface {
	RefreshInterval() time.Duration
	Refresh(ctx context.Context, account, name string, key int64) (bool, error)
}

// With runs fn while holding the environment lock. The lock is released
// on every exit path, including a panic in fn.
func With(ctx context.Context, l Locker, logger *slog.Logger, account, name string, fn func(ctx context.Context) error) (err error) {
	if logger == nil {
		logger = slog.Default()
	}
	key, err := l.Acquire(ctx, account, name)
	if err != nil {
		return err
	}
	logger.Debug("obtained lock", "account", account, "environment", name, "key", key)

	defer func() {
		// Release even when ctx is already cancelled.
		released, rerr := l.Release(context.WithoutCancel(ctx), account, name, key)
		switch {
		case rerr != nil:
			logger.Error("unable to release lock", "account", account, "environment", name, "key", key, "error", rerr)
			if err == nil {
				err = fmt.Errorf("release lock: %w", rerr)
			}
		case !released:
			logger.Warn("lock key no longer matches", "account", account, "environment", name, "key", key)
		default:
			logger.Debug("released lock", "account", account, "environment", name)
		}
	}()

	if r, ok := l.(Refresher); ok && r.RefreshInterval() > 0 {
		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		done := make(chan struct{})
		defer func() {
			close(done)
			cancel(nil)
		}()
		go keepAlive(ctx, r, logger, account, name, key, done, cancel)
	}

	return fn(ctx)
}

// keepAlive refreshes the lock until done is closed. A lost lock cancels
// the holder's context with ErrLockLost.
func keepAlive(ctx context.Context, r Refresher, logger *slog.Logger, account, name string, key int64, done <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(r.RefreshInterval())
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		held, err := r.Refresh(ctx, account, name, key)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			logger.Warn("unable to refresh lock", "account", account, "environment", name, "error", err)
		case !held:
			logger.Error("lock expired while held", "account", account, "environment", name, "key", key)
			cancel(fmt.Errorf("%s: %w", identity(account, name), ErrLockLost))
			return
		default:
			logger.Debug("refreshed lock", "account", account, "environment", name)
		}
	}
}

func identity(account, name string) string {
	return account + "-" + name
}
