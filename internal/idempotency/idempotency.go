// Package idempotency deduplicates retried write operations by
// client-supplied key, giving at-most-once execution under concurrent
// duplicate requests.
package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/nimbase/gate/internal/cache"
	"github.com/nimbase/gate/internal/gate"
	"github.com/nimbase/gate/internal/store"
	"github.com/nimbase/gate/pkg/models"
)

const (
	pollInitial = 50 * time.Millisecond
	pollMax     = 500 * time.Millisecond
	pollBudget  = 5 * time.Second
	inFlightTTL = 10 * time.Second
)

// Executor runs operations at most once per idempotency key. The
// uniqueness constraint on the key column is the lock: only one of two
// racing requests wins the placeholder insert, and the loser waits for
// the winner's stored response instead of re-executing.
type Executor struct {
	store  store.Store
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger

	pollInitial time.Duration
	pollMax     time.Duration
	pollBudget  time.Duration
}

// NewExecutor creates an Executor. ttl bounds how long a stored
// response is replayed to retries.
func NewExecutor(s store.Store, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Executor {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:       s,
		cache:       c,
		ttl:         ttl,
		logger:      logger,
		pollInitial: pollInitial,
		pollMax:     pollMax,
		pollBudget:  pollBudget,
	}
}

// Execute performs fn at most once for key. The first caller executes
// fn and stores its response; every later caller with the same key gets
// the stored bytes back without fn running again. A concurrent loser
// polls with backoff for the winner's result and fails with
// INTERNAL_ERROR if the winner has not committed within the poll
// budget.
func (e *Executor) Execute(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	won, err := e.store.InsertIdempotencyPlaceholder(ctx, key, time.Now().UTC().Add(e.ttl))
	if err != nil {
		e.logger.Error("idempotency placeholder insert failed", "key", key, "error", err)
		return nil, &gate.Error{Code: gate.CodeInternalError, Message: "Idempotency check failed"}
	}

	if !won {
		return e.awaitWinner(ctx, key)
	}

	// Mark the key in-flight so local losers skip their first poll
	// delay. Best effort; a cache error changes nothing.
	if e.cache != nil {
		if _, err := e.cache.SetNX(ctx, cache.IdempotencyInFlightKey(key), []byte("1"), inFlightTTL); err != nil {
			e.logger.Warn("idempotency in-flight marker failed", "key", key, "error", err)
		}
	}

	response, err := fn(ctx)
	if err != nil {
		// The operation itself failed; release the key so a retry can
		// attempt it again rather than replaying a failure forever.
		if delErr := e.store.DeleteIdempotencyRecord(context.WithoutCancel(ctx), key); delErr != nil {
			e.logger.Error("idempotency placeholder release failed", "key", key, "error", delErr)
		}
		return nil, err
	}

	if err := e.store.CompleteIdempotencyRecord(ctx, key, response); err != nil {
		e.logger.Error("idempotency record completion failed", "key", key, "error", err)
		// The caller still gets the real response; only replay is lost.
	}
	return response, nil
}

// awaitWinner polls for the winner's stored response with backoff.
func (e *Executor) awaitWinner(ctx context.Context, key string) ([]byte, error) {
	deadline := time.Now().Add(e.pollBudget)
	wait := e.pollInitial

	// A winner on this instance leaves an in-flight marker; when it is
	// present the first wait shrinks so the loser picks the stored
	// response up sooner.
	if e.cache != nil {
		if _, inFlight, err := e.cache.Get(ctx, cache.IdempotencyInFlightKey(key)); err == nil && inFlight {
			wait = e.pollInitial / 5
		}
	}

	for {
		record, err := e.store.GetIdempotencyRecord(ctx, key)
		if err != nil && err != store.ErrNotFound {
			e.logger.Error("idempotency record read failed", "key", key, "error", err)
			return nil, &gate.Error{Code: gate.CodeInternalError, Message: "Idempotency check failed"}
		}
		if err == nil && record.Status == models.IdempotencyCompleted {
			return record.Response, nil
		}
		// ErrNotFound means the winner failed and released the key; keep
		// polling within budget in case another retry claims it, then
		// time out.

		if time.Now().After(deadline) {
			return nil, &gate.Error{
				Code:    gate.CodeInternalError,
				Message: "Timed out waiting for a concurrent request with the same idempotency key",
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		wait = wait * 3 / 2
		if wait > e.pollMax {
			wait = e.pollMax
		}
	}
}
