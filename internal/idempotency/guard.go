// Package idempotency decides whether an external event has been seen
// before. Webhook delivery is at-least-once; this guard is what turns it
// into exactly-once application.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/cartops-systems/cartops-gateway/internal/models"
	"github.com/cartops-systems/cartops-gateway/internal/store"
)

// Decision is the admit verdict for one (source, external id) key.
type Decision int

const (
	FirstSeen Decision = iota
	Duplicate
)

// KeyStore is the store surface the guard needs: an insert that is atomic
// under the store's unique constraint, and a delete to undo an admission
// whose dispatch failed. No read-then-write.
type KeyStore interface {
	InsertIdempotencyKey(ctx context.Context, source, externalID string) error
	DeleteIdempotencyKey(ctx context.Context, source, externalID string) error
}

type Guard struct {
	store KeyStore
}

func NewGuard(store KeyStore) *Guard {
	return &Guard{store: store}
}

// Admit returns FirstSeen for exactly one caller per key, across concurrent
// and retried deliveries; every other caller gets Duplicate. The atomicity
// lives entirely in the store's constraint, so concurrent retries serialize
// only at this one insert.
func (g *Guard) Admit(ctx context.Context, source models.Source, externalID string) (Decision, error) {
	err := g.store.InsertIdempotencyKey(ctx, string(source), externalID)
	if errors.Is(err, store.ErrDuplicateKey) {
		return Duplicate, nil
	}
	if err != nil {
		return FirstSeen, fmt.Errorf("idempotency check failed: %w", err)
	}
	return FirstSeen, nil
}

// Release removes a key admitted earlier in the same request. Callers use
// it when the dispatch the admission covered failed: a key must only
// survive a delivery whose side effect committed, or the provider's retry
// is acknowledged as a duplicate with nothing recorded.
func (g *Guard) Release(ctx context.Context, source models.Source, externalID string) error {
	if err := g.store.DeleteIdempotencyKey(ctx, string(source), externalID); err != nil {
		return fmt.Errorf("idempotency release failed: %w", err)
	}
	return nil
}
