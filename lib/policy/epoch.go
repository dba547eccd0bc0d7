// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"sync"

	"github.com/outpost-labs/outpost/lib/wire"
)

// EpochStore persists the last accepted epoch per caller subject.
// Implemented by the worker's state database so replay protection
// survives worker restarts.
type EpochStore interface {
	// LastEpoch returns the last accepted epoch for subject, or
	// ok=false if the subject has never issued a power operation.
	LastEpoch(subject string) (epoch uint64, ok bool, err error)

	// SetEpoch durably records the accepted epoch for subject.
	SetEpoch(subject string, epoch uint64) error
}

// EpochGuard rejects replayed or out-of-order epoch tokens on
// power-affecting operations. An accepted epoch is persisted before
// the operation executes, so a crash between acceptance and execution
// errs on the side of rejecting the retry — re-sending a destructive
// request must never execute it twice.
type EpochGuard struct {
	store EpochStore

	// mu serializes check-then-set so two concurrent requests with
	// the same epoch cannot both pass.
	mu sync.Mutex
}

// NewEpochGuard builds a guard over the given store.
func NewEpochGuard(store EpochStore) *EpochGuard {
	return &EpochGuard{store: store}
}

// Check accepts the epoch if it strictly exceeds the last accepted
// value for subject, and records it. A missing, equal, or smaller
// epoch is rejected with a conflict.
func (g *EpochGuard) Check(subject string, epoch uint64) *wire.Error {
	if epoch == 0 {
		return wire.Errorf(wire.KindPermissionDenied,
			"power operation requires an epoch token").WithDetail("field", "epoch")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	last, ok, err := g.store.LastEpoch(subject)
	if err != nil {
		return wire.Errorf(wire.KindInternal, "reading epoch state: %v", err)
	}
	if ok && epoch <= last {
		return wire.Errorf(wire.KindConflict,
			"epoch %d does not exceed last accepted epoch %d", epoch, last).
			WithDetail("field", "epoch")
	}

	if err := g.store.SetEpoch(subject, epoch); err != nil {
		return wire.Errorf(wire.KindInternal, "recording epoch: %v", err)
	}
	return nil
}

// MemoryEpochStore is an in-memory EpochStore for the agent side and
// for tests. The agent never enforces epochs (the worker does), so
// losing this state on restart is harmless.
type MemoryEpochStore struct {
	mu     sync.Mutex
	epochs map[string]uint64
}

// NewMemoryEpochStore builds an empty in-memory store.
func NewMemoryEpochStore() *MemoryEpochStore {
	return &MemoryEpochStore{epochs: make(map[string]uint64)}
}

// LastEpoch implements EpochStore.
func (s *MemoryEpochStore) LastEpoch(subject string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	epoch, ok := s.epochs[subject]
	return epoch, ok, nil
}

// SetEpoch implements EpochStore.
func (s *MemoryEpochStore) SetEpoch(subject string, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs[subject] = epoch
	return nil
}
