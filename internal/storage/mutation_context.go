package storage

import (
	"context"
	"sync"

	"relstore/internal/dbexec"
	"relstore/internal/event"
)

type mutationContextKey struct{}

type pendingEvents struct {
	sinks  []event.Sink
	events []event.MutationEvent
}

// MutationContext holds a shared transaction for one or more storage
// operations. Events are held back until the transaction commits and are
// dropped on rollback.
type MutationContext struct {
	tx        dbexec.Tx
	hasError  bool
	finalized bool
	pending   []pendingEvents
	mu        sync.Mutex
}

func NewMutationContext(tx dbexec.Tx) *MutationContext {
	return &MutationContext{tx: tx}
}

func (mc *MutationContext) Tx() dbexec.Tx {
	return mc.tx
}

func (mc *MutationContext) MarkError() {
	mc.mu.Lock()
	mc.hasError = true
	mc.mu.Unlock()
}

// Record queues events for delivery to sinks on commit. Nil sinks are skipped.
func (mc *MutationContext) Record(events []event.MutationEvent, sinks ...event.Sink) {
	if len(events) == 0 {
		return
	}
	var targets []event.Sink
	for _, s := range sinks {
		if s != nil {
			targets = append(targets, s)
		}
	}
	mc.mu.Lock()
	mc.pending = append(mc.pending, pendingEvents{sinks: targets, events: events})
	mc.mu.Unlock()
}

// Finalize commits or rolls back the transaction based on the error state.
// On commit the queued events are delivered in order and returned.
// It holds the lock through the entire operation so MarkError cannot slip in
// between checking hasError and committing.
func (mc *MutationContext) Finalize() ([]event.MutationEvent, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.finalized {
		return nil, nil
	}
	mc.finalized = true

	if mc.hasError {
		mc.pending = nil
		return nil, mc.tx.Rollback()
	}
	if err := mc.tx.Commit(); err != nil {
		mc.pending = nil
		return nil, err
	}
	var delivered []event.MutationEvent
	for _, p := range mc.pending {
		for _, s := range p.sinks {
			s.Append(p.events...)
		}
		delivered = append(delivered, p.events...)
	}
	mc.pending = nil
	return delivered, nil
}

func WithMutationContext(ctx context.Context, mc *MutationContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, mutationContextKey{}, mc)
}

func MutationContextFromContext(ctx context.Context) *MutationContext {
	if ctx == nil {
		return nil
	}
	mc, _ := ctx.Value(mutationContextKey{}).(*MutationContext)
	return mc
}

// directTx runs statements outside a transaction for databases that cannot
// open one.
type directTx struct {
	dbexec.Database
}

func (directTx) Commit() error   { return nil }
func (directTx) Rollback() error { return nil }
