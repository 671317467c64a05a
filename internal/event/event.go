// Package event defines the mutation events emitted by the mutation engine.
package event

import (
	"sync"

	"github.com/google/uuid"
)

// Type is the kind of a mutation.
type Type string

const (
	Create Type = "create"
	Update Type = "update"
	Delete Type = "delete"
)

// Record is a record as carried by an event: attribute name to value, with
// references as nested maps holding at least "id".
type Record = map[string]any

// MutationEvent describes one logical create, update or delete.
type MutationEvent struct {
	ID         string
	Type       Type
	RecordName string
	Record     Record
	OldRecord  Record
}

// New builds an event with a fresh id.
func New(t Type, recordName string, record, oldRecord Record) MutationEvent {
	return MutationEvent{
		ID:         uuid.NewString(),
		Type:       t,
		RecordName: recordName,
		Record:     record,
		OldRecord:  oldRecord,
	}
}

// Sink receives events in causal order.
type Sink interface {
	Append(events ...MutationEvent)
}

// Log is an in-memory Sink. The zero value is ready to use.
type Log struct {
	mu     sync.Mutex
	events []MutationEvent
}

// Append adds events. A nil Log discards them.
func (l *Log) Append(events ...MutationEvent) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, events...)
	l.mu.Unlock()
}

// Events returns a copy of the collected events.
func (l *Log) Events() []MutationEvent {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MutationEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of collected events.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Reset drops the collected events.
func (l *Log) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}
