// Package ledger tracks consecutive evolution failures per function identity.
// The state is process-local and never persisted; a restart grants every
// function a fresh attempt budget.
package ledger

import (
	"sync"

	"github.com/xkilldash9x/lazarus/api/schemas"
)

// Ledger is a concurrency-safe counter map keyed by function identity.
type Ledger struct {
	mu     sync.Mutex
	counts map[schemas.FunctionIdentity]int
}

// New returns an empty ledger. Every identity starts at zero.
func New() *Ledger {
	return &Ledger{counts: make(map[schemas.FunctionIdentity]int)}
}

// RecordFailure increments the consecutive-failure count for the identity and
// returns the new count.
func (l *Ledger) RecordFailure(id schemas.FunctionIdentity) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[id]++
	return l.counts[id]
}

// Reset clears the count for the identity. Called only after a candidate has
// been fully committed.
func (l *Ledger) Reset(id schemas.FunctionIdentity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, id)
}

// Count returns the current consecutive-failure count for the identity.
func (l *Ledger) Count(id schemas.FunctionIdentity) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[id]
}
