package ops

import (
	"log"
	"sync"
	"time"
)

// Tracker is the single-slot operation state machine. TryStart is the only
// admission point: it atomically checks that no non-terminal record exists
// and installs the new one, so two concurrent start requests can never both
// be accepted.
//
// Legal transitions: absent -> pending -> running -> succeeded | failed.
type Tracker struct {
	mu  sync.Mutex
	rec *Record
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// TryStart claims the operation slot for kind. It returns a *ConflictError
// carrying the running kind when a non-terminal record exists.
func (t *Tracker) TryStart(kind Kind) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rec != nil && !t.rec.Phase.Terminal() {
		return &ConflictError{Running: t.rec.Kind}
	}

	t.rec = &Record{
		Kind:      kind,
		Phase:     PhasePending,
		StartedAt: time.Now(),
	}
	return nil
}

// Begin moves the pending record for kind to running. Called by the
// operation goroutine once it is scheduled.
func (t *Tracker) Begin(kind Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rec == nil || t.rec.Kind != kind || t.rec.Phase != PhasePending {
		log.Printf("[ops] contract violation: Begin(%s) with current record %+v", kind, t.rec)
		return
	}
	t.rec.Phase = PhaseRunning
}

// Complete transitions the current record to its terminal phase: succeeded
// with a result payload, or failed with the error detail. Completing when no
// operation of that kind is running is a programming-contract violation; it
// is logged loudly and otherwise ignored.
func (t *Tracker) Complete(kind Kind, result any, opErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rec == nil || t.rec.Kind != kind || t.rec.Phase.Terminal() {
		log.Printf("[ops] contract violation: Complete(%s) with current record %+v", kind, t.rec)
		return
	}

	now := time.Now()
	t.rec.FinishedAt = &now
	if opErr != nil {
		t.rec.Phase = PhaseFailed
		t.rec.Error = opErr.Error()
		return
	}
	t.rec.Phase = PhaseSucceeded
	t.rec.Result = result
}

// Current returns a value snapshot of the record and whether one exists.
// The snapshot never aliases mutable tracker state.
func (t *Tracker) Current() (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rec == nil {
		return Record{}, false
	}
	return *t.rec, true
}
