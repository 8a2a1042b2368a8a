package diff

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the engine's proposal state.
type State int

const (
	StateNone State = iota
	StatePending
)

func (s State) String() string {
	if s == StatePending {
		return "pending"
	}
	return "none"
}

type event int

const (
	evProposed event = iota
	evApplied
	evApplyFailed
	evDiscarded
)

// next is the engine's transition function. A proposal arriving while one is
// pending is refused by the caller before next is consulted.
func next(s State, ev event) State {
	switch ev {
	case evProposed:
		return StatePending
	case evApplied, evDiscarded:
		return StateNone
	default:
		return s
	}
}

var (
	// ErrProposalPending rejects a save while a proposal awaits resolution.
	ErrProposalPending = errors.New("a proposal is pending; apply or discard it first")
	// ErrSaveInFlight rejects a save while a previous save has not returned.
	ErrSaveInFlight = errors.New("a save is already in progress")
	// ErrNoProposal is returned when resolving a proposal that is not pending.
	ErrNoProposal = errors.New("no pending proposal")
	// ErrApplyInFlight rejects a second apply of the same proposal while the
	// first is outstanding.
	ErrApplyInFlight = errors.New("apply already in progress")
	// ErrSaveAbandoned is returned by Propose for a save the engine was reset
	// out from under.
	ErrSaveAbandoned = errors.New("save abandoned by reset")
)

// ConflictError reports a save attempted while a proposal is pending.
type ConflictError struct {
	Pending Proposal
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("proposal %s for %s is pending; apply or discard it first", e.Pending.ID, e.Pending.Path)
}

func (e *ConflictError) Unwrap() error { return ErrProposalPending }

// Applier commits a proposal on the backend.
type Applier func(ctx context.Context, id string) error

// Ticket identifies one save from Begin to its Finish or Propose.
type Ticket uint64

// Engine holds at most one pending proposal.
type Engine struct {
	mu       sync.Mutex
	state    State
	pending  Proposal
	saving   bool
	applying bool
	// gen is the ticket of the current save; Reset also bumps it
	gen Ticket
}

func NewEngine() *Engine {
	return &Engine{}
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pending returns the pending proposal, if any.
func (e *Engine) Pending() (Proposal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending, e.state == StatePending
}

// Begin reserves the engine for one save. Every successful Begin must be
// followed by Finish or Propose with the returned ticket.
func (e *Engine) Begin() (Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePending {
		return 0, &ConflictError{Pending: e.pending}
	}
	if e.saving {
		return 0, ErrSaveInFlight
	}
	e.gen++
	e.saving = true
	return e.gen, nil
}

// Finish ends a save that produced no proposal. A ticket from before the last
// Reset is ignored.
func (e *Engine) Finish(t Ticket) {
	e.mu.Lock()
	if t == e.gen {
		e.saving = false
	}
	e.mu.Unlock()
}

// Propose records the proposal a save returned and ends the save. A ticket
// that is not the current save's gets ErrSaveAbandoned and changes nothing.
func (e *Engine) Propose(t Ticket, p Proposal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t != e.gen || !e.saving {
		return ErrSaveAbandoned
	}
	e.saving = false
	if e.state == StatePending {
		return &ConflictError{Pending: e.pending}
	}
	e.pending = p
	e.state = next(e.state, evProposed)
	return nil
}

// Apply commits the pending proposal with id. On failure the proposal stays
// pending. Applying an id that is not pending returns ErrNoProposal and does
// nothing.
func (e *Engine) Apply(ctx context.Context, id string, apply Applier) error {
	e.mu.Lock()
	if e.state != StatePending || e.pending.ID != id {
		e.mu.Unlock()
		return ErrNoProposal
	}
	if e.applying {
		e.mu.Unlock()
		return ErrApplyInFlight
	}
	e.applying = true
	e.mu.Unlock()

	err := apply(ctx, id)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.applying = false
	if err != nil {
		e.state = next(e.state, evApplyFailed)
		return err
	}
	// a discard or reset may have raced the request
	if e.state == StatePending && e.pending.ID == id {
		e.pending = Proposal{}
		e.state = next(e.state, evApplied)
	}
	return nil
}

// Discard drops the pending proposal without contacting the backend. It
// reports whether there was anything to drop.
func (e *Engine) Discard() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePending {
		return false
	}
	e.pending = Proposal{}
	e.state = next(e.state, evDiscarded)
	return true
}

// Reset returns the engine to its initial state, abandoning any save or
// proposal.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.state = StateNone
	e.pending = Proposal{}
	e.saving = false
	e.applying = false
	e.gen++
	e.mu.Unlock()
}
