package manuscript

import (
	"context"
	"time"
)

// Expectation restates the pre-state a conditional update requires. A write
// is applied only when the manuscript's current status (and, when Stages is
// non-empty, its pre-check sub-status) matches.
type Expectation struct {
	Statuses []Status
	Stages   []PreCheckStatus
}

// Change is the post-state written when the expectation holds. Stage is
// written as-is: the zero value clears pre_check_status, keeping the
// "sub-status iff pre_check" invariant inside the write itself.
type Change struct {
	Status            Status
	Stage             PreCheckStatus
	AssistantEditorID *string
	// BindOwner sets owner_id only when it is currently empty.
	BindOwner   string
	BumpVersion bool
	PublishedAt *time.Time
	DOI         string
}

// Store persists manuscripts. UpdateStatus is the compare-and-swap primitive
// every state machine is built on: it returns applied=false (with no error)
// when the expectation did not match, and the caller reconciles by re-reading.
type Store interface {
	Create(ctx context.Context, m *Manuscript) error
	Get(ctx context.Context, id string) (*Manuscript, error)
	UpdateStatus(ctx context.Context, id string, expect Expectation, change Change) (applied bool, err error)
}

// InvoiceStore persists the per-manuscript invoice (upsert on conflict).
type InvoiceStore interface {
	Upsert(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, manuscriptID string) (*Invoice, error)
	SetStatus(ctx context.Context, manuscriptID string, status InvoiceStatus, confirmedAt time.Time) (applied bool, err error)
}

// ReviewStore manages review assignments.
type ReviewStore interface {
	CreateReview(ctx context.Context, a *ReviewAssignment) error
	ListByManuscript(ctx context.Context, manuscriptID string) ([]ReviewAssignment, error)
	// CancelPending cancels every pending assignment for the manuscript and
	// returns how many were cancelled.
	CancelPending(ctx context.Context, manuscriptID string) (int, error)
	// CloneCompleted creates pending assignments at round max+1 for every
	// reviewer who completed the latest round, returning the new assignments.
	CloneCompleted(ctx context.Context, manuscriptID string) ([]ReviewAssignment, error)
}

// CycleChange is the post-state for a conditional production-cycle update.
type CycleChange struct {
	Status         CycleStatus
	GalleyPath     *string
	ProofDueAt     *time.Time
	BumpProofRound bool
}

// CycleStore persists production cycles and proofing responses. CreateCycle
// must rely on a store-level uniqueness constraint (not application locking)
// to reject a second active cycle for the same manuscript, surfacing it as a
// *ConflictError.
type CycleStore interface {
	CreateCycle(ctx context.Context, c *ProductionCycle) error
	GetCycle(ctx context.Context, id string) (*ProductionCycle, error)
	// ActiveCycle returns the manuscript's single non-terminal cycle, or
	// ErrCycleNotFound.
	ActiveCycle(ctx context.Context, manuscriptID string) (*ProductionCycle, error)
	// LatestCycle returns the cycle with the highest cycle_no regardless of
	// status, or ErrCycleNotFound.
	LatestCycle(ctx context.Context, manuscriptID string) (*ProductionCycle, error)
	UpdateCycle(ctx context.Context, id string, expect []CycleStatus, change CycleChange) (applied bool, err error)
	// SaveResponse persists the author's response and replaces any prior
	// correction items for it. A response already recorded for the same
	// (cycle, proof round) is a *ConflictError.
	SaveResponse(ctx context.Context, r *ProofingResponse, items []CorrectionItem) error
	GetResponse(ctx context.Context, cycleID string, proofRound int) (*ProofingResponse, error)
	ListCorrections(ctx context.Context, responseID string) ([]CorrectionItem, error)
}
