// Package lifecycle implements the primary manuscript state machine:
// submission, pre-check entry, revision requests, author resubmission and
// the final accept/reject decision. Pre-check sub-stage transitions live in
// internal/precheck; post-acceptance production lives in internal/production.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"scriptoria.org/internal/audit"
	"scriptoria.org/internal/authz"
	"scriptoria.org/internal/ids"
	"scriptoria.org/internal/manuscript"
	"scriptoria.org/internal/notify"
	"scriptoria.org/internal/obs"
)

const machine = "lifecycle"

// RevisionDecision is the severity of an editor's revision request.
type RevisionDecision string

const (
	RevisionMinor RevisionDecision = "minor"
	RevisionMajor RevisionDecision = "major"
)

// FinalVerdict is the outcome of the final editorial decision.
type FinalVerdict string

const (
	VerdictAccept FinalVerdict = "accept"
	VerdictReject FinalVerdict = "reject"
)

// PDFScheduler queues asynchronous rendering of the accepted manuscript.
// Scheduling is best-effort; failures are logged and swallowed.
type PDFScheduler interface {
	ScheduleRender(ctx context.Context, manuscriptID string) error
}

// PDFSchedulerFunc adapts a function to PDFScheduler.
type PDFSchedulerFunc func(ctx context.Context, manuscriptID string) error

func (f PDFSchedulerFunc) ScheduleRender(ctx context.Context, manuscriptID string) error {
	return f(ctx, manuscriptID)
}

// Service executes the primary lifecycle transitions.
type Service struct {
	manuscripts manuscript.Store
	invoices    manuscript.InvoiceStore
	reviews     manuscript.ReviewStore
	ledger      *audit.Ledger
	auth        *authz.Authorizer
	dispatch    notify.Dispatcher
	pdf         PDFScheduler
	now         func() time.Time
}

// NewService wires the lifecycle machine. pdf may be nil when no renderer
// is attached (development, tests).
func NewService(
	store manuscript.Store,
	invoices manuscript.InvoiceStore,
	reviews manuscript.ReviewStore,
	ledger *audit.Ledger,
	auth *authz.Authorizer,
	dispatch notify.Dispatcher,
	pdf PDFScheduler,
) *Service {
	return &Service{
		manuscripts: store,
		invoices:    invoices,
		reviews:     reviews,
		ledger:      ledger,
		auth:        auth,
		dispatch:    dispatch,
		pdf:         pdf,
		now:         time.Now,
	}
}

func resourceFor(m *manuscript.Manuscript) authz.Resource {
	return authz.Resource{
		ManuscriptID:      m.ID,
		JournalID:         m.JournalID,
		AuthorID:          m.AuthorID,
		OwnerID:           m.OwnerID,
		AssistantEditorID: m.AssistantEditorID,
	}
}

// SubmissionRequest creates a new manuscript.
type SubmissionRequest struct {
	Title     string `json:"title"`
	JournalID string `json:"journal_id"`
}

// CreateSubmission registers a manuscript at status submitted and
// immediately moves it into pre-check intake (a system transition with no
// acting user recorded).
func (s *Service) CreateSubmission(ctx context.Context, actor authz.Actor, req SubmissionRequest) (*manuscript.Manuscript, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, manuscript.Validationf("title", "is required")
	}
	if req.JournalID == "" {
		return nil, manuscript.Validationf("journal_id", "is required")
	}
	if err := s.auth.Can(ctx, actor, authz.ActionManuscriptSubmit, authz.Resource{JournalID: req.JournalID, AuthorID: actor.ID}); err != nil {
		return nil, err
	}
	m := &manuscript.Manuscript{
		ID:        ids.New(),
		Title:     strings.TrimSpace(req.Title),
		Status:    manuscript.StatusSubmitted,
		Version:   1,
		AuthorID:  actor.ID,
		JournalID: req.JournalID,
	}
	if err := s.manuscripts.Create(ctx, m); err != nil {
		return nil, err
	}
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   "",
		ToStatus:     string(manuscript.StatusSubmitted),
		ChangedBy:    actor.ID,
		Payload:      map[string]any{audit.KeyAction: "manuscript_submit"},
	})
	return s.BeginPreCheck(ctx, m.ID)
}

// BeginPreCheck is the system transition submitted → pre_check/intake.
func (s *Service) BeginPreCheck(ctx context.Context, manuscriptID string) (*manuscript.Manuscript, error) {
	expect := manuscript.Expectation{Statuses: []manuscript.Status{manuscript.StatusSubmitted}}
	applied, err := s.manuscripts.UpdateStatus(ctx, manuscriptID, expect, manuscript.Change{
		Status: manuscript.StatusPreCheck,
		Stage:  manuscript.PreCheckIntake,
	})
	if err != nil {
		return nil, err
	}
	cur, gerr := s.manuscripts.Get(ctx, manuscriptID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if cur.Status == manuscript.StatusPreCheck && cur.PreCheckStatus == manuscript.PreCheckIntake {
			obs.ObserveTransition(machine, "begin_precheck", obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, "begin_precheck", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID: manuscriptID,
			Expected:     expect.Statuses,
			Current:      cur.Status,
		}
	}
	obs.ObserveTransition(machine, "begin_precheck", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: manuscriptID,
		FromStatus:   string(manuscript.StatusSubmitted),
		ToStatus:     string(manuscript.StatusPreCheck),
		Payload: map[string]any{
			audit.KeyAction:     "precheck_begin",
			audit.KeyPreCheckTo: string(manuscript.PreCheckIntake),
			audit.KeySource:     "system",
		},
	})
	return cur, nil
}

// Get loads one manuscript after an authorization check.
func (s *Service) Get(ctx context.Context, actor authz.Actor, manuscriptID string) (*manuscript.Manuscript, error) {
	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionManuscriptViewDetail, resourceFor(m)); err != nil {
		return nil, err
	}
	return m, nil
}

// ListTransitions exposes the manuscript's audit trail, most recent first.
func (s *Service) ListTransitions(ctx context.Context, actor authz.Actor, manuscriptID string) ([]audit.Entry, error) {
	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionManuscriptTransitions, resourceFor(m)); err != nil {
		return nil, err
	}
	return s.ledger.List(ctx, manuscriptID)
}

// RevisionRequest asks the author for a minor or major revision.
type RevisionRequest struct {
	Decision       RevisionDecision `json:"decision"`
	Comment        string           `json:"comment"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// revisionSources are the statuses an editor may request a revision from.
var revisionSources = []manuscript.Status{
	manuscript.StatusUnderReview,
	manuscript.StatusResubmitted,
	manuscript.StatusDecision,
}

// RequestRevision moves the manuscript to minor_revision or major_revision
// and cancels every pending review assignment.
func (s *Service) RequestRevision(ctx context.Context, actor authz.Actor, manuscriptID string, req RevisionRequest) (*manuscript.Manuscript, error) {
	var target manuscript.Status
	switch req.Decision {
	case RevisionMinor:
		target = manuscript.StatusMinorRevision
	case RevisionMajor:
		target = manuscript.StatusMajorRevision
	default:
		return nil, manuscript.Validationf("decision", "must be one of minor, major")
	}
	if req.Comment == "" {
		return nil, manuscript.Validationf("comment", "is required for a revision request")
	}

	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionDecisionRequestRevision, resourceFor(m)); err != nil {
		obs.ObserveTransition(machine, "request_revision", obs.OutcomeForbidden)
		return nil, err
	}

	if m.Status == target {
		obs.ObserveTransition(machine, "request_revision", obs.OutcomeIdempotent)
		return m, nil
	}
	if !slices.Contains(revisionSources, m.Status) {
		obs.ObserveTransition(machine, "request_revision", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID: m.ID,
			Expected:     revisionSources,
			Current:      m.Status,
		}
	}

	// The write is pinned to the observed source so the audit entry records
	// exactly the status the transition left.
	expect := manuscript.Expectation{Statuses: []manuscript.Status{m.Status}}
	applied, err := s.manuscripts.UpdateStatus(ctx, m.ID, expect, manuscript.Change{Status: target})
	if err != nil {
		return nil, err
	}
	cur, gerr := s.manuscripts.Get(ctx, m.ID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if cur.Status == target {
			obs.ObserveTransition(machine, "request_revision", obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, "request_revision", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID: m.ID,
			Expected:     revisionSources,
			Current:      cur.Status,
		}
	}

	// Pending reviewers must not keep working on a withdrawn round. This is
	// a required side effect: failures propagate, the caller retries.
	cancelled, err := s.reviews.CancelPending(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel pending reviews: %w", err)
	}

	obs.ObserveTransition(machine, "request_revision", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(m.Status),
		ToStatus:     string(target),
		ChangedBy:    actor.ID,
		Comment:      req.Comment,
		Payload: map[string]any{
			audit.KeyAction:      "revision_request",
			audit.KeyDecision:    string(req.Decision),
			audit.KeyIdempotency: req.IdempotencyKey,
			"reviews_cancelled":  cancelled,
		},
	})
	s.dispatch.Notify(ctx, notify.Notification{
		UserID:       m.AuthorID,
		ManuscriptID: m.ID,
		Title:        fmt.Sprintf("A %s revision of your manuscript was requested", req.Decision),
		Content:      req.Comment,
		ActionURL:    "/manuscripts/" + m.ID,
	})
	return cur, nil
}

// ResubmissionRequest is the author's revised version.
type ResubmissionRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SubmitResubmission records the author's revision. The version always
// bumps. After a major revision the previous round's completed reviewers
// are re-invited and the manuscript goes straight back to under_review;
// after a minor revision it parks at resubmitted for the editor.
func (s *Service) SubmitResubmission(ctx context.Context, actor authz.Actor, manuscriptID string, req ResubmissionRequest) (*manuscript.Manuscript, error) {
	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionManuscriptResubmit, resourceFor(m)); err != nil {
		obs.ObserveTransition(machine, "resubmit", obs.OutcomeForbidden)
		return nil, err
	}

	var from, target manuscript.Status
	switch m.Status {
	case manuscript.StatusMajorRevision:
		from, target = manuscript.StatusMajorRevision, manuscript.StatusUnderReview
	case manuscript.StatusMinorRevision:
		from, target = manuscript.StatusMinorRevision, manuscript.StatusResubmitted
	default:
		return nil, &manuscript.ConflictError{
			ManuscriptID: m.ID,
			Expected:     []manuscript.Status{manuscript.StatusMajorRevision, manuscript.StatusMinorRevision},
			Current:      m.Status,
		}
	}

	expect := manuscript.Expectation{Statuses: []manuscript.Status{from}}
	applied, err := s.manuscripts.UpdateStatus(ctx, m.ID, expect, manuscript.Change{
		Status:      target,
		BumpVersion: true,
	})
	if err != nil {
		return nil, err
	}
	cur, gerr := s.manuscripts.Get(ctx, m.ID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if cur.Status == target && cur.Version > m.Version {
			obs.ObserveTransition(machine, "resubmit", obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, "resubmit", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID: m.ID,
			Expected:     expect.Statuses,
			Current:      cur.Status,
		}
	}

	payload := map[string]any{
		audit.KeyAction:        "manuscript_resubmit",
		audit.KeySource:        "author_resubmission",
		audit.KeyVersionBefore: m.Version,
		audit.KeyVersionAfter:  cur.Version,
		audit.KeyIdempotency:   req.IdempotencyKey,
	}
	if from == manuscript.StatusMajorRevision {
		// Re-open review with the reviewers who completed the last round.
		created, err := s.reviews.CloneCompleted(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("reopen review round: %w", err)
		}
		payload[audit.KeyReviewsCreated] = len(created)
		for _, a := range created {
			s.dispatch.Notify(ctx, notify.Notification{
				UserID:       a.ReviewerID,
				ManuscriptID: m.ID,
				Title:        "A revised manuscript is ready for re-review",
				ActionURL:    "/manuscripts/" + m.ID,
			})
		}
	}

	obs.ObserveTransition(machine, "resubmit", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(from),
		ToStatus:     string(target),
		ChangedBy:    actor.ID,
		Payload:      payload,
	})
	return cur, nil
}

// FinalDecisionRequest is the editor's accept/reject verdict.
type FinalDecisionRequest struct {
	Verdict        FinalVerdict `json:"verdict"`
	Comment        string       `json:"comment,omitempty"`
	APCAmount      int64        `json:"apc_amount"` // minor units; accept only
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
}

// decisionChain returns the intermediate statuses between from and the
// decision_done state. Each link is its own audited sub-transition.
func decisionChain(from manuscript.Status) ([]manuscript.Status, bool) {
	switch from {
	case manuscript.StatusResubmitted:
		return []manuscript.Status{manuscript.StatusDecision, manuscript.StatusDecisionDone}, true
	case manuscript.StatusDecision:
		return []manuscript.Status{manuscript.StatusDecisionDone}, true
	case manuscript.StatusDecisionDone:
		return nil, true
	}
	return nil, false
}

// SubmitFinalDecision walks the manuscript through the decision chain and
// lands it at approved or rejected. Rejecting a manuscript that has reached
// production is a validation error. Accepting upserts the APC invoice (paid
// immediately when the amount is zero) and schedules PDF rendering.
// Retrying an accept with identical input is idempotent.
func (s *Service) SubmitFinalDecision(ctx context.Context, actor authz.Actor, manuscriptID string, req FinalDecisionRequest) (*manuscript.Manuscript, error) {
	var target manuscript.Status
	switch req.Verdict {
	case VerdictAccept:
		if req.APCAmount < 0 {
			return nil, manuscript.Validationf("apc_amount", "must be >= 0")
		}
		target = manuscript.StatusApproved
	case VerdictReject:
		target = manuscript.StatusRejected
	default:
		return nil, manuscript.Validationf("verdict", "must be one of accept, reject")
	}

	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionDecisionSubmitFinal, resourceFor(m)); err != nil {
		obs.ObserveTransition(machine, "final_decision", obs.OutcomeForbidden)
		return nil, err
	}

	// Manuscripts already in production are protected from rejection.
	if req.Verdict == VerdictReject && manuscript.InProduction(m.Status) {
		obs.ObserveTransition(machine, "final_decision", obs.OutcomeConflict)
		return nil, manuscript.Validationf("verdict", "manuscript has been approved and can no longer be rejected")
	}

	// Idempotent replay of an identical verdict.
	if m.Status == target {
		obs.ObserveTransition(machine, "final_decision", obs.OutcomeIdempotent)
		if req.Verdict == VerdictAccept {
			if err := s.ensureInvoice(ctx, m, req.APCAmount); err != nil {
				return nil, err
			}
		}
		return m, nil
	}

	chain, ok := decisionChain(m.Status)
	if !ok {
		obs.ObserveTransition(machine, "final_decision", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID: m.ID,
			Expected: []manuscript.Status{
				manuscript.StatusResubmitted,
				manuscript.StatusDecision,
				manuscript.StatusDecisionDone,
			},
			Current: m.Status,
		}
	}

	prev := m.Status
	for _, step := range append(chain, target) {
		expect := manuscript.Expectation{Statuses: []manuscript.Status{prev}}
		applied, err := s.manuscripts.UpdateStatus(ctx, m.ID, expect, manuscript.Change{Status: step})
		if err != nil {
			return nil, err
		}
		if !applied {
			cur, gerr := s.manuscripts.Get(ctx, m.ID)
			if gerr != nil {
				return nil, gerr
			}
			if cur.Status != step {
				obs.ObserveTransition(machine, "final_decision", obs.OutcomeConflict)
				return nil, &manuscript.ConflictError{
					ManuscriptID: m.ID,
					Expected:     expect.Statuses,
					Current:      cur.Status,
				}
			}
			// Another identical attempt got there first; fall through.
		} else {
			s.ledger.Record(ctx, audit.Entry{
				ManuscriptID: m.ID,
				FromStatus:   string(prev),
				ToStatus:     string(step),
				ChangedBy:    actor.ID,
				Comment:      req.Comment,
				Payload: map[string]any{
					audit.KeyAction:      "final_decision",
					audit.KeyDecision:    string(req.Verdict),
					audit.KeyIdempotency: req.IdempotencyKey,
				},
			})
		}
		prev = step
	}

	cur, err := s.manuscripts.Get(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	if req.Verdict == VerdictAccept {
		// The invoice is required for correctness: a failure here leaves the
		// status already changed and propagates, and the caller retries.
		if err := s.ensureInvoice(ctx, cur, req.APCAmount); err != nil {
			return nil, err
		}
		if s.pdf != nil {
			if err := s.pdf.ScheduleRender(ctx, cur.ID); err != nil {
				obs.Warn("pdf render scheduling failed", map[string]any{
					"manuscript_id": cur.ID,
					"error":         err.Error(),
				})
			}
		}
	}

	obs.ObserveTransition(machine, "final_decision", obs.OutcomeApplied)
	title := "Your manuscript was accepted"
	if req.Verdict == VerdictReject {
		title = "Your manuscript was rejected"
	}
	s.dispatch.Notify(ctx, notify.Notification{
		UserID:       cur.AuthorID,
		ManuscriptID: cur.ID,
		Title:        title,
		Content:      req.Comment,
		ActionURL:    "/manuscripts/" + cur.ID,
	})
	return cur, nil
}

func (s *Service) ensureInvoice(ctx context.Context, m *manuscript.Manuscript, amount int64) error {
	// A replayed accept must not disturb an invoice that may have been paid
	// or waived since the first attempt.
	if _, err := s.invoices.GetInvoice(ctx, m.ID); err == nil {
		return nil
	} else if !errors.Is(err, manuscript.ErrNotFound) {
		return fmt.Errorf("check invoice: %w", err)
	}
	inv := &manuscript.Invoice{
		ManuscriptID: m.ID,
		Amount:       amount,
		Status:       manuscript.InvoiceUnpaid,
	}
	if amount == 0 {
		now := s.now().UTC()
		inv.Status = manuscript.InvoicePaid
		inv.ConfirmedAt = &now
	}
	if err := s.invoices.Upsert(ctx, inv); err != nil {
		return fmt.Errorf("upsert invoice: %w", err)
	}
	return nil
}
