// Package precheck implements the three-stage triage sub-workflow that runs
// while a manuscript's status is pre_check: intake (managing editor),
// technical (assigned assistant editor) and academic (editor-in-chief).
//
// Every operation follows the same discipline: authorize, attempt a
// conditional update restating the expected pre-state, and on a zero-row
// result re-read to classify the outcome as idempotent success or conflict.
package precheck

import (
	"context"
	"time"

	"scriptoria.org/internal/audit"
	"scriptoria.org/internal/authz"
	"scriptoria.org/internal/manuscript"
	"scriptoria.org/internal/notify"
	"scriptoria.org/internal/obs"
)

const machine = "precheck"

// TechnicalDecision is the assistant editor's verdict.
type TechnicalDecision string

const (
	TechnicalPass     TechnicalDecision = "pass"
	TechnicalAcademic TechnicalDecision = "academic"
	TechnicalRevision TechnicalDecision = "revision"
)

// AcademicDecision is the editor-in-chief's verdict.
type AcademicDecision string

const (
	AcademicReview        AcademicDecision = "review"
	AcademicDecisionPhase AcademicDecision = "decision_phase"
)

// Service executes the pre-check transitions.
type Service struct {
	manuscripts manuscript.Store
	ledger      *audit.Ledger
	auth        *authz.Authorizer
	dispatch    notify.Dispatcher
	now         func() time.Time
}

// NewService wires the sub-workflow.
func NewService(store manuscript.Store, ledger *audit.Ledger, auth *authz.Authorizer, dispatch notify.Dispatcher) *Service {
	return &Service{
		manuscripts: store,
		ledger:      ledger,
		auth:        auth,
		dispatch:    dispatch,
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

// AssignAERequest assigns (or re-assigns) the assistant editor.
type AssignAERequest struct {
	AssistantEditorID string `json:"assistant_editor_id"`
	// StartExternalReview chains straight into under_review after the
	// assignment; each chained step writes its own audit entry.
	StartExternalReview bool   `json:"start_external_review"`
	IdempotencyKey      string `json:"idempotency_key,omitempty"`
}

// AssignAE moves the manuscript from intake (or technical, for a
// re-assignment) to technical with the given assistant editor. Re-assigning
// the same editor is a no-op. The managing editor becomes owner when the
// manuscript has none.
func (s *Service) AssignAE(ctx context.Context, actor authz.Actor, manuscriptID string, req AssignAERequest) (*manuscript.Manuscript, error) {
	if req.AssistantEditorID == "" {
		return nil, manuscript.Validationf("assistant_editor_id", "is required")
	}
	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionPrecheckAssignAE, resourceFor(m)); err != nil {
		obs.ObserveTransition(machine, "assign_ae", obs.OutcomeForbidden)
		return nil, err
	}

	expect := manuscript.Expectation{
		Statuses: []manuscript.Status{manuscript.StatusPreCheck},
		Stages:   []manuscript.PreCheckStatus{manuscript.PreCheckIntake, manuscript.PreCheckTechnical},
	}
	assigned := m.Status == manuscript.StatusPreCheck &&
		m.PreCheckStatus == manuscript.PreCheckTechnical &&
		m.AssistantEditorID == req.AssistantEditorID

	switch {
	case assigned:
		// Idempotent re-assignment: no write, no audit entry.
		obs.ObserveTransition(machine, "assign_ae", obs.OutcomeIdempotent)
	default:
		ae := req.AssistantEditorID
		applied, err := s.manuscripts.UpdateStatus(ctx, m.ID, expect, manuscript.Change{
			Status:            manuscript.StatusPreCheck,
			Stage:             manuscript.PreCheckTechnical,
			AssistantEditorID: &ae,
			BindOwner:         actor.ID,
		})
		if err != nil {
			return nil, err
		}
		if !applied {
			cur, err := s.manuscripts.Get(ctx, m.ID)
			if err != nil {
				return nil, err
			}
			sameTarget := cur.Status == manuscript.StatusPreCheck &&
				cur.PreCheckStatus == manuscript.PreCheckTechnical &&
				cur.AssistantEditorID == req.AssistantEditorID
			startedAlready := req.StartExternalReview && cur.Status == manuscript.StatusUnderReview &&
				cur.AssistantEditorID == req.AssistantEditorID
			if !sameTarget && !startedAlready {
				obs.ObserveTransition(machine, "assign_ae", obs.OutcomeConflict)
				return nil, &manuscript.ConflictError{
					ManuscriptID:  m.ID,
					Expected:      expect.Statuses,
					ExpectedStage: expect.Stages,
					Current:       cur.Status,
					CurrentStage:  cur.PreCheckStatus,
				}
			}
			obs.ObserveTransition(machine, "assign_ae", obs.OutcomeIdempotent)
			if startedAlready {
				return cur, nil
			}
			m = cur
			break
		}
		obs.ObserveTransition(machine, "assign_ae", obs.OutcomeApplied)
		s.ledger.Record(ctx, audit.Entry{
			ManuscriptID: m.ID,
			FromStatus:   string(manuscript.StatusPreCheck),
			ToStatus:     string(manuscript.StatusPreCheck),
			ChangedBy:    actor.ID,
			Payload: map[string]any{
				audit.KeyAction:       "precheck_assign_ae",
				audit.KeyPreCheckFrom: string(m.PreCheckStatus),
				audit.KeyPreCheckTo:   string(manuscript.PreCheckTechnical),
				audit.KeyAEBefore:     m.AssistantEditorID,
				audit.KeyAEAfter:      req.AssistantEditorID,
				audit.KeyIdempotency:  req.IdempotencyKey,
			},
		})
		s.dispatch.Notify(ctx, notify.Notification{
			UserID:       req.AssistantEditorID,
			ManuscriptID: m.ID,
			Title:        "Manuscript assigned for technical check",
			ActionURL:    "/manuscripts/" + m.ID,
		})
	}

	if !req.StartExternalReview {
		return s.manuscripts.Get(ctx, m.ID)
	}
	return s.startReview(ctx, actor, m.ID, req.IdempotencyKey)
}

// startReview chains pre_check/technical into under_review.
func (s *Service) startReview(ctx context.Context, actor authz.Actor, id, idemKey string) (*manuscript.Manuscript, error) {
	expect := manuscript.Expectation{
		Statuses: []manuscript.Status{manuscript.StatusPreCheck},
		Stages:   []manuscript.PreCheckStatus{manuscript.PreCheckTechnical},
	}
	applied, err := s.manuscripts.UpdateStatus(ctx, id, expect, manuscript.Change{
		Status: manuscript.StatusUnderReview,
	})
	if err != nil {
		return nil, err
	}
	cur, gerr := s.manuscripts.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if cur.Status == manuscript.StatusUnderReview {
			obs.ObserveTransition(machine, "start_review", obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, "start_review", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID:  id,
			Expected:      expect.Statuses,
			ExpectedStage: expect.Stages,
			Current:       cur.Status,
			CurrentStage:  cur.PreCheckStatus,
		}
	}
	obs.ObserveTransition(machine, "start_review", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: id,
		FromStatus:   string(manuscript.StatusPreCheck),
		ToStatus:     string(manuscript.StatusUnderReview),
		ChangedBy:    actor.ID,
		Payload: map[string]any{
			audit.KeyAction:       "review_start",
			audit.KeyPreCheckFrom: string(manuscript.PreCheckTechnical),
			audit.KeyPreCheckTo:   "",
			audit.KeyIdempotency:  idemKey,
		},
	})
	return cur, nil
}

// IntakeRevisionRequest returns the manuscript to the author from intake.
type IntakeRevisionRequest struct {
	Comment        string `json:"comment"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// RequestIntakeRevision moves intake → minor_revision with a mandatory
// comment. Idempotent when the manuscript is already in minor_revision.
func (s *Service) RequestIntakeRevision(ctx context.Context, actor authz.Actor, manuscriptID string, req IntakeRevisionRequest) (*manuscript.Manuscript, error) {
	if req.Comment == "" {
		return nil, manuscript.Validationf("comment", "is required for a revision request")
	}
	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionPrecheckIntakeRevision, resourceFor(m)); err != nil {
		obs.ObserveTransition(machine, "intake_revision", obs.OutcomeForbidden)
		return nil, err
	}
	expect := manuscript.Expectation{
		Statuses: []manuscript.Status{manuscript.StatusPreCheck},
		Stages:   []manuscript.PreCheckStatus{manuscript.PreCheckIntake},
	}
	applied, err := s.manuscripts.UpdateStatus(ctx, m.ID, expect, manuscript.Change{
		Status: manuscript.StatusMinorRevision,
	})
	if err != nil {
		return nil, err
	}
	cur, gerr := s.manuscripts.Get(ctx, m.ID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if cur.Status == manuscript.StatusMinorRevision {
			obs.ObserveTransition(machine, "intake_revision", obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, "intake_revision", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID:  m.ID,
			Expected:      expect.Statuses,
			ExpectedStage: expect.Stages,
			Current:       cur.Status,
			CurrentStage:  cur.PreCheckStatus,
		}
	}
	obs.ObserveTransition(machine, "intake_revision", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(manuscript.StatusPreCheck),
		ToStatus:     string(manuscript.StatusMinorRevision),
		ChangedBy:    actor.ID,
		Comment:      req.Comment,
		Payload: map[string]any{
			audit.KeyAction:       "precheck_intake_revision",
			audit.KeyPreCheckFrom: string(manuscript.PreCheckIntake),
			audit.KeyPreCheckTo:   "",
			audit.KeyIdempotency:  req.IdempotencyKey,
		},
	})
	s.dispatch.Notify(ctx, notify.Notification{
		UserID:       m.AuthorID,
		ManuscriptID: m.ID,
		Title:        "Revision requested before review",
		Content:      req.Comment,
		ActionURL:    "/manuscripts/" + m.ID,
	})
	return cur, nil
}

// TechnicalCheckRequest is the assigned assistant editor's verdict.
type TechnicalCheckRequest struct {
	Decision       TechnicalDecision `json:"decision"`
	Comment        string            `json:"comment,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// SubmitTechnicalCheck resolves the technical stage. Only the assigned
// assistant editor (or an admin) may call it.
func (s *Service) SubmitTechnicalCheck(ctx context.Context, actor authz.Actor, manuscriptID string, req TechnicalCheckRequest) (*manuscript.Manuscript, error) {
	var target manuscript.Status
	var stage manuscript.PreCheckStatus
	switch req.Decision {
	case TechnicalPass:
		target = manuscript.StatusUnderReview
	case TechnicalAcademic:
		target, stage = manuscript.StatusPreCheck, manuscript.PreCheckAcademic
	case TechnicalRevision:
		if req.Comment == "" {
			return nil, manuscript.Validationf("comment", "is required for a revision decision")
		}
		target = manuscript.StatusMinorRevision
	default:
		return nil, manuscript.Validationf("decision", "must be one of pass, academic, revision")
	}

	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionPrecheckTechnicalCheck, resourceFor(m)); err != nil {
		obs.ObserveTransition(machine, "technical_check", obs.OutcomeForbidden)
		return nil, err
	}
	expect := manuscript.Expectation{
		Statuses: []manuscript.Status{manuscript.StatusPreCheck},
		Stages:   []manuscript.PreCheckStatus{manuscript.PreCheckTechnical},
	}
	applied, err := s.manuscripts.UpdateStatus(ctx, m.ID, expect, manuscript.Change{
		Status: target,
		Stage:  stage,
	})
	if err != nil {
		return nil, err
	}
	cur, gerr := s.manuscripts.Get(ctx, m.ID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if cur.Status == target && cur.PreCheckStatus == stage {
			obs.ObserveTransition(machine, "technical_check", obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, "technical_check", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID:  m.ID,
			Expected:      expect.Statuses,
			ExpectedStage: expect.Stages,
			Current:       cur.Status,
			CurrentStage:  cur.PreCheckStatus,
		}
	}
	obs.ObserveTransition(machine, "technical_check", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(manuscript.StatusPreCheck),
		ToStatus:     string(target),
		ChangedBy:    actor.ID,
		Comment:      req.Comment,
		Payload: map[string]any{
			audit.KeyAction:       "precheck_technical_check",
			audit.KeyDecision:     string(req.Decision),
			audit.KeyPreCheckFrom: string(manuscript.PreCheckTechnical),
			audit.KeyPreCheckTo:   string(stage),
			audit.KeyIdempotency:  req.IdempotencyKey,
		},
	})
	if req.Decision == TechnicalRevision {
		s.dispatch.Notify(ctx, notify.Notification{
			UserID:       m.AuthorID,
			ManuscriptID: m.ID,
			Title:        "Revision requested after technical check",
			Content:      req.Comment,
			ActionURL:    "/manuscripts/" + m.ID,
		})
	}
	return cur, nil
}

// AcademicCheckRequest is the editor-in-chief's verdict.
type AcademicCheckRequest struct {
	Decision       AcademicDecision `json:"decision"`
	Comment        string           `json:"comment,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// SubmitAcademicCheck resolves the academic stage, routing the manuscript
// to external review or straight to the decision phase.
func (s *Service) SubmitAcademicCheck(ctx context.Context, actor authz.Actor, manuscriptID string, req AcademicCheckRequest) (*manuscript.Manuscript, error) {
	var target manuscript.Status
	switch req.Decision {
	case AcademicReview:
		target = manuscript.StatusUnderReview
	case AcademicDecisionPhase:
		target = manuscript.StatusDecision
	default:
		return nil, manuscript.Validationf("decision", "must be one of review, decision_phase")
	}

	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionPrecheckAcademicCheck, resourceFor(m)); err != nil {
		obs.ObserveTransition(machine, "academic_check", obs.OutcomeForbidden)
		return nil, err
	}
	expect := manuscript.Expectation{
		Statuses: []manuscript.Status{manuscript.StatusPreCheck},
		Stages:   []manuscript.PreCheckStatus{manuscript.PreCheckAcademic},
	}
	applied, err := s.manuscripts.UpdateStatus(ctx, m.ID, expect, manuscript.Change{
		Status: target,
	})
	if err != nil {
		return nil, err
	}
	cur, gerr := s.manuscripts.Get(ctx, m.ID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if cur.Status == target {
			obs.ObserveTransition(machine, "academic_check", obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, "academic_check", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID:  m.ID,
			Expected:      expect.Statuses,
			ExpectedStage: expect.Stages,
			Current:       cur.Status,
			CurrentStage:  cur.PreCheckStatus,
		}
	}
	obs.ObserveTransition(machine, "academic_check", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(manuscript.StatusPreCheck),
		ToStatus:     string(target),
		ChangedBy:    actor.ID,
		Comment:      req.Comment,
		Payload: map[string]any{
			audit.KeyAction:       "precheck_academic_check",
			audit.KeyDecision:     string(req.Decision),
			audit.KeyPreCheckFrom: string(manuscript.PreCheckAcademic),
			audit.KeyPreCheckTo:   "",
			audit.KeyIdempotency:  req.IdempotencyKey,
		},
	})
	return cur, nil
}
