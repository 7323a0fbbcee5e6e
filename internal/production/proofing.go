package production

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"scriptoria.org/internal/audit"
	"scriptoria.org/internal/authz"
	"scriptoria.org/internal/manuscript"
	"scriptoria.org/internal/notify"
	"scriptoria.org/internal/obs"
)

// CreateCycleRequest opens a new proofing cycle for an in-production
// manuscript.
type CreateCycleRequest struct {
	LayoutEditorID      string   `json:"layout_editor_id"`
	CollaboratorIDs     []string `json:"collaborator_editor_ids,omitempty"`
	ProofreaderAuthorID string   `json:"proofreader_author_id,omitempty"`
}

// CreateCycle opens the next production cycle. At most one cycle per
// manuscript may be active; the store's uniqueness constraint, not an
// application lock, rejects a concurrent second open.
func (s *Service) CreateCycle(ctx context.Context, actor authz.Actor, manuscriptID string, req CreateCycleRequest) (*manuscript.ProductionCycle, error) {
	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionProductionCreateCycle, s.resourceFor(ctx, m)); err != nil {
		obs.ObserveTransition(machine, "cycle_create", obs.OutcomeForbidden)
		return nil, err
	}
	if !manuscript.InProduction(m.Status) || m.Status == manuscript.StatusPublished {
		obs.ObserveTransition(machine, "cycle_create", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID: m.ID,
			Expected:     manuscript.ProductionChain()[:len(manuscript.ProductionChain())-1],
			Current:      m.Status,
		}
	}
	if req.LayoutEditorID == "" {
		return nil, manuscript.Validationf("layout_editor_id", "is required")
	}
	proofreader := req.ProofreaderAuthorID
	if proofreader == "" {
		proofreader = m.AuthorID
	}

	cycleNo := 1
	if last, err := s.cycles.LatestCycle(ctx, manuscriptID); err == nil {
		cycleNo = last.CycleNo + 1
	} else if !errors.Is(err, manuscript.ErrCycleNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	c := &manuscript.ProductionCycle{
		ID:                  uuid.NewString(),
		ManuscriptID:        manuscriptID,
		CycleNo:             cycleNo,
		Status:              manuscript.CycleDraft,
		LayoutEditorID:      req.LayoutEditorID,
		CollaboratorIDs:     req.CollaboratorIDs,
		ProofreaderAuthorID: proofreader,
		ProofRound:          0,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.cycles.CreateCycle(ctx, c); err != nil {
		if manuscript.IsConflict(err) {
			obs.ObserveTransition(machine, "cycle_create", obs.OutcomeConflict)
		}
		return nil, err
	}

	obs.ObserveTransition(machine, "cycle_create", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(m.Status),
		ToStatus:     string(m.Status),
		ChangedBy:    actor.ID,
		Payload: map[string]any{
			audit.KeyAction:  "production_cycle_create",
			audit.KeyCycleID: c.ID,
			"cycle_no":       c.CycleNo,
		},
	})
	return c, nil
}

// GetCycle returns a cycle with its manuscript checked for visibility.
func (s *Service) GetCycle(ctx context.Context, actor authz.Actor, cycleID string) (*manuscript.ProductionCycle, error) {
	c, err := s.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	m, err := s.manuscripts.Get(ctx, c.ManuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionManuscriptViewDetail, s.resourceFor(ctx, m)); err != nil {
		return nil, err
	}
	return c, nil
}

// UploadGalleyRequest attaches a new galley proof and opens a proof round.
type UploadGalleyRequest struct {
	GalleyPath string    `json:"galley_path"`
	ProofDueAt time.Time `json:"proof_due_at"`
}

// UploadGalley moves a cycle from draft or in_layout_revision to
// awaiting_author, bumping the proof round so the author's next response
// lands on a fresh key.
func (s *Service) UploadGalley(ctx context.Context, actor authz.Actor, cycleID string, req UploadGalleyRequest) (*manuscript.ProductionCycle, error) {
	c, err := s.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	m, err := s.manuscripts.Get(ctx, c.ManuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionProductionUploadGalley, s.resourceFor(ctx, m)); err != nil {
		obs.ObserveTransition(machine, "galley_upload", obs.OutcomeForbidden)
		return nil, err
	}
	if req.GalleyPath == "" {
		return nil, manuscript.Validationf("galley_path", "is required")
	}
	if !req.ProofDueAt.After(s.now()) {
		return nil, manuscript.Validationf("proof_due_at", "must be in the future")
	}

	expect := []manuscript.CycleStatus{manuscript.CycleDraft, manuscript.CycleInLayoutRevision}
	due := req.ProofDueAt.UTC()
	applied, err := s.cycles.UpdateCycle(ctx, cycleID, expect, manuscript.CycleChange{
		Status:         manuscript.CycleAwaitingAuthor,
		GalleyPath:     &req.GalleyPath,
		ProofDueAt:     &due,
		BumpProofRound: true,
	})
	if err != nil {
		return nil, err
	}
	cur, gerr := s.cycles.GetCycle(ctx, cycleID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if cur.Status == manuscript.CycleAwaitingAuthor && cur.GalleyPath == req.GalleyPath {
			obs.ObserveTransition(machine, "galley_upload", obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, "galley_upload", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			CycleID:       cycleID,
			ExpectedCycle: expect,
			CurrentCycle:  cur.Status,
		}
	}

	obs.ObserveTransition(machine, "galley_upload", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(m.Status),
		ToStatus:     string(m.Status),
		ChangedBy:    actor.ID,
		Payload: map[string]any{
			audit.KeyAction:     "proof_galley_upload",
			audit.KeyCycleID:    cycleID,
			audit.KeyProofRound: cur.ProofRound,
			"cycle_from":        string(c.Status),
			"cycle_to":          string(manuscript.CycleAwaitingAuthor),
		},
	})
	s.dispatch.Notify(ctx, notify.Notification{
		UserID:       c.ProofreaderAuthorID,
		ManuscriptID: m.ID,
		Title:        "Galley proof ready for your review",
		Content:      "A new proof of your article is awaiting confirmation.",
		ActionURL:    "/manuscripts/" + m.ID + "/cycles/" + cycleID,
	})
	return cur, nil
}

// CorrectionInput is one line-level correction in a proofing submission.
type CorrectionInput struct {
	Page int    `json:"page"`
	Line int    `json:"line"`
	Note string `json:"note"`
}

// ProofingRequest is the author's answer to an awaiting_author cycle.
type ProofingRequest struct {
	Decision manuscript.ProofingDecision `json:"decision"`
	Comment  string                      `json:"comment,omitempty"`
	Items    []CorrectionInput           `json:"items,omitempty"`
}

// SubmitProofreading records the proofreader author's confirm or
// corrections decision. Only the designated proofreader author may answer,
// late answers are rejected, and exactly one response per proof round is
// accepted.
func (s *Service) SubmitProofreading(ctx context.Context, actor authz.Actor, cycleID string, req ProofingRequest) (*manuscript.ProductionCycle, error) {
	c, err := s.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	m, err := s.manuscripts.Get(ctx, c.ManuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionProofingSubmit, s.resourceFor(ctx, m)); err != nil {
		obs.ObserveTransition(machine, "proofing_submit", obs.OutcomeForbidden)
		return nil, err
	}

	var target manuscript.CycleStatus
	switch req.Decision {
	case manuscript.ProofingConfirm:
		if len(req.Items) > 0 {
			return nil, manuscript.Validationf("items", "must be empty when confirming the proof")
		}
		target = manuscript.CycleAuthorConfirmed
	case manuscript.ProofingCorrections:
		if len(req.Items) == 0 {
			return nil, manuscript.Validationf("items", "at least one correction is required")
		}
		target = manuscript.CycleCorrectionsSubmitted
	default:
		return nil, manuscript.Validationf("decision", "must be %q or %q", manuscript.ProofingConfirm, manuscript.ProofingCorrections)
	}

	if c.ProofDueAt != nil && s.now().After(*c.ProofDueAt) {
		obs.ObserveTransition(machine, "proofing_submit", obs.OutcomeBlocked)
		return nil, &manuscript.GateError{Gate: manuscript.GateProofing, Reason: "proof due date has passed"}
	}

	expect := []manuscript.CycleStatus{manuscript.CycleAwaitingAuthor}
	applied, err := s.cycles.UpdateCycle(ctx, cycleID, expect, manuscript.CycleChange{Status: target})
	if err != nil {
		return nil, err
	}
	cur, gerr := s.cycles.GetCycle(ctx, cycleID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied && cur.Status != target {
		obs.ObserveTransition(machine, "proofing_submit", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			CycleID:       cycleID,
			ExpectedCycle: expect,
			CurrentCycle:  cur.Status,
		}
	}

	resp := &manuscript.ProofingResponse{
		ID:         uuid.NewString(),
		CycleID:    cycleID,
		ProofRound: c.ProofRound,
		AuthorID:   actor.ID,
		Decision:   req.Decision,
		Comment:    req.Comment,
		CreatedAt:  s.now().UTC(),
	}
	items := make([]manuscript.CorrectionItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, manuscript.CorrectionItem{
			ID:         uuid.NewString(),
			ResponseID: resp.ID,
			Page:       it.Page,
			Line:       it.Line,
			Note:       it.Note,
		})
	}
	if err := s.cycles.SaveResponse(ctx, resp, items); err != nil {
		if manuscript.IsConflict(err) && !applied {
			// A prior attempt already transitioned the cycle and recorded
			// the response for this round: retried submission, same result.
			obs.ObserveTransition(machine, "proofing_submit", obs.OutcomeIdempotent)
			return cur, nil
		}
		if manuscript.IsConflict(err) {
			obs.ObserveTransition(machine, "proofing_submit", obs.OutcomeConflict)
		}
		return nil, err
	}
	if !applied {
		// The cycle was already at the target but the response was missing;
		// the write above repaired it.
		obs.ObserveTransition(machine, "proofing_submit", obs.OutcomeIdempotent)
		return cur, nil
	}

	obs.ObserveTransition(machine, "proofing_submit", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(m.Status),
		ToStatus:     string(m.Status),
		ChangedBy:    actor.ID,
		Payload: map[string]any{
			audit.KeyAction:     "proofing_submit",
			audit.KeyDecision:   string(req.Decision),
			audit.KeyCycleID:    cycleID,
			audit.KeyProofRound: c.ProofRound,
			"cycle_from":        string(manuscript.CycleAwaitingAuthor),
			"cycle_to":          string(target),
			"corrections":       len(items),
		},
	})
	s.dispatch.Notify(ctx, notify.Notification{
		UserID:       c.LayoutEditorID,
		ManuscriptID: m.ID,
		Title:        "Author responded to the galley proof",
		Content:      "Decision: " + string(req.Decision),
		ActionURL:    "/manuscripts/" + m.ID + "/cycles/" + cycleID,
	})
	return cur, nil
}

// BeginLayoutRevision acknowledges submitted corrections and hands the
// cycle back to layout. The next galley upload starts a fresh proof round.
func (s *Service) BeginLayoutRevision(ctx context.Context, actor authz.Actor, cycleID string) (*manuscript.ProductionCycle, error) {
	return s.transitionCycle(ctx, actor, cycleID, authz.ActionProductionLayoutRevision, "layout_revision",
		[]manuscript.CycleStatus{manuscript.CycleCorrectionsSubmitted}, manuscript.CycleInLayoutRevision)
}

// ApproveCycle closes a cycle whose proof the author confirmed, freeing the
// active-cycle slot and satisfying the production-cycle publish gate.
func (s *Service) ApproveCycle(ctx context.Context, actor authz.Actor, cycleID string) (*manuscript.ProductionCycle, error) {
	return s.transitionCycle(ctx, actor, cycleID, authz.ActionProofingApprove, "cycle_approve",
		[]manuscript.CycleStatus{manuscript.CycleAuthorConfirmed}, manuscript.CycleApprovedForPublish)
}

func (s *Service) transitionCycle(ctx context.Context, actor authz.Actor, cycleID, action, metric string, expect []manuscript.CycleStatus, target manuscript.CycleStatus) (*manuscript.ProductionCycle, error) {
	c, err := s.cycles.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	m, err := s.manuscripts.Get(ctx, c.ManuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, action, s.resourceFor(ctx, m)); err != nil {
		obs.ObserveTransition(machine, metric, obs.OutcomeForbidden)
		return nil, err
	}

	applied, err := s.cycles.UpdateCycle(ctx, cycleID, expect, manuscript.CycleChange{Status: target})
	if err != nil {
		return nil, err
	}
	cur, gerr := s.cycles.GetCycle(ctx, cycleID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if cur.Status == target {
			obs.ObserveTransition(machine, metric, obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, metric, obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			CycleID:       cycleID,
			ExpectedCycle: expect,
			CurrentCycle:  cur.Status,
		}
	}

	obs.ObserveTransition(machine, metric, obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(m.Status),
		ToStatus:     string(m.Status),
		ChangedBy:    actor.ID,
		Payload: map[string]any{
			audit.KeyAction:     action,
			audit.KeyCycleID:    cycleID,
			audit.KeyProofRound: cur.ProofRound,
			"cycle_from":        string(c.Status),
			"cycle_to":          string(target),
		},
	})
	return cur, nil
}
