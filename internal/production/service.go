// Package production implements the post-acceptance pipeline: the linear
// approved → layout → english_editing → proofreading → published chain with
// its payment, production-cycle and final-PDF gates, and the nested
// per-cycle proofing sub-workflow.
package production

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scriptoria.org/internal/audit"
	"scriptoria.org/internal/authz"
	"scriptoria.org/internal/manuscript"
	"scriptoria.org/internal/notify"
	"scriptoria.org/internal/obs"
)

const machine = "production"

// Config fixes the pipeline's feature flags at construction time.
type Config struct {
	// RequireApprovedCycle makes the Production-Cycle Gate strict: without
	// a cycle in approved_for_publish, publishing is blocked.
	RequireApprovedCycle bool
	// DOIPrefix is the registrant prefix stamped into generated DOIs.
	DOIPrefix string
}

// pdfColumnChecker is implemented by stores that know whether the backing
// schema carries the final_pdf_path column. Older deployments lack it; the
// Production Gate is skipped for them.
type pdfColumnChecker interface {
	HasFinalPDFColumn() bool
}

// Service executes the production pipeline transitions.
type Service struct {
	cfg         Config
	manuscripts manuscript.Store
	invoices    manuscript.InvoiceStore
	cycles      manuscript.CycleStore
	ledger      *audit.Ledger
	auth        *authz.Authorizer
	dispatch    notify.Dispatcher
	now         func() time.Time
}

// NewService wires the pipeline.
func NewService(
	cfg Config,
	store manuscript.Store,
	invoices manuscript.InvoiceStore,
	cycles manuscript.CycleStore,
	ledger *audit.Ledger,
	auth *authz.Authorizer,
	dispatch notify.Dispatcher,
) *Service {
	if cfg.DOIPrefix == "" {
		cfg.DOIPrefix = "10.52437"
	}
	return &Service{
		cfg:         cfg,
		manuscripts: store,
		invoices:    invoices,
		cycles:      cycles,
		ledger:      ledger,
		auth:        auth,
		dispatch:    dispatch,
		now:         time.Now,
	}
}

// resourceFor resolves the authorization resource, binding the active
// production cycle's editors when one exists.
func (s *Service) resourceFor(ctx context.Context, m *manuscript.Manuscript) authz.Resource {
	res := authz.Resource{
		ManuscriptID:      m.ID,
		JournalID:         m.JournalID,
		AuthorID:          m.AuthorID,
		OwnerID:           m.OwnerID,
		AssistantEditorID: m.AssistantEditorID,
	}
	if c, err := s.cycles.ActiveCycle(ctx, m.ID); err == nil {
		res.LayoutEditorID = c.LayoutEditorID
		res.CollaboratorIDs = c.CollaboratorIDs
		res.ProofreaderAuthorID = c.ProofreaderAuthorID
	}
	return res
}

func chainIndex(st manuscript.Status) int {
	for i, c := range manuscript.ProductionChain() {
		if c == st {
			return i
		}
	}
	return -1
}

// AdvanceRequest moves the manuscript forward in the pipeline.
type AdvanceRequest struct {
	// Target is the desired chain status; empty means the next step.
	Target manuscript.Status `json:"target,omitempty"`
	// AllowSkip lets an admin jump more than one step at a time.
	AllowSkip      bool   `json:"allow_skip,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Advance walks the pipeline one step forward (or further, for an admin
// with AllowSkip). Advancing into published enforces the payment,
// production-cycle and final-PDF gates.
func (s *Service) Advance(ctx context.Context, actor authz.Actor, manuscriptID string, req AdvanceRequest) (*manuscript.Manuscript, error) {
	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionProductionAdvance, s.resourceFor(ctx, m)); err != nil {
		obs.ObserveTransition(machine, "advance", obs.OutcomeForbidden)
		return nil, err
	}

	chain := manuscript.ProductionChain()
	idx := chainIndex(m.Status)
	if idx < 0 || idx == len(chain)-1 {
		obs.ObserveTransition(machine, "advance", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID: m.ID,
			Expected:     chain[:len(chain)-1],
			Current:      m.Status,
		}
	}

	target := chain[idx+1]
	if req.Target != "" && req.Target != target {
		tIdx := chainIndex(req.Target)
		if tIdx <= idx {
			return nil, manuscript.Validationf("target", "%q is not ahead of %q in the pipeline", req.Target, m.Status)
		}
		if !req.AllowSkip || !actor.IsAdmin() {
			obs.ObserveTransition(machine, "advance", obs.OutcomeForbidden)
			return nil, &authz.ForbiddenError{Action: authz.ActionProductionAdvance, Reason: authz.ReasonRole}
		}
		target = req.Target
	}

	change := manuscript.Change{Status: target}
	action := "production_advance"
	if target == manuscript.StatusPublished {
		if err := s.checkPublishGates(ctx, m); err != nil {
			obs.ObserveTransition(machine, "publish", obs.OutcomeBlocked)
			return nil, err
		}
		now := s.now().UTC()
		change.PublishedAt = &now
		change.DOI = s.generateDOI(m)
		action = "production_publish"
	}

	expect := manuscript.Expectation{Statuses: []manuscript.Status{m.Status}}
	applied, err := s.manuscripts.UpdateStatus(ctx, m.ID, expect, change)
	if err != nil {
		return nil, err
	}
	cur, gerr := s.manuscripts.Get(ctx, m.ID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if cur.Status == target {
			obs.ObserveTransition(machine, "advance", obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, "advance", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID: m.ID,
			Expected:     expect.Statuses,
			Current:      cur.Status,
		}
	}

	obs.ObserveTransition(machine, "advance", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(m.Status),
		ToStatus:     string(target),
		ChangedBy:    actor.ID,
		Payload: map[string]any{
			audit.KeyAction:      action,
			audit.KeyIdempotency: req.IdempotencyKey,
		},
	})
	if target == manuscript.StatusPublished {
		s.dispatch.Notify(ctx, notify.Notification{
			UserID:       m.AuthorID,
			ManuscriptID: m.ID,
			Title:        "Your article has been published",
			Content:      "DOI: " + cur.DOI,
			ActionURL:    "/manuscripts/" + m.ID,
		})
	}
	return cur, nil
}

// RevertRequest walks the pipeline one step backward.
type RevertRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Revert moves the manuscript back one pipeline step. approved is the
// floor: production never reverts into the decision phase.
func (s *Service) Revert(ctx context.Context, actor authz.Actor, manuscriptID string, req RevertRequest) (*manuscript.Manuscript, error) {
	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, authz.ActionProductionRevert, s.resourceFor(ctx, m)); err != nil {
		obs.ObserveTransition(machine, "revert", obs.OutcomeForbidden)
		return nil, err
	}

	chain := manuscript.ProductionChain()
	idx := chainIndex(m.Status)
	if idx <= 0 {
		obs.ObserveTransition(machine, "revert", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID: m.ID,
			Expected:     chain[1:],
			Current:      m.Status,
		}
	}
	target := chain[idx-1]

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
			obs.ObserveTransition(machine, "revert", obs.OutcomeIdempotent)
			return cur, nil
		}
		obs.ObserveTransition(machine, "revert", obs.OutcomeConflict)
		return nil, &manuscript.ConflictError{
			ManuscriptID: m.ID,
			Expected:     expect.Statuses,
			Current:      cur.Status,
		}
	}
	obs.ObserveTransition(machine, "revert", obs.OutcomeApplied)
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(m.Status),
		ToStatus:     string(target),
		ChangedBy:    actor.ID,
		Payload: map[string]any{
			audit.KeyAction:      "production_revert",
			audit.KeyIdempotency: req.IdempotencyKey,
		},
	})
	return cur, nil
}

// checkPublishGates enforces the three publish preconditions, fail-closed.
func (s *Service) checkPublishGates(ctx context.Context, m *manuscript.Manuscript) error {
	inv, err := s.invoices.GetInvoice(ctx, m.ID)
	switch {
	case errors.Is(err, manuscript.ErrNotFound):
		// A manuscript that reached production must have an invoice row.
		return &manuscript.GateError{Gate: manuscript.GatePayment, Reason: "no invoice on record"}
	case err != nil:
		return err
	case !inv.Settled():
		return &manuscript.GateError{
			Gate:   manuscript.GatePayment,
			Reason: fmt.Sprintf("invoice is %s with an outstanding amount", inv.Status),
		}
	}

	if s.cfg.RequireApprovedCycle {
		c, err := s.cycles.LatestCycle(ctx, m.ID)
		switch {
		case errors.Is(err, manuscript.ErrCycleNotFound):
			return &manuscript.GateError{Gate: manuscript.GateCycle, Reason: "no production cycle exists"}
		case err != nil:
			return err
		case c.Status != manuscript.CycleApprovedForPublish:
			return &manuscript.GateError{
				Gate:   manuscript.GateCycle,
				Reason: fmt.Sprintf("latest production cycle is %s, not approved for publish", c.Status),
			}
		}
	}

	pdfGate := true
	if c, ok := s.manuscripts.(pdfColumnChecker); ok && !c.HasFinalPDFColumn() {
		pdfGate = false
		obs.Warn("final_pdf_path column missing, skipping production gate", map[string]any{
			"manuscript_id": m.ID,
		})
	}
	if pdfGate && m.FinalPDFPath == "" {
		return &manuscript.GateError{Gate: manuscript.GateProduction, Reason: "final PDF has not been rendered"}
	}
	return nil
}

func (s *Service) generateDOI(m *manuscript.Manuscript) string {
	return fmt.Sprintf("%s/%s.%s", s.cfg.DOIPrefix, m.JournalID, strings.ToLower(m.ID))
}

// ConfirmInvoicePaid marks the manuscript's invoice paid.
func (s *Service) ConfirmInvoicePaid(ctx context.Context, actor authz.Actor, manuscriptID string) (*manuscript.Invoice, error) {
	return s.setInvoiceStatus(ctx, actor, manuscriptID, manuscript.InvoicePaid, authz.ActionInvoiceConfirmPaid)
}

// WaiveInvoice waives the manuscript's invoice.
func (s *Service) WaiveInvoice(ctx context.Context, actor authz.Actor, manuscriptID string) (*manuscript.Invoice, error) {
	return s.setInvoiceStatus(ctx, actor, manuscriptID, manuscript.InvoiceWaived, authz.ActionInvoiceWaive)
}

func (s *Service) setInvoiceStatus(ctx context.Context, actor authz.Actor, manuscriptID string, status manuscript.InvoiceStatus, action string) (*manuscript.Invoice, error) {
	m, err := s.manuscripts.Get(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Can(ctx, actor, action, s.resourceFor(ctx, m)); err != nil {
		return nil, err
	}
	applied, err := s.invoices.SetStatus(ctx, manuscriptID, status, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, manuscript.ErrNotFound
	}
	s.ledger.Record(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   string(m.Status),
		ToStatus:     string(m.Status),
		ChangedBy:    actor.ID,
		Payload: map[string]any{
			audit.KeyAction:        action,
			audit.KeyInvoiceStatus: string(status),
		},
	})
	return s.invoices.GetInvoice(ctx, manuscriptID)
}
