// Command smoke-editorial walks one manuscript through the full editorial
// path on in-memory stores: submission, triage, revision, acceptance,
// proofing and publication. It exits non-zero on the first divergence.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"scriptoria.org/internal/audit"
	"scriptoria.org/internal/authz"
	"scriptoria.org/internal/lifecycle"
	"scriptoria.org/internal/manuscript"
	"scriptoria.org/internal/notify"
	"scriptoria.org/internal/precheck"
	"scriptoria.org/internal/production"
)

func main() {
	log.SetFlags(0)
	ctx := context.Background()

	store := manuscript.NewInMemory()
	ledger := audit.NewLedger(audit.NewInMemory())
	grants := authz.NewInMemoryGrants()
	grants.Add(authz.Grant{UserID: "me-1", JournalID: "jmir", Role: authz.RoleManagingEditor, IsActive: true})
	grants.Add(authz.Grant{UserID: "eic-1", JournalID: "jmir", Role: authz.RoleEditorInChief, IsActive: true})
	authorizer := authz.New(authz.Config{EnforceJournalScope: true}, grants)
	dispatch := notify.LogDispatcher{}

	lifecycleSvc := lifecycle.NewService(store, store, store, ledger, authorizer, dispatch, nil)
	precheckSvc := precheck.NewService(store, ledger, authorizer, dispatch)
	productionSvc := production.NewService(production.Config{RequireApprovedCycle: true},
		store, store, store, ledger, authorizer, dispatch)

	author := authz.Actor{ID: "author-1", Roles: []string{authz.RoleAuthor}}
	me := authz.Actor{ID: "me-1", Roles: []string{authz.RoleManagingEditor}}
	ae := authz.Actor{ID: "ae-1", Roles: []string{authz.RoleAssistantEditor}}
	eic := authz.Actor{ID: "eic-1", Roles: []string{authz.RoleEditorInChief}}
	pe := authz.Actor{ID: "pe-1", Roles: []string{authz.RoleProductionEditor}}

	m, err := lifecycleSvc.CreateSubmission(ctx, author, lifecycle.SubmissionRequest{
		Title:     "Adaptive Meshes for Coastal Flood Models",
		JournalID: "jmir",
	})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	expectStage(m, manuscript.StatusPreCheck, manuscript.PreCheckIntake)

	m, err = precheckSvc.AssignAE(ctx, me, m.ID, precheck.AssignAERequest{AssistantEditorID: "ae-1"})
	if err != nil {
		log.Fatalf("assign ae: %v", err)
	}
	expectStage(m, manuscript.StatusPreCheck, manuscript.PreCheckTechnical)

	m, err = precheckSvc.SubmitTechnicalCheck(ctx, ae, m.ID, precheck.TechnicalCheckRequest{Decision: precheck.TechnicalPass})
	if err != nil {
		log.Fatalf("technical check: %v", err)
	}
	expect(m, manuscript.StatusUnderReview)

	m, err = lifecycleSvc.RequestRevision(ctx, me, m.ID, lifecycle.RevisionRequest{
		Decision: lifecycle.RevisionMinor,
		Comment:  "tighten the validation section",
	})
	if err != nil {
		log.Fatalf("revision request: %v", err)
	}
	expect(m, manuscript.StatusMinorRevision)

	m, err = lifecycleSvc.SubmitResubmission(ctx, author, m.ID, lifecycle.ResubmissionRequest{})
	if err != nil {
		log.Fatalf("resubmit: %v", err)
	}
	expect(m, manuscript.StatusResubmitted)
	if m.Version != 2 {
		log.Fatalf("expected version 2, got %d", m.Version)
	}

	m, err = lifecycleSvc.SubmitFinalDecision(ctx, eic, m.ID, lifecycle.FinalDecisionRequest{
		Verdict:   lifecycle.VerdictAccept,
		APCAmount: 9900,
	})
	if err != nil {
		log.Fatalf("final decision: %v", err)
	}
	expect(m, manuscript.StatusApproved)

	cycle, err := productionSvc.CreateCycle(ctx, me, m.ID, production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	if err != nil {
		log.Fatalf("create cycle: %v", err)
	}

	cycle, err = productionSvc.UploadGalley(ctx, pe, cycle.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/" + m.ID + "-r1.pdf",
		ProofDueAt: time.Now().Add(72 * time.Hour),
	})
	if err != nil {
		log.Fatalf("upload galley: %v", err)
	}

	cycle, err = productionSvc.SubmitProofreading(ctx, author, cycle.ID, production.ProofingRequest{
		Decision: manuscript.ProofingConfirm,
	})
	if err != nil {
		log.Fatalf("proofing: %v", err)
	}

	if _, err = productionSvc.ApproveCycle(ctx, pe, cycle.ID); err != nil {
		log.Fatalf("approve cycle: %v", err)
	}

	if _, err = productionSvc.ConfirmInvoicePaid(ctx, me, m.ID); err != nil {
		log.Fatalf("confirm invoice: %v", err)
	}
	if err = store.SetFinalPDF(m.ID, "renders/"+m.ID+".pdf"); err != nil {
		log.Fatalf("set final pdf: %v", err)
	}

	for i := 0; i < 4; i++ {
		prev := m.Status
		m, err = productionSvc.Advance(ctx, me, m.ID, production.AdvanceRequest{})
		if err != nil {
			log.Fatalf("advance from %s: %v", prev, err)
		}
	}
	expect(m, manuscript.StatusPublished)
	if m.DOI == "" || m.PublishedAt == nil {
		log.Fatalf("missing publication metadata: doi=%q published_at=%v", m.DOI, m.PublishedAt)
	}

	entries, err := ledger.List(ctx, m.ID)
	if err != nil {
		log.Fatalf("list transitions: %v", err)
	}

	fmt.Printf("✅ editorial smoke test passed: %s published as %s (%d transitions)\n", m.ID, m.DOI, len(entries))
}

func expect(m *manuscript.Manuscript, want manuscript.Status) {
	if m.Status != want {
		log.Fatalf("expected status %s, got %s", want, m.Status)
	}
}

func expectStage(m *manuscript.Manuscript, want manuscript.Status, stage manuscript.PreCheckStatus) {
	if m.Status != want || m.PreCheckStatus != stage {
		log.Fatalf("expected %s/%s, got %s/%s", want, stage, m.Status, m.PreCheckStatus)
	}
}
