package manuscript

import (
	"context"
	"testing"
)

func seedManuscript(t *testing.T, s *InMemory, m Manuscript) *Manuscript {
	t.Helper()
	if err := s.Create(context.Background(), &m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return &m
}

func TestUpdateStatusConditional(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	seedManuscript(t, s, Manuscript{ID: "ms-1", Status: StatusPreCheck, PreCheckStatus: PreCheckIntake, Version: 1})

	// Wrong pre-state: no write, no error.
	applied, err := s.UpdateStatus(ctx, "ms-1", Expectation{Statuses: []Status{StatusUnderReview}}, Change{Status: StatusDecision})
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("expected no-op on mismatched expectation")
	}

	// Matching status but wrong stage.
	applied, _ = s.UpdateStatus(ctx, "ms-1", Expectation{
		Statuses: []Status{StatusPreCheck},
		Stages:   []PreCheckStatus{PreCheckAcademic},
	}, Change{Status: StatusDecision})
	if applied {
		t.Fatal("expected no-op on mismatched stage")
	}

	applied, err = s.UpdateStatus(ctx, "ms-1", Expectation{
		Statuses: []Status{StatusPreCheck},
		Stages:   []PreCheckStatus{PreCheckIntake},
	}, Change{Status: StatusUnderReview})
	if err != nil || !applied {
		t.Fatalf("expected applied, got applied=%v err=%v", applied, err)
	}
	m, _ := s.Get(ctx, "ms-1")
	if m.Status != StatusUnderReview || m.PreCheckStatus != PreCheckNone {
		t.Fatalf("unexpected state after update: %s/%s", m.Status, m.PreCheckStatus)
	}
}

func TestUpdateStatusBindOwnerOnlyWhenEmpty(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	seedManuscript(t, s, Manuscript{ID: "ms-2", Status: StatusPreCheck, PreCheckStatus: PreCheckIntake})

	expect := Expectation{Statuses: []Status{StatusPreCheck}}
	if _, err := s.UpdateStatus(ctx, "ms-2", expect, Change{
		Status: StatusPreCheck, Stage: PreCheckTechnical, BindOwner: "me-1",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateStatus(ctx, "ms-2", expect, Change{
		Status: StatusPreCheck, Stage: PreCheckTechnical, BindOwner: "me-2",
	}); err != nil {
		t.Fatal(err)
	}
	m, _ := s.Get(ctx, "ms-2")
	if m.OwnerID != "me-1" {
		t.Fatalf("owner must bind once, got %q", m.OwnerID)
	}
}

func TestUpdateStatusBumpVersionAndNotFound(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	seedManuscript(t, s, Manuscript{ID: "ms-3", Status: StatusMinorRevision, Version: 1})

	if _, err := s.UpdateStatus(ctx, "missing", Expectation{Statuses: []Status{StatusMinorRevision}}, Change{Status: StatusResubmitted}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	applied, err := s.UpdateStatus(ctx, "ms-3", Expectation{Statuses: []Status{StatusMinorRevision}}, Change{
		Status: StatusResubmitted, BumpVersion: true,
	})
	if err != nil || !applied {
		t.Fatalf("applied=%v err=%v", applied, err)
	}
	m, _ := s.Get(ctx, "ms-3")
	if m.Version != 2 {
		t.Fatalf("expected version 2, got %d", m.Version)
	}
}

func TestSecondActiveCycleRejected(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := s.CreateCycle(ctx, &ProductionCycle{ID: "c1", ManuscriptID: "ms-1", CycleNo: 1, Status: CycleDraft}); err != nil {
		t.Fatal(err)
	}
	err := s.CreateCycle(ctx, &ProductionCycle{ID: "c2", ManuscriptID: "ms-1", CycleNo: 2, Status: CycleDraft})
	if !IsConflict(err) {
		t.Fatalf("expected conflict for second active cycle, got %v", err)
	}

	// Closing the first cycle frees the slot.
	if _, err := s.UpdateCycle(ctx, "c1", []CycleStatus{CycleDraft}, CycleChange{Status: CycleApprovedForPublish}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCycle(ctx, &ProductionCycle{ID: "c2", ManuscriptID: "ms-1", CycleNo: 2, Status: CycleDraft}); err != nil {
		t.Fatalf("expected new cycle after approval, got %v", err)
	}
	latest, err := s.LatestCycle(ctx, "ms-1")
	if err != nil || latest.CycleNo != 2 {
		t.Fatalf("latest cycle: %+v err=%v", latest, err)
	}
	active, err := s.ActiveCycle(ctx, "ms-1")
	if err != nil || active.ID != "c2" {
		t.Fatalf("active cycle: %+v err=%v", active, err)
	}
}

func TestSaveResponseOncePerRound(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	resp := &ProofingResponse{ID: "r1", CycleID: "c1", ProofRound: 1, AuthorID: "au-1", Decision: ProofingCorrections}
	items := []CorrectionItem{{ID: "i1", ResponseID: "r1", Page: 3, Line: 12, Note: "typo"}}
	if err := s.SaveResponse(ctx, resp, items); err != nil {
		t.Fatal(err)
	}

	dup := &ProofingResponse{ID: "r2", CycleID: "c1", ProofRound: 1, AuthorID: "au-1", Decision: ProofingConfirm}
	if err := s.SaveResponse(ctx, dup, nil); !IsConflict(err) {
		t.Fatalf("expected conflict for duplicate round, got %v", err)
	}

	// A later round is a fresh key.
	next := &ProofingResponse{ID: "r3", CycleID: "c1", ProofRound: 2, AuthorID: "au-1", Decision: ProofingConfirm}
	if err := s.SaveResponse(ctx, next, nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetResponse(ctx, "c1", 1)
	if err != nil || got.Decision != ProofingCorrections {
		t.Fatalf("GetResponse: %+v err=%v", got, err)
	}
	saved, _ := s.ListCorrections(ctx, "r1")
	if len(saved) != 1 || saved[0].Note != "typo" {
		t.Fatalf("unexpected corrections: %+v", saved)
	}
}

func TestReviewRoundLifecycle(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	for _, a := range []*ReviewAssignment{
		{ID: "a1", ManuscriptID: "ms-1", ReviewerID: "rev-1", Round: 1, Status: ReviewCompleted},
		{ID: "a2", ManuscriptID: "ms-1", ReviewerID: "rev-2", Round: 1, Status: ReviewPending},
		{ID: "a3", ManuscriptID: "ms-2", ReviewerID: "rev-3", Round: 1, Status: ReviewPending},
	} {
		if err := s.CreateReview(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.CancelPending(ctx, "ms-1")
	if err != nil || n != 1 {
		t.Fatalf("CancelPending: n=%d err=%v", n, err)
	}

	created, err := s.CloneCompleted(ctx, "ms-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 || created[0].ReviewerID != "rev-1" || created[0].Round != 2 || created[0].Status != ReviewPending {
		t.Fatalf("unexpected clones: %+v", created)
	}

	all, _ := s.ListByManuscript(ctx, "ms-1")
	if len(all) != 3 {
		t.Fatalf("expected 3 assignments for ms-1, got %d", len(all))
	}
}
