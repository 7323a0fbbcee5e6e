package production_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptoria.org/internal/authz"
	"scriptoria.org/internal/manuscript"
	"scriptoria.org/internal/production"
)

func TestCreateCycle(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusLayout)

	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{
		LayoutEditorID:  "pe-1",
		CollaboratorIDs: []string{"pe-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.CycleNo)
	assert.Equal(t, manuscript.CycleDraft, c.Status)
	assert.Equal(t, "au-1", c.ProofreaderAuthorID, "proofreader defaults to the manuscript author")
	assert.Equal(t, 0, c.ProofRound)

	// One active cycle per manuscript.
	_, err = f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.True(t, manuscript.IsConflict(err), "got %v", err)
}

func TestCreateCycleGuards(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusUnderReview)

	// Only in-production manuscripts carry cycles.
	_, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.True(t, manuscript.IsConflict(err), "got %v", err)

	f2 := newFixture(t, production.Config{})
	f2.seed(t, manuscript.StatusLayout)
	_, err = f2.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{})
	var vErr *manuscript.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestCycleNumbersIncrement(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusLayout)
	f.approvedCycle(t, "ms-1")

	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.CycleNo)
}

func TestUploadGalleyOpensProofRound(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusLayout)
	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)

	got, err := f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/ms-1-v1.pdf",
		ProofDueAt: time.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, manuscript.CycleAwaitingAuthor, got.Status)
	assert.Equal(t, 1, got.ProofRound)
	assert.Equal(t, "galleys/ms-1-v1.pdf", got.GalleyPath)

	// awaiting_author does not accept another galley.
	_, err = f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/ms-1-v2.pdf",
		ProofDueAt: time.Now().Add(48 * time.Hour),
	})
	require.True(t, manuscript.IsConflict(err), "got %v", err)
}

func TestUploadGalleyValidation(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusLayout)
	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)

	var vErr *manuscript.ValidationError
	_, err = f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{ProofDueAt: time.Now().Add(time.Hour)})
	require.ErrorAs(t, err, &vErr)
	_, err = f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/x.pdf", ProofDueAt: time.Now().Add(-time.Hour),
	})
	require.ErrorAs(t, err, &vErr)

	// An unbound production editor may not touch the cycle.
	stranger := authz.Actor{ID: "pe-9", Roles: []string{authz.RoleProductionEditor}}
	_, err = f.svc.UploadGalley(ctx, stranger, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/x.pdf", ProofDueAt: time.Now().Add(time.Hour),
	})
	require.True(t, authz.IsForbidden(err), "got %v", err)
}

func TestSubmitProofreadingCorrections(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusProofreading)
	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)
	_, err = f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/v1.pdf", ProofDueAt: time.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)

	got, err := f.svc.SubmitProofreading(ctx, proofA, c.ID, production.ProofingRequest{
		Decision: manuscript.ProofingCorrections,
		Comment:  "two fixes",
		Items: []production.CorrectionInput{
			{Page: 2, Line: 14, Note: "misspelled cohort"},
			{Page: 5, Line: 3, Note: "wrong figure reference"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, manuscript.CycleCorrectionsSubmitted, got.Status)

	resp, err := f.store.GetResponse(ctx, c.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, manuscript.ProofingCorrections, resp.Decision)
	items, err := f.store.ListCorrections(ctx, resp.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// Layout takes the corrections back, then a fresh galley opens round 2.
	got, err = f.svc.BeginLayoutRevision(ctx, prodEd, c.ID)
	require.NoError(t, err)
	assert.Equal(t, manuscript.CycleInLayoutRevision, got.Status)

	got, err = f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/v2.pdf", ProofDueAt: time.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.ProofRound)

	got, err = f.svc.SubmitProofreading(ctx, proofA, c.ID, production.ProofingRequest{Decision: manuscript.ProofingConfirm})
	require.NoError(t, err)
	assert.Equal(t, manuscript.CycleAuthorConfirmed, got.Status)
}

func TestSubmitProofreadingValidation(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusProofreading)
	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)
	_, err = f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/v1.pdf", ProofDueAt: time.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)

	var vErr *manuscript.ValidationError
	_, err = f.svc.SubmitProofreading(ctx, proofA, c.ID, production.ProofingRequest{
		Decision: manuscript.ProofingConfirm,
		Items:    []production.CorrectionInput{{Page: 1, Line: 1, Note: "x"}},
	})
	require.ErrorAs(t, err, &vErr, "confirm must carry no items")

	_, err = f.svc.SubmitProofreading(ctx, proofA, c.ID, production.ProofingRequest{Decision: manuscript.ProofingCorrections})
	require.ErrorAs(t, err, &vErr, "corrections need at least one item")

	_, err = f.svc.SubmitProofreading(ctx, proofA, c.ID, production.ProofingRequest{Decision: "shrug"})
	require.ErrorAs(t, err, &vErr)

	// Only the designated proofreader may answer.
	stranger := authz.Actor{ID: "au-9", Roles: []string{authz.RoleAuthor}}
	_, err = f.svc.SubmitProofreading(ctx, stranger, c.ID, production.ProofingRequest{Decision: manuscript.ProofingConfirm})
	require.True(t, authz.IsForbidden(err), "got %v", err)
}

func TestSubmitProofreadingPastDue(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusProofreading)
	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)
	_, err = f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/v1.pdf", ProofDueAt: time.Now().Add(50 * time.Millisecond),
	})
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)

	_, err = f.svc.SubmitProofreading(ctx, proofA, c.ID, production.ProofingRequest{Decision: manuscript.ProofingConfirm})
	var gErr *manuscript.GateError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, manuscript.GateProofing, gErr.Gate)
}

func TestSubmitProofreadingReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusProofreading)
	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)
	_, err = f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/v1.pdf", ProofDueAt: time.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)

	_, err = f.svc.SubmitProofreading(ctx, proofA, c.ID, production.ProofingRequest{Decision: manuscript.ProofingConfirm})
	require.NoError(t, err)

	// The retried submission finds the cycle transitioned and the round's
	// response recorded: same result, no duplicate.
	got, err := f.svc.SubmitProofreading(ctx, proofA, c.ID, production.ProofingRequest{Decision: manuscript.ProofingConfirm})
	require.NoError(t, err)
	assert.Equal(t, manuscript.CycleAuthorConfirmed, got.Status)
}

func TestApproveCycleRequiresConfirmation(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusProofreading)
	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)

	_, err = f.svc.ApproveCycle(ctx, prodEd, c.ID)
	require.True(t, manuscript.IsConflict(err), "a draft cycle cannot be approved, got %v", err)
}

func TestGetCycleVisibility(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusLayout)
	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)

	got, err := f.svc.GetCycle(ctx, proofA, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = f.svc.GetCycle(ctx, proofA, "missing")
	require.ErrorIs(t, err, manuscript.ErrCycleNotFound)
}

func TestUploadGalleyReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusLayout)
	c, err := f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)

	req := production.UploadGalleyRequest{
		GalleyPath: "galleys/ms-1-v1.pdf",
		ProofDueAt: time.Now().Add(72 * time.Hour),
	}
	first, err := f.svc.UploadGalley(ctx, prodEd, c.ID, req)
	require.NoError(t, err)

	again, err := f.svc.UploadGalley(ctx, prodEd, c.ID, req)
	require.NoError(t, err, "identical re-upload must be a no-op")
	assert.Equal(t, manuscript.CycleAwaitingAuthor, again.Status)
	assert.Equal(t, first.ProofRound, again.ProofRound)
	assert.Equal(t, first.GalleyPath, again.GalleyPath)

	// A different galley against the same open round is still a conflict.
	_, err = f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/ms-1-v2.pdf",
		ProofDueAt: time.Now().Add(48 * time.Hour),
	})
	require.True(t, manuscript.IsConflict(err), "got %v", err)
}
