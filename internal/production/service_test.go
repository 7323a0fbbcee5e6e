package production_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptoria.org/internal/audit"
	"scriptoria.org/internal/authz"
	"scriptoria.org/internal/manuscript"
	"scriptoria.org/internal/notify"
	"scriptoria.org/internal/production"
)

var (
	admin  = authz.Actor{ID: "root", Roles: []string{authz.RoleAdmin}}
	editor = authz.Actor{ID: "me-1", Roles: []string{authz.RoleManagingEditor}}
	prodEd = authz.Actor{ID: "pe-1", Roles: []string{authz.RoleProductionEditor}}
	proofA = authz.Actor{ID: "au-1", Roles: []string{authz.RoleAuthor}}
)

type fixture struct {
	svc   *production.Service
	store *manuscript.InMemory
	audit *audit.InMemory
}

func newFixture(t *testing.T, cfg production.Config) *fixture {
	t.Helper()
	store := manuscript.NewInMemory()
	auditStore := audit.NewInMemory()
	grants := authz.NewInMemoryGrants()
	grants.Add(authz.Grant{UserID: "me-1", JournalID: "jmir", Role: authz.RoleManagingEditor, IsActive: true})
	auth := authz.New(authz.Config{EnforceJournalScope: true}, grants)
	svc := production.NewService(cfg, store, store, store, audit.NewLedger(auditStore), auth, notify.LogDispatcher{})
	return &fixture{svc: svc, store: store, audit: auditStore}
}

func (f *fixture) seed(t *testing.T, status manuscript.Status) *manuscript.Manuscript {
	t.Helper()
	m := &manuscript.Manuscript{
		ID:        "ms-1",
		Title:     "Wearables and sleep quality",
		Status:    status,
		Version:   3,
		AuthorID:  "au-1",
		JournalID: "jmir",
	}
	require.NoError(t, f.store.Create(context.Background(), m))
	return m
}

func (f *fixture) settleInvoice(t *testing.T, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.store.Upsert(context.Background(), &manuscript.Invoice{
		ManuscriptID: id, Amount: 9900, Status: manuscript.InvoicePaid, ConfirmedAt: &now,
	}))
}

// approvedCycle runs a full cycle to approved_for_publish.
func (f *fixture) approvedCycle(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.CreateCycle(ctx, editor, id, production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)
	_, err = f.svc.UploadGalley(ctx, prodEd, c.ID, production.UploadGalleyRequest{
		GalleyPath: "galleys/ms-1-v1.pdf",
		ProofDueAt: time.Now().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.svc.SubmitProofreading(ctx, proofA, c.ID, production.ProofingRequest{Decision: manuscript.ProofingConfirm})
	require.NoError(t, err)
	_, err = f.svc.ApproveCycle(ctx, prodEd, c.ID)
	require.NoError(t, err)
}

func TestAdvanceSingleStep(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusApproved)

	m, err := f.svc.Advance(ctx, editor, "ms-1", production.AdvanceRequest{})
	require.NoError(t, err)
	assert.Equal(t, manuscript.StatusLayout, m.Status)

	m, err = f.svc.Advance(ctx, editor, "ms-1", production.AdvanceRequest{})
	require.NoError(t, err)
	assert.Equal(t, manuscript.StatusEnglishEditing, m.Status)
}

func TestAdvanceOutsidePipelineConflicts(t *testing.T) {
	f := newFixture(t, production.Config{})
	f.seed(t, manuscript.StatusUnderReview)
	_, err := f.svc.Advance(context.Background(), editor, "ms-1", production.AdvanceRequest{})
	require.True(t, manuscript.IsConflict(err), "got %v", err)
}

func TestAdvanceSkipRequiresAdmin(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusApproved)

	// A non-admin cannot skip even with the flag set.
	_, err := f.svc.Advance(ctx, editor, "ms-1", production.AdvanceRequest{
		Target: manuscript.StatusProofreading, AllowSkip: true,
	})
	require.True(t, authz.IsForbidden(err), "got %v", err)

	// Without the flag nobody skips.
	_, err = f.svc.Advance(ctx, admin, "ms-1", production.AdvanceRequest{Target: manuscript.StatusProofreading})
	require.True(t, authz.IsForbidden(err), "got %v", err)

	m, err := f.svc.Advance(ctx, admin, "ms-1", production.AdvanceRequest{
		Target: manuscript.StatusProofreading, AllowSkip: true,
	})
	require.NoError(t, err)
	assert.Equal(t, manuscript.StatusProofreading, m.Status)

	// A backward target never passes validation.
	_, err = f.svc.Advance(ctx, admin, "ms-1", production.AdvanceRequest{
		Target: manuscript.StatusLayout, AllowSkip: true,
	})
	var vErr *manuscript.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestPublishGatePayment(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusProofreading)

	// No invoice on record blocks fail-closed.
	_, err := f.svc.Advance(ctx, editor, "ms-1", production.AdvanceRequest{})
	var gErr *manuscript.GateError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, manuscript.GatePayment, gErr.Gate)

	// Unpaid invoice still blocks.
	require.NoError(t, f.store.Upsert(ctx, &manuscript.Invoice{
		ManuscriptID: "ms-1", Amount: 9900, Status: manuscript.InvoiceUnpaid,
	}))
	_, err = f.svc.Advance(ctx, editor, "ms-1", production.AdvanceRequest{})
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, manuscript.GatePayment, gErr.Gate)
}

func TestPublishGateCycle(t *testing.T) {
	f := newFixture(t, production.Config{RequireApprovedCycle: true})
	ctx := context.Background()
	f.seed(t, manuscript.StatusProofreading)
	f.settleInvoice(t, "ms-1")

	_, err := f.svc.Advance(ctx, editor, "ms-1", production.AdvanceRequest{})
	var gErr *manuscript.GateError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, manuscript.GateCycle, gErr.Gate)

	// A cycle that is not approved still blocks.
	_, err = f.svc.CreateCycle(ctx, editor, "ms-1", production.CreateCycleRequest{LayoutEditorID: "pe-1"})
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, editor, "ms-1", production.AdvanceRequest{})
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, manuscript.GateCycle, gErr.Gate)
}

func TestPublishGateFinalPDF(t *testing.T) {
	f := newFixture(t, production.Config{RequireApprovedCycle: true})
	ctx := context.Background()
	f.seed(t, manuscript.StatusProofreading)
	f.settleInvoice(t, "ms-1")
	f.approvedCycle(t, "ms-1")

	_, err := f.svc.Advance(ctx, editor, "ms-1", production.AdvanceRequest{})
	var gErr *manuscript.GateError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, manuscript.GateProduction, gErr.Gate)
}

func TestPublishStampsDOIAndTimestamp(t *testing.T) {
	f := newFixture(t, production.Config{RequireApprovedCycle: true, DOIPrefix: "10.99999"})
	ctx := context.Background()
	f.seed(t, manuscript.StatusProofreading)
	f.settleInvoice(t, "ms-1")
	f.approvedCycle(t, "ms-1")
	require.NoError(t, f.store.SetFinalPDF("ms-1", "renders/ms-1.pdf"))

	m, err := f.svc.Advance(ctx, editor, "ms-1", production.AdvanceRequest{})
	require.NoError(t, err)
	assert.Equal(t, manuscript.StatusPublished, m.Status)
	assert.Equal(t, "10.99999/jmir.ms-1", m.DOI)
	require.NotNil(t, m.PublishedAt)

	// Publishing is terminal.
	_, err = f.svc.Advance(ctx, editor, "ms-1", production.AdvanceRequest{})
	require.True(t, manuscript.IsConflict(err), "got %v", err)

	entries, _ := f.audit.List(ctx, "ms-1")
	require.NotEmpty(t, entries)
	assert.Equal(t, "production_publish", entries[0].Payload[audit.KeyAction])
}

func TestRevertFloorsAtApproved(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusLayout)

	m, err := f.svc.Revert(ctx, editor, "ms-1", production.RevertRequest{})
	require.NoError(t, err)
	assert.Equal(t, manuscript.StatusApproved, m.Status)

	_, err = f.svc.Revert(ctx, editor, "ms-1", production.RevertRequest{})
	require.True(t, manuscript.IsConflict(err), "approved is the revert floor, got %v", err)
}

func TestInvoiceConfirmAndWaive(t *testing.T) {
	f := newFixture(t, production.Config{})
	ctx := context.Background()
	f.seed(t, manuscript.StatusApproved)
	require.NoError(t, f.store.Upsert(ctx, &manuscript.Invoice{
		ManuscriptID: "ms-1", Amount: 9900, Status: manuscript.InvoiceUnpaid,
	}))

	inv, err := f.svc.ConfirmInvoicePaid(ctx, editor, "ms-1")
	require.NoError(t, err)
	assert.Equal(t, manuscript.InvoicePaid, inv.Status)
	require.NotNil(t, inv.ConfirmedAt)

	inv, err = f.svc.WaiveInvoice(ctx, editor, "ms-1")
	require.NoError(t, err)
	assert.Equal(t, manuscript.InvoiceWaived, inv.Status)

	// Production editors may not settle invoices.
	_, err = f.svc.ConfirmInvoicePaid(ctx, prodEd, "ms-1")
	require.True(t, authz.IsForbidden(err), "got %v", err)

	// No invoice row to flip.
	f2 := newFixture(t, production.Config{})
	f2.seed(t, manuscript.StatusApproved)
	_, err = f2.svc.ConfirmInvoicePaid(ctx, editor, "ms-1")
	require.ErrorIs(t, err, manuscript.ErrNotFound)
}
