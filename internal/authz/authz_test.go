package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptoria.org/internal/authz"
)

func newAuthorizer(t *testing.T, scope bool) (*authz.Authorizer, *authz.InMemoryGrants) {
	t.Helper()
	grants := authz.NewInMemoryGrants()
	return authz.New(authz.Config{EnforceJournalScope: scope}, grants), grants
}

func TestCanPerformRoleTable(t *testing.T) {
	cases := []struct {
		name   string
		action string
		roles  []string
		want   bool
	}{
		{"AdminPassesEverything", authz.ActionPrecheckAcademicCheck, []string{authz.RoleAdmin}, true},
		{"AuthorMaySubmit", authz.ActionManuscriptSubmit, []string{authz.RoleAuthor}, true},
		{"AuthorMayNotAssignAE", authz.ActionPrecheckAssignAE, []string{authz.RoleAuthor}, false},
		{"MEMayAssignAE", authz.ActionPrecheckAssignAE, []string{authz.RoleManagingEditor}, true},
		{"AEMayTechnicalCheck", authz.ActionPrecheckTechnicalCheck, []string{authz.RoleAssistantEditor}, true},
		{"EICMayNotTechnicalCheck", authz.ActionPrecheckTechnicalCheck, []string{authz.RoleEditorInChief}, false},
		{"PEMayUploadGalley", authz.ActionProductionUploadGalley, []string{authz.RoleProductionEditor}, true},
		{"MEMayNotUploadGalley", authz.ActionProductionUploadGalley, []string{authz.RoleManagingEditor}, false},
		{"UnknownActionDenied", "manuscript:delete", []string{authz.RoleManagingEditor}, false},
		{"NoRolesDenied", authz.ActionManuscriptSubmit, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, authz.CanPerform(tc.action, tc.roles))
		})
	}
}

func TestCanJournalScope(t *testing.T) {
	ctx := context.Background()
	auth, grants := newAuthorizer(t, true)
	grants.Add(authz.Grant{UserID: "me-1", JournalID: "jmir", Role: authz.RoleManagingEditor, IsActive: true})
	grants.Add(authz.Grant{UserID: "me-1", JournalID: "stale", Role: authz.RoleManagingEditor, IsActive: false})

	actor := authz.Actor{ID: "me-1", Roles: []string{authz.RoleManagingEditor}}

	require.NoError(t, auth.Can(ctx, actor, authz.ActionPrecheckAssignAE, authz.Resource{JournalID: "jmir"}))

	err := auth.Can(ctx, actor, authz.ActionPrecheckAssignAE, authz.Resource{JournalID: "other"})
	require.Error(t, err)
	var fErr *authz.ForbiddenError
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, authz.ReasonScope, fErr.Reason)

	// Inactive grants never count.
	err = auth.Can(ctx, actor, authz.ActionPrecheckAssignAE, authz.Resource{JournalID: "stale"})
	require.True(t, authz.IsForbidden(err))
}

func TestCanScopeDisabled(t *testing.T) {
	ctx := context.Background()
	auth, _ := newAuthorizer(t, false)
	actor := authz.Actor{ID: "me-1", Roles: []string{authz.RoleManagingEditor}}

	// With scope enforcement off, the role alone suffices.
	require.NoError(t, auth.Can(ctx, actor, authz.ActionPrecheckAssignAE, authz.Resource{JournalID: "anything"}))
}

func TestCanAssignmentBinding(t *testing.T) {
	ctx := context.Background()
	auth, _ := newAuthorizer(t, true)
	res := authz.Resource{
		ManuscriptID:        "ms-1",
		JournalID:           "jmir",
		AuthorID:            "au-1",
		OwnerID:             "me-1",
		AssistantEditorID:   "ae-1",
		LayoutEditorID:      "pe-1",
		CollaboratorIDs:     []string{"pe-2"},
		ProofreaderAuthorID: "proof-1",
	}

	cases := []struct {
		name   string
		actor  authz.Actor
		action string
		allow  bool
		reason authz.Reason
	}{
		{"AssignedAE", authz.Actor{ID: "ae-1", Roles: []string{authz.RoleAssistantEditor}}, authz.ActionPrecheckTechnicalCheck, true, ""},
		{"OtherAE", authz.Actor{ID: "ae-9", Roles: []string{authz.RoleAssistantEditor}}, authz.ActionPrecheckTechnicalCheck, false, authz.ReasonAssignment},
		{"LayoutEditor", authz.Actor{ID: "pe-1", Roles: []string{authz.RoleProductionEditor}}, authz.ActionProductionUploadGalley, true, ""},
		{"CollaboratorEditor", authz.Actor{ID: "pe-2", Roles: []string{authz.RoleProductionEditor}}, authz.ActionProductionUploadGalley, true, ""},
		{"UnboundPE", authz.Actor{ID: "pe-9", Roles: []string{authz.RoleProductionEditor}}, authz.ActionProductionUploadGalley, false, authz.ReasonAssignment},
		{"ManuscriptAuthor", authz.Actor{ID: "au-1", Roles: []string{authz.RoleAuthor}}, authz.ActionProofingSubmit, true, ""},
		{"DesignatedProofreader", authz.Actor{ID: "proof-1", Roles: []string{authz.RoleAuthor}}, authz.ActionProofingSubmit, true, ""},
		{"StrangerAuthor", authz.Actor{ID: "au-9", Roles: []string{authz.RoleAuthor}}, authz.ActionProofingSubmit, false, authz.ReasonAssignment},
		{"Owner", authz.Actor{ID: "me-1", Roles: []string{authz.RoleOwner}}, authz.ActionManuscriptTransitions, true, ""},
		{"WrongRoleEntirely", authz.Actor{ID: "au-1", Roles: []string{authz.RoleAuthor}}, authz.ActionProductionAdvance, false, authz.ReasonRole},
		{"Admin", authz.Actor{ID: "root", Roles: []string{authz.RoleAdmin}}, authz.ActionProductionAdvance, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := auth.Can(ctx, tc.actor, tc.action, res)
			if tc.allow {
				require.NoError(t, err)
				return
			}
			var fErr *authz.ForbiddenError
			require.ErrorAs(t, err, &fErr)
			assert.Equal(t, tc.reason, fErr.Reason)
		})
	}
}

func TestActorContextRoundTrip(t *testing.T) {
	actor := authz.Actor{ID: "u-1", Roles: []string{authz.RoleAuthor}}
	ctx := authz.ContextWithActor(context.Background(), actor)
	got, ok := authz.ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, actor, got)

	_, ok = authz.ActorFromContext(context.Background())
	assert.False(t, ok)
}
