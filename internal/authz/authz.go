// Package authz decides whether an actor may perform an editorial action on
// a manuscript. Two orthogonal predicates compose: a static action→roles
// table, and a per-role secondary predicate (journal scope for managing
// editors and editors-in-chief, assignment binding for assistant editors,
// production editors, owners and authors).
package authz

import (
	"context"
)

// Roles known to the editorial core.
const (
	RoleAdmin            = "admin"
	RoleManagingEditor   = "managing_editor"
	RoleEditorInChief    = "editor_in_chief"
	RoleAssistantEditor  = "assistant_editor"
	RoleProductionEditor = "production_editor"
	RoleOwner            = "owner"
	RoleAuthor           = "author"
)

// Action identifiers. The HTTP layer maps one route to one action.
const (
	ActionManuscriptSubmit      = "manuscript:submit"
	ActionManuscriptViewDetail  = "manuscript:view_detail"
	ActionManuscriptTransitions = "manuscript:list_transitions"
	ActionManuscriptResubmit    = "manuscript:resubmit"

	ActionPrecheckAssignAE       = "precheck:assign_ae"
	ActionPrecheckIntakeRevision = "precheck:intake_revision"
	ActionPrecheckTechnicalCheck = "precheck:technical_check"
	ActionPrecheckAcademicCheck  = "precheck:academic_check"

	ActionDecisionRequestRevision = "decision:request_revision"
	ActionDecisionSubmitFinal     = "decision:submit_final"

	ActionInvoiceConfirmPaid = "invoice:confirm_paid"
	ActionInvoiceWaive       = "invoice:waive"

	ActionProductionAdvance        = "production:advance"
	ActionProductionRevert         = "production:revert"
	ActionProductionCreateCycle    = "production:create_cycle"
	ActionProductionUploadGalley   = "production:upload_galley"
	ActionProductionLayoutRevision = "production:layout_revision"

	ActionProofingSubmit  = "proofing:submit"
	ActionProofingApprove = "proofing:approve"
)

// actionRoles is the static permission table. admin is implicit everywhere
// and never listed.
var actionRoles = map[string][]string{
	ActionManuscriptSubmit:      {RoleAuthor},
	ActionManuscriptViewDetail:  {RoleManagingEditor, RoleEditorInChief, RoleAssistantEditor, RoleProductionEditor, RoleOwner, RoleAuthor},
	ActionManuscriptTransitions: {RoleManagingEditor, RoleEditorInChief, RoleAssistantEditor, RoleProductionEditor, RoleOwner},
	ActionManuscriptResubmit:    {RoleAuthor},

	ActionPrecheckAssignAE:       {RoleManagingEditor},
	ActionPrecheckIntakeRevision: {RoleManagingEditor},
	ActionPrecheckTechnicalCheck: {RoleAssistantEditor},
	ActionPrecheckAcademicCheck:  {RoleEditorInChief},

	ActionDecisionRequestRevision: {RoleManagingEditor, RoleEditorInChief},
	ActionDecisionSubmitFinal:     {RoleManagingEditor, RoleEditorInChief},

	ActionInvoiceConfirmPaid: {RoleManagingEditor},
	ActionInvoiceWaive:       {RoleManagingEditor, RoleEditorInChief},

	ActionProductionAdvance:        {RoleManagingEditor, RoleProductionEditor},
	ActionProductionRevert:         {RoleManagingEditor, RoleProductionEditor},
	ActionProductionCreateCycle:    {RoleManagingEditor, RoleProductionEditor},
	ActionProductionUploadGalley:   {RoleProductionEditor},
	ActionProductionLayoutRevision: {RoleProductionEditor},

	ActionProofingSubmit:  {RoleAuthor},
	ActionProofingApprove: {RoleProductionEditor},
}

// CanPerform answers the bare role check: does any of the roles appear in
// the action's row of the permission table. admin always passes.
func CanPerform(action string, roles []string) bool {
	for _, r := range roles {
		if r == RoleAdmin {
			return true
		}
	}
	allowed, ok := actionRoles[action]
	if !ok {
		return false
	}
	for _, r := range roles {
		for _, a := range allowed {
			if r == a {
				return true
			}
		}
	}
	return false
}

// scoped roles are restricted to the journals they hold active grants for.
func scopedRole(role string) bool {
	return role == RoleManagingEditor || role == RoleEditorInChief
}

// assignment roles bypass journal scope but must be bound to the manuscript
// or to its active production cycle.
func assignmentRole(role string) bool {
	switch role {
	case RoleAssistantEditor, RoleProductionEditor, RoleOwner, RoleAuthor:
		return true
	}
	return false
}

// Actor is the resolved identity the API layer hands to every operation.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the actor carries the role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor is an administrator.
func (a Actor) IsAdmin() bool { return a.HasRole(RoleAdmin) }

// Resource carries the manuscript fields the secondary predicates read.
type Resource struct {
	ManuscriptID        string
	JournalID           string
	AuthorID            string
	OwnerID             string
	AssistantEditorID   string
	LayoutEditorID      string
	CollaboratorIDs     []string
	ProofreaderAuthorID string
}

// GrantStore resolves the journals a user holds an active grant for in a
// given role.
type GrantStore interface {
	ActiveJournals(ctx context.Context, userID, role string) ([]string, error)
}

// Config carries the feature flags the engine needs, fixed at construction.
type Config struct {
	EnforceJournalScope bool
}

// Authorizer answers "may actor perform action on resource".
type Authorizer struct {
	cfg    Config
	grants GrantStore
}

// New builds an Authorizer.
func New(cfg Config, grants GrantStore) *Authorizer {
	return &Authorizer{cfg: cfg, grants: grants}
}

// Can returns nil when the actor may perform the action, a *ForbiddenError
// otherwise. The error's Reason distinguishes "wrong role" from "right role,
// wrong journal/assignment" for observability; callers collapse both to the
// same denial.
func (a *Authorizer) Can(ctx context.Context, actor Actor, action string, res Resource) error {
	if actor.IsAdmin() {
		return nil
	}
	allowed := actionRoles[action]
	var candidates []string
	for _, role := range actor.Roles {
		for _, al := range allowed {
			if role == al {
				candidates = append(candidates, role)
			}
		}
	}
	if len(candidates) == 0 {
		return &ForbiddenError{Action: action, Reason: ReasonRole}
	}

	reason := ReasonAssignment
	for _, role := range candidates {
		switch {
		case scopedRole(role):
			if !a.cfg.EnforceJournalScope {
				return nil
			}
			journals, err := a.grants.ActiveJournals(ctx, actor.ID, role)
			if err != nil {
				return err
			}
			for _, j := range journals {
				if j == res.JournalID {
					return nil
				}
			}
			reason = ReasonScope
		case assignmentRole(role):
			if assignmentSatisfied(role, actor.ID, res) {
				return nil
			}
		default:
			return nil
		}
	}
	return &ForbiddenError{Action: action, Reason: reason, Role: candidates[0]}
}

func assignmentSatisfied(role, actorID string, res Resource) bool {
	switch role {
	case RoleAssistantEditor:
		return actorID != "" && actorID == res.AssistantEditorID
	case RoleProductionEditor:
		if actorID == res.LayoutEditorID && actorID != "" {
			return true
		}
		for _, id := range res.CollaboratorIDs {
			if id == actorID {
				return true
			}
		}
		return false
	case RoleOwner:
		return actorID != "" && actorID == res.OwnerID
	case RoleAuthor:
		return actorID != "" && (actorID == res.AuthorID || actorID == res.ProofreaderAuthorID)
	}
	return false
}
