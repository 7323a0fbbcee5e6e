package manuscript

import (
	"time"
)

// Status is the primary lifecycle state of a manuscript.
type Status string

const (
	StatusSubmitted      Status = "submitted"
	StatusPreCheck       Status = "pre_check"
	StatusUnderReview    Status = "under_review"
	StatusMinorRevision  Status = "minor_revision"
	StatusMajorRevision  Status = "major_revision"
	StatusResubmitted    Status = "resubmitted"
	StatusDecision       Status = "decision"
	StatusDecisionDone   Status = "decision_done"
	StatusApproved       Status = "approved"
	StatusRejected       Status = "rejected"
	StatusLayout         Status = "layout"
	StatusEnglishEditing Status = "english_editing"
	StatusProofreading   Status = "proofreading"
	StatusPublished      Status = "published"
)

// PreCheckStatus is the triage sub-state, meaningful only while the
// manuscript status is pre_check.
type PreCheckStatus string

const (
	PreCheckNone      PreCheckStatus = ""
	PreCheckIntake    PreCheckStatus = "intake"
	PreCheckTechnical PreCheckStatus = "technical"
	PreCheckAcademic  PreCheckStatus = "academic"
)

// productionChain lists the post-acceptance statuses in pipeline order.
var productionChain = []Status{
	StatusApproved,
	StatusLayout,
	StatusEnglishEditing,
	StatusProofreading,
	StatusPublished,
}

// ProductionChain returns the ordered post-acceptance pipeline statuses.
func ProductionChain() []Status {
	out := make([]Status, len(productionChain))
	copy(out, productionChain)
	return out
}

// InProduction reports whether s has reached the production pipeline.
// Rejection is forbidden for any such manuscript.
func InProduction(s Status) bool {
	for _, c := range productionChain {
		if s == c {
			return true
		}
	}
	return false
}

// Terminal reports whether a manuscript can never transition again.
func Terminal(s Status) bool {
	return s == StatusPublished || s == StatusRejected
}

// Manuscript is the aggregate root mutated exclusively by the state machines.
type Manuscript struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Status            Status         `json:"status"`
	PreCheckStatus    PreCheckStatus `json:"pre_check_status,omitempty"`
	Version           int            `json:"version"`
	AuthorID          string         `json:"author_id"`
	OwnerID           string         `json:"owner_id,omitempty"`
	AssistantEditorID string         `json:"assistant_editor_id,omitempty"`
	JournalID         string         `json:"journal_id"`
	FinalPDFPath      string         `json:"final_pdf_path,omitempty"`
	DOI               string         `json:"doi,omitempty"`
	PublishedAt       *time.Time     `json:"published_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// InvoiceStatus is the payment state of the article-processing charge.
type InvoiceStatus string

const (
	InvoiceUnpaid InvoiceStatus = "unpaid"
	InvoicePaid   InvoiceStatus = "paid"
	InvoiceWaived InvoiceStatus = "waived"
)

// Invoice is the financial gate input, at most one per manuscript.
// Amount is in minor units (e.g. cents). No floats.
type Invoice struct {
	ManuscriptID string        `json:"manuscript_id"`
	Amount       int64         `json:"amount"`
	Status       InvoiceStatus `json:"status"`
	ConfirmedAt  *time.Time    `json:"confirmed_at,omitempty"`
}

// Settled reports whether the invoice no longer blocks publication.
func (i Invoice) Settled() bool {
	return i.Amount <= 0 || i.Status == InvoicePaid || i.Status == InvoiceWaived
}

// ReviewAssignmentStatus tracks one reviewer's engagement in one round.
type ReviewAssignmentStatus string

const (
	ReviewPending   ReviewAssignmentStatus = "pending"
	ReviewCompleted ReviewAssignmentStatus = "completed"
	ReviewCancelled ReviewAssignmentStatus = "cancelled"
)

// ReviewAssignment binds a reviewer to a manuscript for one review round.
type ReviewAssignment struct {
	ID           string                 `json:"id"`
	ManuscriptID string                 `json:"manuscript_id"`
	ReviewerID   string                 `json:"reviewer_id"`
	Round        int                    `json:"round"`
	Status       ReviewAssignmentStatus `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
}

// CycleStatus is the state of a post-acceptance proofing cycle.
type CycleStatus string

const (
	CycleDraft                CycleStatus = "draft"
	CycleAwaitingAuthor       CycleStatus = "awaiting_author"
	CycleAuthorConfirmed      CycleStatus = "author_confirmed"
	CycleCorrectionsSubmitted CycleStatus = "author_corrections_submitted"
	CycleInLayoutRevision     CycleStatus = "in_layout_revision"
	CycleApprovedForPublish   CycleStatus = "approved_for_publish"
)

// CycleActive reports whether a cycle still occupies the one-active-cycle
// slot for its manuscript.
func CycleActive(s CycleStatus) bool {
	return s != CycleApprovedForPublish
}

// ProductionCycle is one proofing round between acceptance and publication.
type ProductionCycle struct {
	ID                  string      `json:"id"`
	ManuscriptID        string      `json:"manuscript_id"`
	CycleNo             int         `json:"cycle_no"`
	Status              CycleStatus `json:"status"`
	LayoutEditorID      string      `json:"layout_editor_id"`
	CollaboratorIDs     []string    `json:"collaborator_editor_ids,omitempty"`
	ProofreaderAuthorID string      `json:"proofreader_author_id"`
	ProofRound          int         `json:"proof_round"`
	ProofDueAt          *time.Time  `json:"proof_due_at,omitempty"`
	GalleyPath          string      `json:"galley_path,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// HasCollaborator reports whether userID is bound to the cycle as a
// collaborating editor.
func (c *ProductionCycle) HasCollaborator(userID string) bool {
	for _, id := range c.CollaboratorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ProofingDecision is the author's answer to a galley proof.
type ProofingDecision string

const (
	ProofingConfirm     ProofingDecision = "confirm"
	ProofingCorrections ProofingDecision = "corrections"
)

// ProofingResponse records the author's single answer to one proof round.
type ProofingResponse struct {
	ID         string           `json:"id"`
	CycleID    string           `json:"cycle_id"`
	ProofRound int              `json:"proof_round"`
	AuthorID   string           `json:"author_id"`
	Decision   ProofingDecision `json:"decision"`
	Comment    string           `json:"comment,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// CorrectionItem is one line-level correction attached to a proofing
// response. Items are replaced wholesale when a response is re-persisted.
type CorrectionItem struct {
	ID         string `json:"id"`
	ResponseID string `json:"response_id"`
	Page       int    `json:"page"`
	Line       int    `json:"line"`
	Note       string `json:"note"`
}
