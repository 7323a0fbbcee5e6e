package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"scriptoria.org/internal/lifecycle"
	"scriptoria.org/internal/manuscript"
	"scriptoria.org/internal/precheck"
	"scriptoria.org/internal/stream"
)

func (a *API) publishTransition(m *manuscript.Manuscript, action, changedBy string) {
	if a.stream == nil || m == nil {
		return
	}
	a.stream.Publish(stream.TransitionEvent{
		ManuscriptID: m.ID,
		JournalID:    m.JournalID,
		ToStatus:     string(m.Status),
		Action:       action,
		ChangedBy:    changedBy,
	})
}

func (a *API) createSubmission(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req lifecycle.SubmissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.lifecycle.CreateSubmission(r.Context(), actor, req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publishTransition(m, "manuscript_submit", actor.ID)
	w.Header().Set("Location", "/v1/manuscripts/"+m.ID)
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) getManuscript(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	m, err := a.lifecycle.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) listTransitions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	entries, err := a.lifecycle.ListTransitions(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) assignAE(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req precheck.AssignAERequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	m, err := a.precheck.AssignAE(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publishTransition(m, "precheck_assign_ae", actor.ID)
	writeJSON(w, http.StatusOK, m)
}

func (a *API) intakeRevision(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req precheck.IntakeRevisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	m, err := a.precheck.RequestIntakeRevision(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publishTransition(m, "precheck_intake_revision", actor.ID)
	writeJSON(w, http.StatusOK, m)
}

func (a *API) technicalCheck(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req precheck.TechnicalCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	m, err := a.precheck.SubmitTechnicalCheck(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publishTransition(m, "precheck_technical", actor.ID)
	writeJSON(w, http.StatusOK, m)
}

func (a *API) academicCheck(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req precheck.AcademicCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	m, err := a.precheck.SubmitAcademicCheck(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publishTransition(m, "precheck_academic", actor.ID)
	writeJSON(w, http.StatusOK, m)
}

func (a *API) requestRevision(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req lifecycle.RevisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	m, err := a.lifecycle.RequestRevision(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publishTransition(m, "revision_request", actor.ID)
	writeJSON(w, http.StatusOK, m)
}

func (a *API) resubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req lifecycle.ResubmissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	m, err := a.lifecycle.SubmitResubmission(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publishTransition(m, "manuscript_resubmit", actor.ID)
	writeJSON(w, http.StatusOK, m)
}

func (a *API) finalDecision(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req lifecycle.FinalDecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	m, err := a.lifecycle.SubmitFinalDecision(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publishTransition(m, "final_decision", actor.ID)
	writeJSON(w, http.StatusOK, m)
}

// idempotencyKey prefers the Idempotency-Key header over the body value.
func idempotencyKey(r *http.Request, bodyKey string) string {
	if h := r.Header.Get("Idempotency-Key"); h != "" {
		return h
	}
	return bodyKey
}
