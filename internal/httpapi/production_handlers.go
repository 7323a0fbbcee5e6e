package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"scriptoria.org/internal/production"
)

func (a *API) advanceProduction(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req production.AdvanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	m, err := a.production.Advance(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publishTransition(m, "production_advance", actor.ID)
	writeJSON(w, http.StatusOK, m)
}

func (a *API) revertProduction(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req production.RevertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.IdempotencyKey = idempotencyKey(r, req.IdempotencyKey)
	m, err := a.production.Revert(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.publishTransition(m, "production_revert", actor.ID)
	writeJSON(w, http.StatusOK, m)
}

func (a *API) confirmInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	inv, err := a.production.ConfirmInvoicePaid(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) waiveInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	inv, err := a.production.WaiveInvoice(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) createCycle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req production.CreateCycleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.production.CreateCycle(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/cycles/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) getCycle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	c, err := a.production.GetCycle(r.Context(), actor, chi.URLParam(r, "cycleID"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) uploadGalley(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req production.UploadGalleyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.production.UploadGalley(r.Context(), actor, chi.URLParam(r, "cycleID"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) submitProofreading(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	var req production.ProofingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.production.SubmitProofreading(r.Context(), actor, chi.URLParam(r, "cycleID"), req)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) beginLayoutRevision(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	c, err := a.production.BeginLayoutRevision(r.Context(), actor, chi.URLParam(r, "cycleID"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) approveCycle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "missing actor")
		return
	}
	c, err := a.production.ApproveCycle(r.Context(), actor, chi.URLParam(r, "cycleID"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
