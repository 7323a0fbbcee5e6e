package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"scriptoria.org/internal/authz"
	"scriptoria.org/internal/manuscript"
	"scriptoria.org/internal/obs"
)

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "scriptoria-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "scriptoria-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorPayload(w, r, code, map[string]any{"error": msg})
}

func writeErrorPayload(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps the error taxonomy onto HTTP statuses. The order
// matters: validation, authorization, state conflict, gate, not found.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr *manuscript.ValidationError
		fErr *authz.ForbiddenError
		cErr *manuscript.ConflictError
		gErr *manuscript.GateError
	)
	switch {
	case errors.As(err, &vErr):
		writeError(w, r, http.StatusBadRequest, vErr.Error())
	case errors.As(err, &fErr):
		writeErrorPayload(w, r, http.StatusForbidden, map[string]any{
			"error":  "forbidden",
			"action": fErr.Action,
			"reason": string(fErr.Reason),
		})
	case errors.As(err, &cErr):
		payload := map[string]any{
			"error":   "state conflict",
			"detail":  cErr.Error(),
			"current": string(cErr.Current),
		}
		if cErr.CycleID != "" {
			payload["current"] = string(cErr.CurrentCycle)
			payload["cycle_id"] = cErr.CycleID
		}
		writeErrorPayload(w, r, http.StatusConflict, payload)
	case errors.As(err, &gErr):
		writeErrorPayload(w, r, http.StatusUnprocessableEntity, map[string]any{
			"error":  "transition blocked",
			"gate":   string(gErr.Gate),
			"reason": gErr.Reason,
		})
	case errors.Is(err, manuscript.ErrNotFound), errors.Is(err, manuscript.ErrCycleNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
