package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roelfdiedericks/wabridge/internal/automation"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
	"github.com/roelfdiedericks/wabridge/internal/sessions"
)

const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response. The step fields are set
// for automation failures only.
type errorBody struct {
	Error       string                  `json:"error"`
	Kind        string                  `json:"kind"`
	Step        int                     `json:"step,omitempty"`
	Name        string                  `json:"name,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Diagnostics *automation.Diagnostics `json:"diagnostics,omitempty"`
}

type createRequest struct {
	Cookie string `json:"cookie"`
}

type createResponse struct {
	SessionID string `json:"sessionId"`
}

type destroyResponse struct {
	Removed       bool     `json:"removed"`
	ReleaseErrors []string `json:"releaseErrors"`
}

type sendResponse struct {
	Success bool `json:"success"`
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": len(s.registry.List()),
	})
}

// handleCreate handles POST /api/sessions
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Cookie) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "cookie is required", Kind: "invalid_input"})
		return
	}

	id, err := s.registry.Create(r.Context(), sessions.CreateParams{Cookie: req.Cookie})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{SessionID: id})
}

// handleList handles GET /api/sessions
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

// handleGet handles GET /api/sessions/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Detail())
}

// handleDestroy handles DELETE /api/sessions/{id}
func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.Destroy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := destroyResponse{Removed: res.Removed, ReleaseErrors: []string{}}
	for _, e := range res.ReleaseErrors {
		resp.ReleaseErrors = append(resp.ReleaseErrors, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSend handles POST /api/sessions/{id}/messages. Sends to one session are
// serialized; sends across sessions share one token bucket.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req automation.Request
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if !s.sendLimiter.Allow() {
		L_warn("http: send throttled", "session", id)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "send rate exceeded", Kind: "rate_limited"})
		return
	}

	unlock, err := s.sendLocks.Lock(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "request cancelled while waiting for session", Kind: "unavailable"})
		return
	}
	defer unlock()

	if err := s.registry.SendMessage(r.Context(), id, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		L_debug("http: invalid JSON", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error(), Kind: "invalid_input"})
		return false
	}
	return true
}

// statusFor maps registry and automation errors onto HTTP status and error kind.
func statusFor(err error) (int, string) {
	var se *automation.StepError
	switch {
	case errors.Is(err, sessions.ErrInvalidInput), errors.Is(err, automation.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, sessions.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	// a crash wraps the step error that observed it, so it must be checked first
	case errors.Is(err, sessions.ErrBrowserCrash):
		return http.StatusGone, "browser_crash"
	case errors.As(err, &se):
		return http.StatusUnprocessableEntity, "automation_failure"
	case errors.Is(err, sessions.ErrSessionExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, sessions.ErrCapacity):
		return http.StatusTooManyRequests, "capacity"
	case errors.Is(err, sessions.ErrRegistryClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, sessions.ErrCreateFailed):
		return http.StatusBadGateway, "create_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: kind}

	var se *automation.StepError
	if kind == "automation_failure" && errors.As(err, &se) {
		body.Step, body.Name, body.Reason, body.Diagnostics = se.Step, se.Name, se.Reason, se.Diagnostics
	}
	if status >= http.StatusInternalServerError {
		L_error("http: request failed", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_debug("http: write response failed", "error", err)
	}
}
