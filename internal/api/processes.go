package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hopworks/brewpilot-core/internal/automation"
)

// maxIDLen limits path/query identifier length to prevent DoS via oversized params.
const maxIDLen = 100

// handleListProcesses returns all stored processes.
func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	procs, err := s.processes.FetchAll(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list processes")
		return
	}
	if procs == nil {
		procs = []automation.Process{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"processes": procs, "count": len(procs)})
}

// handleGetProcess returns a single process by ID.
func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxIDLen {
		writeBadRequest(w, "invalid process ID")
		return
	}

	proc, err := s.processes.FetchByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrProcessNotFound) {
			writeNotFound(w, "process not found")
			return
		}
		writeInternalError(w, "failed to get process")
		return
	}

	writeJSON(w, http.StatusOK, proc)
}

// handleCreateProcess instantiates a template as a new process.
//
// The body is a template document. Instantiation assigns fresh ids
// throughout and rejects templates whose transitions point at unknown
// steps; the first engine tick after creation writes the initial
// result.
func (s *Server) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	var tpl automation.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	proc, err := s.engine.CreateProcess(r.Context(), &tpl)
	if err != nil {
		var verr *automation.TemplateValidationError
		if errors.As(err, &verr) {
			writeValidation(w, "template validation failed", verr.Problems)
			return
		}
		writeInternalError(w, "failed to create process")
		return
	}

	writeJSON(w, http.StatusCreated, proc)
}

// handleDeleteProcess removes a process by ID.
func (s *Server) handleDeleteProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxIDLen {
		writeBadRequest(w, "invalid process ID")
		return
	}

	if err := s.processes.Remove(r.Context(), id); err != nil {
		if errors.Is(err, automation.ErrProcessNotFound) {
			writeNotFound(w, "process not found")
			return
		}
		writeInternalError(w, "failed to delete process")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// jumpRequest is the request body for POST /jump.
type jumpRequest struct {
	ProcessID string           `json:"processId"`
	StepID    string           `json:"stepId"`
	Phase     automation.Phase `json:"phase,omitempty"`
}

// validJumpPhase lists the phases a jump may force a step into.
var validJumpPhase = map[automation.Phase]bool{
	automation.PhaseCreated:       true,
	automation.PhasePreconditions: true,
	automation.PhaseActions:       true,
	automation.PhaseTransitions:   true,
}

// handleJump queues a step jump for the next engine tick.
//
// Submission is fire-and-forget: the jump is applied unconditionally
// when the tick drains the queue, and a jump naming a process that no
// longer exists is dropped there. The response is 202 Accepted.
func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ProcessID == "" || len(req.ProcessID) > maxIDLen {
		writeBadRequest(w, "processId is required")
		return
	}
	if req.StepID == "" || len(req.StepID) > maxIDLen {
		writeBadRequest(w, "stepId is required")
		return
	}
	if req.Phase != "" && !validJumpPhase[req.Phase] {
		writeBadRequest(w, "invalid phase")
		return
	}

	s.engine.ScheduleStepJump(automation.StepJump{
		ProcessID: req.ProcessID,
		StepID:    req.StepID,
		Phase:     req.Phase,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"message": "jump queued for next tick",
	})
}
