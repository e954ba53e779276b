package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hopworks/brewpilot-core/internal/automation"
)

// validTaskStatus lists the statuses a task may be created with or
// moved to through the API.
var validTaskStatus = map[automation.TaskStatus]bool{
	automation.TaskCreated:   true,
	automation.TaskStarted:   true,
	automation.TaskDone:      true,
	automation.TaskCancelled: true,
}

// handleListTasks returns all tasks, with optional query filters.
//
// Query parameters:
//   - ref: filter by task reference
//   - process_id: filter by owning process
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	processID := r.URL.Query().Get("process_id")
	if len(ref) > maxIDLen || len(processID) > maxIDLen {
		writeBadRequest(w, "filter exceeds maximum length")
		return
	}

	all, err := s.tasks.FetchAll(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list tasks")
		return
	}

	tasks := make([]automation.Task, 0, len(all))
	for _, task := range all {
		if ref != "" && task.Ref != ref {
			continue
		}
		if processID != "" && task.ProcessID != processID {
			continue
		}
		tasks = append(tasks, task)
	}

	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// handleGetTask returns a single task by ID.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxIDLen {
		writeBadRequest(w, "invalid task ID")
		return
	}

	task, err := s.tasks.FetchByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrTaskNotFound) {
			writeNotFound(w, "task not found")
			return
		}
		writeInternalError(w, "failed to get task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// handleCreateTask creates a new user task.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var task automation.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if task.Ref == "" {
		writeBadRequest(w, "ref is required")
		return
	}
	if task.ID == "" {
		task.ID = automation.GenerateID()
	}
	if task.Title == "" {
		task.Title = task.Ref
	}
	if task.Status == "" {
		task.Status = automation.TaskCreated
	}
	if !validTaskStatus[task.Status] {
		writeBadRequest(w, "invalid task status")
		return
	}
	if task.CreatedBy == "" {
		task.CreatedBy = automation.TaskByUser
	}
	task.Rev = 0 // creation always inserts

	saved, err := s.tasks.Save(r.Context(), &task)
	if err != nil {
		if errors.Is(err, automation.ErrTaskExists) {
			writeConflict(w, "task already exists")
			return
		}
		writeInternalError(w, "failed to create task")
		return
	}

	if s.recorder != nil {
		s.recorder.RecordTask(*saved)
	}
	writeJSON(w, http.StatusCreated, saved)
}

// handleUpdateTask partially updates a task. This is how operators
// complete the tasks that gate process steps.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxIDLen {
		writeBadRequest(w, "invalid task ID")
		return
	}

	existing, err := s.tasks.FetchByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrTaskNotFound) {
			writeNotFound(w, "task not found")
			return
		}
		writeInternalError(w, "failed to get task")
		return
	}

	// Decode partial update onto the existing task
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	existing.ID = id // Ensure ID cannot be changed
	if !validTaskStatus[existing.Status] {
		writeBadRequest(w, "invalid task status")
		return
	}

	saved, err := s.tasks.Save(r.Context(), existing)
	if err != nil {
		if errors.Is(err, automation.ErrRevisionConflict) {
			writeConflict(w, "task was modified concurrently, re-fetch and retry")
			return
		}
		writeInternalError(w, "failed to update task")
		return
	}

	if s.recorder != nil {
		s.recorder.RecordTask(*saved)
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleDeleteTask removes a task by ID.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxIDLen {
		writeBadRequest(w, "invalid task ID")
		return
	}

	if err := s.tasks.Remove(r.Context(), id); err != nil {
		if errors.Is(err, automation.ErrTaskNotFound) {
			writeNotFound(w, "task not found")
			return
		}
		writeInternalError(w, "failed to delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
