package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HandleListSubmissions returns every submission, newest first.
func (s *Server) HandleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs := s.store.ListAllByRecency(r.Context())

	body, err := json.Marshal(map[string]any{
		"success":     true,
		"count":       len(subs),
		"submissions": subs,
	})
	if err != nil {
		s.log.WithError(err).Error("list_submissions_encode_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Error fetching submissions",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HandleDeleteSubmission removes one submission by its path id.
func (s *Server) HandleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rid := RequestIDFromContext(r.Context())

	deleted, err := s.store.DeleteByID(r.Context(), id)
	if err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		s.log.WithError(err).Error("delete_submission_failed", map[string]any{
			"request_id": rid,
			"id":         id,
		})
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Error deleting submission",
		})
		return
	}

	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"message": "Submission not found",
		})
		return
	}

	s.log.Info("submission_deleted", map[string]any{
		"request_id": rid,
		"id":         id,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Submission deleted",
	})
}

// HandleBackup writes a snapshot of the collection to object storage.
func (s *Server) HandleBackup(w http.ResponseWriter, r *http.Request) {
	if s.backup == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"message": "Backups are not configured",
		})
		return
	}

	res, err := s.backup.Export(r.Context())
	if err != nil {
		backupsTotal.WithLabelValues("failed").Inc()
		s.log.WithError(err).Error("backup_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
		})
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Error creating backup",
		})
		return
	}

	backupsTotal.WithLabelValues("written").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"key":     res.Key,
		"count":   res.Count,
	})
}
