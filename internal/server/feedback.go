package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"club-feedback/internal/feedback"
)

var errTrailingData = errors.New("unexpected data after JSON object")

// HandleSubmit validates, sanitizes and stores one feedback submission.
func (s *Server) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	rid := RequestIDFromContext(r.Context())

	payload, err := decodePayload(w, r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
				"success": false,
				"message": "Request body too large",
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}

	sub, err := feedback.Build(payload, s.now())
	if err != nil {
		var verr *feedback.ValidationError
		if errors.As(err, &verr) {
			submissionsTotal.WithLabelValues("invalid").Inc()
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"message": "Validation failed",
				"errors":  verr.Messages,
			})
			return
		}
		s.failSubmit(w, rid, "build", err)
		return
	}

	if err := s.store.Insert(r.Context(), sub); err != nil {
		storeErrors.WithLabelValues("insert").Inc()
		s.failSubmit(w, rid, "insert", err)
		return
	}

	submissionsTotal.WithLabelValues("accepted").Inc()
	s.log.Info("submission_stored", map[string]any{
		"request_id": rid,
		"id":         sub.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Feedback submitted successfully",
		"id":      sub.ID,
	})
}

func (s *Server) failSubmit(w http.ResponseWriter, rid, stage string, err error) {
	submissionsTotal.WithLabelValues("failed").Inc()
	s.log.WithError(err).Error("submission_failed", map[string]any{
		"request_id": rid,
		"stage":      stage,
	})
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"message": "Error submitting feedback. Please try again later.",
	})
}

// decodePayload reads a JSON object or a urlencoded form into a generic map.
// An empty body decodes to an empty map so validation reports the missing
// fields.
func decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		payload := make(map[string]any, len(r.PostForm))
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				payload[k] = vs[0]
			}
		}
		return payload, nil
	}

	var payload map[string]any
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	// Only whitespace may follow the object.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errTrailingData
		}
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}
