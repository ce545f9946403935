package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"mediavault/internal/models"
)

// maxBodyBytes caps request bodies; every payload this API accepts is tiny.
const maxBodyBytes = 1 << 20

// errCode values are stable identifiers clients switch on; the message is
// for humans only.
type errCode string

const (
	codeInvalidRequest   errCode = "invalid_request"
	codeUnauthorized     errCode = "unauthorized"
	codeForbidden        errCode = "forbidden"
	codeNotFound         errCode = "not_found"
	codeJobFinished      errCode = "job_finished"
	codeJobActive        errCode = "job_active"
	codeSyncInProgress   errCode = "sync_in_progress"
	codeImportRequired   errCode = "import_required"
	codeNotAuthenticated errCode = "not_authenticated"
	codeInternal         errCode = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAccepted is the uniform reply of every job-starting endpoint.
func writeAccepted(w http.ResponseWriter, jobID string) {
	writeJSON(w, http.StatusAccepted, models.JobCreatedResponse{JobID: jobID})
}

func writeError(w http.ResponseWriter, status int, code errCode, message string, details map[string]any) {
	writeJSON(w, status, models.ErrorResponse{
		Error: models.APIError{
			Code:    string(code),
			Message: message,
			Details: details,
		},
	})
}

// decodeJSON reads one strict JSON document: unknown fields and trailing
// content are both rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected content after json document")
	}
	return nil
}
