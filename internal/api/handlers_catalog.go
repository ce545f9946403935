package api

import (
	"errors"
	"net/http"
	"strconv"

	"mediavault/internal/catalog"
	"mediavault/internal/drivesync"
)

func (s *server) handleBootstrapLocal(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.catalog.BootstrapLocal(r.Context())
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeAccepted(w, jobID)
}

func (s *server) handleDriveImport(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.catalog.DriveImport(r.Context())
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeAccepted(w, jobID)
}

func (s *server) handleDrivePublish(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "force must be a boolean", nil)
			return
		}
		force = parsed
	}
	jobID, err := s.catalog.DrivePublish(r.Context(), force)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeAccepted(w, jobID)
}

func (s *server) handleDriveRebuild(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.catalog.DriveRebuild(r.Context())
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeAccepted(w, jobID)
}

func (s *server) handleSyncLocal(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.catalog.SyncLocalToDrive(r.Context())
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeAccepted(w, jobID)
}

func (s *server) writeOperationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, drivesync.ErrNotAuthenticated):
		writeError(w, http.StatusServiceUnavailable, codeNotAuthenticated, "remote account not authenticated", nil)
	case errors.Is(err, drivesync.ErrSyncInProgress):
		writeError(w, http.StatusConflict, codeSyncInProgress, "a sync is already running", nil)
	case errors.Is(err, catalog.ErrImportRequired):
		writeError(w, http.StatusConflict, codeImportRequired, "a remote catalog exists; import it first or force the publish", nil)
	default:
		s.log.Error().Err(err).Msg("operation failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "operation failed", nil)
	}
}
