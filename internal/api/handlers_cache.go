package api

import (
	"net/http"

	"mediavault/internal/models"
)

type cacheSyncRequest struct {
	Mode string `json:"mode"`
}

func (s *server) handleCacheSync(w http.ResponseWriter, r *http.Request) {
	req := cacheSyncRequest{Mode: string(models.SyncModeIncremental)}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body", nil)
			return
		}
	}
	mode := models.SyncMode(req.Mode)
	if mode != models.SyncModeFull && mode != models.SyncModeIncremental {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "mode must be full or incremental", nil)
		return
	}

	jobID, err := s.catalog.CacheSync(r.Context(), mode)
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeAccepted(w, jobID)
}

func (s *server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	purged, err := s.store.PurgeDeleted(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("purge cache")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to purge cache", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func (s *server) handleCacheClearFlag(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearSyncInProgress(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("clear sync flag")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to clear sync flag", nil)
		return
	}
	s.log.Info().Msg("sync flag force-cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CacheStats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("cache stats")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to load cache stats", nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
