package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mediavault/internal/models"
)

func (s *server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var origin *models.Origin
	if raw := q.Get("origin"); raw != "" {
		parsed, ok := models.ParseOrigin(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "origin must be local or remote", nil)
			return
		}
		origin = &parsed
	}

	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "page must be a positive integer", nil)
			return
		}
		page = n
	}
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	resp, err := s.store.ListVideos(r.Context(), origin, page, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list videos")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list videos", nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	videoUID := chi.URLParam(r, "videoUid")
	deleted, err := s.store.DeleteVideo(r.Context(), videoUID)
	if err != nil {
		s.log.Error().Err(err).Str("video_uid", videoUID).Msg("delete video")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to delete video", nil)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, codeNotFound, "video not found", map[string]any{"videoUid": videoUID})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
