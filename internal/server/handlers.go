package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/similarity"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/storage"
)

const defaultRelatedLimit = 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"engine": s.engine.Statistics(),
	}
	if s.docs != nil {
		n, err := s.docs.CountDocuments(r.Context())
		if err != nil {
			s.logger.Error("stats: count documents failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["api_documents"] = n
	}
	if rep := s.LastRun(); rep != nil {
		resp["last_run"] = rep
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"family":            s.config.Similarity.Family,
			"database_path":     s.config.Storage.DatabasePath,
			"vault_directories": s.config.Vault.Directories,
		}
		if diskBytes, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	query := models.RelatedQuery{ID: r.URL.Query().Get("id")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		query.Limit = n
	}
	if err := query.Validate(s.defaultLimit()); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("related request", zap.String("id", query.ID), zap.Int("limit", query.Limit))

	start := time.Now()
	if _, ok := s.engine.Document(query.ID); !ok {
		if err := s.engine.AddDocument(r.Context(), query.ID, nil); err != nil {
			s.respondEngineError(w, err)
			return
		}
	}
	related := s.engine.Related(query.ID, query.Limit)
	stats := s.engine.Statistics()

	resp := &models.RelatedResponse{
		ID:        query.ID,
		Results:   make([]*models.RelatedResult, len(related)),
		Total:     len(related),
		QueryTime: time.Since(start).Milliseconds(),
		Sampled:   stats.Sampled,
		Relaxed:   stats.Relaxed,
	}
	for i := range related {
		resp.Results[i] = &related[i]
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	a, b := r.URL.Query().Get("a"), r.URL.Query().Get("b")
	if a == "" || b == "" {
		s.respondError(w, http.StatusBadRequest, "a and b are required")
		return
	}
	score, err := s.engine.ComputeSimilarity(r.Context(), a, b)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, &models.SimilarityResponse{A: a, B: b, Score: score})
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	s.logger.Debug("index document request", zap.String("id", input.ID), zap.String("title", input.Title))

	if s.docs != nil {
		doc := &models.Document{ID: input.ID, Title: input.Title, Content: input.Content}
		if err := s.docs.UpsertDocument(r.Context(), doc); err != nil {
			s.logger.Error("storing document failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if err := s.engine.Ingest(r.Context(), input); err != nil {
		s.logger.Error("indexing failed", zap.Error(err))
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": input.ID, "status": "indexed"})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	s.logger.Debug("delete document request", zap.String("id", id))

	stored := false
	if s.docs != nil {
		var err error
		if stored, err = s.docs.DeleteDocument(r.Context(), id); err != nil {
			s.logger.Error("deletion failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	indexed := s.engine.RemoveDocument(id)
	if !stored && !indexed {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// handleReindex starts a bulk run in the background. ?incremental=true keeps the
// current index and only recomputes changed documents.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	incremental, _ := strconv.ParseBool(r.URL.Query().Get("incremental"))
	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID))

	s.runs.Add(1)
	err := s.engine.Start(similarity.WithRunID(s.runCtx, runID), !incremental, nil, func(rep *similarity.Report, err error) {
		defer s.runs.Done()
		if rep != nil {
			s.setLastRun(rep)
		}
		if err != nil {
			log.Error("reindex failed", zap.Error(err))
		}
	})
	if err != nil {
		s.runs.Done()
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "started"})
}

func (s *Server) handleCancelReindex(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Running() {
		s.respondError(w, http.StatusConflict, "no indexing run in progress")
		return
	}
	s.engine.Cancel()
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) defaultLimit() int {
	if s.config != nil && s.config.Similarity.MaxResults > 0 {
		return s.config.Similarity.MaxResults
	}
	return defaultRelatedLimit
}

// respondEngineError maps engine and store errors to status codes.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, similarity.ErrNoStore):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, similarity.ErrEmptyID), errors.Is(err, similarity.ErrInvalidConfig):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, similarity.ErrBusy):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
