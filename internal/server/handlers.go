package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/uttree/internal/config"
	"github.com/hyperjump/uttree/internal/ingest"
	"github.com/hyperjump/uttree/internal/models"
	"github.com/hyperjump/uttree/internal/search"
	"github.com/hyperjump/uttree/internal/storage"
)

const maxBodyBytes = 32 << 20

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var empty *models.EmptyAdmissionError
	switch {
	case errors.Is(err, models.ErrInvalidQuery),
		errors.Is(err, models.ErrDimensionMismatch),
		errors.Is(err, models.ErrMalformedQuadruple):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAdmissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmptyIndex):
		return http.StatusConflict
	case errors.As(err, &empty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, search.ErrConceptsDisabled):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

// handleProcessAdmissions accepts one admission object or an array of them.
func (s *Server) handleProcessAdmissions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		batch, err := ingest.DecodeJSON(body)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		s.logger.Debug("Process admissions request",
			zap.Int("count", len(batch.Admissions)),
			zap.Int("rejected", len(batch.Rejected)))
		report := s.pipeline.ProcessIngested(r.Context(), batch, "request", "")
		s.respondJSON(w, http.StatusOK, report)
		return
	}

	var input models.AdmissionInput
	if err := json.Unmarshal(body, &input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rec, err := input.Record()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("Process admission request", zap.String("admission_id", rec.ID()), zap.Int("events", len(input.Events)))
	res, err := s.pipeline.ProcessRecord(r.Context(), rec)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("Process admission failed", zap.String("admission_id", rec.ID()), zap.Error(err))
		}
		s.respondJSON(w, status, res)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	s.respondJSON(w, status, res)
}

func (s *Server) handleListAdmissions(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	limit = models.ClampK(limit)
	list, err := s.storage.ListAdmissions(r.Context(), offset, limit)
	if err != nil {
		s.fail(w, "List admissions", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"admissions": list,
		"offset":     offset,
		"limit":      limit,
	})
}

func (s *Server) handleGetAdmission(w http.ResponseWriter, r *http.Request) {
	detail, err := s.storage.GetAdmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "Get admission", err)
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteAdmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("Delete admission request", zap.String("admission_id", id))
	if err := s.pipeline.DeleteAdmission(r.Context(), id); err != nil {
		s.fail(w, "Delete admission", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"admission_id": id, "status": "deleted"})
}

func (s *Server) handleSimilarTo(w http.ResponseWriter, r *http.Request) {
	k, err := queryInt(r, "k")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.engine.SimilarTo(r.Context(), chi.URLParam(r, "id"), k)
	if err != nil {
		s.fail(w, "Similar admissions", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTwins(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	twins, err := s.engine.StructuralTwins(r.Context(), id)
	if err != nil {
		s.fail(w, "Structural twins", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"admission_id": id,
		"twins":        twins,
		"total":        len(twins),
	})
}

func (s *Server) handleSimilarToVector(w http.ResponseWriter, r *http.Request) {
	var q models.SimilarityQuery
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.engine.SimilarToVector(r.Context(), &q)
	if err != nil {
		s.fail(w, "Vector similarity", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConcepts(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	fuzzy, _ := strconv.ParseBool(v.Get("fuzzy"))
	q := &models.ConceptQuery{Query: v.Get("q"), Limit: limit, Fuzzy: fuzzy, Category: v.Get("category")}
	resp, err := s.engine.FindByConcept(r.Context(), q)
	if err != nil {
		s.fail(w, "Concept search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.pipeline.Status(r.Context())
	if err != nil {
		s.fail(w, "Status", err)
		return
	}
	resp := map[string]interface{}{
		"admissions":        st.Admissions,
		"quadruples":        st.Quadruples,
		"index_size":        st.IndexSize,
		"concept_documents": st.ConceptDocs,
	}
	configInfo := map[string]interface{}{
		"index_type":      st.IndexType,
		"metric":          st.Metric,
		"dimensions":      st.Dimensions,
		"embedding_model": st.EmbeddingModel,
		"workers":         st.Workers,
	}
	if s.config != nil {
		paths := s.config.Storage
		configInfo["database_path"] = paths.DatabasePath
		configInfo["bleve_index_path"] = paths.BleveIndexPath
		configInfo["vector_snapshot_path"] = paths.VectorSnapshotPath
		usage, err := storage.MeasureDiskUsage(paths.DatabasePath, paths.BleveIndexPath, paths.VectorSnapshotPath)
		if err != nil {
			s.logger.Warn("Failed to measure disk usage", zap.Error(err))
		} else {
			resp["disk_usage"] = usage
		}
	}
	if s.watch != nil {
		configInfo["watch_directories"] = s.watch.Directories()
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("Watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.fail(w, "Watch add directory", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("Watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.fail(w, "Watch remove directory", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("Failed to persist watch config", zap.Error(err))
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
