package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/compass/internal/model"
	"github.com/sells-group/compass/internal/store"
)

type researchRequest struct {
	MaxPages int  `json:"max_pages"`
	Wait     bool `json:"wait"`
}

type matchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// decodeBody decodes an optional JSON body into v. An empty body is valid.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// requireOrganization writes a 404 or 500 and returns false when the
// organization cannot be loaded.
func (s *Server) requireOrganization(w http.ResponseWriter, r *http.Request, id int64) bool {
	if _, err := s.store.GetOrganization(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "organization not found")
			return false
		}
		zap.L().Error("api: load organization", zap.Int64("organization_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load organization")
		return false
	}
	return true
}

func (s *Server) research(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}
	var req researchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxPages < 0 {
		writeError(w, http.StatusBadRequest, "max_pages must not be negative")
		return
	}
	if !s.requireOrganization(w, r, id) {
		return
	}

	h := s.svc.Submit(id, req.MaxPages)
	if !req.Wait {
		writeJSON(w, http.StatusAccepted, h)
		return
	}

	res, err := s.svc.Await(r.Context(), h)
	if err != nil {
		zap.L().Warn("api: await research", zap.String("task_id", h.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "research did not complete")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.svc.Task(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "top_k must not be negative")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Match(r.Context(), req.Query, req.TopK))
}

func (s *Server) listMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}
	if !s.requireOrganization(w, r, id) {
		return
	}
	movements, err := s.store.ListMovements(r.Context(), id)
	if err != nil {
		zap.L().Error("api: list movements", zap.Int64("organization_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list movements")
		return
	}
	if movements == nil {
		movements = []model.Movement{}
	}
	writeJSON(w, http.StatusOK, movements)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.RunFilter{Status: model.RunStatus(q.Get("status"))}
	if v := q.Get("organization_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid organization_id")
			return
		}
		filter.OrganizationID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}
