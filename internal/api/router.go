// Package api serves the research and match operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/compass/internal/model"
	"github.com/sells-group/compass/internal/queue"
	"github.com/sells-group/compass/internal/store"
)

// Researcher is the pipeline surface the handlers call.
type Researcher interface {
	Submit(orgID int64, maxPages int) queue.Handle
	Await(ctx context.Context, h queue.Handle) (*model.ResearchResult, error)
	Task(id string) (queue.Task[*model.ResearchResult], bool)
	Match(ctx context.Context, query string, topK int) *model.MatchResponse
}

// Server holds the handler dependencies.
type Server struct {
	svc   Researcher
	store store.Store
}

// NewRouter builds the HTTP handler. An empty origin list allows any origin.
func NewRouter(svc Researcher, st store.Store, allowedOrigins []string) http.Handler {
	s := &Server{svc: svc, store: st}

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/organizations/{id}/research", s.research)
		r.Get("/organizations/{id}/movements", s.listMovements)
		r.Get("/tasks/{id}", s.getTask)
		r.Post("/match", s.match)
		r.Get("/runs", s.listRuns)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request on the global logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
