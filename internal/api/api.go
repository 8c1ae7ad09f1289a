// Package api serves the GitHub webhook endpoint and the REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/debthunt/internal/git"
	"github.com/joescharf/debthunt/internal/models"
	"github.com/joescharf/debthunt/internal/orchestrator"
	"github.com/joescharf/debthunt/internal/store"
	"github.com/joescharf/debthunt/internal/worker"
)

// Runner executes one orchestrator run.
type Runner interface {
	Run(ctx context.Context, target orchestrator.Target) (*orchestrator.Result, error)
}

// Dispatcher schedules background jobs.
type Dispatcher interface {
	Enqueue(key string, job worker.Job) bool
}

// Server provides the REST API and webhook handlers.
type Server struct {
	store         store.Store
	runner        Runner
	dispatcher    Dispatcher
	webhookSecret string
	log           *slog.Logger
}

// NewServer creates a new API server. An empty secret disables webhook
// signature verification.
func NewServer(s store.Store, runner Runner, d Dispatcher, webhookSecret string) *Server {
	return &Server{
		store:         s,
		runner:        runner,
		dispatcher:    d,
		webhookSecret: webhookSecret,
		log:           slog.Default(),
	}
}

// WithLogger replaces the server's logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.log = l
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/github", s.githubWebhook)

	mux.HandleFunc("GET /api/v1/health", s.health)

	mux.HandleFunc("GET /api/v1/repositories", s.listRepositories)
	mux.HandleFunc("GET /api/v1/repositories/{id}", s.getRepository)
	mux.HandleFunc("GET /api/v1/repositories/{id}/scans", s.listScans)
	mux.HandleFunc("POST /api/v1/repositories/{id}/run", s.runRepository)

	mux.HandleFunc("GET /api/v1/claims", s.listClaims)
	mux.HandleFunc("GET /api/v1/claims/{id}", s.getClaim)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps not-found errors to 404 and everything else to 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// enqueueRun schedules a run for repo and reports whether it was accepted.
// An empty base lets the run resolve the default branch from GitHub.
func (s *Server) enqueueRun(repo *models.Repository, base string) bool {
	owner, name, err := git.SplitFullName(repo.FullName)
	if err != nil {
		s.log.Error("cannot run repository", "repo", repo.FullName, "error", err)
		return false
	}
	target := orchestrator.Target{Owner: owner, Repo: name, BaseBranch: base}
	return s.dispatcher.Enqueue(repo.FullName, func(ctx context.Context) error {
		res, err := s.runner.Run(ctx, target)
		if err != nil {
			return err
		}
		s.log.Info("run finished", "repo", repo.FullName, "outcome", res.Outcome)
		return nil
	})
}

// --- Repositories ---

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepositories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, repos)
}

func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}
	repo, err := s.store.GetRepository(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	scans, err := s.store.ListScans(r.Context(), id, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) runRepository(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid repository id")
		return
	}
	repo, err := s.store.GetRepository(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !repo.IsActive {
		writeError(w, http.StatusConflict, "repository is inactive")
		return
	}
	if !s.enqueueRun(repo, "") {
		writeError(w, http.StatusTooManyRequests, "run throttled for "+repo.FullName)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "repository": repo.FullName})
}

// --- Claims ---

func (s *Server) listClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.ClaimListFilter

	if v := q.Get("repository_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid repository_id")
			return
		}
		filter.RepositoryID = id
	}
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := models.ClaimStatus(strings.TrimSpace(part))
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "invalid status: "+string(st))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}

	claims, err := s.store.ListClaims(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func (s *Server) getClaim(w http.ResponseWriter, r *http.Request) {
	claim, err := s.store.GetClaim(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}
