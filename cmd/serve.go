package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/notify"
	"github.com/harborview-partners/enrich-cli/internal/pipeline"
	"github.com/harborview-partners/enrich-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for the admin panel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		api := &apiServer{
			runner:   env.Runner,
			store:    env.Store,
			notifier: env.Notifier,
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.routes(),
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// enricher is the subset of the pipeline runner the API handlers call.
type enricher interface {
	EnrichOne(ctx context.Context, ref pipeline.Ref, opts pipeline.Options) (model.ItemResult, *model.PreviewResult)
	RunBatch(ctx context.Context, refs []pipeline.Ref, opts pipeline.BatchOptions) (*model.BatchResult, error)
	Confirm(ctx context.Context, ref pipeline.Ref, candidateID string) model.ItemResult
}

type apiServer struct {
	runner   enricher
	store    store.Store
	notifier *notify.Notifier
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/enrich", s.handleEnrich)
		r.Post("/batch", s.handleBatch)
		r.Post("/confirm", s.handleConfirm)
		r.Get("/runs", s.handleRuns)
	})
	return r
}

// handleEnrich runs a single entity synchronously. Item failures ride inside
// a 200 response; only a malformed request is an HTTP error.
func (s *apiServer) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID    string `json:"entityId"`
		Force       bool   `json:"force"`
		PreviewOnly bool   `json:"previewOnly"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entityId is required")
		return
	}

	item, preview := s.runner.EnrichOne(r.Context(), pipeline.Ref{ID: req.EntityID}, pipeline.Options{
		Force:       req.Force,
		PreviewOnly: req.PreviewOnly,
	})
	writeJSON(w, http.StatusOK, toItemResponse(item, preview))
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityIDs []string `json:"entityIds"`
		Force     bool     `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.EntityIDs) == 0 {
		writeError(w, http.StatusBadRequest, "entityIds is required")
		return
	}

	refs := make([]pipeline.Ref, 0, len(req.EntityIDs))
	for _, id := range req.EntityIDs {
		refs = append(refs, pipeline.Ref{ID: id})
	}

	res, err := s.runner.RunBatch(r.Context(), refs, pipeline.BatchOptions{Force: req.Force})
	if err != nil {
		zap.L().Error("batch run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "batch run failed")
		return
	}

	s.notifier.BatchComplete(r.Context(), res)
	writeJSON(w, http.StatusOK, toBatchResponse(res))
}

func (s *apiServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID    string `json:"entityId"`
		CandidateID string `json:"candidateId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EntityID == "" || req.CandidateID == "" {
		writeError(w, http.StatusBadRequest, "entityId and candidateId are required")
		return
	}

	item := s.runner.Confirm(r.Context(), pipeline.Ref{ID: req.EntityID}, req.CandidateID)
	writeJSON(w, http.StatusOK, toItemResponse(item, nil))
}

func (s *apiServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Scope:      model.RunScope(q.Get("scope")),
		Status:     model.RunStatus(q.Get("status")),
		EntityType: model.EntityType(q.Get("type")),
		Limit:      limit,
	})
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.PipelineRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
