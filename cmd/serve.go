package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/monitoring"
	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/store"
)

const maxRequestBody = 1 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for enqueuing and processing lead requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg.Server.Port = resolvePort(servePort, cfg.Server.Port)
		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		src, err := initQueueSource(env.Store, "")
		if err != nil {
			return err
		}

		startMonitoring(ctx, env)

		a := &api{
			requests:  env.Store,
			processor: queue.NewProcessor(src, env.Orchestrator),
			breakers:  env.Orchestrator.Breakers(),
			limit:     cfg.Queue.Limit,
		}
		defer a.wait()

		return startServer(ctx, buildRouter(ctx, a, cfg.Server.CORSOrigins), cfg.Server.Port)
	},
}

// startMonitoring launches the background alert checker when enabled.
func startMonitoring(ctx context.Context, env *pipelineEnv) *monitoring.Checker {
	if !cfg.Monitoring.Enabled {
		return nil
	}

	// Keep the interface nil when breakers are disabled.
	var breakers monitoring.BreakerSource
	if b := env.Orchestrator.Breakers(); b != nil {
		breakers = b
	}

	stuckAfter := time.Duration(cfg.Monitoring.StuckAfterMins) * time.Minute
	checker := monitoring.NewChecker(
		monitoring.NewCollector(env.Store, breakers, stuckAfter),
		monitoring.NewAlerter(cfg.Monitoring, newWebhookClient()),
		cfg.Monitoring,
	)
	go checker.Run(ctx)
	return checker
}

// requestStore is the slice of store.Store the API reads and writes.
type requestStore interface {
	EnqueueRequest(ctx context.Context, raw map[string]any) (*model.Request, error)
	GetRequest(ctx context.Context, id string) (*model.Request, error)
	Ping(ctx context.Context) error
}

type queueProcessor interface {
	Process(ctx context.Context, limit int) (queue.Summary, error)
}

// api serves the request endpoints. At most one background queue pass runs
// at a time.
type api struct {
	requests  requestStore
	processor queueProcessor
	breakers  *resilience.ServiceBreakers
	limit     int

	busy atomic.Bool
	wg   sync.WaitGroup
}

// wait blocks until a running background pass has finished.
func (a *api) wait() { a.wg.Wait() }

// buildRouter mounts the API on a chi router. ctx bounds background work
// started by POST /requests/process.
func buildRouter(ctx context.Context, a *api, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)
	r.Route("/requests", func(r chi.Router) {
		r.Post("/", a.createRequest)
		r.Post("/process", func(w http.ResponseWriter, req *http.Request) {
			a.processQueue(ctx, w, req)
		})
		r.Get("/{id}", a.getRequest)
	})
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if a.requests != nil {
		if err := a.requests.Ping(r.Context()); err != nil {
			zap.L().Warn("health: store ping failed", zap.Error(err))
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	breakers := []resilience.Snapshot{}
	if a.breakers != nil {
		breakers = a.breakers.Snapshots()
		slices.SortFunc(breakers, func(x, y resilience.Snapshot) int { return strings.Compare(x.Name, y.Name) })
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"breakers": breakers,
	})
}

func (a *api) createRequest(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&raw); err != nil || raw == nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	params, err := queue.BuildParams(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := a.requests.EnqueueRequest(r.Context(), raw)
	if err != nil {
		zap.L().Error("enqueue request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	zap.L().Info("request enqueued", zap.String("request_id", req.ID), zap.Int("quantity", params.Quantity))
	writeJSON(w, http.StatusCreated, map[string]any{
		"request":    req,
		"parameters": params,
	})
}

func (a *api) getRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := a.requests.GetRequest(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		zap.L().Error("get request failed", zap.String("request_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *api) processQueue(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	limit := a.limit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if !a.busy.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "queue processing already running")
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.busy.Store(false)
		sum, err := a.processor.Process(ctx, limit)
		if err != nil {
			zap.L().Error("background queue processing failed", zap.Error(err))
		}
		zap.L().Info("background queue processing complete",
			zap.Int("fetched", sum.Fetched),
			zap.Int("succeeded", sum.Succeeded),
			zap.Int("failed", sum.Failed),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "limit": limit})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// resolvePort prefers the flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
