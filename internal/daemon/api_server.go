package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/services"
)

// longPollTimeout bounds how long events and logs requests wait, below the
// server write timeout.
const longPollTimeout = 25 * time.Second

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	router chi.Router
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.router = srv.routes(cfg.API.Token)
	srv.server = &http.Server{
		Handler:           srv.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))

		r.Get("/status", s.handleStatus)
		r.Get("/statistics", s.handleStatistics)
		r.Post("/processing/start", s.handleProcessingStart)
		r.Post("/processing/stop", s.handleProcessingStop)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleTaskList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleTaskShow)
				r.Delete("/", s.handleTaskRemove)
				r.Post("/restart", s.handleTaskRestart)
				r.Post("/stop", s.handleTaskStop)
				r.Post("/resume", s.handleTaskResume)
				r.Post("/toggle", s.handleTaskToggle)
			})
		})
		r.Patch("/directories/{id}", s.handleDirectoryRename)
		r.Put("/stages/{kind}", s.handleStageToggle)

		r.Post("/operations/{id}/begin", s.handleOperationBegin)
		r.Post("/operations/{id}/complete", s.handleOperationComplete)

		r.Route("/ingest", func(r chi.Router) {
			r.Get("/", s.handleIngestList)
			r.Post("/", s.handleIngest)
			r.Get("/{id}", s.handleIngestShow)
			r.Delete("/{id}", s.handleIngestRemove)
			r.Post("/{id}/split", s.handleIngestSplit)
		})

		r.Get("/events", s.handleEvents)
		r.Get("/logs", s.handleLogs)
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requestID tags every request with a correlation id that handlers and the
// daemon logs share.
func (s *apiServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(middleware.RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		ctx = services.WithRequestID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.WithContext(r.Context(), s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Statistics())
}

func (s *apiServer) handleProcessingStart(w http.ResponseWriter, r *http.Request) {
	if !s.daemon.Running() {
		if err := s.daemon.Start(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *apiServer) handleProcessingStop(w http.ResponseWriter, _ *http.Request) {
	s.daemon.Stop()
	s.writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *apiServer) handleTaskList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.EntryListResponse{Entries: s.daemon.Entries()})
}

func (s *apiServer) handleTaskShow(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	task, err := s.daemon.Task(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: task})
}

func (s *apiServer) handleTaskRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	if err := s.daemon.RemoveEntry(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleTaskRestart(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	opID, err := s.daemon.RestartTask(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RestartResponse{OperationID: opID})
}

func (s *apiServer) handleTaskStop(w http.ResponseWriter, r *http.Request) {
	s.taskAction(w, r, s.daemon.StopTask)
}

func (s *apiServer) handleTaskResume(w http.ResponseWriter, r *http.Request) {
	s.taskAction(w, r, s.daemon.ResumeTask)
}

func (s *apiServer) taskAction(w http.ResponseWriter, r *http.Request, action func(int64) error) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	if err := action(id); err != nil {
		s.writeError(w, err)
		return
	}
	task, err := s.daemon.Task(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: task})
}

func (s *apiServer) handleTaskToggle(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	var req api.ToggleRequest
	if !s.decode(w, r, &req) {
		return
	}
	changes, err := s.daemon.ToggleOperation(id, req.Stage, *req.Enabled)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ToggleResponse{Changes: changes})
}

type renameRequest struct {
	Label string `json:"label" validate:"required"`
}

func (s *apiServer) handleDirectoryRename(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	var req renameRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.daemon.RenameDirectory(id, req.Label); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleStageToggle(w http.ResponseWriter, r *http.Request) {
	var req api.StageToggleRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.daemon.ToggleStage(chi.URLParam(r, "kind"), *req.Enabled)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleOperationBegin(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	if err := s.daemon.BeginOperation(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleOperationComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	var req api.CompleteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.daemon.CompleteOperation(id, req); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleIngestList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.IngestListResponse{Items: s.daemon.IngestList()})
}

func (s *apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req api.IngestRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if req.Wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, longPollTimeout)
		defer cancel()
	}
	item, err := s.daemon.Ingest(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if item.Status == "finished" {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, api.IngestItemResponse{Item: item})
}

func (s *apiServer) handleIngestShow(w http.ResponseWriter, r *http.Request) {
	item, err := s.daemon.IngestItem(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.IngestItemResponse{Item: item})
}

func (s *apiServer) handleIngestRemove(w http.ResponseWriter, r *http.Request) {
	item, err := s.daemon.IngestRemove(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.IngestItemResponse{Item: item})
}

func (s *apiServer) handleIngestSplit(w http.ResponseWriter, r *http.Request) {
	var req api.SplitRequest
	if !s.decode(w, r, &req) {
		return
	}
	item, err := s.daemon.ResolveSplit(chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.IngestItemResponse{Item: item})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, limit, wait := cursorQuery(r, "wait")
	ctx, cancel := context.WithTimeout(r.Context(), longPollTimeout)
	defer cancel()
	events, next, err := s.daemon.Events(ctx, since, limit, wait)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.EventsResponse{Events: events, Next: next})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	since, limit, follow := cursorQuery(r, "follow")
	tail := flagValue(r.URL.Query().Get("tail"))
	ctx, cancel := context.WithTimeout(r.Context(), longPollTimeout)
	defer cancel()
	events, next, err := s.daemon.Logs(ctx, since, limit, follow, tail)
	if err != nil {
		s.writeError(w, err)
		return
	}

	query := r.URL.Query()
	taskID, _ := strconv.ParseInt(strings.TrimSpace(query.Get("task")), 10, 64)
	filtered := api.FilterLogEvents(events, taskID, query.Get("component"))
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: filtered, Next: next})
}

func cursorQuery(r *http.Request, waitKey string) (uint64, int, bool) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	return since, limit, flagValue(query.Get(waitKey))
}

func flagValue(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

func (s *apiServer) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Error: fmt.Sprintf("invalid id %q", raw),
			Kind:  "validation",
		})
		return 0, false
	}
	return id, true
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Error: "invalid request body",
			Kind:  "validation",
		})
		return false
	}
	if err := api.Validate(dst); err != nil {
		s.writeError(w, err)
		return false
	}
	return true
}

// statusFor maps error markers to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrClassification),
		errors.Is(err, services.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrDedupConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrRegistry), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(s.logger, "api request failed", "api_error",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Details(err).Hint),
		)
	}
	details := services.Details(err)
	s.writeJSON(w, status, api.ErrorResponse{Error: details.Message, Kind: details.Kind, Hint: details.Hint})
}
