package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"aisio/internal/api"
	"aisio/internal/config"
	"aisio/internal/logging"
	"aisio/internal/metrics"
	"aisio/internal/transport"
	"aisio/internal/wire"
)

const maxEmitBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, collector *metrics.Collector, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	token := strings.TrimSpace(cfg.Paths.APIToken)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", srv.handleHealth)
	r.Get("/api/status", srv.handleStatus)
	r.Get("/api/connections", srv.handleConnections)
	r.Post("/api/emit", authMiddleware(token, srv.handleEmit))
	r.Post("/api/connections/{id}/emit", authMiddleware(token, srv.handleEmit))
	r.Post("/api/broadcast", authMiddleware(token, srv.handleBroadcast))
	if collector != nil {
		r.Handle("/metrics", collector.Handler())
	}

	srv.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.daemon.Status()
	payload := api.Status{
		Running:        status.Running,
		Role:           string(status.Role),
		Address:        status.Address,
		PID:            status.PID,
		StartedAt:      api.FormatTime(status.StartedAt),
		ClientState:    status.ClientState,
		FailedAttempts: status.FailedAttempts,
		Connections:    api.FromConnInfos(status.Connections),
		Handlers:       status.Handlers,
		LockFilePath:   status.LockFilePath,
		LogPath:        status.LogPath,
		JournalPath:    status.JournalPath,
	}
	if !status.StartedAt.IsZero() {
		payload.UptimeSeconds = int64(time.Since(status.StartedAt).Seconds())
	}
	if status.LastError != nil {
		payload.LastError = status.LastError.Error()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleConnections(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.FromConnInfos(s.daemon.Status().Connections))
}

func (s *apiServer) handleEmit(w http.ResponseWriter, r *http.Request) {
	name, args, ok := s.readEmitRequest(w, r)
	if !ok {
		return
	}
	connID := chi.URLParam(r, "id")
	if err := s.daemon.Emit(r.Context(), connID, name, args...); err != nil {
		s.writeError(w, emitStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.EmitResponse{Delivered: 1})
}

func (s *apiServer) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	name, args, ok := s.readEmitRequest(w, r)
	if !ok {
		return
	}
	delivered, err := s.daemon.Broadcast(r.Context(), name, args...)
	if err != nil && delivered == 0 {
		s.writeError(w, emitStatus(err), err.Error())
		return
	}
	if err != nil {
		logging.WarnWithContext(s.log(), "broadcast partially delivered", "broadcast_partial",
			logging.EventName(name),
			logging.Int("delivered", delivered),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "some peers disconnected during the write"),
			logging.String(logging.FieldImpact, "event missing on failed connections"),
		)
	}
	s.writeJSON(w, http.StatusOK, api.EmitResponse{Delivered: delivered})
}

func (s *apiServer) readEmitRequest(w http.ResponseWriter, r *http.Request) (string, []wire.Value, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEmitBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return "", nil, false
	}
	var req api.EmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return "", nil, false
	}
	name := strings.TrimSpace(req.Event)
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "event is required")
		return "", nil, false
	}
	if len(req.Args) == 0 || string(req.Args) == "null" {
		return name, nil, true
	}
	value, err := wire.FromJSON(req.Args)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "args: "+err.Error())
		return "", nil, false
	}
	if value.Kind() != wire.KindArray {
		s.writeError(w, http.StatusBadRequest, "args must be a JSON array")
		return "", nil, false
	}
	return name, value.Items(), true
}

func emitStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownConnection):
		return http.StatusNotFound
	case errors.Is(err, transport.ErrNotConnected), errors.Is(err, ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	return logging.NewComponentLogger(s.logger, "api-server")
}
