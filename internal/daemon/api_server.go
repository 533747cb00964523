package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transcoder/internal/api"
	"transcoder/internal/config"
	"transcoder/internal/logging"
	"transcoder/internal/services"
	"transcoder/internal/transcode"
)

const maxRequestBody = 64 << 10

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/jobs", authMiddleware(token, srv.handleJobs))
	mux.HandleFunc("/api/jobs/state", authMiddleware(token, srv.handleJobState))
	mux.HandleFunc("/api/jobs/reset", authMiddleware(token, srv.handleReset))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	}
	srv.handler = mux

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Handler returns the HTTP handler serving the API and metrics.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// APIAddr returns the bound listener address, or "" when the API is off.
func (d *Daemon) APIAddr() string {
	if d.api.listener == nil {
		return ""
	}
	return d.api.listener.Addr().String()
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	_ = s.listener.Close()
	s.listener = nil
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		Backend:      status.Backend,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: api.FromDependencies(status.Dependencies),
	})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		assetID := strings.TrimSpace(r.URL.Query().Get("asset"))
		if assetID == "" {
			s.writeError(w, http.StatusBadRequest, "asset query parameter is required")
			return
		}
		if err := services.ValidateAssetID(assetID); err != nil {
			s.writeServiceError(w, err)
			return
		}
		statuses, err := s.daemon.orch.ListStates(r.Context(), assetID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromStatuses(assetID, statuses))
	case http.MethodPost:
		var req api.EnqueueRequest
		if !s.decode(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.AssetID) == "" {
			s.writeError(w, http.StatusBadRequest, "assetId is required")
			return
		}
		if err := services.ValidateAssetID(req.AssetID); err != nil {
			s.writeServiceError(w, err)
			return
		}
		if req.Variant != "" {
			if err := services.ValidateVariantKey(req.Variant); err != nil {
				s.writeServiceError(w, err)
				return
			}
		}
		opts := transcode.EnqueueOptions{
			Remux:          req.Remux,
			ManualOverride: req.ManualOverride,
			Prioritized:    req.Prioritized,
		}
		queued := []string{}
		if req.Variant == "" {
			keys, err := s.daemon.orch.EnqueueAsset(r.Context(), req.AssetID, opts)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			queued = append(queued, keys...)
		} else {
			ok, err := s.daemon.orch.Enqueue(r.Context(), req.AssetID, req.Variant, opts)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			if ok {
				queued = append(queued, req.Variant)
			}
		}
		s.writeJSON(w, http.StatusAccepted, api.EnqueueResponse{Queued: queued})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleJobState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	assetID, variantKey := strings.TrimSpace(query.Get("asset")), strings.TrimSpace(query.Get("variant"))
	if assetID == "" || variantKey == "" {
		s.writeError(w, http.StatusBadRequest, "asset and variant query parameters are required")
		return
	}
	if err := services.ValidateJobKey(assetID, variantKey); err != nil {
		s.writeServiceError(w, err)
		return
	}
	job, err := s.daemon.orch.GetState(r.Context(), assetID, variantKey)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromJob(job))
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.ResetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := services.ValidateJobKey(req.AssetID, req.Variant); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := s.daemon.orch.Reset(r.Context(), req.AssetID, req.Variant); err != nil {
		s.writeServiceError(w, err)
		return
	}
	job, err := s.daemon.orch.GetState(r.Context(), req.AssetID, req.Variant)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromJob(job))
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
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

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	s.writeJSON(w, httpStatus(err), api.ErrorResponse{Error: err.Error(), Kind: services.FailureKind(err)})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrConfiguration), errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrSourceUnavailable), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
