// Package webhook exposes the HTTP surface: the ServiceNow webhook endpoint,
// the worker endpoint for queue-driven processing, and the health check.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mobizinc/changegate/internal/pipeline"
	"github.com/Mobizinc/changegate/internal/queue"
	"github.com/Mobizinc/changegate/internal/types"
)

const maxBodyBytes = 1 << 20 // 1MB

// Server handles HTTP requests for the validation pipeline.
type Server struct {
	pipeline   *pipeline.Pipeline
	queue      queue.Enqueuer
	auth       *Authenticator
	enabled    bool
	asyncMode  bool
	logger     *slog.Logger
	mux        *http.ServeMux
	httpServer *http.Server
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Pipeline  *pipeline.Pipeline
	Queue     queue.Enqueuer
	Auth      *Authenticator
	Enabled   bool // feature flag: false means 503 on the webhook endpoint
	AsyncMode bool // reported to callers as processing_mode
	Logger    *slog.Logger
}

// NewServer creates a new webhook server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		pipeline:  cfg.Pipeline,
		queue:     cfg.Queue,
		auth:      cfg.Auth,
		enabled:   cfg.Enabled,
		asyncMode: cfg.AsyncMode,
		logger:    cfg.Logger,
		mux:       http.NewServeMux(),
	}
	if s.auth == nil {
		s.auth = NewAuthenticator(nil, "")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.mux.HandleFunc("/api/v1/validations/webhook", s.handleWebhook)
	s.mux.HandleFunc("/api/v1/validations/worker", s.handleWorker)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // inline mode holds the request open for the full pipeline
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers and tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// webhookResponse is the JSON body for accepted webhooks.
type webhookResponse struct {
	Status         string `json:"status"`
	ChangeNumber   string `json:"change_number"`
	ChangeSysID    string `json:"change_sys_id"`
	RequestID      string `json:"request_id"`
	ProcessingMode string `json:"processing_mode"`
}

// workerRequest is the JSON body for the worker endpoint.
type workerRequest struct {
	ChangeID     string `json:"change_id"`
	ChangeNumber string `json:"change_number,omitempty"`
}

// workerResponse is the JSON body for completed worker runs.
type workerResponse struct {
	Status        string              `json:"status"`
	ChangeID      string              `json:"change_id"`
	OverallStatus types.OverallStatus `json:"overall_status,omitempty"`
}

// handleWebhook handles POST /api/v1/validations/webhook.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}
	if !s.enabled {
		s.writeError(w, http.StatusServiceUnavailable, "change validation is disabled")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	if err := s.auth.Authenticate(r, body); err != nil {
		s.logger.Warn("webhook rejected", "remote", r.RemoteAddr, "error", err)
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	req, err := s.pipeline.Receive(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			// Structurally broken bodies are 400; well-formed JSON missing a
			// required field is 422.
			if verr.Field == "" {
				s.writeError(w, http.StatusBadRequest, verr.Error())
			} else {
				s.writeError(w, http.StatusUnprocessableEntity, verr.Error())
			}
			return
		}
		s.logger.Error("webhook receipt failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not persist validation request")
		return
	}

	// The request is durable; processing failures from here are recoverable
	// via the worker endpoint, so the webhook still gets its 202.
	status := req.Status
	if !req.Status.Terminal() {
		if err := s.queue.Enqueue(r.Context(), req.ChangeID); err != nil {
			s.logger.Error("enqueue failed",
				"change_id", req.ChangeID, "error", err)
		}
		if !s.asyncMode {
			// Inline enqueue processes before returning, so the receipt
			// snapshot is already stale. Report the row's current state,
			// completed or failed.
			if row, err := s.pipeline.Get(r.Context(), req.ChangeID); err == nil {
				status = row.Status
			}
		}
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(webhookResponse{
		Status:         string(status),
		ChangeNumber:   req.ChangeNumber,
		ChangeSysID:    req.ChangeID,
		RequestID:      req.ID,
		ProcessingMode: s.processingMode(),
	})
}

// handleWorker handles POST /api/v1/validations/worker. It processes one
// change synchronously; non-2xx tells the queue to redeliver.
func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req workerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.ChangeID == "" {
		s.writeError(w, http.StatusBadRequest, "missing change_id")
		return
	}

	verdict, err := s.pipeline.Process(r.Context(), req.ChangeID)
	if err != nil {
		var nfe *pipeline.NotFoundError
		if errors.As(err, &nfe) {
			s.writeError(w, http.StatusNotFound, nfe.Error())
			return
		}
		s.logger.Error("worker processing failed",
			"change_id", req.ChangeID, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := workerResponse{Status: "completed", ChangeID: req.ChangeID}
	if verdict != nil {
		resp.OverallStatus = verdict.OverallStatus
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleHealth handles GET /healthz for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) processingMode() string {
	if s.asyncMode {
		return "async"
	}
	return "inline"
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
