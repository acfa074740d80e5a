package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/config"
)

// Server is the webhook HTTP listener. Verified deliveries are turned into
// work items on the bucket they're configured against.
type Server struct {
	cfg       *config.WebhookListenerConfig
	registry  *bucket.Registry
	logger    *slog.Logger
	server    *http.Server
	endpoints map[string]*config.WebhookEndpointConfig
}

// New creates a webhook server for the given listener configuration.
func New(cfg *config.WebhookListenerConfig, reg *bucket.Registry, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("webhook: nil listener config")
	}

	endpoints := make(map[string]*config.WebhookEndpointConfig, len(cfg.Endpoints))
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if ep.MaxBodyBytes == 0 {
			ep.MaxBodyBytes = DefaultMaxBodyBytes
		}
		if ep.Bucket == "" {
			return nil, fmt.Errorf("webhook: endpoint %q has no bucket configured", ep.Path)
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		cfg:       cfg,
		registry:  reg,
		logger:    logger,
		endpoints: endpoints,
	}, nil
}

// Start starts the webhook HTTP server and blocks until ctx is cancelled or
// the listener fails.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.cfg.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	limitedReader := io.LimitReader(r.Body, endpoint.MaxBodyBytes+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodyBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if signature == "" {
		s.logger.Warn("webhook signature missing", "path", r.URL.Path, "header", endpoint.SignatureHeader)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	if err := verifyHMACSignature(body, signature, endpoint.Secret, endpoint.Algorithm); err != nil {
		s.logger.Warn("webhook signature verification failed", "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	if !s.registry.BucketExists(endpoint.Bucket) {
		s.logger.Error("webhook bucket missing", "path", r.URL.Path, "bucket", endpoint.Bucket)
		s.respondError(w, http.StatusInternalServerError, "bucket not configured")
		return
	}

	var item any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &item); err != nil {
			s.respondError(w, http.StatusBadRequest, "body must be valid JSON")
			return
		}
	}

	identifier := uuid.NewString()
	s.registry.AddWork(endpoint.Bucket, identifier, item)

	s.logger.Info("webhook work added",
		"path", r.URL.Path,
		"bucket", endpoint.Bucket,
		"identifier", identifier,
	)

	s.respondJSON(w, http.StatusAccepted, TriggerResponse{Identifier: identifier, Bucket: endpoint.Bucket})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
