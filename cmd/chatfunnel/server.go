package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatfunnel/internal/cache"
	"chatfunnel/internal/constants"
	"chatfunnel/internal/httputil"
	"chatfunnel/internal/metrics"
	"chatfunnel/internal/middleware"
	"chatfunnel/internal/models"
	"chatfunnel/internal/tracing"
	"chatfunnel/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MiB

// EventSubmitter is what the webhook handler hands accepted events to.
type EventSubmitter interface {
	Submit(event *models.GatewayEvent) bool
}

// Pinger is the database surface the health endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router  *mux.Router
	logger  *logrus.Logger
	cfg     *models.Config
	pool    EventSubmitter
	db      Pinger
	cache   cache.Store
	metrics *metrics.Metrics
	server  *http.Server
}

func NewServer(cfg *models.Config, pool EventSubmitter, db Pinger, cacheStore cache.Store, m *metrics.Metrics, logger *logrus.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		cfg:     cfg,
		pool:    pool,
		db:      db,
		cache:   cacheStore,
		metrics: m,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Tracing)
	s.router.Use(middleware.RequestLogging(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/webhook", s.handleWebhook()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %s", s.cfg.Server.Port)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Database: "ok", Cache: "ok"}
		status := http.StatusOK

		if err := s.db.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
		if !s.cache.Healthy(ctx) {
			// The cache is optional; dedup and flags degrade gracefully.
			resp.Cache = "unreachable"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			s.logger.WithField("client_ip", httputil.ClientIP(r)).Warn("Webhook rejected: bad secret")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var event models.GatewayEvent
		body := http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
		if err := json.NewDecoder(body).Decode(&event); err != nil {
			s.logger.WithError(err).Debug("Webhook rejected: malformed payload")
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if event.Event == "" || event.Instance == "" {
			http.Error(w, "missing event or instance", http.StatusBadRequest)
			return
		}
		if err := validation.ValidateInstanceName(event.Instance); err != nil {
			http.Error(w, "invalid instance", http.StatusBadRequest)
			return
		}
		if err := validation.ValidateMessageID(event.Data.Key.ID); err != nil {
			http.Error(w, "invalid message id", http.StatusBadRequest)
			return
		}

		// Ack before processing; the gateway retries slow webhooks.
		if !s.pool.Submit(&event) {
			s.logger.WithFields(logrus.Fields{
				"event":      event.Event,
				"instance":   event.Instance,
				"request_id": tracing.RequestID(r.Context()),
			}).Warn("Webhook dropped: worker queue full")
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// authorized checks the webhook secret. An empty configured secret means
// authentication is disabled (development only; production config
// validation rejects that).
func (s *Server) authorized(r *http.Request) bool {
	secret := s.cfg.Server.WebhookSecret
	if secret == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
